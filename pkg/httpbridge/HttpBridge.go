// Package httpbridge serves the transport operations over HTTP for tools that don't speak MQTT
package httpbridge

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/wostzone/mqtttransport-go/api"
)

// DefaultPutTimeout is the time a PUT request waits for the publication to complete
const DefaultPutTimeout = 10 * time.Second

// Route paths
const (
	ThingsPath  = "/things"
	ThingPath   = "/things/{id}"
	BandsPath   = "/things/{id}/bands"
	BandPath    = "/things/{id}/{band}"
	MetricsPath = "/metrics"
)

// HttpBridge is a HTTP(S) server that passes requests to a transport
type HttpBridge struct {
	address    string
	transport  api.ITransport
	serverCert *tls.Certificate
	caCert     *x509.Certificate
	router     *mux.Router
	httpServer *http.Server
	listener   net.Listener
	// PutTimeout limits the wait for a publication
	PutTimeout time.Duration
}

// Handler returns the request router of the bridge
func (bridge *HttpBridge) Handler() http.Handler {
	return bridge.router
}

// Addr returns the address the bridge listens on after Start, or the configured address before
func (bridge *HttpBridge) Addr() string {
	if bridge.listener != nil {
		return bridge.listener.Addr().String()
	}
	return bridge.address
}

// Start listening and serve requests in the background.
// TLS is used when a server certificate is set. A client certificate is requested but not
// required. If one is provided it must be signed by the CA.
func (bridge *HttpBridge) Start() error {
	logrus.Infof("HttpBridge.Start: listening on %s, tls=%v", bridge.address, bridge.serverCert != nil)
	bridge.httpServer = &http.Server{
		Handler:           bridge.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if bridge.serverCert != nil {
		tlsConfig := &tls.Config{
			Certificates: []tls.Certificate{*bridge.serverCert},
			MinVersion:   tls.VersionTLS12,
		}
		if bridge.caCert != nil {
			caCertPool := x509.NewCertPool()
			caCertPool.AddCert(bridge.caCert)
			tlsConfig.ClientCAs = caCertPool
			tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
		}
		bridge.httpServer.TLSConfig = tlsConfig
	}

	listener, err := net.Listen("tcp", bridge.address)
	if err != nil {
		err = fmt.Errorf("HttpBridge.Start: %w", err)
		logrus.Error(err)
		return err
	}
	bridge.listener = listener

	go func() {
		var err2 error
		if bridge.serverCert != nil {
			// certificates are in the TLS config
			err2 = bridge.httpServer.ServeTLS(listener, "", "")
		} else {
			err2 = bridge.httpServer.Serve(listener)
		}
		if err2 != nil && !errors.Is(err2, http.ErrServerClosed) {
			logrus.Errorf("HttpBridge.Start: serve failed: %s", err2)
		}
	}()
	return nil
}

// Stop the server and close all connections
func (bridge *HttpBridge) Stop() {
	logrus.Infof("HttpBridge.Stop: stopping server on %s", bridge.Addr())
	if bridge.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = bridge.httpServer.Shutdown(ctx)
	}
}

// NewHttpBridge creates a bridge for the transport. Use Start/Stop to run it.
//
//	address     listening address host:port. Port 0 picks a free port.
//	transport   to pass requests to
//	serverCert  optional, enables TLS
//	caCert      optional, CA for verifying client certificates
func NewHttpBridge(address string, transport api.ITransport,
	serverCert *tls.Certificate, caCert *x509.Certificate) *HttpBridge {

	bridge := &HttpBridge{
		address:    address,
		transport:  transport,
		serverCert: serverCert,
		caCert:     caCert,
		PutTimeout: DefaultPutTimeout,
	}
	router := mux.NewRouter()
	// ids and bands can hold an escaped '/'
	router.UseEncodedPath()
	router.Handle(MetricsPath, promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc(ThingsPath, bridge.handleList).Methods(http.MethodGet)
	router.HandleFunc(BandsPath, bridge.handleBands).Methods(http.MethodGet)
	router.HandleFunc(ThingPath, bridge.handleAbout).Methods(http.MethodGet)
	router.HandleFunc(BandPath, bridge.handleGet).Methods(http.MethodGet)
	router.HandleFunc(BandPath, bridge.handlePut).Methods(http.MethodPut)
	router.HandleFunc(BandPath, bridge.handleRemove).Methods(http.MethodDelete)
	bridge.router = router
	return bridge
}

// pathVar returns the unescaped value of a route variable
func pathVar(req *http.Request, name string) (string, error) {
	value, err := url.PathUnescape(mux.Vars(req)[name])
	if err != nil {
		return "", fmt.Errorf("%w: %s: %s", api.ErrInvalidArgument, name, err)
	}
	return value, nil
}
