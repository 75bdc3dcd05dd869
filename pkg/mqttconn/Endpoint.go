package mqttconn

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"

	"github.com/wostzone/mqtttransport-go/pkg/transportconfig"
)

// Default broker ports by protocol
const (
	DefaultPortMqtt  = 1883
	DefaultPortMqtts = 8883
	DefaultPortWS    = 80
	DefaultPortWSS   = 443
)

// Endpoint is the resolved broker address
type Endpoint struct {
	Protocol string
	Host     string
	Port     int
}

// URL renders the endpoint as protocol://host:port
func (ep Endpoint) URL() string {
	return fmt.Sprintf("%s://%s", ep.Protocol, net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port)))
}

// BrokerURL renders the endpoint with the scheme used by the paho client
func (ep Endpoint) BrokerURL() string {
	scheme := "tcp"
	switch ep.Protocol {
	case transportconfig.ProtocolMqtts:
		scheme = "ssl"
	case transportconfig.ProtocolWS:
		scheme = "ws"
	case transportconfig.ProtocolWSS:
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port)))
}

// IsSecure returns true for protocols running over TLS
func (ep Endpoint) IsSecure() bool {
	return ep.Protocol == transportconfig.ProtocolMqtts || ep.Protocol == transportconfig.ProtocolWSS
}

// ResolveEndpoint determines the protocol and port to connect with.
// Without an explicit protocol, mqtts is used when both a client certificate and key are
// configured and mqtt otherwise. Without an explicit port the protocol default is used.
func ResolveEndpoint(config *transportconfig.TransportConfig) Endpoint {
	ep := Endpoint{
		Protocol: config.Protocol,
		Host:     config.Host,
		Port:     config.Port,
	}
	if ep.Protocol == "" {
		if config.CertFile != "" && config.KeyFile != "" {
			ep.Protocol = transportconfig.ProtocolMqtts
		} else {
			ep.Protocol = transportconfig.ProtocolMqtt
		}
	}
	if ep.Port == 0 {
		switch ep.Protocol {
		case transportconfig.ProtocolMqtts:
			ep.Port = DefaultPortMqtts
		case transportconfig.ProtocolWS:
			ep.Port = DefaultPortWS
		case transportconfig.ProtocolWSS:
			ep.Port = DefaultPortWSS
		default:
			ep.Port = DefaultPortMqtt
		}
	}
	return ep
}

// LoadTLSConfig reads the CA certificate and client certificate files.
// Returns nil without error when the endpoint does not use TLS and no TLS files are configured.
func LoadTLSConfig(config *transportconfig.TransportConfig, ep Endpoint) (*tls.Config, error) {
	if !ep.IsSecure() && config.CaFile == "" && config.CertFile == "" {
		return nil, nil
	}
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: ep.Host,
	}
	if config.CaFile != "" {
		caCertPEM, err := os.ReadFile(config.CaFile)
		if err != nil {
			logrus.Errorf("LoadTLSConfig: Unable to read CA certificate: %s", err)
			return nil, err
		}
		rootCA := x509.NewCertPool()
		if !rootCA.AppendCertsFromPEM(caCertPEM) {
			err = fmt.Errorf("no certificates found in CA file '%s'", config.CaFile)
			logrus.Errorf("LoadTLSConfig: %s", err)
			return nil, err
		}
		tlsConfig.RootCAs = rootCA
	}
	if config.CertFile != "" && config.KeyFile != "" {
		clientCert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
		if err != nil {
			logrus.Errorf("LoadTLSConfig: Error loading client certificate: %s", err)
			return nil, err
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}
	return tlsConfig, nil
}
