package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/wostzone/mqtttransport-go/api"
	"github.com/wostzone/mqtttransport-go/pkg/certsetup"
	"github.com/wostzone/mqtttransport-go/pkg/codec"
	"github.com/wostzone/mqtttransport-go/pkg/discovery"
	"github.com/wostzone/mqtttransport-go/pkg/httpbridge"
	"github.com/wostzone/mqtttransport-go/pkg/mqtttransport"
	"github.com/wostzone/mqtttransport-go/pkg/transportconfig"
	"github.com/wostzone/mqtttransport-go/pkg/watcher"
)

func putTimeout(config *transportconfig.TransportConfig) time.Duration {
	return time.Duration(config.Timeout) * time.Second
}

// runListen prints each received record as a JSON line
func runListen(ctx context.Context, config *transportconfig.TransportConfig, af *appFlags) error {
	transport, err := mqtttransport.NewMqttTransport(config)
	if err != nil {
		return err
	}
	defer transport.Close()

	sub, err := transport.Updated(af.id, af.band, func(record api.Record) {
		data, err := json.Marshal(record)
		if err != nil {
			logrus.Errorf("runListen: %s", err)
			return
		}
		fmt.Println(string(data))
	})
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()
	logrus.Infof("runListen: listening on prefix '%s', id='%s', band='%s'", config.Prefix, af.id, af.band)
	<-ctx.Done()
	return nil
}

// runSend publishes the value once, or repeatedly when an interval is set
func runSend(ctx context.Context, config *transportconfig.TransportConfig, af *appFlags) error {
	if af.id == "" || af.band == "" {
		return errors.New("send requires -id and -band")
	}
	value, err := codec.Unpack([]byte(af.value))
	if err != nil {
		return fmt.Errorf("-value is not a JSON object: %w", err)
	}
	transport, err := mqtttransport.NewMqttTransport(config)
	if err != nil {
		return err
	}
	defer transport.Close()

	send := func() error {
		putCtx, cancel := context.WithTimeout(ctx, putTimeout(config))
		defer cancel()
		record, err := transport.Put(putCtx, af.id, af.band, value)
		if err == nil {
			logrus.Infof("runSend: published %s/%s", record.ID, record.Band)
		}
		return err
	}
	if err = send(); err != nil || af.interval <= 0 {
		return err
	}
	ticker := time.NewTicker(af.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err = send(); err != nil {
				logrus.Warningf("runSend: %s", err)
			}
		}
	}
}

// runWatch publishes the content of the file on start and each time it changes
func runWatch(ctx context.Context, config *transportconfig.TransportConfig, af *appFlags) error {
	if af.id == "" || af.band == "" || af.file == "" {
		return errors.New("watch requires -id, -band and -file")
	}
	transport, err := mqtttransport.NewMqttTransport(config)
	if err != nil {
		return err
	}
	defer transport.Close()

	publishFile := func(path string) error {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		value, err := codec.Unpack(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return transport.PutAsync(af.id, af.band, value, func(record api.Record, err error) {
			if err != nil {
				logrus.Warningf("runWatch: publish of %s failed: %s", path, err)
			}
		})
	}
	if err = publishFile(af.file); err != nil {
		return err
	}
	fileWatcher, err := watcher.WatchFile(af.file, 0, publishFile)
	if err != nil {
		return err
	}
	defer fileWatcher.Close()
	<-ctx.Done()
	return nil
}

// runServe runs the HTTP bridge
func runServe(ctx context.Context, config *transportconfig.TransportConfig, af *appFlags) error {
	var serverCert *tls.Certificate
	var caCert *x509.Certificate
	if af.serverCert != "" {
		cert, err := tls.LoadX509KeyPair(af.serverCert, af.serverKey)
		if err != nil {
			return err
		}
		serverCert = &cert
		if config.CaFile != "" {
			caCertPEM, err := os.ReadFile(config.CaFile)
			if err != nil {
				return err
			}
			caCert, err = certsetup.CertFromPEM(caCertPEM)
			if err != nil {
				return err
			}
		}
	}
	transport, err := mqtttransport.NewMqttTransport(config)
	if err != nil {
		return err
	}
	defer transport.Close()

	bridge := httpbridge.NewHttpBridge(af.listen, transport, serverCert, caCert)
	bridge.PutTimeout = putTimeout(config)
	if err = bridge.Start(); err != nil {
		return err
	}
	defer bridge.Stop()
	<-ctx.Done()
	return nil
}

// runCerts creates a CA, server and client certificate for testing with a local broker
func runCerts(config *transportconfig.TransportConfig, af *appFlags) error {
	var hosts []string
	if config.Host != "" {
		hosts = append(hosts, config.Host)
	}
	// a local broker can be reached on any of the host's addresses
	if addrs, err := discovery.GetHostAddresses(); err == nil {
		hosts = append(hosts, addrs...)
	}
	clientID := config.ClientID
	if clientID == "" {
		clientID = transportconfig.DefaultClientID()
	}
	err := os.MkdirAll(af.certFolder, 0700)
	if err != nil {
		return err
	}
	err = certsetup.CreateCertificateBundle(hosts, clientID, af.certFolder)
	if err == nil {
		fmt.Printf("Certificates for client '%s' are in %s\n", clientID, af.certFolder)
	}
	return err
}
