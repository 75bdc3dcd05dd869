// Package certsetup creates a self signed CA with server and client certificates for testing
// TLS connections to a broker or to the HTTP bridge.
package certsetup

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

const caValidityDuration = time.Hour * 24 * 364 * 10 // 10 years

// DefaultCertDuration is the validity of server and client certificates
const DefaultCertDuration = time.Hour * 24 * 365

// Certificate filenames in PEM format
const (
	CaCertFile     = "caCert.pem" // CA that signed the server and client certificates
	CaKeyFile      = "caKey.pem"
	ServerCertFile = "serverCert.pem"
	ServerKeyFile  = "serverKey.pem"
	ClientCertFile = "clientCert.pem"
	ClientKeyFile  = "clientKey.pem"
)

// CreateCertificateBundle creates the CA, server and client certificates in the given folder.
// Existing certificates are kept.
//  hosts are the DNS names or IP addresses of the server certificate
//  clientID is the common name of the client certificate
func CreateCertificateBundle(hosts []string, clientID string, certFolder string) error {
	caCertPath := filepath.Join(certFolder, CaCertFile)
	caKeyPath := filepath.Join(certFolder, CaKeyFile)

	caCertPEM, _ := os.ReadFile(caCertPath)
	caKeyPEM, _ := os.ReadFile(caKeyPath)
	if caCertPEM == nil || caKeyPEM == nil {
		var err error
		caCertPEM, caKeyPEM, err = CreateCA()
		if err == nil {
			err = writePair(caCertPath, caCertPEM, caKeyPath, caKeyPEM)
		}
		if err != nil {
			logrus.Errorf("CreateCertificateBundle: CA failed: %s", err)
			return err
		}
	}

	err := createSignedPair(certFolder, ServerCertFile, ServerKeyFile,
		func(pub *ecdsa.PublicKey) ([]byte, error) {
			return CreateServerCert(hosts, pub, caCertPEM, caKeyPEM)
		})
	if err != nil {
		logrus.Errorf("CreateCertificateBundle: server certificate failed: %s", err)
		return err
	}
	err = createSignedPair(certFolder, ClientCertFile, ClientKeyFile,
		func(pub *ecdsa.PublicKey) ([]byte, error) {
			return CreateClientCert(clientID, pub, caCertPEM, caKeyPEM)
		})
	if err != nil {
		logrus.Errorf("CreateCertificateBundle: client certificate failed: %s", err)
	}
	return err
}

// createSignedPair creates a key and certificate when the files don't yet exist
func createSignedPair(folder, certFile, keyFile string, sign func(pub *ecdsa.PublicKey) ([]byte, error)) error {
	certPath := filepath.Join(folder, certFile)
	keyPath := filepath.Join(folder, keyFile)
	if _, err := os.Stat(certPath); err == nil {
		if _, err = os.Stat(keyPath); err == nil {
			return nil
		}
	}
	privKey, err := CreateECDSAKeys()
	if err != nil {
		return err
	}
	keyPEM, err := PrivateKeyToPEM(privKey)
	if err != nil {
		return err
	}
	certPEM, err := sign(&privKey.PublicKey)
	if err != nil {
		return err
	}
	return writePair(certPath, certPEM, keyPath, keyPEM)
}

func writePair(certPath string, certPEM []byte, keyPath string, keyPEM []byte) error {
	err := os.WriteFile(keyPath, keyPEM, 0600)
	if err != nil {
		return err
	}
	return os.WriteFile(certPath, certPEM, 0644)
}

// CreateCA creates a self signed CA certificate and its private key
func CreateCA() (certPEM []byte, keyPEM []byte, err error) {
	privKey, err := CreateECDSAKeys()
	if err != nil {
		return nil, nil, err
	}
	template := &x509.Certificate{
		SerialNumber: newSerial(),
		Subject: pkix.Name{
			Organization: []string{"MQTT Transport"},
			CommonName:   "MQTT Transport Test CA",
		},
		NotBefore:             time.Now().Add(-10 * time.Second),
		NotAfter:              time.Now().Add(caValidityDuration),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &privKey.PublicKey, privKey)
	if err != nil {
		return nil, nil, err
	}
	keyPEM, err = PrivateKeyToPEM(privKey)
	return CertDerToPEM(der), keyPEM, err
}

// CreateServerCert creates a server certificate signed by the CA.
// Localhost addresses are always included.
func CreateServerCert(hosts []string, pubKey *ecdsa.PublicKey, caCertPEM []byte, caKeyPEM []byte) ([]byte, error) {
	template := &x509.Certificate{
		SerialNumber: newSerial(),
		Subject: pkix.Name{
			Organization: []string{"MQTT Transport"},
			CommonName:   "MQTT Transport Server",
		},
		NotBefore:   time.Now().Add(-10 * time.Second),
		NotAfter:    time.Now().Add(DefaultCertDuration),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		DNSNames:    []string{"localhost"},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else if h != "localhost" {
			template.DNSNames = append(template.DNSNames, h)
		}
	}
	return signCert(template, pubKey, caCertPEM, caKeyPEM)
}

// CreateClientCert creates a client certificate for mutual authentication signed by the CA
//  clientID is stored as the CommonName
func CreateClientCert(clientID string, pubKey *ecdsa.PublicKey, caCertPEM []byte, caKeyPEM []byte) ([]byte, error) {
	template := &x509.Certificate{
		SerialNumber: newSerial(),
		Subject: pkix.Name{
			Organization: []string{"MQTT Transport"},
			CommonName:   clientID,
		},
		NotBefore:             time.Now().Add(-10 * time.Second),
		NotAfter:              time.Now().Add(DefaultCertDuration),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}
	return signCert(template, pubKey, caCertPEM, caKeyPEM)
}

func signCert(template *x509.Certificate, pubKey *ecdsa.PublicKey, caCertPEM []byte, caKeyPEM []byte) ([]byte, error) {
	caKey, err := PrivateKeyFromPEM(caKeyPEM)
	if err != nil {
		return nil, err
	}
	caCert, err := CertFromPEM(caCertPEM)
	if err != nil {
		return nil, err
	}
	der, err := x509.CreateCertificate(rand.Reader, template, caCert, pubKey, caKey)
	if err != nil {
		return nil, err
	}
	return CertDerToPEM(der), nil
}

func newSerial() *big.Int {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return big.NewInt(time.Now().UnixNano())
	}
	return serial
}

// CertDerToPEM converts a DER encoded certificate to PEM
func CertDerToPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// CertFromPEM parses a PEM encoded certificate
func CertFromPEM(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil {
		return nil, errors.New("not a valid PEM encoded certificate")
	}
	return x509.ParseCertificate(block.Bytes)
}
