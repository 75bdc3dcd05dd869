package certsetup

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
)

// CreateECDSAKeys creates a P-256 key pair
func CreateECDSAKeys() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// PrivateKeyToPEM encodes a private key in PKCS8 PEM format
func PrivateKeyToPEM(privateKey *ecdsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PrivateKeyFromPEM decodes a PKCS8 PEM encoded ECDSA private key
func PrivateKeyFromPEM(keyPEM []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("not a valid PEM encoded key")
	}
	rawKey, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	privateKey, ok := rawKey.(*ecdsa.PrivateKey)
	if !ok {
		return nil, errors.New("PEM does not hold an ECDSA key")
	}
	return privateKey, nil
}

// SavePrivateKey writes a private key to a PEM file with 0600 permissions
func SavePrivateKey(privateKey *ecdsa.PrivateKey, keyFile string) error {
	keyPEM, err := PrivateKeyToPEM(privateKey)
	if err != nil {
		return err
	}
	return os.WriteFile(keyFile, keyPEM, 0600)
}

// LoadPrivateKey reads a private key from a PEM file
func LoadPrivateKey(keyFile string) (*ecdsa.PrivateKey, error) {
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	return PrivateKeyFromPEM(keyPEM)
}
