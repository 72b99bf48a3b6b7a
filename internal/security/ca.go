// Package security manages the certificate authority the filtering proxy uses to intercept
// HTTPS.
package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"
)

const (
	caOrganization = "Shroud Local Filtering CA"
	caValidity     = 365 * 24 * time.Hour
	caKeyBits      = 2048
)

// CA holds the certificate, private key, and certificate pool for a generated Certificate
// Authority.
type CA struct {
	Cert       *x509.Certificate
	PrivateKey *rsa.PrivateKey
	CertPool   *x509.CertPool
}

// NewCA creates a new self-signed Certificate Authority.
func NewCA() (*CA, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, caKeyBits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 62))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	now := time.Now()
	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{caOrganization},
			CommonName:   caOrganization,
		},
		NotBefore: now.Add(-time.Hour),
		NotAfter:  now.Add(caValidity),

		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	// Self-signed: the template is both the certificate and its issuer.
	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(derBytes)
	if err != nil {
		return nil, err
	}

	certPool := x509.NewCertPool()
	certPool.AddCert(cert)

	return &CA{
		Cert:       cert,
		PrivateKey: privateKey,
		CertPool:   certPool,
	}, nil
}

// PEM encodes the certificate and the PKCS#1 private key.
func (ca *CA) PEM() (certPEM, keyPEM []byte) {
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ca.Cert.Raw})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(ca.PrivateKey)})
	return certPEM, keyPEM
}

// EnsureCA expands certPath and keyPath and, when neither file exists, generates a new CA and
// writes it there. It returns the expanded paths. When only one of the two files exists it
// fails rather than overwrite anything.
func EnsureCA(certPath, keyPath string, logger *zap.Logger) (string, string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	certPath, err := homedir.Expand(certPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to expand CA certificate path: %w", err)
	}
	keyPath, err = homedir.Expand(keyPath)
	if err != nil {
		return "", "", fmt.Errorf("failed to expand CA key path: %w", err)
	}

	certExists, err := exists(certPath)
	if err != nil {
		return "", "", err
	}
	keyExists, err := exists(keyPath)
	if err != nil {
		return "", "", err
	}
	switch {
	case certExists && keyExists:
		return certPath, keyPath, nil
	case certExists != keyExists:
		return "", "", fmt.Errorf("CA certificate %s and key %s must both exist or both be absent", certPath, keyPath)
	}

	ca, err := NewCA()
	if err != nil {
		return "", "", err
	}
	certPEM, keyPEM := ca.PEM()
	if err := writeFile(certPath, certPEM, 0o644); err != nil {
		return "", "", err
	}
	if err := writeFile(keyPath, keyPEM, 0o600); err != nil {
		return "", "", err
	}
	logger.Info("Generated a new interception CA. Install the certificate in your browser to trust filtered HTTPS.",
		zap.String("ca_cert", certPath),
		zap.Time("not_after", ca.Cert.NotAfter))
	return certPath, keyPath, nil
}

func exists(path string) (bool, error) {
	_, err := os.Stat(path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
}

func writeFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
