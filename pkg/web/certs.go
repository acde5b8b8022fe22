package web

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"log"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const (
	certFile = "cert.pem"
	keyFile  = "key.pem"

	// NoTLSSentinel in the config root drops the server to plain HTTP.
	NoTLSSentinel = "no_tls"

	certValidity = 10 * 365 * 24 * time.Hour
	certKeyBits  = 2048
)

// ensureCertificate returns the cert/key paths, generating a self-signed
// pair on first start. The certificate carries SANs for localhost and the
// primary interface address so operator browsers can pin it once.
func ensureCertificate(root string, primaryIP net.IP) (certPath, keyPath string, err error) {
	certPath = filepath.Join(root, certFile)
	keyPath = filepath.Join(root, keyFile)

	if _, err := os.Stat(certPath); err == nil {
		if _, err := os.Stat(keyPath); err == nil {
			logFingerprint(certPath)
			return certPath, keyPath, nil
		}
	}

	key, err := rsa.GenerateKey(rand.Reader, certKeyBits)
	if err != nil {
		return "", "", fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate serial: %w", err)
	}

	now := time.Now()

	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "netvigil", Organization: []string{"NetVigil"}},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	if primaryIP != nil {
		template.IPAddresses = append(template.IPAddresses, primaryIP)
	}

	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return "", "", fmt.Errorf("failed to create certificate: %w", err)
	}

	certOut, err := os.OpenFile(certPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return "", "", err
	}

	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
		certOut.Close()
		return "", "", err
	}

	if err := certOut.Close(); err != nil {
		return "", "", err
	}

	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", "", err
	}

	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		keyOut.Close()
		return "", "", err
	}

	if err := pem.Encode(keyOut, &pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}); err != nil {
		keyOut.Close()
		return "", "", err
	}

	if err := keyOut.Close(); err != nil {
		return "", "", err
	}

	fp := sha256.Sum256(der)
	log.Printf("Web: generated self-signed certificate, SHA-256 fingerprint %x", fp)

	return certPath, keyPath, nil
}

func logFingerprint(certPath string) {
	data, err := os.ReadFile(certPath)
	if err != nil {
		return
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return
	}

	fp := sha256.Sum256(block.Bytes)
	log.Printf("Web: using certificate %s, SHA-256 fingerprint %x", certPath, fp)
}

// tlsDisabled reports whether the operator opted out of HTTPS.
func tlsDisabled(root string) bool {
	_, err := os.Stat(filepath.Join(root, NoTLSSentinel))

	return err == nil
}
