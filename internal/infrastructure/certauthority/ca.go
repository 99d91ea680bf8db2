// Package certauthority mints the self-signed root CA and per-domain
// TLS leaves the MITM stream proxy needs to terminate intercepted
// connections (spec §4.1). Certificate material is generated with the
// standard library's crypto/x509 and crypto/tls — no third-party
// CA/leaf-minting library in the example pack improves on this, and
// goproxy-style MITM proxies in the wider Go ecosystem do the same; see
// DESIGN.md for the justification.
package certauthority

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	caValidity   = 10 * 365 * 24 * time.Hour
	leafValidity = 2 * 365 * 24 * time.Hour

	caKeyFile  = "ca.key"
	caCertFile = "ca.crt"
)

// Authority mints and caches per-domain TLS leaves signed by a
// self-signed root generated once on first start (spec §4.1,
// "Contract"). Safe for concurrent use by the proxy's per-connection
// goroutines.
type Authority struct {
	dir    string
	logger *zap.Logger
	index  *Index

	mu       sync.Mutex
	caCert   *x509.Certificate
	caKey    *ecdsa.PrivateKey
	rawCert  []byte // DER, reused as the leading chain element
	leafPool map[string]tls.Certificate
}

// New loads (or generates, on first run) the root CA in dir and uses
// index, opened by the caller, as the sqlite leaf index. The CA files are never
// regenerated once present (spec §3, "Certificate Store" invariant).
func New(dir string, index *Index, logger *zap.Logger) (*Authority, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("certauthority: create dir: %w", err)
	}

	a := &Authority{
		dir:      dir,
		logger:   logger.With(zap.String("component", "certauthority")),
		index:    index,
		leafPool: make(map[string]tls.Certificate),
	}

	if err := a.loadOrCreateCA(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Authority) loadOrCreateCA() error {
	keyPath := filepath.Join(a.dir, caKeyFile)
	certPath := filepath.Join(a.dir, caCertFile)

	if fileExists(keyPath) && fileExists(certPath) {
		return a.loadCA(keyPath, certPath)
	}
	return a.createCA(keyPath, certPath)
}

func (a *Authority) loadCA(keyPath, certPath string) error {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return fmt.Errorf("certauthority: read ca key: %w", err)
	}
	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return fmt.Errorf("certauthority: read ca cert: %w", err)
	}

	keyBlock, _ := pem.Decode(keyPEM)
	if keyBlock == nil {
		return fmt.Errorf("certauthority: malformed ca key pem")
	}
	key, err := x509.ParseECPrivateKey(keyBlock.Bytes)
	if err != nil {
		return fmt.Errorf("certauthority: parse ca key: %w", err)
	}

	certBlock, _ := pem.Decode(certPEM)
	if certBlock == nil {
		return fmt.Errorf("certauthority: malformed ca cert pem")
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return fmt.Errorf("certauthority: parse ca cert: %w", err)
	}

	a.caKey = key
	a.caCert = cert
	a.rawCert = certBlock.Bytes
	a.logger.Info("loaded existing root CA", zap.String("subject", cert.Subject.CommonName))
	return nil
}

func (a *Authority) createCA(keyPath, certPath string) error {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("certauthority: generate ca key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"aistudioproxy local MITM CA"},
			CommonName:   "aistudioproxy-gateway-ca",
		},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:               time.Now().Add(caValidity),
		KeyUsage:               x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                   true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("certauthority: create ca cert: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return fmt.Errorf("certauthority: parse generated ca cert: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("certauthority: marshal ca key: %w", err)
	}
	if err := writePEM(keyPath, "EC PRIVATE KEY", keyDER, 0o600); err != nil {
		return err
	}
	if err := writePEM(certPath, "CERTIFICATE", der, 0o644); err != nil {
		return err
	}

	a.caKey = key
	a.caCert = cert
	a.rawCert = der
	a.logger.Info("generated new root CA", zap.String("subject", cert.Subject.CommonName))
	return nil
}

// RootCertPEM returns the CA certificate in PEM form, for operators to
// install into the browser's trust store.
func (a *Authority) RootCertPEM() ([]byte, error) {
	return os.ReadFile(filepath.Join(a.dir, caCertFile))
}

// GetLeaf implements the C1 contract: get_leaf(domain) → (cert_chain,
// private_key). Leaves are cached both in-memory and on disk; a
// previously-minted leaf is reused rather than regenerated (spec §3:
// "leaves may be regenerated" permits but does not require it — we
// reuse for cache-hit speed and let the index track validity windows).
func (a *Authority) GetLeaf(domain string) (tls.Certificate, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cert, ok := a.leafPool[domain]; ok {
		return cert, nil
	}

	if cert, ok := a.loadCachedLeaf(domain); ok {
		a.leafPool[domain] = cert
		return cert, nil
	}

	cert, err := a.mintLeaf(domain)
	if err != nil {
		return tls.Certificate{}, err
	}
	a.leafPool[domain] = cert
	return cert, nil
}

func (a *Authority) loadCachedLeaf(domain string) (tls.Certificate, bool) {
	row, ok := a.index.Lookup(domain)
	if !ok {
		return tls.Certificate{}, false
	}
	if time.Now().After(row.NotAfter) {
		return tls.Certificate{}, false
	}
	cert, err := tls.LoadX509KeyPair(row.CertPath, row.KeyPath)
	if err != nil {
		a.logger.Warn("cached leaf unreadable, will remint", zap.String("domain", domain), zap.Error(err))
		return tls.Certificate{}, false
	}
	return cert, true
}

func (a *Authority) mintLeaf(domain string) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certauthority: generate leaf key: %w", err)
	}

	serial, err := randomSerial()
	if err != nil {
		return tls.Certificate{}, err
	}

	notBefore := time.Now().Add(-time.Hour)
	notAfter := time.Now().Add(leafValidity)

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: domain},
		DNSNames:     []string{domain},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, a.caCert, &key.PublicKey, a.caKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certauthority: mint leaf for %s: %w", domain, err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certauthority: marshal leaf key: %w", err)
	}

	certPath := filepath.Join(a.dir, fmt.Sprintf("leaf-%s.crt", sanitize(domain)))
	keyPath := filepath.Join(a.dir, fmt.Sprintf("leaf-%s.key", sanitize(domain)))
	if err := writePEM(keyPath, "EC PRIVATE KEY", keyDER, 0o600); err != nil {
		return tls.Certificate{}, err
	}
	if err := writePEM(certPath, "CERTIFICATE", der, 0o644); err != nil {
		return tls.Certificate{}, err
	}

	if err := a.index.Upsert(LeafRow{
		Domain:    domain,
		Serial:    serial.String(),
		NotBefore: notBefore,
		NotAfter:  notAfter,
		CertPath:  certPath,
		KeyPath:   keyPath,
	}); err != nil {
		a.logger.Warn("leaf index upsert failed, leaf still usable this run", zap.Error(err))
	}

	chain := [][]byte{der, a.rawCert}
	return tls.Certificate{
		Certificate: chain,
		PrivateKey:  key,
	}, nil
}

func randomSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("certauthority: generate serial: %w", err)
	}
	return serial, nil
}

func writePEM(path, blockType string, der []byte, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("certauthority: open %s: %w", path, err)
	}
	defer f.Close()
	return pem.Encode(f, &pem.Block{Type: blockType, Bytes: der})
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func sanitize(domain string) string {
	out := make([]rune, 0, len(domain))
	for _, r := range domain {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
