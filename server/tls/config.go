package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"sync"

	"github.com/pkg/errors"
)

var errCertRevoked = errors.New("tls: peer certificate is revoked")

// EndpointOptions is the per-endpoint TLS configuration surface: address,
// port, certificate/key material, trust store, CRL store and cert-to-name
// list.
type EndpointOptions struct {
	Address string
	Port    int

	CertFile string
	KeyFile  string
	// KeyEncrypted indicates KeyFile is encrypted; embedders supply the
	// passphrase out of band (this library never stores one).
	KeyEncrypted bool

	TrustedCertFiles []string
	TrustedCAPaths   []string // files or directories of CA certificates
	CRLPaths         []string // files or directories of CRLs

	CTNList CTNList
}

// DefaultEndpointOptions is the zero-value default: the RFC 7589 port
// 6513, no trust material, no CTN entries (client certificates optional).
var DefaultEndpointOptions = &EndpointOptions{Port: 6513}

// BuildServerConfig loads certificate, key and trust material described by
// opts into a *tls.Config suitable for NewServer. The returned CRLStore (nil
// if opts.CRLPaths is empty) must be passed to Server.SetCRLStore.
func BuildServerConfig(opts *EndpointOptions) (*tls.Config, *CRLStore, error) {
	cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
	if err != nil {
		return nil, nil, errors.Wrap(err, "tls: failed to load server certificate")
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if len(opts.TrustedCertFiles) > 0 || len(opts.TrustedCAPaths) > 0 {
		pool, err := loadCertPool(opts.TrustedCertFiles, opts.TrustedCAPaths)
		if err != nil {
			return nil, nil, err
		}
		cfg.ClientCAs = pool
	}

	var crl *CRLStore
	if len(opts.CRLPaths) > 0 {
		crl = NewCRLStore()
		if err := crl.Load(opts.CRLPaths...); err != nil {
			return nil, nil, err
		}
	}

	return cfg, crl, nil
}

func loadCertPool(files, dirs []string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	paths := append([]string{}, files...)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, errors.Wrapf(err, "tls: failed to read CA directory %q", dir)
		}
		for _, e := range entries {
			if !e.IsDir() {
				paths = append(paths, dir+string(os.PathSeparator)+e.Name())
			}
		}
	}
	for _, p := range paths {
		pem, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "tls: failed to read CA certificate %q", p)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.Errorf("tls: no certificates found in %q", p)
		}
	}
	return pool, nil
}

// CRLStore holds revoked certificate serial numbers loaded from one or more
// CRL files (or directories of CRL files), consulted by the acceptor before
// handing a connection to a Handler.
type CRLStore struct {
	mu      sync.RWMutex
	revoked map[string]struct{}
}

// NewCRLStore creates an empty CRLStore.
func NewCRLStore() *CRLStore {
	return &CRLStore{revoked: make(map[string]struct{})}
}

// Load parses the CRL files named by paths (or contained in directories
// named by paths) and merges their revoked serial numbers into the store.
func (s *CRLStore) Load(paths ...string) error {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return errors.Wrapf(err, "tls: failed to stat CRL path %q", p)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		entries, err := os.ReadDir(p)
		if err != nil {
			return errors.Wrapf(err, "tls: failed to read CRL directory %q", p)
		}
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, p+string(os.PathSeparator)+e.Name())
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range files {
		der, err := os.ReadFile(f)
		if err != nil {
			return errors.Wrapf(err, "tls: failed to read CRL %q", f)
		}
		list, err := x509.ParseRevocationList(der)
		if err != nil {
			return errors.Wrapf(err, "tls: failed to parse CRL %q", f)
		}
		for _, rc := range list.RevokedCertificateEntries {
			s.revoked[rc.SerialNumber.String()] = struct{}{}
		}
	}
	return nil
}

// IsRevoked reports whether cert's serial number appears in any loaded CRL.
func (s *CRLStore) IsRevoked(cert *x509.Certificate) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, revoked := s.revoked[cert.SerialNumber.String()]
	return revoked
}
