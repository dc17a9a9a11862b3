package tls

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"sort"

	"github.com/pkg/errors"
)

// MapType enumerates the certificate fields a CTNEntry may map to a
// NETCONF username, per RFC 7407's cert-to-name list.
type MapType int

const (
	// MapSpecified uses the entry's Name verbatim.
	MapSpecified MapType = iota
	// MapSANRFC822 uses the certificate's rfc822Name (email) SAN.
	MapSANRFC822
	// MapSANDNS uses the certificate's dNSName SAN.
	MapSANDNS
	// MapSANIP uses the certificate's iPAddress SAN.
	MapSANIP
	// MapSANAny uses the first SAN of any of the above kinds.
	MapSANAny
	// MapCommonName uses the certificate subject's CommonName.
	MapCommonName
)

// ErrNoMatchingCTNEntry is returned when no CTN entry matches the peer
// certificate.
var ErrNoMatchingCTNEntry = errors.New("tls: no cert-to-name entry matched peer certificate")

// CTNEntry is one rule in an ordered cert-to-name mapping list: (priority,
// fingerprint, map-type, name). An empty Fingerprint matches any
// certificate.
type CTNEntry struct {
	ID          int
	Priority    int
	Fingerprint string // hex sha256 fingerprint, empty means "any certificate"
	MapType     MapType
	Name        string // literal username, used only when MapType == MapSpecified
}

// CTNList is an ordered cert-to-name mapping list. The first entry (by
// ascending Priority) that matches the peer certificate wins.
type CTNList []CTNEntry

func (l CTNList) sortedByPriority() CTNList {
	out := make(CTNList, len(l))
	copy(out, l)
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// MapCertificate resolves cert to a NETCONF username using the first
// matching entry in l, trying entries in priority order.
func (l CTNList) MapCertificate(cert *x509.Certificate) (string, error) {
	if cert == nil {
		return "", errors.New("tls: no peer certificate presented")
	}
	fp := fingerprint(cert)
	for _, e := range l.sortedByPriority() {
		if e.Fingerprint != "" && e.Fingerprint != fp {
			continue
		}
		if name, ok := e.resolve(cert); ok {
			return name, nil
		}
	}
	return "", ErrNoMatchingCTNEntry
}

func (e CTNEntry) resolve(cert *x509.Certificate) (string, bool) {
	switch e.MapType {
	case MapSpecified:
		return e.Name, e.Name != ""
	case MapSANRFC822:
		if len(cert.EmailAddresses) > 0 {
			return cert.EmailAddresses[0], true
		}
	case MapSANDNS:
		if len(cert.DNSNames) > 0 {
			return cert.DNSNames[0], true
		}
	case MapSANIP:
		if len(cert.IPAddresses) > 0 {
			return cert.IPAddresses[0].String(), true
		}
	case MapSANAny:
		if len(cert.EmailAddresses) > 0 {
			return cert.EmailAddresses[0], true
		}
		if len(cert.DNSNames) > 0 {
			return cert.DNSNames[0], true
		}
		if len(cert.IPAddresses) > 0 {
			return cert.IPAddresses[0].String(), true
		}
	case MapCommonName:
		if cert.Subject.CommonName != "" {
			return cert.Subject.CommonName, true
		}
	}
	return "", false
}

func fingerprint(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.Raw)
	return hex.EncodeToString(sum[:])
}
