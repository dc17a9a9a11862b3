// Package tls implements the NETCONF-over-TLS transport acceptor (RFC
// 7589): a listening endpoint that performs the TLS handshake, optionally
// maps the peer certificate to a NETCONF username via an ordered
// cert-to-name list, and hands the resulting connection to a
// caller-supplied handler.
package tls

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
)

// Handler is the interface implemented to handle a fully authenticated TLS
// NETCONF connection.
type Handler interface {
	// Handle services the connection. username is empty when the endpoint
	// has no CTN entries configured (client certificates are not required).
	Handle(conn *tls.Conn, username string)
}

// HandlerFactory builds a Handler for a newly accepted, handshake-complete
// connection.
type HandlerFactory func(conn *tls.Conn, username string) Handler

// Server represents a listening TLS NETCONF endpoint.
type Server struct {
	listener net.Listener
	trace    *Trace

	ctnMu sync.RWMutex
	ctn   CTNList

	crlMu sync.RWMutex
	crl   *CRLStore
}

// NewServer starts listening on address:port, running the TLS handshake
// (and CTN mapping, when ctn is non-empty) for every accepted connection
// before handing it to factory. Client certificates are required whenever
// ctn is non-empty, since without one no username can be derived.
func NewServer(ctx context.Context, address string, port int, cfg *tls.Config, ctn CTNList, factory HandlerFactory) (*Server, error) {
	s := &Server{trace: ContextTLSTrace(ctx), ctn: ctn}

	cfg = cfg.Clone()
	if len(ctn) > 0 {
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	listenAddress := fmt.Sprintf("%s:%d", address, port)
	var err error
	s.listener, err = net.Listen("tcp", listenAddress)
	s.trace.Listened(listenAddress, err)
	if err != nil {
		return nil, err
	}

	go s.acceptConnections(ctx, cfg, factory)
	return s, nil
}

// Port returns the TCP port the server is listening on.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close stops accepting new connections.
func (s *Server) Close() {
	_ = s.listener.Close()
}

// SetCTNList replaces the cert-to-name mapping list used for connections
// accepted from now on.
func (s *Server) SetCTNList(ctn CTNList) {
	s.ctnMu.Lock()
	defer s.ctnMu.Unlock()
	s.ctn = ctn
}

// SetCRLStore replaces the revocation store consulted for connections
// accepted from now on. A nil store disables revocation checking.
func (s *Server) SetCRLStore(store *CRLStore) {
	s.crlMu.Lock()
	defer s.crlMu.Unlock()
	s.crl = store
}

func (s *Server) acceptConnections(ctx context.Context, cfg *tls.Config, factory HandlerFactory) {
	s.trace.StartAccepting()
	for {
		conn, err := s.listener.Accept()
		s.trace.Accepted(conn, err)
		if err != nil {
			return
		}

		s.ctnMu.RLock()
		ctn := s.ctn
		s.ctnMu.RUnlock()
		s.crlMu.RLock()
		crl := s.crl
		s.crlMu.RUnlock()

		go ServeConn(ctx, conn, cfg, ctn, crl, factory, s.trace)
	}
}

// ServeConn runs the server-side TLS handshake (and CTN mapping, when ctn is
// non-empty) on an already-established net.Conn and hands the result to
// factory. It is exported so callers that acquire connections by means other
// than Accept - the call-home dial-out path in server/callhome, for instance
// - can reuse the same handshake-and-map discipline as NewServer's listener
// loop.
func ServeConn(ctx context.Context, conn net.Conn, cfg *tls.Config, ctn CTNList, crl *CRLStore, factory HandlerFactory, trace *Trace) {
	tlsConn := tls.Server(conn, cfg)

	err := tlsConn.HandshakeContext(ctx)
	trace.Handshaked(conn, err)
	if err != nil {
		_ = conn.Close()
		return
	}

	var username string
	if len(ctn) > 0 {
		state := tlsConn.ConnectionState()
		if len(state.PeerCertificates) == 0 {
			trace.CTNMapped("", ErrNoMatchingCTNEntry)
			_ = tlsConn.Close()
			return
		}
		cert := state.PeerCertificates[0]

		if crl != nil && crl.IsRevoked(cert) {
			trace.CTNMapped("", errCertRevoked)
			_ = tlsConn.Close()
			return
		}

		username, err = ctn.MapCertificate(cert)
		trace.CTNMapped(username, err)
		if err != nil {
			_ = tlsConn.Close()
			return
		}
	}

	factory(tlsConn, username).Handle(tlsConn, username)
}
