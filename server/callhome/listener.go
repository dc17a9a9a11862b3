package callhome

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/imdario/mergo"
	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/netconf-go/netconf/client"
)

// ClientConfig describes how the manager should complete the transport
// handshake with a device that calls home from a given source address.
// The connection-role reversal means the manager, although it
// accepted the TCP connection, takes the SSH/TLS *client* role: it verifies
// the device's host key or certificate and supplies its own credentials.
type ClientConfig struct {
	Address string
	Kind    Kind

	SSHClientConfig *ssh.ClientConfig
	TLSClientConfig *tls.Config

	// NetconfConfig customizes the resulting NETCONF session; nil uses
	// client.DefaultConfig.
	NetconfConfig *client.Config
}

// Listener implements the manager side of call-home: it listens for
// inbound TCP connections initiated by devices and, once a connection's
// source address matches a configured ClientConfig, completes the
// transport handshake in the client role and opens a NETCONF session over
// it.
type Listener struct {
	listener net.Listener
	trace    *Trace

	mu      sync.RWMutex
	clients map[string]*ClientConfig

	results chan *Result
	errs    chan *ClientError
}

// NewListener starts listening on network/address (as accepted by
// net.Listen) for inbound call-home connections.
func NewListener(ctx context.Context, network, address string) (*Listener, error) {
	l := &Listener{
		trace:   ContextCallHomeTrace(ctx),
		clients: make(map[string]*ClientConfig),
		results: make(chan *Result),
		errs:    make(chan *ClientError),
	}

	var err error
	l.listener, err = net.Listen(network, address)
	l.trace.Listened(address, err)
	if err != nil {
		return nil, err
	}

	go l.acceptConnections(ctx)
	return l, nil
}

// SetClientConfig registers (or replaces) the handshake configuration used
// for connections arriving from cfg.Address.
func (l *Listener) SetClientConfig(cfg *ClientConfig) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clients[cfg.Address] = cfg
}

// RemoveClientConfig forgets the handshake configuration for address.
func (l *Listener) RemoveClientConfig(address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.clients, address)
}

// Results delivers one Result per successfully established call-home
// session.
func (l *Listener) Results() <-chan *Result {
	return l.results
}

// Errors delivers one ClientError per connection that could not be
// established into a session.
func (l *Listener) Errors() <-chan *ClientError {
	return l.errs
}

// Port reports the TCP port the listener is bound to.
func (l *Listener) Port() int {
	return l.listener.Addr().(*net.TCPAddr).Port
}

// Close stops accepting new call-home connections.
func (l *Listener) Close() error {
	return l.listener.Close()
}

func (l *Listener) acceptConnections(ctx context.Context) {
	for {
		conn, err := l.listener.Accept()
		l.trace.Accepted(conn, err)
		if err != nil {
			return
		}
		go l.handleConnection(ctx, conn)
	}
}

func (l *Listener) handleConnection(ctx context.Context, conn net.Conn) {
	address, err := sourceIP(conn)
	if err != nil {
		l.errs <- &ClientError{Address: conn.RemoteAddr().String(), Err: err}
		_ = conn.Close()
		return
	}

	l.mu.RLock()
	cfg, ok := l.clients[address]
	l.mu.RUnlock()

	if !ok {
		l.trace.Matched(address, 0, ErrNoClientConfig)
		l.errs <- &ClientError{Address: address, Err: ErrNoClientConfig}
		_ = conn.Close()
		return
	}

	netconfCfg := client.DefaultConfig
	if cfg.NetconfConfig != nil {
		resolved := *cfg.NetconfConfig
		_ = mergo.Merge(&resolved, client.DefaultConfig)
		netconfCfg = &resolved
	}

	var session client.Session
	switch cfg.Kind {
	case SSH:
		session, err = l.dialSSHSession(ctx, conn, address, cfg, netconfCfg)
	case TLS:
		session, err = l.dialTLSSession(ctx, conn, address, cfg, netconfCfg)
	default:
		err = errors.Errorf("callhome: unknown transport kind %v", cfg.Kind)
	}

	l.trace.Matched(address, cfg.Kind, err)
	if err != nil {
		l.errs <- &ClientError{Address: address, Err: err}
		_ = conn.Close()
		return
	}

	result := &Result{ID: uuid.New(), Address: address, Kind: cfg.Kind, Session: session}
	l.trace.Delivered(result)
	l.results <- result
}

func (l *Listener) dialSSHSession(ctx context.Context, conn net.Conn, address string, cfg *ClientConfig, netconfCfg *client.Config) (client.Session, error) {
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, cfg.SSHClientConfig)
	if err != nil {
		return nil, errors.Wrap(err, "callhome: ssh client handshake")
	}
	sshClient := ssh.NewClient(sshConn, chans, reqs)

	session, err := client.NewRPCSessionFromSSHClientWithConfig(ctx, sshClient, netconfCfg)
	if err != nil {
		_ = sshClient.Close()
		return nil, err
	}
	return session, nil
}

func (l *Listener) dialTLSSession(ctx context.Context, conn net.Conn, address string, cfg *ClientConfig, netconfCfg *client.Config) (client.Session, error) {
	tlsConn := tls.Client(conn, cfg.TLSClientConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, errors.Wrap(err, "callhome: tls client handshake")
	}

	session, err := client.NewSession(ctx, tlsConn, netconfCfg)
	if err != nil {
		_ = tlsConn.Close()
		return nil, err
	}
	return session, nil
}
