package client

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/imdario/mergo"
	"github.com/pkg/errors"
)

// tlsTransport adapts a *tls.Conn into a Transport, tracing reads and
// writes the same way tImpl does for SSH.
type tlsTransport struct {
	conn   *tls.Conn
	target string
	trace  *ClientTrace
}

// NewTLSTransport dials target over TLS using cfg and completes the
// handshake, returning a Transport ready for NewSession. Unlike the SSH
// transport it has no subsystem negotiation: the NETCONF over TLS transport
// (RFC 7589) speaks the message layer directly over the TLS record stream.
func NewTLSTransport(ctx context.Context, cfg *tls.Config, target string) (rt Transport, err error) {
	trace := ContextClientTrace(ctx)
	trace.ConnectStart(target)
	defer func(begin time.Time) {
		trace.ConnectDone(target, err, time.Since(begin))
	}(time.Now())

	var dialer tls.Dialer
	dialer.Config = cfg
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, errors.Wrap(err, "tls transport: dial failed")
	}

	return &tlsTransport{conn: conn.(*tls.Conn), target: target, trace: trace}, nil
}

func (t *tlsTransport) Read(p []byte) (n int, err error) {
	t.trace.ReadStart(p)
	defer func(begin time.Time) {
		t.trace.ReadDone(p, n, err, time.Since(begin))
	}(time.Now())
	return t.conn.Read(p)
}

func (t *tlsTransport) Write(p []byte) (n int, err error) {
	t.trace.WriteStart(p)
	defer func(begin time.Time) {
		t.trace.WriteDone(p, n, err, time.Since(begin))
	}(time.Now())
	return t.conn.Write(p)
}

func (t *tlsTransport) Close() (err error) {
	defer func() { t.trace.ConnectionClosed(t.target, err) }()
	return t.conn.Close()
}

// Target reports the address this transport was dialed to.
func (t *tlsTransport) Target() string {
	return t.target
}

// NewRPCSessionOverTLS connects to target over TLS using cfg, and
// establishes a netconf session with the given client configuration. nil
// sessionCfg uses DefaultConfig.
func NewRPCSessionOverTLS(ctx context.Context, cfg *tls.Config, target string, sessionCfg *Config) (s Session, err error) {
	if sessionCfg == nil {
		sessionCfg = DefaultConfig
	}
	resolvedConfig := *sessionCfg
	_ = mergo.Merge(&resolvedConfig, DefaultConfig)

	var t Transport
	if t, err = NewTLSTransport(ctx, cfg, target); err != nil {
		return
	}

	if s, err = NewSession(ctx, t, &resolvedConfig); err != nil {
		_ = t.Close()
	}
	return
}
