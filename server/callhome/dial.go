package callhome

import (
	"context"
	"crypto/tls"
	"net"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	sshserver "github.com/netconf-go/netconf/server/ssh"
	tlsserver "github.com/netconf-go/netconf/server/tls"
)

// DialSSH implements the device side of call-home over SSH (RFC 8071): it
// dials the manager at address and then runs the server-side SSH handshake
// over that outbound connection, servicing channels with factory exactly as
// server/ssh.Server's listener loop would. It blocks until the connection's
// channel stream ends.
func DialSSH(ctx context.Context, network, address string, cfg *ssh.ServerConfig, factory sshserver.HandlerFactory) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return errors.Wrapf(err, "callhome: dial %q", address)
	}

	sshserver.ServeConn(conn, cfg, factory, sshserver.NoOpLoggingHooks)
	return nil
}

// DialTLS implements the device side of call-home over TLS: it dials the
// manager at address and then runs the server-side TLS handshake (and CTN
// mapping, when ctn is non-empty) over that outbound connection.
func DialTLS(ctx context.Context, network, address string, cfg *tls.Config, ctn tlsserver.CTNList, crl *tlsserver.CRLStore, factory tlsserver.HandlerFactory) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return errors.Wrapf(err, "callhome: dial %q", address)
	}

	tlsserver.ServeConn(ctx, conn, cfg, ctn, crl, factory, tlsserver.NoOpLoggingHooks)
	return nil
}
