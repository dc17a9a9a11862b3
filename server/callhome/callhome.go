// Package callhome implements the NETCONF call-home procedure (RFC 8071):
// the device-to-manager connection roles are reversed so the device dials
// out and the manager listens, but the resulting connection still carries
// an ordinary NETCONF session once the transport-level handshake
// completes.
package callhome

import (
	"fmt"
	"net"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/netconf-go/netconf/client"
)

// Kind identifies which transport a call-home connection is expected to
// use; RFC 8071 permits either SSH or TLS.
type Kind int

const (
	// SSH indicates the device will initiate an SSH handshake.
	SSH Kind = iota
	// TLS indicates the device will initiate a TLS handshake.
	TLS
)

func (k Kind) String() string {
	switch k {
	case SSH:
		return "ssh"
	case TLS:
		return "tls"
	default:
		return "unknown"
	}
}

// ErrNoClientConfig is returned when an inbound call-home connection
// arrives from an address with no matching ClientConfig.
var ErrNoClientConfig = errors.New("callhome: no client configuration for source address")

// ClientError reports a failure while establishing a call-home session with
// a specific device.
type ClientError struct {
	Address string
	Err     error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("callhome: client %s: %s", e.Address, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// Result is delivered on the Listener's result channel whenever a device
// successfully calls home. Session is a fully established NETCONF session
// over the new connection, ready for Session.Execute/ExecuteAsync.
type Result struct {
	ID      uuid.UUID
	Address string
	Kind    Kind
	Session client.Session
}

func sourceIP(conn net.Conn) (string, error) {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return "", errors.New("callhome: connection has no TCP remote address")
	}
	return addr.IP.String(), nil
}
