package ssh

import (
	"sync"

	"golang.org/x/crypto/ssh"
)

// SshConnection is the explicit shared owner of one SSH connection that may
// multiplex several sibling NETCONF sessions over distinct channels. It
// replaces a circular sibling-linked-list design with a single owner value:
// child sessions attach/detach by id, the transport mutex is held for the
// duration of one whole-message read or write shared across every sibling,
// and the underlying connection is closed once the last child detaches.
type SshConnection struct {
	transportMu sync.Mutex

	regMu    sync.Mutex
	conn     *ssh.ServerConn
	children map[uint64]struct{}
	closed   bool
}

// NewSshConnection wraps conn as the shared owner for sessions multiplexed
// over it.
func NewSshConnection(conn *ssh.ServerConn) *SshConnection {
	return &SshConnection{conn: conn, children: make(map[uint64]struct{})}
}

// Attach registers sid as a sibling session sharing this connection.
func (c *SshConnection) Attach(sid uint64) {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	c.children[sid] = struct{}{}
}

// Detach removes sid. When it was the last attached sibling, the underlying
// connection is closed.
func (c *SshConnection) Detach(sid uint64) {
	c.regMu.Lock()
	delete(c.children, sid)
	last := len(c.children) == 0
	c.regMu.Unlock()

	if last {
		_ = c.Close()
	}
}

// ChildCount reports the number of sibling sessions currently attached.
func (c *SshConnection) ChildCount() int {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	return len(c.children)
}

// Lock acquires the transport mutex shared by every sibling session's
// read_msg/write_msg critical section.
func (c *SshConnection) Lock() { c.transportMu.Lock() }

// Unlock releases the transport mutex.
func (c *SshConnection) Unlock() { c.transportMu.Unlock() }

// Close tears down the underlying SSH connection. Safe to call more than
// once.
func (c *SshConnection) Close() error {
	c.regMu.Lock()
	defer c.regMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

var (
	sharedConnsMu sync.Mutex
	sharedConns   = make(map[*ssh.ServerConn]*SshConnection)
)

// setSharedConnection registers the owner for conn, making it discoverable
// via ConnectionOf to any Handler invoked on one of conn's channels.
func setSharedConnection(conn *ssh.ServerConn, shared *SshConnection) {
	sharedConnsMu.Lock()
	defer sharedConnsMu.Unlock()
	sharedConns[conn] = shared
}

func clearSharedConnection(conn *ssh.ServerConn) {
	sharedConnsMu.Lock()
	defer sharedConnsMu.Unlock()
	delete(sharedConns, conn)
}

// ConnectionOf returns the shared owner for an SSH server connection
// obtained through ServeConn, or nil if conn was not serviced by this
// package (e.g. already closed). Sibling NETCONF sessions multiplexed over
// conn use the returned value's Lock/Unlock to serialise message-level
// reads and writes across the whole connection.
func ConnectionOf(conn *ssh.ServerConn) *SshConnection {
	sharedConnsMu.Lock()
	defer sharedConnsMu.Unlock()
	return sharedConns[conn]
}
