// Package testserver provides an in-process Netconf server and a bare SSH
// server for exercising the client and transport packages without a real
// NE. Both build on the production server/ssh and server/netconf packages
// rather than reimplementing the protocol.
package testserver

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/netconf-go/netconf/common"
	"github.com/netconf-go/netconf/server/netconf"
	"github.com/netconf-go/netconf/server/ssh"

	assert "github.com/stretchr/testify/require"
)

// Defines credentials used for test sessions.
const (
	TestUserName = "testUser"
	TestPassword = "testPassword"
)

// TestNCServer is a Netconf server suitable for 'on-board' testing. It
// encapsulates a production server/netconf.Server, tracking one
// *SessionHandler per connected session so tests can assert against what
// each session received.
type TestNCServer struct {
	*netconf.Server

	mu              sync.Mutex
	sessionHandlers map[uint64]*SessionHandler
	reqHandlers     []RequestHandler
	caps            []string
	nextSid         uint64
	tctx            assert.TestingT
}

// NewTestNetconfServer creates a new TestNCServer that will accept Netconf
// localhost connections on an ephemeral port (available via Port()), with
// credentials defined by TestUserName and TestPassword. tctx will be used
// for handling failures; if the supplied value is nil, a default test
// context will be used. The behaviour of the session can be configured
// using the WithCapabilities and WithRequestHandler methods.
func NewTestNetconfServer(tctx assert.TestingT) *TestNCServer {
	ncs := &TestNCServer{sessionHandlers: make(map[uint64]*SessionHandler), caps: common.DefaultCapabilities}

	if tctx == nil {
		tctx = ncs
	}
	ncs.tctx = tctx

	sshcfg, err := ssh.PasswordConfig(TestUserName, TestPassword)
	assert.NoError(tctx, err, "Failed to build ssh server config")

	ncs.Server, err = netconf.NewServer(context.Background(), "localhost", 0, sshcfg, ncs.sessionFactory())
	assert.NoError(tctx, err, "Failed to start test netconf server")

	return ncs
}

func (ncs *TestNCServer) sessionFactory() netconf.SessionFactory {
	return func(sh *netconf.SessionHandler) netconf.SessionCallback {
		ncs.mu.Lock()
		wrapper := &SessionHandler{
			SessionHandler: sh,
			t:              ncs.tctx,
			caps:           ncs.caps,
			reqHandlers:    append([]RequestHandler(nil), ncs.reqHandlers...),
			started:        make(chan struct{}),
		}
		ncs.nextSid = sh.ID()
		ncs.sessionHandlers[sh.ID()] = wrapper
		ncs.mu.Unlock()

		go wrapper.watchStart()
		return wrapper
	}
}

// LastHandler delivers the most recently instantiated session handler.
func (ncs *TestNCServer) LastHandler() *SessionHandler {
	ncs.mu.Lock()
	defer ncs.mu.Unlock()
	return ncs.sessionHandlers[ncs.nextSid]
}

// WithRequestHandler adds a request handler to the netconf session.
func (ncs *TestNCServer) WithRequestHandler(rh RequestHandler) *TestNCServer {
	ncs.mu.Lock()
	defer ncs.mu.Unlock()
	ncs.reqHandlers = append(ncs.reqHandlers, rh)
	return ncs
}

// WithCapabilities defines the capabilities that the server will advertise when a netconf client connects.
func (ncs *TestNCServer) WithCapabilities(caps []string) *TestNCServer {
	ncs.mu.Lock()
	defer ncs.mu.Unlock()
	ncs.caps = caps
	return ncs
}

// Errorf provides testing.T compatibility if a test context is not provided when the test server is
// created.
func (ncs *TestNCServer) Errorf(format string, args ...interface{}) {
	fmt.Printf(format, args...)
}

// FailNow provides testing.T compatibility if a test context is not provided when the test server is
// created.
func (ncs *TestNCServer) FailNow() {
	runtime.Goexit()
}

// SessionHandler delivers the netconf session handler associated with the specified session id.
func (ncs *TestNCServer) SessionHandler(id uint64) *SessionHandler {
	ncs.mu.Lock()
	sh, ok := ncs.sessionHandlers[id]
	ncs.mu.Unlock()
	if !ok {
		ncs.tctx.Errorf("Failed to get handler for session %d", id)
		ncs.tctx.FailNow()
	}
	return sh
}
