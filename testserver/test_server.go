package testserver

import (
	"bufio"
	"context"
	"fmt"

	"github.com/netconf-go/netconf/server/ssh"

	assert "github.com/stretchr/testify/require"
	xssh "golang.org/x/crypto/ssh"
)

// SSHServer is a bare SSH test server (no Netconf framing) used to exercise
// the transport layer directly: it accepts every channel opened on a
// connection and hands each to a Handler.
type SSHServer struct {
	*ssh.Server
}

// SSHHandler is the interface that is implemented to handle an SSH channel.
type SSHHandler interface {
	Handle(t assert.TestingT, ch xssh.Channel)
}

// HandlerFactory is a test function that will deliver an SSHHandler.
type HandlerFactory func(t assert.TestingT) SSHHandler

// NewSSHServer delivers a new test SSH Server, with a Handler that simply
// echoes lines received. The server implements password authentication
// with the given credentials.
func NewSSHServer(t assert.TestingT, uname, password string) *SSHServer {
	return NewSSHServerHandler(t, uname, password, func(t assert.TestingT) SSHHandler { return &echoer{} })
}

// NewSSHServerHandler delivers a new test SSH Server, with a custom channel handler.
// The server implements password authentication with the given credentials.
func NewSSHServerHandler(t assert.TestingT, uname, password string, factory HandlerFactory) *SSHServer {
	cfg, err := ssh.PasswordConfig(uname, password)
	assert.NoError(t, err, "Failed to build ssh server config")

	server, err := ssh.NewServer(context.Background(), "localhost", 0, cfg, func(*xssh.ServerConn) ssh.Handler {
		return sshHandlerAdapter{t: t, h: factory(t)}
	})
	assert.NoError(t, err, "Failed to start test ssh server")

	return &SSHServer{Server: server}
}

type sshHandlerAdapter struct {
	t assert.TestingT
	h SSHHandler
}

func (a sshHandlerAdapter) Handle(ch xssh.Channel) { a.h.Handle(a.t, ch) }

type echoer struct{}

// Handle is a simple SSHHandler implementation that echoes lines.
func (e *echoer) Handle(t assert.TestingT, ch xssh.Channel) {
	chReader := bufio.NewReader(ch)
	chWriter := bufio.NewWriter(ch)
	for {
		input, err := chReader.ReadString('\n')
		if err != nil {
			return
		}
		_, err = chWriter.WriteString(fmt.Sprintf("GOT:%s", input))
		assert.NoError(t, err, "Write failed")
		err = chWriter.Flush()
		assert.NoError(t, err, "Flush failed")
	}
}
