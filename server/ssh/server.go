package ssh

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/ssh"
)

// Server represents a test SSH Server
type Server struct {
	listener    net.Listener
	trace       *Trace
	authTimeout time.Duration
}

// Handler is the interface that is implemented to handle an SSH channel.
type Handler interface {
	// Handler is a function that handles i/o to/from an SSH channel
	Handle(ch ssh.Channel)
}

// HandlerFactory is a function that will deliver an Handler.
type HandlerFactory func(conn *ssh.ServerConn) Handler

// NewServer delivers a new SSH Server listening on address:port, with a custom channel handler.
// Clients authenticate as cfg configures.
func NewServer(ctx context.Context, address string, port int, cfg *ssh.ServerConfig, factory HandlerFactory) (server *Server, err error) {
	server = &Server{trace: ContextSshTrace(ctx), authTimeout: ContextSshAuthTimeout(ctx)}

	listenAddress := fmt.Sprintf("%s:%d", address, port)
	server.listener, err = net.Listen("tcp", listenAddress)
	server.trace.Listened(address, err)
	if err != nil {
		return nil, err
	}

	go server.acceptConnections(cfg, factory)

	return server, nil
}

// Port delivers the tcp port number on which the server is listening.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Close closes any resources used by the server.
func (s *Server) Close() {
	_ = s.listener.Close()
}

func (s *Server) acceptConnections(config *ssh.ServerConfig, factory HandlerFactory) {
	s.trace.StartAccepting()
	for {
		nConn, err := s.listener.Accept()
		s.trace.Accepted(nConn, err)
		if err != nil {
			return
		}

		go serveConn(nConn, config, factory, s.trace, s.authTimeout)
	}
}

func serveConn(nConn net.Conn, config *ssh.ServerConfig, factory HandlerFactory, trace *Trace, authTimeout time.Duration) {
	if authTimeout > 0 {
		_ = nConn.SetDeadline(time.Now().Add(authTimeout))
	}
	ServeConn(nConn, config, factory, trace)
}

// ServeConn runs the server-side SSH handshake on an already-established
// net.Conn and services its channels with factory, blocking until the
// connection's channel stream ends. It is exported so callers that acquire
// connections by means other than Accept - the call-home dial-out path in
// server/callhome, for instance - can reuse the same channel-servicing
// discipline as NewServer's listener loop.
func ServeConn(nConn net.Conn, config *ssh.ServerConfig, factory HandlerFactory, trace *Trace) {
	svrconn, chch, reqch, err := ssh.NewServerConn(nConn, config)
	trace.NewServerConn(nConn, err)
	if err != nil {
		return
	}
	// The handshake (including authentication) completed; release any
	// deadline serveConn set to bound it, so the NETCONF session that
	// follows is not subject to the same timeout.
	_ = nConn.SetDeadline(time.Time{})

	go ssh.DiscardRequests(reqch)

	// shared is the explicit owner of this connection, attached to by every
	// sibling NETCONF session multiplexed over its channels. Its transport
	// mutex is available to callers via ConnectionOf for serialising
	// whole-message reads/writes across siblings; the connection itself is
	// torn down once the last sibling detaches.
	shared := NewSshConnection(svrconn)
	setSharedConnection(svrconn, shared)
	defer clearSharedConnection(svrconn)

	var nextChid uint64

	// Service the incoming Channel channel.
	for newChannel := range chch {
		dataChan, requests, err := newChannel.Accept()
		trace.SshChannelAccept(nConn, err)
		if err != nil {
			continue
		}

		chid := atomic.AddUint64(&nextChid, 1)
		shared.Attach(chid)

		// Handle the "subsystem" request.
		go func(in <-chan *ssh.Request) {
			for req := range in {
				err = req.Reply(req.Type == "subsystem", nil)
				trace.SubsystemRequestReply(err)
			}
		}(requests)

		go func() {
			defer func() {
				dataChan.Close()
				shared.Detach(chid)
			}()
			factory(svrconn).Handle(dataChan)
		}()
	}
}
