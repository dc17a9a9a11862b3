package netconf

import (
	"context"
	gotls "crypto/tls"
	"encoding/xml"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/netconf-go/netconf/common"
	"github.com/netconf-go/netconf/codec"

	"github.com/netconf-go/netconf/server/ssh"
	"github.com/netconf-go/netconf/server/tls"

	xssh "golang.org/x/crypto/ssh"
)

// Server represents a Netconf Server.
// It encapsulates a transport connection to an SSH server, and session handlers that will
// be invoked to handle netconf messages.
type Server struct {
	*ssh.Server
	sf              SessionFactory
	sessionHandlers map[uint64]*SessionHandler
	nextSid         uint64
	trace           *Trace
	options         *Options
}

// SessionCallback defines the caller supplied callback functions.
type SessionCallback interface {
	// Capabilities is called to retrieve the capabilities that should be advertised to the client.
	// If the callback returns nil, the default set of capabilities is used.
	Capabilities() []string
	// HandleRequest is called to handle an RPC request.
	HandleRequest(req *RpcRequestMessage) *RpcReplyMessage
}

type SessionFactory func(*SessionHandler) SessionCallback

// SessionHandler represents the server side of an active netconf SSH session.
type SessionHandler struct {

	// server references the Netconf server that launched the session.
	server *Server

	// svrcon is the underlying ssh server connection.
	svrcon *xssh.ServerConn

	// shared is the explicit owner of svrcon when this session is one of
	// possibly several NETCONF sessions multiplexed over the same SSH
	// connection; nil for sessions served over a non-SSH transport. Its
	// transport mutex is taken around encode in addition to encLock so
	// that writes are serialised across every sibling session, not just
	// within this one.
	shared *ssh.SshConnection

	// ch is the underlying transport channel (an ssh.Channel, or any other
	// read/write/closer for sessions served over a non-SSH transport).
	ch io.ReadWriteCloser

	// The codecs used to handle client i/o
	enc *codec.Encoder
	dec *codec.Decoder

	// Serialises access to encoder (avoiding contention between sending notifications and request responses).
	encLock sync.Mutex

	// The capabilities advertised to the client.
	capabilities []string
	// The session id to be reported to the client.
	sid uint64

	// Channel used to signal successful receipt of client capabilities.
	hellochan chan bool

	// done is closed once the incoming-message loop exits, letting any
	// idle monitor goroutine stop promptly instead of waiting out its
	// next tick.
	done chan struct{}

	// lastActivity holds the UnixNano timestamp of the most recently
	// decoded client message, read/written with sync/atomic.
	lastActivity int64

	// The HelloMessage sent by the connecting client.
	ClientHello *common.HelloMessage

	// status tracks the session's lifecycle state, forward-only through
	// starting/running/closing/invalid.
	status *common.StatusTracker

	// Caller supplied callbacks
	cb SessionCallback
}

// ID returns the server-assigned session id reported to the client in its
// hello.
func (h *SessionHandler) ID() uint64 { return h.sid }

// Send encodes and writes m to the client, serialised against concurrent
// rpc-reply and notification sends the same way an rpc-reply is.
func (h *SessionHandler) Send(m interface{}) error { return h.encode(m) }

// Status reports the session's current lifecycle state.
func (h *SessionHandler) Status() common.Status { return h.status.Status() }

// TerminationReason reports why the session reached common.StatusInvalid,
// or common.ReasonNone if it has not.
func (h *SessionHandler) TerminationReason() common.TerminationReason {
	return h.status.TerminationReason()
}

// RpcRequestMessage and rpcRequest represent an RPC request from a client, where the element type of the
// request body is unknown.
type RpcRequestMessage struct {
	XMLName   xml.Name
	MessageID string     `xml:"message-id,attr"`
	Request   RPCRequest `xml:",any"`
	Body      string     `xml:",innerxml"`
}

// RPCRequest describes an RPC request.
type RPCRequest struct {
	XMLName xml.Name
	Body    string `xml:",innerxml"`
}

// RpcReplyMessage  and ReplyData represent an rpc-reply message that will be sent to a client session, where the
// element type of the reply body (i.e. the content of the data element)
// is unknown.
type RpcReplyMessage struct {
	XMLName   xml.Name          `xml:"urn:ietf:params:xml:ns:netconf:base:1.0 rpc-reply"`
	Errors    []common.RPCError `xml:"rpc-error,omitempty"`
	Data      ReplyData         `xml:"data"`
	Ok        bool              `xml:",omitempty"`
	RawReply  string            `xml:"-"`
	MessageID string            `xml:"message-id,attr"`
}
type ReplyData struct {
	XMLName xml.Name `xml:"data"`
	Data    string   `xml:",innerxml"`
}

// RequestHandler is a function type that will be invoked by the session handler to handle an RPC
// request.
type RequestHandler func(h *SessionHandler, req *RpcRequestMessage)

// NewServer creates a new Server that will accept Netconf connections on address:port (port 0 picks an ephemeral
// port, available via Port()), with credentials defined by the sshcfg configuration.
func NewServer(ctx context.Context, address string, port int, sshcfg *xssh.ServerConfig, sf SessionFactory) (ncs *Server, err error) {

	trace := ContextNetconfTrace(ctx)
	if trace.Trace != nil && ssh.ContextSshTrace(ctx) == ssh.NoOpLoggingHooks {
		ctx = ssh.WithSshTrace(ctx, trace.Trace)
	}

	ncs = &Server{sessionHandlers: make(map[uint64]*SessionHandler), sf: sf, trace: trace, options: ContextNetconfOptions(ctx)}

	ncs.Server, err = ssh.NewServer(ctx, address, port, sshcfg, ncs.handlerFactory())
	if err != nil {
		return nil, err
	}
	return
}

// NewHandlerFactory builds an ssh.HandlerFactory that services NETCONF
// sessions exactly as NewServer's listener does, without binding a listener
// of its own. It lets callers that obtain SSH server connections by means
// other than Accept - the call-home device-role dial path in
// server/callhome, for instance - reuse the same session-handling
// discipline.
func NewHandlerFactory(ctx context.Context, sf SessionFactory) ssh.HandlerFactory {
	ncs := &Server{
		sessionHandlers: make(map[uint64]*SessionHandler),
		sf:              sf,
		trace:           ContextNetconfTrace(ctx),
		options:         ContextNetconfOptions(ctx),
	}
	return ncs.handlerFactory()
}

// NewTLSHandlerFactory adapts sf into a server/tls.HandlerFactory, letting
// NETCONF sessions be served over a TLS transport (RFC 7589) with the same
// hello/dispatch discipline as NewServer's SSH listener.
func NewTLSHandlerFactory(ctx context.Context, sf SessionFactory) tls.HandlerFactory {
	ncs := &Server{
		sessionHandlers: make(map[uint64]*SessionHandler),
		sf:              sf,
		trace:           ContextNetconfTrace(ctx),
		options:         ContextNetconfOptions(ctx),
	}
	var nextSid uint64
	return func(conn *gotls.Conn, username string) tls.Handler {
		sid := atomic.AddUint64(&nextSid, 1)
		sh := &SessionHandler{
			server:       ncs,
			sid:          sid,
			hellochan:    make(chan bool),
			done:         make(chan struct{}),
			capabilities: common.DefaultCapabilities,
			status:       common.NewStatusTracker(),
		}
		ncs.trace.StartSession(sh)
		sh.cb = ncs.sf(sh)
		if caps := sh.cb.Capabilities(); caps != nil {
			sh.capabilities = caps
		}
		ncs.sessionHandlers[sid] = sh
		return tlsSessionHandler{sh}
	}
}

// tlsSessionHandler adapts *SessionHandler's HandleConn method to the
// server/tls.Handler interface, which additionally carries the cert-to-name
// mapped username (unused here: NETCONF session identity is established by
// the hello exchange, not the transport-level username).
type tlsSessionHandler struct {
	sh *SessionHandler
}

func (h tlsSessionHandler) Handle(conn *gotls.Conn, username string) {
	h.sh.HandleConn(conn)
}

func (ncs *Server) handlerFactory() ssh.HandlerFactory {
	return func(svrconn *xssh.ServerConn) ssh.Handler {
		sid := atomic.AddUint64(&ncs.nextSid, 1)
		sess := ncs.newSessionHandler(svrconn, sid)
		ncs.sessionHandlers[sid] = sess
		return sess
	}
}

// Close closes any active transport to the test server and prevents subsequent connections.
func (ncs *Server) Close() {
	for k, v := range ncs.sessionHandlers {
		if v.ch != nil {
			v.Close() // nolint: gosec, errcheck
			ncs.sessionHandlers[k] = nil
		}
	}
	ncs.Server.Close()
}

func (ncs *Server) newSessionHandler(svrcon *xssh.ServerConn, sid uint64) *SessionHandler { // nolint: deadcode
	sh := &SessionHandler{
		server:       ncs,
		svrcon:       svrcon,
		shared:       ssh.ConnectionOf(svrcon),
		sid:          sid,
		hellochan:    make(chan bool),
		done:         make(chan struct{}),
		capabilities: common.DefaultCapabilities,
		status:       common.NewStatusTracker(),
	}

	ncs.trace.StartSession(sh)

	sh.cb = ncs.sf(sh)
	caps := sh.cb.Capabilities()
	if caps != nil {
		sh.capabilities = caps
	}
	return sh
}

// Handle establishes a Netconf server session on a newly-connected SSH channel.
func (h *SessionHandler) Handle(ch xssh.Channel) {
	h.serve(ch)
}

// HandleConn establishes a Netconf server session on any already-handshaked
// transport connection - a *tls.Conn accepted by server/tls, for instance.
// It runs the same hello/dispatch discipline as Handle, generalized beyond
// the SSH channel type so a session handler built by this package can serve
// NETCONF over any transport acceptor in this module.
func (h *SessionHandler) HandleConn(rwc io.ReadWriteCloser) {
	h.serve(rwc)
}

func (h *SessionHandler) serve(rwc io.ReadWriteCloser) {
	h.ch = rwc
	h.dec = codec.NewDecoder(rwc)
	h.enc = codec.NewEncoder(rwc)

	wg := &sync.WaitGroup{}
	wg.Add(1)

	// Send server hello to client.
	err := h.encode(&common.HelloMessage{Capabilities: h.capabilities, SessionID: h.sid})
	if err == nil {

		go h.handleIncomingMessages(wg)
		ok := h.waitForClientHello()
		if ok {
			atomic.StoreInt64(&h.lastActivity, time.Now().UnixNano())
			if idle := h.server.options.IdleTimeout; idle > 0 {
				go h.monitorIdle(idle)
			}
			// Wait for message handling routine to finish.
			wg.Wait()
		} else {
			// Hello timed out or failed (bad hello, rpc before hello):
			// tear the session down so the reader goroutine's blocked
			// decode unwinds instead of leaking. ReasonTimeout is kept
			// only when no earlier reason was recorded.
			h.status.Advance(common.StatusInvalid, common.ReasonTimeout)
			h.Close()
		}
	}
	h.server.trace.EndSession(h, err)
}

// Close initiates session tear-down by closing the underlying transport channel.
func (h *SessionHandler) Close() {
	h.status.Advance(common.StatusClosing, common.ReasonNone)
	_ = h.ch.Close() // nolint: errcheck, gosec
	h.status.Advance(common.StatusInvalid, common.ReasonClosed)
}

func (h *SessionHandler) waitForClientHello() bool {

	// Wait for the input handler to send the client hello.
	select {
	case <-h.hellochan:
	case <-time.After(h.server.options.HelloTimeout):
	}

	h.server.trace.ClientHello(h)
	return h.ClientHello != nil && h.status.Status() != common.StatusInvalid
}

// monitorIdle closes the session once no client message has been decoded
// for idle. It polls at a quarter of the idle timeout and exits as soon as
// the incoming-message loop ends for any other reason.
func (h *SessionHandler) monitorIdle(idle time.Duration) {
	interval := idle / 4
	if interval <= 0 {
		interval = idle
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			last := time.Unix(0, atomic.LoadInt64(&h.lastActivity))
			if time.Since(last) >= idle {
				h.Close()
				return
			}
		}
	}
}

func (h *SessionHandler) handleIncomingMessages(wg *sync.WaitGroup) {

	defer wg.Done()
	defer close(h.done)

	// Loop, looking for a start element type of hello, rpc.
	for {
		token, err := h.dec.Token()
		if err != nil {
			break
		}
		atomic.StoreInt64(&h.lastActivity, time.Now().UnixNano())
		h.handleToken(token)
	}
}

func (h *SessionHandler) handleToken(token xml.Token) {
	switch token := token.(type) {
	case xml.StartElement:
		switch token.Name.Local {
		case common.NameHello.Local: // <hello>
			h.handleHello(token)

		case common.NameRPC.Local: // <rpc>
			h.handleRPC(token)
		}
	}
}

func (h *SessionHandler) handleHello(token xml.StartElement) {
	// Decode the hello element and send it down the channel to trigger the rest of the session setup.

	err := h.decodeElement(&h.ClientHello, &token)
	if err == nil {
		if !common.HasCommonBaseCapability(h.capabilities, h.ClientHello.Capabilities) {
			h.status.Advance(common.StatusInvalid, common.ReasonBadHello)
			h.hellochan <- true
			return
		}

		if common.PeerSupportsChunkedFraming(h.ClientHello.Capabilities) && common.PeerSupportsChunkedFraming(h.capabilities) {

			// Update the codec to use chunked framing from now.
			codec.EnableChunkedFraming(h.dec, h.enc)
		}
		h.status.Advance(common.StatusRunning, common.ReasonNone)
	}

	h.hellochan <- true
}

func (h *SessionHandler) handleRPC(token xml.StartElement) {
	// An rpc before the client's hello is a protocol violation; the
	// session is dropped rather than answered.
	if h.status.Status() != common.StatusRunning {
		h.status.Advance(common.StatusInvalid, common.ReasonOther)
		select {
		case h.hellochan <- true:
		default:
		}
		return
	}

	request := &RpcRequestMessage{}
	err := h.decodeElement(&request, &token)
	if err != nil {
		return
	}

	reply := h.cb.HandleRequest(request)
	if reply != nil {
		_ = h.encode(reply)
	}
}

func (h *SessionHandler) decodeElement(v interface{}, start *xml.StartElement) error {
	err := h.dec.DecodeElement(v, start)
	h.server.trace.Decoded(h, err)
	return err
}

func (h *SessionHandler) encode(m interface{}) error {
	h.encLock.Lock()
	defer h.encLock.Unlock()
	if h.shared != nil {
		h.shared.Lock()
		defer h.shared.Unlock()
	}
	err := h.enc.Encode(m)
	h.server.trace.Encoded(h, err)
	return err
}
