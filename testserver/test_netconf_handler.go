package testserver

import (
	"encoding/xml"
	"sync"
	"time"

	"github.com/netconf-go/netconf/common"
	"github.com/netconf-go/netconf/server/netconf"

	assert "github.com/stretchr/testify/require"
)

// RequestHandler processes one decoded rpc request during a test session,
// returning the reply to send (nil to send none).
type RequestHandler func(h *SessionHandler, req *netconf.RpcRequestMessage) *netconf.RpcReplyMessage

// EchoRequestHandler replies with a data element holding the body of the request.
var EchoRequestHandler RequestHandler = func(h *SessionHandler, req *netconf.RpcRequestMessage) *netconf.RpcReplyMessage {
	return &netconf.RpcReplyMessage{MessageID: req.MessageID, Data: netconf.ReplyData{Data: req.Request.Body}}
}

// FailingRequestHandler replies to a request with an rpc-error.
var FailingRequestHandler RequestHandler = func(h *SessionHandler, req *netconf.RpcRequestMessage) *netconf.RpcReplyMessage {
	return &netconf.RpcReplyMessage{
		MessageID: req.MessageID,
		Errors:    []common.RPCError{{Severity: "error", Message: "oops"}},
	}
}

// CloseRequestHandler closes the transport channel on request receipt.
var CloseRequestHandler RequestHandler = func(h *SessionHandler, req *netconf.RpcRequestMessage) *netconf.RpcReplyMessage {
	h.Close()
	return nil
}

// IgnoreRequestHandler does nothing on receipt of a request.
var IgnoreRequestHandler RequestHandler = func(h *SessionHandler, req *netconf.RpcRequestMessage) *netconf.RpcReplyMessage {
	return nil
}

// SmartRequesttHandler responds to common get/get-config/edit-config/get-schema
// requests with trivial, recognisable content, for exercising the ops
// package's request builders and response unmarshalling against something
// other than an echo.
var SmartRequesttHandler RequestHandler = func(h *SessionHandler, req *netconf.RpcRequestMessage) *netconf.RpcReplyMessage {
	return &netconf.RpcReplyMessage{MessageID: req.MessageID, Data: netconf.ReplyData{Data: responseFor(req)}}
}

func responseFor(req *netconf.RpcRequestMessage) string {
	switch req.Request.XMLName.Local {
	case "get":
		return `<top><sub attr="avalue"><child1>cvalue</child1><child2/></sub></top>`
	case "get-config":
		return `<top><sub attr="cfgval1"><child1>cfgval2</child1></sub></top>`
	case "edit-config":
		return `<ok/>`
	case "get-schema":
		return `module junos-rpc-vpls {
  namespace "http://yang.juniper.net/junos/rpc/vpls";

  prefix vpls;

// etc…
`
	default:
		return req.Request.Body
	}
}

// SessionHandler wraps a production server/netconf.SessionHandler with the
// bookkeeping a test needs to assert against: a request log, a queue of
// pluggable handlers, and a way to wait for the hello exchange to settle.
type SessionHandler struct {
	*netconf.SessionHandler

	t assert.TestingT

	caps []string

	reqMu       sync.Mutex
	reqHandlers []RequestHandler
	reqs        []netconf.RPCRequest

	started chan struct{}
}

// Capabilities implements server/netconf.SessionCallback.
func (h *SessionHandler) Capabilities() []string { return h.caps }

// HandleRequest implements server/netconf.SessionCallback: it records the
// request then dispatches to the next queued RequestHandler, falling back
// to EchoRequestHandler once the queue is drained.
func (h *SessionHandler) HandleRequest(req *netconf.RpcRequestMessage) *netconf.RpcReplyMessage {
	h.reqMu.Lock()
	h.reqs = append(h.reqs, req.Request)
	h.reqMu.Unlock()

	return h.nextReqHandler()(h, req)
}

func (h *SessionHandler) nextReqHandler() RequestHandler {
	h.reqMu.Lock()
	defer h.reqMu.Unlock()
	if len(h.reqHandlers) == 0 {
		return EchoRequestHandler
	}
	var rh RequestHandler
	h.reqHandlers, rh = h.reqHandlers[1:], h.reqHandlers[0]
	return rh
}

// ReqCount reports how many rpc requests this session has handled.
func (h *SessionHandler) ReqCount() int {
	h.reqMu.Lock()
	defer h.reqMu.Unlock()
	return len(h.reqs)
}

// LastReq returns the most recently handled request, or nil if none have
// arrived yet.
func (h *SessionHandler) LastReq() *netconf.RPCRequest {
	h.reqMu.Lock()
	defer h.reqMu.Unlock()
	if len(h.reqs) == 0 {
		return nil
	}
	return &h.reqs[len(h.reqs)-1]
}

// WaitStart blocks until this session's hello exchange has completed
// (successfully or not).
func (h *SessionHandler) WaitStart() { <-h.started }

// watchStart closes started once the session leaves its initial status,
// standing in for the synchronous hand-off the goroutine-per-connection
// Handle loop performs internally.
func (h *SessionHandler) watchStart() {
	for h.Status() == common.StatusStarting {
		time.Sleep(time.Millisecond)
	}
	close(h.started)
}

// SendNotification sends a notification message wrapping body to the client.
func (h *SessionHandler) SendNotification(body string) *SessionHandler {
	err := h.Send(&notification{EventTime: time.Now().String(), Data: body})
	assert.NoError(h.t, err, "Failed to send server notification")
	return h
}

// notification is the wire shape of an RFC 5277 <notification> message: a
// typed eventTime followed by the raw XML of the event itself.
type notification struct {
	XMLName   xml.Name `xml:"urn:ietf:params:xml:ns:netconf:notification:1.0 notification"`
	EventTime string   `xml:"eventTime"`
	Data      string   `xml:",innerxml"`
}
