package dispatch

import (
	"encoding/xml"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/netconf-go/netconf/codec"
	"github.com/netconf-go/netconf/common"
	"github.com/netconf-go/netconf/server/netconf"
)

var (
	errMsgMalformed     = errors.New("dispatch: malformed message")
	errMsgWrongSide     = errors.New("dispatch: server received a non-rpc message")
	errProtocolViolated = errors.New("dispatch: rpc received before client hello")
	errBadHello         = errors.New("dispatch: no common base capability in hello exchange")
)

// Session adapts one accepted transport connection (an SSH channel, a TLS
// connection, or a raw file descriptor pair, anything satisfying
// io.ReadWriteCloser) into a PollSet Member. Unlike the goroutine-per-
// session loop in server/netconf.SessionHandler, a Session performs no
// blocking reads of its own outside of Dispatch: the PollSet decides when
// it is this session's turn.
type Session struct {
	id  uint64
	rw  io.ReadWriteCloser
	dec *codec.Decoder
	enc *codec.Encoder

	reader *asyncReader

	xferMu sync.Mutex // the transport mutex: held across one whole read+reply cycle
	encMu  sync.Mutex // serialises writes to enc

	capabilities []string
	clientHello  *common.HelloMessage

	status *common.StatusTracker

	cb netconf.SessionCallback
}

// Status reports the session's current lifecycle state.
func (s *Session) Status() common.Status { return s.status.Status() }

// TerminationReason reports why the session reached common.StatusInvalid,
// or common.ReasonNone if it has not.
func (s *Session) TerminationReason() common.TerminationReason {
	return s.status.TerminationReason()
}

// NewSession creates a Session wrapping rw, sends the server hello
// (capabilities and session id) immediately, and returns the Session ready
// to be added to a PollSet. The caller is responsible for allocating id,
// which must be unique within the server process.
func NewSession(id uint64, rw io.ReadWriteCloser, cb netconf.SessionCallback) (*Session, error) {
	caps := cb.Capabilities()
	if caps == nil {
		caps = common.DefaultCapabilities
	}

	reader := newAsyncReader(rw)
	s := &Session{
		id:           id,
		rw:           rw,
		reader:       reader,
		dec:          codec.NewDecoder(reader),
		enc:          codec.NewEncoder(rw),
		capabilities: caps,
		status:       common.NewStatusTracker(),
		cb:           cb,
	}

	if err := s.enc.Encode(&common.HelloMessage{Capabilities: caps, SessionID: id}); err != nil {
		return nil, errors.Wrap(err, "dispatch: failed to send server hello")
	}
	return s, nil
}

// ID implements Member.
func (s *Session) ID() uint64 { return s.id }

// PollReadable implements Member.
func (s *Session) PollReadable(timeout time.Duration) (bool, bool, error) {
	return s.reader.pollReadable(timeout)
}

// TryLock implements Member.
func (s *Session) TryLock() bool { return s.xferMu.TryLock() }

// Unlock implements Member.
func (s *Session) Unlock() { s.xferMu.Unlock() }

// Close closes the underlying transport.
func (s *Session) Close() error {
	s.status.Advance(common.StatusClosing, common.ReasonNone)
	err := s.rw.Close()
	s.status.Advance(common.StatusInvalid, common.ReasonClosed)
	return err
}

// ClientHello returns the hello message received from the peer, or nil if
// none has been processed yet.
func (s *Session) ClientHello() *common.HelloMessage { return s.clientHello }

// Dispatch implements Member: it reads one element off the wire and acts
// according to its type. Called only while the transport mutex is held.
func (s *Session) Dispatch() (Code, error) {
	token, err := s.dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.status.Advance(common.StatusInvalid, common.ReasonDropped)
			return CodeSessionClosed, nil
		}
		s.status.Advance(common.StatusInvalid, common.ReasonOther)
		return CodeDispatchError, errors.Wrap(errMsgMalformed, err.Error())
	}

	start, ok := token.(xml.StartElement)
	if !ok {
		return CodeDispatched, nil
	}

	switch start.Name {
	case common.NameHello:
		return s.dispatchHello(start)
	case common.NameRPC:
		return s.dispatchRPC(start)
	default:
		return CodeDispatchError, errMsgWrongSide
	}
}

func (s *Session) dispatchHello(start xml.StartElement) (Code, error) {
	if err := s.dec.DecodeElement(&s.clientHello, &start); err != nil {
		s.status.Advance(common.StatusInvalid, common.ReasonOther)
		return CodeDispatchError, errors.Wrap(errMsgMalformed, err.Error())
	}

	if !common.HasCommonBaseCapability(s.capabilities, s.clientHello.Capabilities) {
		s.status.Advance(common.StatusInvalid, common.ReasonBadHello)
		return CodeBadHello, errBadHello
	}

	if common.PeerSupportsChunkedFraming(s.clientHello.Capabilities) && common.PeerSupportsChunkedFraming(s.capabilities) {
		codec.EnableChunkedFraming(s.dec, s.enc)
	}
	s.status.Advance(common.StatusRunning, common.ReasonNone)
	return CodeDispatched, nil
}

func (s *Session) dispatchRPC(start xml.StartElement) (Code, error) {
	if s.clientHello == nil || s.status.Status() != common.StatusRunning {
		return CodeDispatchError, errProtocolViolated
	}

	req := &netconf.RpcRequestMessage{}
	if err := s.dec.DecodeElement(req, &start); err != nil {
		return CodeDispatchError, errors.Wrap(errMsgMalformed, err.Error())
	}

	reply := s.cb.HandleRequest(req)
	if reply == nil {
		return CodeRPCError, nil
	}

	s.encMu.Lock()
	err := s.enc.Encode(reply)
	s.encMu.Unlock()
	if err != nil {
		return CodeDispatchError, errors.WithStack(err)
	}
	return CodeRPCHandled, nil
}
