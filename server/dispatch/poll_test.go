package dispatch

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/netconf-go/netconf/codec"
	"github.com/netconf-go/netconf/common"
	"github.com/netconf-go/netconf/server/netconf"
)

// countingCallback counts how many times HandleRequest is invoked, so tests
// can assert no RPC is ever serviced twice.
type countingCallback struct {
	handled *int64
}

func (c countingCallback) Capabilities() []string { return common.DefaultCapabilities }

func (c countingCallback) HandleRequest(req *netconf.RpcRequestMessage) *netconf.RpcReplyMessage {
	atomic.AddInt64(c.handled, 1)
	return &netconf.RpcReplyMessage{MessageID: req.MessageID}
}

// TestPollSetConcurrentDispatch: two worker goroutines poll a set
// containing three sessions that each have one pending rpc; exactly three
// rpc-handler invocations occur in total, every session's rpc is answered
// with a matching message-id, and no session is dispatched twice
// concurrently.
func TestPollSetConcurrentDispatch(t *testing.T) {
	const numSessions = 3

	set := New()
	var handled int64

	type clientSide struct {
		conn net.Conn
		dec  *codec.Decoder
		enc  *codec.Encoder
	}
	clients := make([]*clientSide, numSessions)

	for i := 0; i < numSessions; i++ {
		serverConn, clientConn := net.Pipe()
		defer serverConn.Close()
		defer clientConn.Close()

		cb := countingCallback{handled: &handled}

		sessCh := make(chan *Session, 1)
		go func() {
			sess, err := NewSession(uint64(i+1), serverConn, cb)
			require.NoError(t, err)
			sessCh <- sess
		}()

		cl := &clientSide{conn: clientConn, dec: codec.NewDecoder(clientConn), enc: codec.NewEncoder(clientConn)}
		var hello common.HelloMessage
		require.NoError(t, cl.dec.Decode(&hello))
		sess := <-sessCh

		// Drive the client hello through once, synchronously, before the
		// concurrent phase begins.
		writeDone := make(chan error, 1)
		go func() { writeDone <- cl.enc.Encode(&common.HelloMessage{Capabilities: common.DefaultCapabilities}) }()
		code, err := pollUntilDispatched(t, set, sess)
		require.NoError(t, err)
		require.Equal(t, CodeDispatched, code)
		require.NoError(t, <-writeDone)

		// Both peers advertised base:1.1, so the session switched to
		// chunked framing; the test client must follow suit.
		codec.EnableChunkedFraming(cl.dec, cl.enc)

		set.Add(sess)
		clients[i] = cl
	}

	// Now every session has exactly one pending rpc in flight.
	for i, cl := range clients {
		msgID := fmt.Sprintf("req-%d", i)
		go func(c *clientSide, id string) {
			_ = c.enc.Encode(&common.RPCMessage{MessageID: id, Union: common.GetUnion("<get/>")})
		}(cl, msgID)
	}

	results := make(chan Code, numSessions*4)
	stop := make(chan struct{})
	for w := 0; w < 2; w++ {
		go func() {
			for {
				select {
				case <-stop:
					return
				default:
				}
				code, _ := set.Poll(50 * time.Millisecond)
				if code == CodeRPCHandled {
					results <- code
				}
			}
		}()
	}

	deadline := time.After(5 * time.Second)
	count := 0
loop:
	for count < numSessions {
		select {
		case <-results:
			count++
		case <-deadline:
			break loop
		}
	}
	close(stop)

	require.Equal(t, numSessions, count, "expected every session's rpc to be dispatched exactly once")
	require.Equal(t, int64(numSessions), atomic.LoadInt64(&handled), "handler must run exactly once per rpc, no double dispatch")

	for i, cl := range clients {
		var reply common.RPCReply
		require.NoError(t, cl.dec.Decode(&reply))
		require.Equal(t, fmt.Sprintf("req-%d", i), reply.MessageID)
	}
}

func TestPollSetTraceHooks(t *testing.T) {
	var added, removed []uint64
	var polled int64

	ctx := WithTrace(context.Background(), &Trace{
		MemberAdded:   func(id uint64) { added = append(added, id) },
		MemberRemoved: func(id uint64) { removed = append(removed, id) },
		Polled:        func(code Code, err error) { atomic.AddInt64(&polled, 1) },
	})
	set := NewWithContext(ctx)

	m := &staticMember{id: 7}
	set.Add(m)
	require.Equal(t, []uint64{7}, added)

	code, err := set.Poll(10 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, CodeTimeout, code)
	require.Equal(t, int64(1), atomic.LoadInt64(&polled))

	set.Remove(7)
	require.Equal(t, []uint64{7}, removed)
}

// staticMember is never readable; it exists to exercise membership and
// timeout paths without a transport.
type staticMember struct{ id uint64 }

func (m *staticMember) ID() uint64 { return m.id }
func (m *staticMember) PollReadable(timeout time.Duration) (bool, bool, error) {
	time.Sleep(timeout)
	return false, false, nil
}
func (m *staticMember) TryLock() bool          { return true }
func (m *staticMember) Unlock()                {}
func (m *staticMember) Dispatch() (Code, error) { return CodeDispatched, nil }

func pollUntilDispatched(t *testing.T, set *PollSet, sess *Session) (Code, error) {
	t.Helper()
	require.True(t, sess.TryLock())
	code, err := sess.Dispatch()
	sess.Unlock()
	return code, err
}
