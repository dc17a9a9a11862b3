// Package dispatch implements the multi-session poll/dispatch engine: a
// reactor that multiplexes many accepted NETCONF sessions across worker
// threads, servicing at most one ready session per Poll call under a
// per-session try-lock so two workers never handle the same session
// concurrently.
package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Code reports the outcome of a single Poll call.
type Code int

const (
	// CodeTimeout means no member became ready before the deadline.
	CodeTimeout Code = iota
	// CodeDispatched means a message was read and handled but produced no
	// rpc-reply (e.g. a hello).
	CodeDispatched
	// CodeSessionClosed means the member's peer closed the transport.
	CodeSessionClosed
	// CodeRPCHandled means an rpc was read, handled and its reply written.
	CodeRPCHandled
	// CodeRPCError means an rpc was read but the callback produced no reply.
	CodeRPCError
	// CodeDispatchError means a framing, protocol or I/O error occurred.
	CodeDispatchError
	// CodeBadHello means hello negotiation found no common base capability;
	// the member is dropped.
	CodeBadHello
)

// Member is a session tracked by a PollSet: PollReadable reports transport
// readiness, TryLock/Unlock guard the transport, and Dispatch performs one
// whole read-handle-reply cycle once the caller holds the lock.
type Member interface {
	// ID identifies the member for logging and fairness bookkeeping.
	ID() uint64
	// PollReadable blocks up to timeout waiting for the member's transport
	// to have a byte available, or for the peer to disconnect.
	PollReadable(timeout time.Duration) (ready bool, disconnected bool, err error)
	// TryLock attempts to acquire the member's transport mutex without
	// blocking, returning false if another worker already holds it.
	TryLock() bool
	// Unlock releases a lock acquired by TryLock.
	Unlock()
	// Dispatch performs one message read/handle/reply cycle. Called only
	// while the caller holds the member's transport mutex.
	Dispatch() (Code, error)
}

// pollSlice bounds how long a single member is polled before the scan moves
// on to the next one, so that one slow or idle member cannot starve the
// others within a single Poll call.
const pollSlice = 50 * time.Millisecond

// idlePollInterval is how long Poll sleeps between scans of an empty set.
const idlePollInterval = 20 * time.Millisecond

// PollSet is a mutable collection of sessions jointly polled and dispatched
// by worker threads (goroutines, here). It owns no session lifetimes: Add
// and Remove only adjust membership.
type PollSet struct {
	mu      sync.Mutex
	members map[uint64]Member
	order   []uint64

	trace *Trace

	// offset rotates the starting point of each scan so that no member is
	// starved by always being last in iteration order.
	offset uint64
}

// New creates an empty PollSet.
func New() *PollSet {
	return NewWithContext(context.Background())
}

// NewWithContext creates an empty PollSet using the Trace hooks carried by
// ctx (see WithTrace).
func NewWithContext(ctx context.Context) *PollSet {
	return &PollSet{members: make(map[uint64]Member), trace: ContextTrace(ctx)}
}

// Add registers m with the set. Safe to call from any goroutine.
func (p *PollSet) Add(m Member) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.members[m.ID()]; exists {
		return
	}
	p.members[m.ID()] = m
	p.order = append(p.order, m.ID())
	p.trace.MemberAdded(m.ID())
}

// Remove unregisters the member with the given id, if present.
func (p *PollSet) Remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.members[id]; !exists {
		return
	}
	delete(p.members, id)
	for i, existing := range p.order {
		if existing == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.trace.MemberRemoved(id)
}

// Clear removes every member from the set.
func (p *PollSet) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range p.order {
		p.trace.MemberRemoved(id)
	}
	p.members = make(map[uint64]Member)
	p.order = nil
}

// Len returns the current member count.
func (p *PollSet) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.order)
}

func (p *PollSet) snapshot() []Member {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Member, 0, len(p.order))
	for _, id := range p.order {
		if m, ok := p.members[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

// Poll blocks up to timeout waiting for any member to become readable or
// disconnect, then services exactly one of them: it takes the member's
// transport mutex (skipping to the next ready member if contended), reads
// one message, invokes the server RPC callback, writes the reply, and
// releases the mutex. The scan starts at a rotating offset so that, across
// many Poll calls, every member gets a turn.
//
// Multiple worker goroutines may call Poll concurrently on the same set;
// the try-lock discipline guarantees at most one worker services any given
// member at a time.
func (p *PollSet) Poll(timeout time.Duration) (Code, error) {
	code, err := p.poll(timeout)
	p.trace.Polled(code, err)
	return code, err
}

func (p *PollSet) poll(timeout time.Duration) (Code, error) {
	deadline := time.Now().Add(timeout)

	for {
		members := p.snapshot()
		n := len(members)
		if n == 0 {
			if remaining := time.Until(deadline); remaining <= 0 {
				return CodeTimeout, nil
			} else if remaining < idlePollInterval {
				time.Sleep(remaining)
			} else {
				time.Sleep(idlePollInterval)
			}
			if time.Now().After(deadline) {
				return CodeTimeout, nil
			}
			continue
		}

		start := int(atomic.AddUint64(&p.offset, 1) % uint64(n))
		for i := 0; i < n; i++ {
			idx := (start + i) % n
			m := members[idx]

			remaining := time.Until(deadline)
			if remaining <= 0 {
				return CodeTimeout, nil
			}
			slice := pollSlice
			if remaining < slice {
				slice = remaining
			}

			ready, disconnected, err := m.PollReadable(slice)
			if err != nil {
				return CodeDispatchError, err
			}
			if disconnected {
				p.Remove(m.ID())
				return CodeSessionClosed, nil
			}
			if !ready {
				continue
			}

			if !m.TryLock() {
				// Another worker is already servicing this member; move on
				// and let this round's remaining members get a chance.
				continue
			}
			code, derr := m.Dispatch()
			m.Unlock()

			if code == CodeSessionClosed || code == CodeBadHello {
				p.Remove(m.ID())
			}
			return code, derr
		}

		if time.Now().After(deadline) {
			return CodeTimeout, nil
		}
	}
}
