package dispatch

import (
	"context"
	"log"

	"github.com/imdario/mergo"
)

// unique type to prevent assignment.
type dispatchEventContextKey struct{}

// ContextTrace returns the Trace associated with the provided context. If
// none, it returns the no-op hook set.
func ContextTrace(ctx context.Context) *Trace {
	trace, _ := ctx.Value(dispatchEventContextKey{}).(*Trace)
	if trace == nil {
		trace = NoOpLoggingHooks
	} else {
		_ = mergo.Merge(trace, NoOpLoggingHooks)
	}
	return trace
}

// WithTrace returns a new context based on the provided parent ctx carrying
// the given trace hooks.
func WithTrace(ctx context.Context, trace *Trace) context.Context {
	return context.WithValue(ctx, dispatchEventContextKey{}, trace)
}

// Trace defines a structure for handling dispatch-engine trace events.
type Trace struct {
	// Polled is called after every Poll call completes, reporting the
	// outcome code and any error.
	Polled func(code Code, err error)
	// MemberAdded/MemberRemoved are called as the PollSet membership changes.
	MemberAdded   func(id uint64)
	MemberRemoved func(id uint64)
}

// DefaultLoggingHooks logs dispatch errors only.
var DefaultLoggingHooks = &Trace{
	Polled: func(code Code, err error) {
		if err != nil {
			log.Printf("Poll code:%d error:%v\n", code, err)
		}
	},
}

// DiagnosticLoggingHooks logs every poll outcome and membership change.
var DiagnosticLoggingHooks = &Trace{
	Polled: func(code Code, err error) {
		log.Printf("Poll code:%d error:%v\n", code, err)
	},
	MemberAdded: func(id uint64) {
		log.Printf("MemberAdded id:%d\n", id)
	},
	MemberRemoved: func(id uint64) {
		log.Printf("MemberRemoved id:%d\n", id)
	},
}

// NoOpLoggingHooks does nothing.
var NoOpLoggingHooks = &Trace{
	Polled:        func(code Code, err error) {},
	MemberAdded:   func(id uint64) {},
	MemberRemoved: func(id uint64) {},
}
