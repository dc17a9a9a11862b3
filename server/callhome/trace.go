package callhome

import (
	"context"
	"log"
	"net"

	"github.com/imdario/mergo"
)

// unique type to prevent assignment.
type callHomeEventContextKey struct{}

// ContextCallHomeTrace returns the Trace associated with the provided
// context, or the no-op hook set if none was attached.
func ContextCallHomeTrace(ctx context.Context) *Trace {
	trace, _ := ctx.Value(callHomeEventContextKey{}).(*Trace)
	if trace == nil {
		trace = NoOpLoggingHooks
	} else {
		_ = mergo.Merge(trace, NoOpLoggingHooks)
	}
	return trace
}

// WithCallHomeTrace returns a new context carrying the given trace hooks.
func WithCallHomeTrace(ctx context.Context, trace *Trace) context.Context {
	return context.WithValue(ctx, callHomeEventContextKey{}, trace)
}

// Trace defines a structure for handling call-home trace events.
type Trace struct {
	Listened  func(address string, err error)
	Accepted  func(conn net.Conn, err error)
	Matched   func(address string, kind Kind, err error)
	Delivered func(result *Result)
}

// DefaultLoggingHooks logs only failures.
var DefaultLoggingHooks = &Trace{
	Listened: func(address string, err error) {
		if err != nil {
			log.Printf("callhome: listen address:%s status:%v\n", address, err)
		}
	},
	Accepted: func(conn net.Conn, err error) {
		if err != nil {
			log.Printf("callhome: accept status:%v\n", err)
		}
	},
	Matched: func(address string, kind Kind, err error) {
		if err != nil {
			log.Printf("callhome: match address:%s kind:%s status:%v\n", address, kind, err)
		}
	},
	Delivered: func(result *Result) {},
}

// DiagnosticLoggingHooks logs every event.
var DiagnosticLoggingHooks = &Trace{
	Listened: func(address string, err error) {
		log.Printf("callhome: listen address:%s status:%v\n", address, err)
	},
	Accepted: func(conn net.Conn, err error) {
		log.Printf("callhome: accept status:%v\n", err)
	},
	Matched: func(address string, kind Kind, err error) {
		log.Printf("callhome: match address:%s kind:%s status:%v\n", address, kind, err)
	},
	Delivered: func(result *Result) {
		log.Printf("callhome: delivered id:%s address:%s kind:%s\n", result.ID, result.Address, result.Kind)
	},
}

// NoOpLoggingHooks does nothing.
var NoOpLoggingHooks = &Trace{
	Listened:  func(address string, err error) {},
	Accepted:  func(conn net.Conn, err error) {},
	Matched:   func(address string, kind Kind, err error) {},
	Delivered: func(result *Result) {},
}
