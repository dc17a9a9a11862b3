package tls

import (
	"context"
	"log"
	"net"

	"github.com/imdario/mergo"
)

// unique type to prevent assignment.
type tlsEventContextKey struct{}

// ContextTLSTrace returns the Trace associated with the provided context.
// If none, it returns the no-op hook set.
func ContextTLSTrace(ctx context.Context) *Trace {
	trace, _ := ctx.Value(tlsEventContextKey{}).(*Trace)
	if trace == nil {
		trace = NoOpLoggingHooks
	} else {
		_ = mergo.Merge(trace, NoOpLoggingHooks)
	}
	return trace
}

// WithTLSTrace returns a new context based on the provided parent ctx
// carrying the given trace hooks.
func WithTLSTrace(ctx context.Context, trace *Trace) context.Context {
	return context.WithValue(ctx, tlsEventContextKey{}, trace)
}

// Trace defines a structure for handling TLS acceptor trace events.
type Trace struct {
	Listened       func(address string, err error)
	StartAccepting func()
	Accepted       func(conn net.Conn, err error)
	Handshaked     func(conn net.Conn, err error)
	CTNMapped      func(username string, err error)
}

// DefaultLoggingHooks logs only failures.
var DefaultLoggingHooks = &Trace{
	Listened: func(address string, err error) {
		if err != nil {
			log.Printf("Listen address:%s status:%v\n", address, err)
		}
	},
	Accepted: func(conn net.Conn, err error) {
		if err != nil {
			log.Printf("Accept status:%v\n", err)
		}
	},
	Handshaked: func(conn net.Conn, err error) {
		if err != nil {
			log.Printf("Handshake status:%v\n", err)
		}
	},
	CTNMapped: func(username string, err error) {
		if err != nil {
			log.Printf("CTNMapped status:%v\n", err)
		}
	},
}

// DiagnosticLoggingHooks logs every event.
var DiagnosticLoggingHooks = &Trace{
	Listened: func(address string, err error) {
		log.Printf("Listen address:%s status:%v\n", address, err)
	},
	StartAccepting: func() {
		log.Printf("Start Accepting\n")
	},
	Accepted: func(conn net.Conn, err error) {
		log.Printf("Accept status:%v\n", err)
	},
	Handshaked: func(conn net.Conn, err error) {
		log.Printf("Handshake status:%v\n", err)
	},
	CTNMapped: func(username string, err error) {
		log.Printf("CTNMapped username:%s status:%v\n", username, err)
	},
}

// NoOpLoggingHooks does nothing.
var NoOpLoggingHooks = &Trace{
	Listened:       func(address string, err error) {},
	StartAccepting: func() {},
	Accepted:       func(conn net.Conn, err error) {},
	Handshaked:     func(conn net.Conn, err error) {},
	CTNMapped:      func(username string, err error) {},
}
