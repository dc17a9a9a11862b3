package netconf

import (
	"context"
	"time"

	"github.com/imdario/mergo"
)

// Verbosity names a trace verbosity level. It is carried in Options and
// merged with DefaultOptions; the trace hooks in this package do not read
// it.
type Verbosity int

const (
	VerbosityError Verbosity = iota
	VerbosityWarning
	VerbosityVerbose
	VerbosityDebug
)

// Options defines process-wide server behaviour that is independent of any
// one transport kind: how long to wait for a client's hello, how long a
// session may sit idle before being torn down, a schema search path and a
// trace verbosity level. The server reads HelloTimeout and IdleTimeout;
// SchemaSearchPath and Verbosity are stored but not read by this package.
type Options struct {
	HelloTimeout     time.Duration
	IdleTimeout      time.Duration
	SchemaSearchPath string
	Verbosity        Verbosity
}

// DefaultOptions gives HelloTimeout the 60s default and leaves IdleTimeout
// at zero, which disables idle teardown.
var DefaultOptions = &Options{
	HelloTimeout: 60 * time.Second,
	Verbosity:    VerbosityError,
}

// unique type to prevent assignment.
type netconfOptionsContextKey struct{}

// ContextNetconfOptions returns the Options associated with ctx, with any
// unset field filled in from DefaultOptions.
func ContextNetconfOptions(ctx context.Context) *Options {
	opts, _ := ctx.Value(netconfOptionsContextKey{}).(*Options)
	if opts == nil {
		return DefaultOptions
	}
	resolved := *opts
	_ = mergo.Merge(&resolved, DefaultOptions)
	return &resolved
}

// WithOptions returns a context carrying opts for NewServer,
// NewHandlerFactory and NewTLSHandlerFactory to pick up.
func WithOptions(ctx context.Context, opts *Options) context.Context {
	return context.WithValue(ctx, netconfOptionsContextKey{}, opts)
}
