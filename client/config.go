package client

import (
	"sort"

	"golang.org/x/crypto/ssh"
)

// Defines structs describing netconf configuration.

// AuthKind labels a category of SSH client authentication method, for
// ordering via Config.AuthPreference.
type AuthKind int

const (
	AuthKindPublicKey AuthKind = iota
	AuthKindPassword
	AuthKindKeyboardInteractive
)

func (k AuthKind) String() string {
	switch k {
	case AuthKindPublicKey:
		return "publickey"
	case AuthKindPassword:
		return "password"
	case AuthKindKeyboardInteractive:
		return "keyboard-interactive"
	default:
		return "unknown"
	}
}

// Config defines properties that configure netconf session behaviour.
type Config struct {
	// Defines the time in seconds that the client will wait to receive a hello message from the server.
	SetupTimeoutSecs int
	// Indicates that the client should not advertised chunked encoding capability.
	DisableChunkedCodec bool

	// AuthPreference ranks SSH auth method kinds for OrderAuthMethods: a
	// negative value disables that kind, and among the kinds that remain
	// a larger value is tried earlier. A kind absent from the map is
	// ranked as preference 0: it stays enabled and is ordered by that value.
	AuthPreference map[AuthKind]int16
}

var DefaultConfig = &Config{
	SetupTimeoutSecs:    5,
	DisableChunkedCodec: false,
}

// AuthCandidate pairs an ssh.AuthMethod with the AuthKind OrderAuthMethods
// uses to rank it.
type AuthCandidate struct {
	Kind   AuthKind
	Method ssh.AuthMethod
}

// OrderAuthMethods applies cfg.AuthPreference to candidates, for building
// the Auth field of an ssh.ClientConfig: candidates whose kind maps to a
// negative preference are dropped, and the rest are stable-sorted by
// decreasing preference, so equally- or unmentioned-preference candidates
// keep their input order.
func (cfg *Config) OrderAuthMethods(candidates []AuthCandidate) []ssh.AuthMethod {
	kept := make([]AuthCandidate, 0, len(candidates))
	for _, c := range candidates {
		if pref, ok := cfg.AuthPreference[c.Kind]; ok && pref < 0 {
			continue
		}
		kept = append(kept, c)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return cfg.AuthPreference[kept[i].Kind] > cfg.AuthPreference[kept[j].Kind]
	})
	methods := make([]ssh.AuthMethod, len(kept))
	for i, c := range kept {
		methods[i] = c.Method
	}
	return methods
}
