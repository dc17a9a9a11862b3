package ssh

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"

	"golang.org/x/crypto/ssh"
)

// AuthMethod names one of the SSH authentication methods a server endpoint
// may permit, mirroring the subset RFC 4252 defines for Netconf-over-SSH.
type AuthMethod string

const (
	AuthPassword    AuthMethod = "password"
	AuthPublicKey   AuthMethod = "publickey"
	AuthInteractive AuthMethod = "keyboard-interactive"
)

// AuthorizedKey binds a public key to the username it authenticates.
type AuthorizedKey struct {
	Username string
	Key      ssh.PublicKey
}

// Options configures one SSH server endpoint: which auth methods it
// accepts, how many attempts a client gets, the banner shown before
// authentication, and - when publickey is permitted - the authorized key
// list. Credentials are supplied per-call rather than embedded here, so a
// single Options value can back multiple listeners with different users.
type Options struct {
	Banner         string
	AuthMethods    []AuthMethod
	AuthAttempts   uint16
	AuthTimeout    time.Duration
	AuthorizedKeys []AuthorizedKey
}

// DefaultOptions permits password auth only, with the same attempt budget
// golang.org/x/crypto/ssh itself defaults to.
var DefaultOptions = Options{
	AuthMethods:  []AuthMethod{AuthPassword},
	AuthAttempts: 6,
	AuthTimeout:  30 * time.Second,
}

func (o Options) permits(m AuthMethod) bool {
	for _, am := range o.AuthMethods {
		if am == m {
			return true
		}
	}
	return false
}

// PasswordConfig builds a single-endpoint ServerConfig permitting only
// password auth for uname/password - the common case for tests and simple
// deployments.
func PasswordConfig(uname, password string) (*ssh.ServerConfig, error) {
	return NewServerConfig(DefaultOptions, func(user, pass string) bool {
		return user == uname && pass == password
	}, nil)
}

// NewServerConfig builds a ServerConfig from opts. checkPassword is
// consulted when AuthPassword or AuthInteractive is permitted;
// opts.AuthorizedKeys is consulted when AuthPublicKey is permitted. A fresh host key is
// generated: the host key is per-deployment material callers supply out of
// band in production, but tests have no such material on hand.
func NewServerConfig(opts Options, checkPassword func(user, pass string) bool, trace *Trace) (*ssh.ServerConfig, error) {
	if trace == nil {
		trace = NoOpLoggingHooks
	}

	attempts := opts.AuthAttempts
	if attempts == 0 {
		attempts = DefaultOptions.AuthAttempts
	}

	config := &ssh.ServerConfig{
		MaxAuthTries: int(attempts),
		BannerCallback: func(c ssh.ConnMetadata) string {
			return opts.Banner
		},
	}

	if opts.permits(AuthPassword) && checkPassword != nil {
		config.PasswordCallback = func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			ok := checkPassword(c.User(), string(pass))
			trace.AuthAttempt(c.User(), AuthPassword, ok)
			if ok {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		}
	}

	if opts.permits(AuthInteractive) && checkPassword != nil {
		config.KeyboardInteractiveCallback = func(c ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := challenge(c.User(), "", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}
			ok := len(answers) == 1 && checkPassword(c.User(), answers[0])
			trace.AuthAttempt(c.User(), AuthInteractive, ok)
			if ok {
				return nil, nil
			}
			return nil, fmt.Errorf("keyboard-interactive rejected for %q", c.User())
		}
	}

	if opts.permits(AuthPublicKey) {
		config.PublicKeyCallback = func(c ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			ok := authorizedKey(opts.AuthorizedKeys, c.User(), key)
			trace.AuthAttempt(c.User(), AuthPublicKey, ok)
			if ok {
				return nil, nil
			}
			return nil, fmt.Errorf("public key rejected for %q", c.User())
		}
	}

	hostKey, err := generateHostKey()
	if err != nil {
		return nil, err
	}
	config.AddHostKey(hostKey)
	return config, nil
}

func authorizedKey(keys []AuthorizedKey, user string, key ssh.PublicKey) bool {
	marshaled := key.Marshal()
	for _, ak := range keys {
		if ak.Username == user && ak.Key != nil && string(ak.Key.Marshal()) == string(marshaled) {
			return true
		}
	}
	return false
}

func generateHostKey() (hostkey ssh.Signer, err error) {
	reader := rand.Reader
	bitSize := 2048
	var key *rsa.PrivateKey
	if key, err = rsa.GenerateKey(reader, bitSize); err == nil {
		privateBytes := encodePrivateKeyToPEM(key)
		if hostkey, err = ssh.ParsePrivateKey(privateBytes); err == nil {
			return
		}
	}
	return
}

func encodePrivateKeyToPEM(privateKey *rsa.PrivateKey) []byte {
	// Get ASN.1 DER format
	privDER := x509.MarshalPKCS1PrivateKey(privateKey)

	// pem.Block
	privBlock := pem.Block{
		Type:    "RSA PRIVATE KEY",
		Headers: nil,
		Bytes:   privDER,
	}

	// Private key in PEM format
	privatePEM := pem.EncodeToMemory(&privBlock)

	return privatePEM
}
