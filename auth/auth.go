// Package auth implements the server side of the SASL mechanisms offered
// by the test mail servers. Secrets are stored in cleartext so that
// challenge-response mechanisms (CRAM-MD5, DIGEST-MD5, APOP) can compute
// their digests; this is a test double, not a credential store.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"sync"

	"github.com/emersion/go-sasl"
)

// Mechanism names as they appear on the wire.
const (
	Plain     = sasl.Plain
	Login     = sasl.Login
	CramMD5   = "CRAM-MD5"
	DigestMD5 = "DIGEST-MD5"
	XOAuth2   = "XOAUTH2"
)

// ErrAuthenticationFailed is returned by a mechanism when the presented
// credentials do not match a stored secret.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Credentials identifies an authenticated principal.
type Credentials struct {
	Username string
	Secret   string
}

// Secrets looks up the stored secret for a username or email address.
// The mailbox store implements it.
type Secrets interface {
	Secret(username string) (string, bool)
}

// Options configures a mechanism instance for one exchange.
type Options struct {
	// Hostname is used in server-generated challenges (CRAM-MD5 message
	// IDs, DIGEST-MD5 realms).
	Hostname string
	// Secrets resolves usernames to cleartext secrets.
	Secrets Secrets
	// Success is called once when the exchange completes with valid
	// credentials, before Next reports done.
	Success func(Credentials)
}

// Factory creates a fresh sasl.Server for a single exchange.
type Factory func(opts Options) sasl.Server

// Registry maps mechanism names to factories. A zero Registry is not
// usable; NewRegistry returns one with all built-in mechanisms.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry with PLAIN, LOGIN, CRAM-MD5,
// DIGEST-MD5, and XOAUTH2 registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register(Plain, NewPlain)
	r.Register(Login, NewLogin)
	r.Register(CramMD5, NewCramMD5)
	r.Register(DigestMD5, NewDigestMD5)
	r.Register(XOAuth2, NewXOAuth2)
	return r
}

// Register adds or replaces the factory for a mechanism. Names are
// case-insensitive and stored uppercase.
func (r *Registry) Register(mechanism string, factory Factory) {
	r.mu.Lock()
	r.factories[strings.ToUpper(mechanism)] = factory
	r.mu.Unlock()
}

// Lookup returns the factory for a mechanism.
func (r *Registry) Lookup(mechanism string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[strings.ToUpper(mechanism)]
	return f, ok
}

// Registered reports whether a mechanism is known to the registry.
func (r *Registry) Registered(mechanism string) bool {
	_, ok := r.Lookup(mechanism)
	return ok
}

// verifyPassword checks a cleartext password against the stored secret
// and reports success to the exchange callback.
func verifyPassword(opts Options, username, password string) error {
	secret, ok := opts.Secrets.Secret(username)
	if !ok || secret != password {
		return ErrAuthenticationFailed
	}
	if opts.Success != nil {
		opts.Success(Credentials{Username: username, Secret: secret})
	}
	return nil
}

// succeed reports valid credentials to the exchange callback.
func succeed(opts Options, username, secret string) {
	if opts.Success != nil {
		opts.Success(Credentials{Username: username, Secret: secret})
	}
}

// randomHex returns size random bytes in lowercase hex.
func randomHex(size int) string {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
