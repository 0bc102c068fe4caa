package auth

import "github.com/emersion/go-sasl"

// NewPlain returns a PLAIN server (RFC 4616). The authorization
// identity is ignored; only the authentication identity is checked.
func NewPlain(opts Options) sasl.Server {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		return verifyPassword(opts, username, password)
	})
}
