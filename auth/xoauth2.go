package auth

import (
	"strings"

	"github.com/emersion/go-sasl"
)

type xoauth2Server struct {
	opts Options
	done bool
}

// NewXOAuth2 returns an XOAUTH2 server. The bearer token is compared
// against the stored secret for the named user, which lets tests treat
// the secret as the expected access token.
func NewXOAuth2(opts Options) sasl.Server {
	return &xoauth2Server{opts: opts}
}

func (s *xoauth2Server) Next(response []byte) (challenge []byte, done bool, err error) {
	if response == nil {
		return []byte{}, false, nil
	}
	if s.done {
		return nil, false, sasl.ErrUnexpectedClientResponse
	}
	s.done = true

	var username, token string
	for _, part := range strings.Split(string(response), "\x01") {
		switch {
		case strings.HasPrefix(part, "user="):
			username = strings.TrimPrefix(part, "user=")
		case strings.HasPrefix(part, "auth=Bearer "):
			token = strings.TrimPrefix(part, "auth=Bearer ")
		}
	}
	if username == "" || token == "" {
		return nil, true, ErrAuthenticationFailed
	}

	secret, ok := s.opts.Secrets.Secret(username)
	if !ok || secret != token {
		return nil, true, ErrAuthenticationFailed
	}
	succeed(s.opts, username, secret)
	return nil, true, nil
}
