package auth

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
)

type cramServer struct {
	opts      Options
	challenge string
	done      bool
}

// NewCramMD5 returns a CRAM-MD5 server (RFC 2195). The challenge is a
// fresh bracketed message ID; the response carries the username and the
// hex HMAC-MD5 of the challenge keyed with the shared secret.
func NewCramMD5(opts Options) sasl.Server {
	return &cramServer{opts: opts}
}

func (s *cramServer) Next(response []byte) (challenge []byte, done bool, err error) {
	if s.challenge == "" {
		// Server-first mechanism, an initial response is a protocol error
		if response != nil {
			return nil, false, sasl.ErrUnexpectedClientResponse
		}
		s.challenge = fmt.Sprintf("<%s.%d@%s>", randomHex(8), time.Now().UnixMilli(), s.opts.Hostname)
		return []byte(s.challenge), false, nil
	}
	if s.done {
		return nil, false, sasl.ErrUnexpectedClientResponse
	}
	s.done = true

	raw := string(response)
	idx := strings.LastIndex(raw, " ")
	if idx < 0 {
		return nil, true, ErrAuthenticationFailed
	}
	username, digest := raw[:idx], raw[idx+1:]
	secret, ok := s.opts.Secrets.Secret(username)
	if !ok {
		return nil, true, ErrAuthenticationFailed
	}

	mac := hmac.New(md5.New, []byte(secret))
	mac.Write([]byte(s.challenge))
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(digest))) {
		return nil, true, ErrAuthenticationFailed
	}

	succeed(s.opts, username, secret)
	return nil, true, nil
}
