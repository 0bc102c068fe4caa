package auth

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
)

type digestState int

const (
	digestNotStarted digestState = iota
	digestWaitingResponse
	digestWaitingFinal
)

type digestServer struct {
	opts     Options
	state    digestState
	nonce    string
	username string
	secret   string
}

// NewDigestMD5 returns a DIGEST-MD5 server (RFC 2831) restricted to
// qop=auth. The exchange is challenge, digest response, rspauth, then
// an empty client message to finish.
func NewDigestMD5(opts Options) sasl.Server {
	return &digestServer{opts: opts}
}

func (s *digestServer) Next(response []byte) (challenge []byte, done bool, err error) {
	switch s.state {
	case digestNotStarted:
		// Server-first mechanism, an initial response is a protocol error
		if response != nil {
			return nil, false, sasl.ErrUnexpectedClientResponse
		}
		s.state = digestWaitingResponse
		s.nonce = randomHex(16)
		ch := fmt.Sprintf("realm=%q,nonce=%q,qop=\"auth\",charset=utf-8,algorithm=md5-sess",
			s.opts.Hostname, s.nonce)
		return []byte(ch), false, nil

	case digestWaitingResponse:
		s.state = digestWaitingFinal
		rspauth, verr := s.verify(string(response))
		if verr != nil {
			return nil, true, verr
		}
		return []byte("rspauth=" + rspauth), false, nil

	case digestWaitingFinal:
		if len(response) != 0 {
			return nil, false, sasl.ErrUnexpectedClientResponse
		}
		succeed(s.opts, s.username, s.secret)
		return nil, true, nil

	default:
		return nil, false, sasl.ErrUnexpectedClientResponse
	}
}

// verify checks the client digest response and returns the rspauth
// value the server must present in its final challenge.
func (s *digestServer) verify(response string) (string, error) {
	fields := parseDigestResponse(response)
	username := fields["username"]
	cnonce := fields["cnonce"]
	if username == "" || cnonce == "" || fields["nonce"] != s.nonce {
		return "", ErrAuthenticationFailed
	}
	secret, ok := s.opts.Secrets.Secret(username)
	if !ok {
		return "", ErrAuthenticationFailed
	}

	realm := fields["realm"]
	uri := fields["digest-uri"]
	nc := fields["nc"]
	if nc == "" {
		nc = "00000001"
	}
	qop := fields["qop"]
	if qop == "" {
		qop = "auth"
	}

	a1 := md5.Sum([]byte(username + ":" + realm + ":" + secret))
	ha1 := md5hex(string(a1[:]) + ":" + s.nonce + ":" + cnonce)
	ha2 := md5hex("AUTHENTICATE:" + uri)
	expected := md5hex(ha1 + ":" + s.nonce + ":" + nc + ":" + cnonce + ":" + qop + ":" + ha2)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(fields["response"]))) {
		return "", ErrAuthenticationFailed
	}

	s.username = username
	s.secret = secret
	respHA2 := md5hex(":" + uri)
	return md5hex(ha1 + ":" + s.nonce + ":" + nc + ":" + cnonce + ":" + qop + ":" + respHA2), nil
}

// parseDigestResponse splits a comma-separated list of key=value
// directives, honoring double quotes around values.
func parseDigestResponse(s string) map[string]string {
	fields := make(map[string]string)
	var key, val strings.Builder
	inKey := true
	inQuotes := false
	flush := func() {
		k := strings.TrimSpace(key.String())
		if k != "" {
			fields[k] = val.String()
		}
		key.Reset()
		val.Reset()
		inKey = true
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case inKey && c == '=':
			inKey = false
		case !inKey && c == '"':
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			flush()
		case inKey:
			key.WriteByte(c)
		default:
			val.WriteByte(c)
		}
	}
	flush()
	return fields
}

// md5hex returns the lowercase hex MD5 digest of s.
func md5hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
