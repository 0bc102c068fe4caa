package auth

import "github.com/emersion/go-sasl"

type loginState int

const (
	loginNotStarted loginState = iota
	loginWaitingUsername
	loginWaitingPassword
)

type loginServer struct {
	opts     Options
	state    loginState
	username string
}

// NewLogin returns a LOGIN server
// (https://tools.ietf.org/html/draft-murchison-sasl-login-00).
// LOGIN is obsolete but still spoken by clients under test.
func NewLogin(opts Options) sasl.Server {
	return &loginServer{opts: opts}
}

func (s *loginServer) Next(response []byte) (challenge []byte, done bool, err error) {
	switch s.state {
	case loginNotStarted:
		// Check for initial response field, as per RFC 4422 section 3
		if response == nil {
			challenge = []byte("Username:")
			break
		}
		s.state++
		fallthrough
	case loginWaitingUsername:
		s.username = string(response)
		challenge = []byte("Password:")
	case loginWaitingPassword:
		err = verifyPassword(s.opts, s.username, string(response))
		done = true
	default:
		err = sasl.ErrUnexpectedClientResponse
	}
	s.state++
	return
}
