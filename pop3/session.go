package pop3

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/infodancer/mailtest/mailbox"
	"github.com/infodancer/mailtest/server"
)

// State identifies the protocol state of a POP3 session (RFC 1939).
type State int

const (
	// StateAuthorization is the state before a successful login.
	StateAuthorization State = iota

	// StateTransaction is entered by a successful USER/PASS, APOP, or
	// AUTH exchange and grants access to the maildrop.
	StateTransaction

	// StateUpdate is entered by QUIT; deleted messages are expunged on
	// this transition.
	StateUpdate
)

func (s State) String() string {
	switch s {
	case StateAuthorization:
		return "AUTHORIZATION"
	case StateTransaction:
		return "TRANSACTION"
	case StateUpdate:
		return "UPDATE"
	default:
		return "UNKNOWN"
	}
}

// Session tracks one POP3 connection: the protocol state, the APOP
// timestamp issued in the greeting, the pending USER name, and the
// mailbox bound by a successful login.
type Session struct {
	server.SessionBase[Command]

	timestamp string

	mu      sync.Mutex
	state   State
	user    string
	mailbox *mailbox.Mailbox
}

// newSession creates a session in the AUTHORIZATION state with an APOP
// timestamp derived from the server clock.
func newSession(now time.Time, hostname string) *Session {
	return &Session{
		timestamp: fmt.Sprintf("<%d.%d@%s>", os.Getpid(), now.UnixMilli(), hostname),
	}
}

// Timestamp returns the APOP challenge sent in the greeting, in the
// form "<pid.millis@hostname>".
func (s *Session) Timestamp() string {
	return s.timestamp
}

// State returns the protocol state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// User returns the name announced by USER but not yet verified by
// PASS, or "" when none is pending.
func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) setUser(user string) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

// login records a verified authentication: it binds the mailbox,
// stores the username and mechanism, and moves the session to the
// TRANSACTION state. Callers verify credentials first.
func (s *Session) login(authType, username string, mb *mailbox.Mailbox) {
	s.Login(authType, username)
	s.mu.Lock()
	s.mailbox = mb
	s.state = StateTransaction
	s.mu.Unlock()
}

// Mailbox returns the mailbox bound at login, or nil before login.
func (s *Session) Mailbox() *mailbox.Mailbox {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mailbox
}

// messages returns the live message list of the bound mailbox,
// including messages flagged deleted. Message numbers are 1-based
// positions in this list.
func (s *Session) messages() []*mailbox.Message {
	mb := s.Mailbox()
	if mb == nil {
		return nil
	}
	return mb.Messages()
}

// Message resolves a 1-based message number against the bound mailbox.
// Returns nil for numbers out of range.
func (s *Session) Message(n int) *mailbox.Message {
	msgs := s.messages()
	if n < 1 || n > len(msgs) {
		return nil
	}
	return msgs[n-1]
}
