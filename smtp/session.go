package smtp

import (
	"sync"

	"github.com/infodancer/mailtest/server"
)

// Session is the per-connection SMTP state: the host the client
// introduced itself with, the authenticated identity, and the envelope
// accumulated between MAIL and DATA. There is no explicit state enum;
// each command checks the envelope fields it depends on. The last
// message delivered on the connection is retained after the envelope
// is cleared so tests can read it back.
type Session struct {
	server.SessionBase[Command]

	mu            sync.Mutex
	helo          string
	sender        string
	inTransaction bool
	recipients    []string
	message       string
	haveMessage   bool
}

func newSession() *Session {
	return &Session{}
}

// Helo returns the hostname from the client's HELO or EHLO, or ""
// before the greeting.
func (s *Session) Helo() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.helo
}

// greet stores the client hostname and drops any envelope in progress.
func (s *Session) greet(host string) {
	s.mu.Lock()
	s.helo = host
	s.sender = ""
	s.inTransaction = false
	s.recipients = nil
	s.mu.Unlock()
}

// startTransaction records the reverse-path and opens a mail
// transaction. An empty sender is the null reverse-path.
func (s *Session) startTransaction(sender string) {
	s.mu.Lock()
	s.sender = sender
	s.inTransaction = true
	s.mu.Unlock()
}

// InTransaction reports whether a MAIL command has opened a
// transaction that has not yet completed or been reset.
func (s *Session) InTransaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inTransaction
}

// Sender returns the reverse-path of the open transaction.
func (s *Session) Sender() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sender
}

// addRecipient appends one forward-path. Duplicates are kept in
// insertion order.
func (s *Session) addRecipient(recipient string) {
	s.mu.Lock()
	s.recipients = append(s.recipients, recipient)
	s.mu.Unlock()
}

// Recipients returns a snapshot of the forward-paths accumulated by
// RCPT since the transaction opened.
func (s *Session) Recipients() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.recipients))
	copy(out, s.recipients)
	return out
}

// endTransaction clears the envelope and retains the delivered message
// for inspection.
func (s *Session) endTransaction(message string) {
	s.mu.Lock()
	s.sender = ""
	s.inTransaction = false
	s.recipients = nil
	s.message = message
	s.haveMessage = true
	s.mu.Unlock()
}

// resetTransaction drops the envelope without delivering.
func (s *Session) resetTransaction() {
	s.mu.Lock()
	s.sender = ""
	s.inTransaction = false
	s.recipients = nil
	s.mu.Unlock()
}

// Message returns the body of the last message delivered on this
// session. The second return value is false when the session has not
// delivered anything.
func (s *Session) Message() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.message, s.haveMessage
}
