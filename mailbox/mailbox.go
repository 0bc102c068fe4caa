// Package mailbox provides the in-memory message store shared between a
// test harness and the protocol servers. The harness owns the Store,
// seeds it with mailboxes and messages, and inspects it after the code
// under test has run; the servers read and mutate it from their worker
// goroutines. All reads return snapshots so harness iteration is never
// invalidated by concurrent delivery.
package mailbox

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
	"sync"
	"sync/atomic"
)

// Store is an ordered collection of mailboxes, looked up by username or
// primary email address.
type Store struct {
	mu        sync.RWMutex
	mailboxes []*Mailbox
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{}
}

// AddMailbox appends a new mailbox and returns it. Duplicate names are
// not rejected; lookups return the first match in insertion order.
func (s *Store) AddMailbox(username, secret, email string) *Mailbox {
	mb := &Mailbox{username: username, secret: secret, email: email}
	s.mu.Lock()
	s.mailboxes = append(s.mailboxes, mb)
	s.mu.Unlock()
	return mb
}

// FindMailbox looks up a mailbox by exact match on username or email.
// Returns nil when no mailbox matches.
func (s *Store) FindMailbox(name string) *Mailbox {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, mb := range s.mailboxes {
		if mb.username == name || mb.email == name {
			return mb
		}
	}
	return nil
}

// DeleteMailbox removes the mailboxes matching the given username or
// email. Messages they hold are discarded with them.
func (s *Store) DeleteMailbox(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.mailboxes[:0]
	for _, mb := range s.mailboxes {
		if mb.username != name && mb.email != name {
			kept = append(kept, mb)
		}
	}
	s.mailboxes = kept
}

// Mailboxes returns a snapshot of all mailboxes in insertion order.
func (s *Store) Mailboxes() []*Mailbox {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Mailbox, len(s.mailboxes))
	copy(out, s.mailboxes)
	return out
}

// Secret returns the stored secret for a username or email address.
// It satisfies the lookup interface the SASL mechanisms authenticate
// against.
func (s *Store) Secret(username string) (string, bool) {
	mb := s.FindMailbox(username)
	if mb == nil {
		return "", false
	}
	return mb.secret, true
}

// Mailbox is one user's inbox: an identity triple and an ordered list
// of messages. POP3 message numbers are 1-based positions in this list.
type Mailbox struct {
	username string
	secret   string
	email    string

	mu       sync.RWMutex
	messages []*Message
}

// Username returns the login name of the mailbox owner.
func (mb *Mailbox) Username() string { return mb.username }

// Secret returns the cleartext password. PLAIN and LOGIN compare it
// directly; CRAM-MD5, DIGEST-MD5, and APOP use it as the shared secret
// for their digests.
func (mb *Mailbox) Secret() string { return mb.secret }

// Email returns the primary address messages are delivered to.
func (mb *Mailbox) Email() string { return mb.email }

// AddMessage appends a message with the given content and returns it.
func (mb *Mailbox) AddMessage(content string) *Message {
	m := &Message{content: content}
	mb.mu.Lock()
	mb.messages = append(mb.messages, m)
	mb.mu.Unlock()
	return m
}

// Messages returns a snapshot of the message list. Mutating the slice
// does not affect the mailbox; the messages themselves are shared.
func (mb *Mailbox) Messages() []*Message {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	out := make([]*Message, len(mb.messages))
	copy(out, mb.messages)
	return out
}

// RemoveDeletedMessages drops all messages whose deleted flag is set,
// preserving the order of the remaining messages, and returns how many
// were dropped. POP3 calls this when a session enters the UPDATE state.
func (mb *Mailbox) RemoveDeletedMessages() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	kept := mb.messages[:0]
	for _, m := range mb.messages {
		if !m.Deleted() {
			kept = append(kept, m)
		}
	}
	removed := len(mb.messages) - len(kept)
	mb.messages = kept
	return removed
}

// Message is an immutable CRLF-delimited octet string plus a transient
// deleted flag. The flag is only meaningful within a POP3 session; it
// is reset by RSET and acted on by QUIT.
type Message struct {
	content string
	deleted atomic.Bool
}

// Content returns the full message content.
func (m *Message) Content() string { return m.content }

// Size returns the content length in bytes.
func (m *Message) Size() int { return len(m.content) }

// UID returns the lowercase hex MD5 of the content. It is stable for
// the lifetime of the message and identical for identical contents.
func (m *Message) UID() string {
	sum := md5.Sum([]byte(m.content))
	return hex.EncodeToString(sum[:])
}

// Deleted reports whether the message is marked for deletion.
func (m *Message) Deleted() bool { return m.deleted.Load() }

// SetDeleted marks or unmarks the message for deletion.
func (m *Message) SetDeleted(deleted bool) { m.deleted.Store(deleted) }

// Top returns the first n CRLF-separated lines of the content, joined
// by CRLF without a trailing CRLF. If n is at least the number of
// lines, the full content is returned.
func (m *Message) Top(n int) string {
	if n <= 0 {
		return ""
	}
	lines := strings.Split(m.content, "\r\n")
	if n >= len(lines) {
		return m.content
	}
	return strings.Join(lines[:n], "\r\n")
}
