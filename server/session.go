package server

import "sync"

// SessionBase carries the per-connection state shared by both
// protocols: the history of parsed commands, the authenticated
// username and the mechanism that produced it, and socket metadata
// captured at accept time. C is the protocol's command type.
//
// It is embedded by the protocol session types and is safe for
// concurrent use, so a harness can inspect a session while the server
// is still driving it.
type SessionBase[C any] struct {
	mu          sync.Mutex
	authType    string
	username    string
	closed      bool
	history     []C
	remoteAddr  string
	localAddr   string
	tlsProtocol string
	tlsCipher   string
}

// AddCommand appends a successfully parsed command to the history.
func (s *SessionBase[C]) AddCommand(cmd C) {
	s.mu.Lock()
	s.history = append(s.history, cmd)
	s.mu.Unlock()
}

// Commands returns a snapshot of the command history.
func (s *SessionBase[C]) Commands() []C {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]C, len(s.history))
	copy(out, s.history)
	return out
}

// Username returns the authenticated username, or "" before
// authentication.
func (s *SessionBase[C]) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// SetUsername records the authenticated username.
func (s *SessionBase[C]) SetUsername(username string) {
	s.mu.Lock()
	s.username = username
	s.mu.Unlock()
}

// Login records a successful authentication: the mechanism name and
// the username it established.
func (s *SessionBase[C]) Login(authType, username string) {
	s.mu.Lock()
	s.authType = authType
	s.username = username
	s.mu.Unlock()
}

// AuthType returns the name of the mechanism the session authenticated
// with, or "" before authentication.
func (s *SessionBase[C]) AuthType() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authType
}

// Logout discards the authenticated identity. SMTP calls this at the
// start of every AUTH so a second attempt never inherits the first.
func (s *SessionBase[C]) Logout() {
	s.mu.Lock()
	s.authType = ""
	s.username = ""
	s.mu.Unlock()
}

// Authenticated reports whether the session has a username.
func (s *SessionBase[C]) Authenticated() bool {
	return s.Username() != ""
}

// Close marks the session as finished. The connection loop exits after
// the command that called it has been answered.
func (s *SessionBase[C]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Closed reports whether the session has been marked finished.
func (s *SessionBase[C]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// SetSocketData captures addresses and TLS parameters from the
// connection.
func (s *SessionBase[C]) SetSocketData(conn *Conn) {
	s.mu.Lock()
	s.remoteAddr = conn.RemoteAddr().String()
	s.localAddr = conn.LocalAddr().String()
	s.tlsProtocol = conn.TLSProtocol()
	s.tlsCipher = conn.TLSCipherSuite()
	s.mu.Unlock()
}

// RemoteAddr returns the client address.
func (s *SessionBase[C]) RemoteAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteAddr
}

// LocalAddr returns the server address.
func (s *SessionBase[C]) LocalAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.localAddr
}

// TLSProtocol returns the negotiated TLS version name, or "" for a
// plaintext session.
func (s *SessionBase[C]) TLSProtocol() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tlsProtocol
}

// TLSCipherSuite returns the negotiated cipher suite name, or "" for a
// plaintext session.
func (s *SessionBase[C]) TLSCipherSuite() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tlsCipher
}
