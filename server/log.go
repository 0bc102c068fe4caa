package server

import (
	"strings"
	"sync"
)

// Log accumulates the C:/S: transcript of the most recent connection.
// The protocol servers reset it when a connection is accepted and
// append one prefixed line per command and reply; tests read it back
// with String.
type Log struct {
	mu sync.Mutex
	sb strings.Builder
}

// Append adds raw text to the transcript.
func (l *Log) Append(s string) {
	l.mu.Lock()
	l.sb.WriteString(s)
	l.mu.Unlock()
}

// Reset clears the transcript.
func (l *Log) Reset() {
	l.mu.Lock()
	l.sb.Reset()
	l.mu.Unlock()
}

// String returns the transcript accumulated so far.
func (l *Log) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sb.String()
}
