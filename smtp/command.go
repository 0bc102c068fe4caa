// Package smtp implements a test-double SMTP server (RFC 5321 with
// SASL authentication per RFC 4954). It accepts mail on a loopback
// listener, delivers it into the shared in-memory mailbox store, and
// exposes the session state, command history, and wire transcript for
// test assertions.
package smtp

import (
	"context"
	"fmt"
	"strings"

	"github.com/infodancer/mailtest/server"
)

// Command is one parsed SMTP command. String returns the canonical
// wire form for the session history.
type Command interface {
	fmt.Stringer

	// Execute applies the command to the session and returns the reply.
	// Commands that own a sub-conversation (DATA, AUTH) read and write
	// on conn directly before returning their final reply. A non-nil
	// error is an I/O failure and ends the connection.
	Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error)
}

// Parser builds a Command from the text after the verb. A returned
// error is reported to the client as a 501 reply and the command is
// not recorded in the session history.
type Parser func(parameters string) (Command, error)

// Response is one SMTP reply. Code and Message produce a single reply
// line. When Lines is set the reply is multiline: every line but the
// last uses the code-hyphen continuation form.
type Response struct {
	Code    int
	Message string
	Lines   []string
}

// WireLines renders the reply as wire lines without line endings.
func (r Response) WireLines() []string {
	if len(r.Lines) == 0 {
		return []string{fmt.Sprintf("%d %s", r.Code, r.Message)}
	}
	out := make([]string, 0, len(r.Lines))
	for i, line := range r.Lines {
		if i < len(r.Lines)-1 {
			out = append(out, fmt.Sprintf("%d-%s", r.Code, line))
		} else {
			out = append(out, fmt.Sprintf("%d %s", r.Code, line))
		}
	}
	return out
}

// String renders the reply as it appears on the wire, CRLF line
// endings included.
func (r Response) String() string {
	return strings.Join(r.WireLines(), "\r\n") + "\r\n"
}

// splitVerb splits a command line into the uppercased verb and the
// parameter text after the first space.
func splitVerb(line string) (verb, parameters string) {
	verb, parameters, _ = strings.Cut(line, " ")
	return strings.ToUpper(verb), parameters
}

// cutPath extracts the address from parameters shaped like
// "FROM:<alice@localhost>". The prefix match is case-insensitive and
// the angle brackets are required; the address between them may be
// empty, which is the null reverse-path. Text after the closing
// bracket is ignored.
func cutPath(parameters, prefix string) (string, bool) {
	if len(parameters) < len(prefix) || !strings.EqualFold(parameters[:len(prefix)], prefix) {
		return "", false
	}
	rest := parameters[len(prefix):]
	start := strings.Index(rest, "<")
	end := strings.Index(rest, ">")
	if start == -1 || end == -1 || end < start {
		return "", false
	}
	return rest[start+1 : end], true
}
