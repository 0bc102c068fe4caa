// Package pop3 implements a test-double POP3 server (RFC 1939) with
// SASL authentication (RFC 1734), APOP, and the CAPA extension
// (RFC 2449). The server is driven by a test harness: it binds a
// loopback port, serves one connection at a time against an in-memory
// mailbox store, and records every parsed command for later
// inspection.
package pop3

import (
	"context"
	"fmt"
	"strings"

	"github.com/infodancer/mailtest/server"
)

// Command is one parsed client command. String returns the canonical
// command line, which is what the session history and the harness see.
type Command interface {
	fmt.Stringer

	// Execute runs the command. Protocol failures are reported as
	// negative responses; a non-nil error means the connection is
	// unusable and ends the session.
	Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error)
}

// Parser builds a command from the parameter portion of a command
// line, the text after the first space. Commands it returns are
// recorded in the session history before they are executed; a parse
// error is reported to the client without touching the history.
type Parser func(parameters string) (Command, error)

// Response represents a POP3 response to a command.
type Response struct {
	// OK indicates success (+OK) or failure (-ERR).
	OK bool

	// Message is the response message (without the +OK/-ERR prefix).
	Message string

	// Lines contains multi-line response data (for commands like LIST).
	// A non-nil value, even an empty one, marks the response as
	// multi-line and is terminated by a lone ".".
	Lines []string
}

// WireLines renders the response as protocol lines, byte-stuffing any
// payload line that starts with a ".".
func (r Response) WireLines() []string {
	status := "-ERR"
	if r.OK {
		status = "+OK"
	}
	if r.Message != "" {
		status += " " + r.Message
	}

	lines := []string{status}
	if r.Lines != nil {
		for _, line := range r.Lines {
			if strings.HasPrefix(line, ".") {
				line = "." + line
			}
			lines = append(lines, line)
		}
		lines = append(lines, ".")
	}
	return lines
}

// String formats the response as it appears on the wire.
func (r Response) String() string {
	return strings.Join(r.WireLines(), "\r\n") + "\r\n"
}

// splitVerb splits a command line into the uppercased verb and the
// parameter text after the first space.
func splitVerb(line string) (verb, parameters string) {
	verb, parameters, _ = strings.Cut(line, " ")
	return strings.ToUpper(verb), parameters
}

// splitContentLines splits message content into its CRLF-separated
// lines for a multi-line response.
func splitContentLines(content string) []string {
	return strings.Split(content, "\r\n")
}
