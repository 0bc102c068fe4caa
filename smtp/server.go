package smtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/infodancer/mailtest/mailbox"
	"github.com/infodancer/mailtest/server"
)

const protocolName = "SMTP"

// Server is the test-double SMTP server. It embeds the shared core for
// lifecycle, configuration, and session tracking, and adds the SMTP
// verb registry, the mailbox store mail is delivered into, and the
// last delivered message for inspection.
type Server struct {
	*server.Core[*Session]

	commands *server.Registry[Parser]
	store    *mailbox.Store

	mu          sync.Mutex
	lastMessage string
	haveMessage bool
}

// NewServer creates a stopped SMTP server backed by the given store.
// The standard verb set is registered. STARTTLS starts disabled: the
// test double never upgrades a session mid-stream, and a disabled verb
// is left out of the EHLO extension list. Enabling it advertises the
// extension and answers the command with a 454.
func NewServer(store *mailbox.Store) *Server {
	s := &Server{
		Core:     server.NewCore[*Session](server.CoreConfig{Protocol: protocolName}),
		commands: server.NewRegistry[Parser](),
		store:    store,
	}

	s.commands.Add("HELO", parseHelo)
	s.commands.Add("EHLO", parseEhlo)
	s.commands.Add("STARTTLS", parseStarttls)
	s.commands.Add("AUTH", parseAuth)
	s.commands.Add("MAIL", parseMail)
	s.commands.Add("RCPT", parseRcpt)
	s.commands.Add("DATA", parseData)
	s.commands.Add("RSET", parseRset)
	s.commands.Add("NOOP", parseNoop)
	s.commands.Add("VRFY", parseVrfy)
	s.commands.Add("QUIT", parseQuit)
	s.commands.SetEnabled("STARTTLS", false)

	s.SetHandler(s.handleConnection)
	return s
}

// Store returns the mailbox store mail is delivered into.
func (s *Server) Store() *mailbox.Store { return s.store }

// AddCommand registers a verb, replacing any existing registration.
func (s *Server) AddCommand(verb string, parser Parser) { s.commands.Add(verb, parser) }

// RemoveCommand unregisters a verb.
func (s *Server) RemoveCommand(verb string) { s.commands.Remove(verb) }

// SetCommandEnabled enables or disables a registered verb without
// removing it. Disabled verbs answer "502 5.5.1 Disabled command".
func (s *Server) SetCommandEnabled(verb string, enabled bool) {
	s.commands.SetEnabled(verb, enabled)
}

// IsCommandEnabled reports whether a verb is registered and enabled.
func (s *Server) IsCommandEnabled(verb string) bool { return s.commands.Enabled(verb) }

// Message returns the body of the most recently delivered message. The
// second return value is false when nothing has been delivered yet.
func (s *Server) Message() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessage, s.haveMessage
}

func (s *Server) setMessage(message string) {
	s.mu.Lock()
	s.lastMessage = message
	s.haveMessage = true
	s.mu.Unlock()
}

// extensions returns the EHLO extension list derived from the current
// configuration: STARTTLS while that verb is enabled, and AUTH with
// the mechanism list while any mechanisms are configured.
func (s *Server) extensions() []string {
	var exts []string
	if s.IsCommandEnabled("STARTTLS") {
		exts = append(exts, "STARTTLS")
	}
	if authTypes := s.AuthTypes(); len(authTypes) > 0 {
		exts = append(exts, "AUTH "+strings.Join(authTypes, " "))
	}
	return exts
}

// handleConnection greets the client and runs the dispatch loop until
// the session closes or the client hangs up.
func (s *Server) handleConnection(ctx context.Context, conn *server.Conn) error {
	sess := newSession()
	sess.SetSocketData(conn)
	s.BeginSession(sess)

	if err := conn.WriteLine(fmt.Sprintf("220 %s Service ready", s.Hostname())); err != nil {
		return err
	}

	for !sess.Closed() {
		line, err := conn.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if line == "" {
			continue
		}
		if err := s.dispatch(ctx, sess, conn, line); err != nil {
			return err
		}
	}
	return nil
}

// dispatch handles one command line. Unknown, disabled, and malformed
// commands are answered without touching the session history; parsed
// commands are recorded before they execute. The returned error is an
// I/O failure that ends the connection.
func (s *Server) dispatch(ctx context.Context, sess *Session, conn *server.Conn, line string) error {
	verb, parameters := splitVerb(line)

	parser, ok := s.commands.Lookup(verb)
	if !ok {
		return writeResponse(conn, Response{Code: 500, Message: "5.5.1 Unknown command"})
	}
	if !s.commands.Enabled(verb) {
		return writeResponse(conn, Response{Code: 502, Message: "5.5.1 Disabled command"})
	}

	cmd, err := parser(parameters)
	if err != nil {
		return writeResponse(conn, Response{Code: 501, Message: "5.5.4 " + err.Error()})
	}

	sess.AddCommand(cmd)
	s.Collector().CommandProcessed(protocolName, verb)

	resp, err := cmd.Execute(ctx, s, sess, conn)
	if err != nil {
		return err
	}
	return writeResponse(conn, resp)
}

func writeResponse(conn *server.Conn, resp Response) error {
	for _, line := range resp.WireLines() {
		if err := conn.WriteLine(line); err != nil {
			return err
		}
	}
	return nil
}
