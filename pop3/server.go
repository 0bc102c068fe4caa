package pop3

import (
	"context"
	"errors"
	"io"

	"github.com/infodancer/mailtest/mailbox"
	"github.com/infodancer/mailtest/server"
)

// protocolName labels log records and metrics for this server.
const protocolName = "POP3"

// Server is a test-double POP3 server over an in-memory mailbox store.
// The embedded Core exposes the lifecycle and configuration surface;
// create one with NewServer.
type Server struct {
	*server.Core[*Session]

	commands *server.Registry[Parser]
	store    *mailbox.Store
}

// NewServer creates a POP3 server for the given store with the
// standard verb set registered. The server does not listen until Start
// is called.
func NewServer(store *mailbox.Store) *Server {
	s := &Server{
		Core:     server.NewCore[*Session](server.CoreConfig{Protocol: protocolName}),
		commands: server.NewRegistry[Parser](),
		store:    store,
	}

	s.commands.Add("CAPA", parseCapa)
	s.commands.Add("USER", parseUser)
	s.commands.Add("PASS", parsePass)
	s.commands.Add("APOP", parseApop)
	s.commands.Add("AUTH", parseAuth)
	s.commands.Add("STAT", parseStat)
	s.commands.Add("LIST", parseList)
	s.commands.Add("UIDL", parseUidl)
	s.commands.Add("RETR", parseRetr)
	s.commands.Add("DELE", parseDele)
	s.commands.Add("TOP", parseTop)
	s.commands.Add("NOOP", parseNoop)
	s.commands.Add("RSET", parseRset)
	s.commands.Add("QUIT", parseQuit)

	s.SetHandler(s.handleConnection)
	return s
}

// Store returns the mailbox store the server reads from.
func (s *Server) Store() *mailbox.Store { return s.store }

// AddCommand registers or replaces a verb. A harness can install
// custom commands at any time.
func (s *Server) AddCommand(verb string, parser Parser) { s.commands.Add(verb, parser) }

// RemoveCommand unregisters a verb.
func (s *Server) RemoveCommand(verb string) { s.commands.Remove(verb) }

// SetCommandEnabled enables or disables a registered verb without
// removing it. Disabled verbs answer "-ERR Disabled command".
func (s *Server) SetCommandEnabled(verb string, enabled bool) {
	s.commands.SetEnabled(verb, enabled)
}

// IsCommandEnabled reports whether a verb is registered and enabled.
func (s *Server) IsCommandEnabled(verb string) bool { return s.commands.Enabled(verb) }

// handleConnection greets the client with the APOP timestamp and runs
// the dispatch loop until the session closes or the client hangs up.
func (s *Server) handleConnection(ctx context.Context, conn *server.Conn) error {
	sess := newSession(s.Now(), s.Hostname())
	sess.SetSocketData(conn)
	s.BeginSession(sess)

	if err := conn.WriteLine("+OK POP3 server ready " + sess.Timestamp()); err != nil {
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
		return writeResponse(conn, Response{Message: "Unknown command"})
	}
	if !s.commands.Enabled(verb) {
		return writeResponse(conn, Response{Message: "Disabled command"})
	}

	cmd, err := parser(parameters)
	if err != nil {
		return writeResponse(conn, Response{Message: err.Error()})
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
