package smtp

import (
	"context"
	"errors"
	"fmt"

	"github.com/infodancer/mailtest/server"
)

// heloCommand implements the HELO command (RFC 5321). The greeting
// resets any envelope in progress.
type heloCommand struct {
	host string
}

func parseHelo(parameters string) (Command, error) {
	if parameters == "" {
		return nil, errors.New("HELO command requires a hostname")
	}
	return &heloCommand{host: parameters}, nil
}

func (h *heloCommand) String() string { return "HELO " + h.host }

func (h *heloCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	sess.greet(h.host)
	return Response{Code: 250, Message: srv.Hostname()}, nil
}

// ehloCommand implements the EHLO command (RFC 5321). The reply lists
// the supported extensions, derived from the enabled verbs and the
// configured authentication mechanisms at the time of the command.
type ehloCommand struct {
	host string
}

func parseEhlo(parameters string) (Command, error) {
	if parameters == "" {
		return nil, errors.New("EHLO command requires a hostname")
	}
	return &ehloCommand{host: parameters}, nil
}

func (e *ehloCommand) String() string { return "EHLO " + e.host }

func (e *ehloCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	sess.greet(e.host)

	lines := []string{fmt.Sprintf("%s Hello %s", srv.Hostname(), e.host)}
	lines = append(lines, srv.extensions()...)
	lines = append(lines, "OK")
	return Response{Code: 250, Lines: lines}, nil
}

// rsetCommand implements the RSET command (RFC 5321).
type rsetCommand struct{}

func parseRset(parameters string) (Command, error) {
	if parameters != "" {
		return nil, errors.New("RSET command takes no arguments")
	}
	return &rsetCommand{}, nil
}

func (r *rsetCommand) String() string { return "RSET" }

func (r *rsetCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	sess.resetTransaction()
	return Response{Code: 250, Message: "2.0.0 Ok"}, nil
}

// noopCommand implements the NOOP command (RFC 5321).
type noopCommand struct{}

func parseNoop(parameters string) (Command, error) {
	if parameters != "" {
		return nil, errors.New("NOOP command takes no arguments")
	}
	return &noopCommand{}, nil
}

func (n *noopCommand) String() string { return "NOOP" }

func (n *noopCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	return Response{Code: 250, Message: "2.0.0 Ok"}, nil
}

// vrfyCommand implements the VRFY command (RFC 5321). The server never
// confirms or denies an address.
type vrfyCommand struct {
	address string
}

func parseVrfy(parameters string) (Command, error) {
	if parameters == "" {
		return nil, errors.New("VRFY command requires an address")
	}
	return &vrfyCommand{address: parameters}, nil
}

func (v *vrfyCommand) String() string { return "VRFY " + v.address }

func (v *vrfyCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	return Response{Code: 252, Message: "2.5.0 Cannot verify user"}, nil
}

// starttlsCommand implements the STARTTLS command (RFC 3207). The verb
// is registered disabled; a harness can enable it to have it show up
// in EHLO, but the test double never performs the mid-session upgrade.
// Encrypted tests use implicit TLS via SetTLS instead.
type starttlsCommand struct{}

func parseStarttls(parameters string) (Command, error) {
	if parameters != "" {
		return nil, errors.New("STARTTLS command takes no arguments")
	}
	return &starttlsCommand{}, nil
}

func (s *starttlsCommand) String() string { return "STARTTLS" }

func (s *starttlsCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	return Response{Code: 454, Message: "4.7.0 TLS not available"}, nil
}

// quitCommand implements the QUIT command (RFC 5321).
type quitCommand struct{}

func parseQuit(parameters string) (Command, error) {
	if parameters != "" {
		return nil, errors.New("QUIT command takes no arguments")
	}
	return &quitCommand{}, nil
}

func (q *quitCommand) String() string { return "QUIT" }

func (q *quitCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	sess.Close()
	return Response{Code: 221, Message: "2.0.0 Goodbye"}, nil
}
