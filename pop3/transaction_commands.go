package pop3

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/infodancer/mailtest/server"
)

// statCommand implements the STAT command (RFC 1939). It reports the
// count and total size of the messages not marked deleted.
type statCommand struct{}

func parseStat(parameters string) (Command, error) {
	if parameters != "" {
		return nil, errors.New("STAT command takes no arguments")
	}
	return &statCommand{}, nil
}

func (s *statCommand) String() string { return "STAT" }

func (s *statCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{Message: "Command not valid in this state"}, nil
	}

	var count, size int
	for _, m := range sess.messages() {
		if m.Deleted() {
			continue
		}
		count++
		size += m.Size()
	}
	return Response{OK: true, Message: fmt.Sprintf("%d %d", count, size)}, nil
}

// listCommand implements the LIST command (RFC 1939). Without an
// argument it lists every message not marked deleted; with one it
// reports a single message.
type listCommand struct {
	arg string
}

func parseList(parameters string) (Command, error) {
	fields := strings.Fields(parameters)
	switch len(fields) {
	case 0:
		return &listCommand{}, nil
	case 1:
		return &listCommand{arg: fields[0]}, nil
	default:
		return nil, errors.New("LIST command takes at most one argument")
	}
}

func (l *listCommand) String() string {
	if l.arg == "" {
		return "LIST"
	}
	return "LIST " + l.arg
}

func (l *listCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{Message: "Command not valid in this state"}, nil
	}

	if l.arg == "" {
		// Deleted messages are skipped but keep their numbers.
		lines := make([]string, 0)
		for i, m := range sess.messages() {
			if m.Deleted() {
				continue
			}
			lines = append(lines, fmt.Sprintf("%d %d", i+1, m.Size()))
		}
		srv.Collector().MessageListed(sess.Username())
		return Response{OK: true, Message: fmt.Sprintf("%d messages", len(lines)), Lines: lines}, nil
	}

	n, err := strconv.Atoi(l.arg)
	if err != nil {
		return Response{Message: "no such message"}, nil
	}
	msg := sess.Message(n)
	if msg == nil || msg.Deleted() {
		return Response{Message: "no such message"}, nil
	}
	return Response{OK: true, Message: fmt.Sprintf("%d %d", n, msg.Size())}, nil
}

// uidlCommand implements the UIDL command (RFC 1939). Same shape as
// LIST with the content digest in place of the size.
type uidlCommand struct {
	arg string
}

func parseUidl(parameters string) (Command, error) {
	fields := strings.Fields(parameters)
	switch len(fields) {
	case 0:
		return &uidlCommand{}, nil
	case 1:
		return &uidlCommand{arg: fields[0]}, nil
	default:
		return nil, errors.New("UIDL command takes at most one argument")
	}
}

func (u *uidlCommand) String() string {
	if u.arg == "" {
		return "UIDL"
	}
	return "UIDL " + u.arg
}

func (u *uidlCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{Message: "Command not valid in this state"}, nil
	}

	if u.arg == "" {
		lines := make([]string, 0)
		for i, m := range sess.messages() {
			if m.Deleted() {
				continue
			}
			lines = append(lines, fmt.Sprintf("%d %s", i+1, m.UID()))
		}
		srv.Collector().MessageListed(sess.Username())
		return Response{OK: true, Message: fmt.Sprintf("%d messages", len(lines)), Lines: lines}, nil
	}

	n, err := strconv.Atoi(u.arg)
	if err != nil {
		return Response{Message: "no such message"}, nil
	}
	msg := sess.Message(n)
	if msg == nil || msg.Deleted() {
		return Response{Message: "no such message"}, nil
	}
	return Response{OK: true, Message: fmt.Sprintf("%d %s", n, msg.UID())}, nil
}

// retrCommand implements the RETR command (RFC 1939). The full message
// content is sent byte-stuffed.
type retrCommand struct {
	arg string
}

func parseRetr(parameters string) (Command, error) {
	fields := strings.Fields(parameters)
	if len(fields) != 1 {
		return nil, errors.New("RETR command requires a message number")
	}
	return &retrCommand{arg: fields[0]}, nil
}

func (r *retrCommand) String() string { return "RETR " + r.arg }

func (r *retrCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{Message: "Command not valid in this state"}, nil
	}

	n, err := strconv.Atoi(r.arg)
	if err != nil {
		return Response{Message: "no such message"}, nil
	}
	msg := sess.Message(n)
	if msg == nil || msg.Deleted() {
		return Response{Message: "no such message"}, nil
	}

	srv.Collector().MessageRetrieved(sess.Username(), int64(msg.Size()))
	return Response{
		OK:      true,
		Message: fmt.Sprintf("%d octets", msg.Size()),
		Lines:   splitContentLines(msg.Content()),
	}, nil
}

// deleCommand implements the DELE command (RFC 1939). Deletion is a
// flag until QUIT expunges; DELE on a flagged message fails.
type deleCommand struct {
	arg string
}

func parseDele(parameters string) (Command, error) {
	fields := strings.Fields(parameters)
	if len(fields) != 1 {
		return nil, errors.New("DELE command requires a message number")
	}
	return &deleCommand{arg: fields[0]}, nil
}

func (d *deleCommand) String() string { return "DELE " + d.arg }

func (d *deleCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{Message: "Command not valid in this state"}, nil
	}

	n, err := strconv.Atoi(d.arg)
	if err != nil {
		return Response{Message: "no such message"}, nil
	}
	msg := sess.Message(n)
	if msg == nil {
		return Response{Message: "no such message"}, nil
	}
	if msg.Deleted() {
		return Response{Message: "message already deleted"}, nil
	}

	msg.SetDeleted(true)
	srv.Collector().MessageDeleted(sess.Username())
	return Response{OK: true}, nil
}

// topCommand implements the TOP command (RFC 1939): the first k lines
// of a message.
type topCommand struct {
	msgArg   string
	countArg string
}

func parseTop(parameters string) (Command, error) {
	fields := strings.Fields(parameters)
	if len(fields) != 2 {
		return nil, errors.New("TOP command requires a message number and a line count")
	}
	return &topCommand{msgArg: fields[0], countArg: fields[1]}, nil
}

func (t *topCommand) String() string { return "TOP " + t.msgArg + " " + t.countArg }

func (t *topCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{Message: "Command not valid in this state"}, nil
	}

	n, err := strconv.Atoi(t.msgArg)
	if err != nil {
		return Response{Message: "no such message"}, nil
	}
	k, err := strconv.Atoi(t.countArg)
	if err != nil {
		return Response{Message: "no such message"}, nil
	}
	msg := sess.Message(n)
	if msg == nil || msg.Deleted() {
		return Response{Message: "no such message"}, nil
	}

	return Response{OK: true, Lines: splitContentLines(msg.Top(k))}, nil
}

// noopCommand implements the NOOP command (RFC 1939).
type noopCommand struct{}

func parseNoop(parameters string) (Command, error) {
	if parameters != "" {
		return nil, errors.New("NOOP command takes no arguments")
	}
	return &noopCommand{}, nil
}

func (n *noopCommand) String() string { return "NOOP" }

func (n *noopCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{Message: "Command not valid in this state"}, nil
	}
	return Response{OK: true}, nil
}

// rsetCommand implements the RSET command (RFC 1939). It clears the
// deleted flag on every message in the maildrop.
type rsetCommand struct{}

func parseRset(parameters string) (Command, error) {
	if parameters != "" {
		return nil, errors.New("RSET command takes no arguments")
	}
	return &rsetCommand{}, nil
}

func (r *rsetCommand) String() string { return "RSET" }

func (r *rsetCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if sess.State() != StateTransaction {
		return Response{Message: "Command not valid in this state"}, nil
	}

	for _, m := range sess.messages() {
		if m.Deleted() {
			m.SetDeleted(false)
		}
	}
	return Response{OK: true}, nil
}
