package smtp

import (
	"context"
	"errors"
	"strings"

	"github.com/infodancer/mailtest/server"
)

// mailCommand implements the MAIL command (RFC 5321). It opens a mail
// transaction with the given reverse-path.
type mailCommand struct {
	sender string
}

func parseMail(parameters string) (Command, error) {
	sender, ok := cutPath(parameters, "FROM:")
	if !ok {
		return nil, errors.New("MAIL command requires FROM:<address>")
	}
	return &mailCommand{sender: sender}, nil
}

func (m *mailCommand) String() string { return "MAIL FROM:<" + m.sender + ">" }

func (m *mailCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if sess.InTransaction() {
		return Response{Code: 503, Message: "5.5.1 Bad sequence of commands"}, nil
	}
	if srv.AuthenticationRequired() && !sess.Authenticated() {
		return Response{Code: 530, Message: "5.7.0 Authentication required"}, nil
	}

	sess.startTransaction(m.sender)
	return Response{Code: 250, Message: "2.1.0 Ok"}, nil
}

// rcptCommand implements the RCPT command (RFC 5321). It appends one
// forward-path to the open transaction.
type rcptCommand struct {
	recipient string
}

func parseRcpt(parameters string) (Command, error) {
	recipient, ok := cutPath(parameters, "TO:")
	if !ok {
		return nil, errors.New("RCPT command requires TO:<address>")
	}
	return &rcptCommand{recipient: recipient}, nil
}

func (r *rcptCommand) String() string { return "RCPT TO:<" + r.recipient + ">" }

func (r *rcptCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if !sess.InTransaction() {
		return Response{Code: 503, Message: "5.5.1 Bad sequence of commands"}, nil
	}

	sess.addRecipient(r.recipient)
	return Response{Code: 250, Message: "2.1.5 Ok"}, nil
}

// dataCommand implements the DATA command (RFC 5321). It reads the
// message body inline on the connection: lines up to the lone dot
// terminator, each dot-stuffed line unstuffed by one leading dot. The
// body is joined with CRLF and carries no trailing CRLF. Delivery
// appends the body to every recipient whose mailbox exists; unknown
// recipients are skipped silently.
type dataCommand struct{}

func parseData(parameters string) (Command, error) {
	if parameters != "" {
		return nil, errors.New("DATA command takes no arguments")
	}
	return &dataCommand{}, nil
}

func (d *dataCommand) String() string { return "DATA" }

func (d *dataCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if len(sess.Recipients()) == 0 {
		return Response{Code: 503, Message: "5.5.1 Bad sequence of commands"}, nil
	}
	if srv.AuthenticationRequired() && !sess.Authenticated() {
		return Response{Code: 530, Message: "5.7.0 Authentication required"}, nil
	}

	if err := conn.WriteLine("354 Send message, end with <CRLF>.<CRLF>"); err != nil {
		return Response{}, err
	}

	var lines []string
	for {
		line, err := conn.ReadLine()
		if err != nil {
			return Response{}, err
		}
		if line == "." {
			break
		}
		lines = append(lines, strings.TrimPrefix(line, "."))
	}
	message := strings.Join(lines, "\r\n")

	for _, recipient := range sess.Recipients() {
		mb := srv.store.FindMailbox(recipient)
		if mb == nil {
			continue
		}
		mb.AddMessage(message)
		srv.Collector().MessageDelivered(recipient, int64(len(message)))
	}

	sess.endTransaction(message)
	srv.setMessage(message)
	return Response{Code: 250, Message: "2.6.0 Message accepted"}, nil
}
