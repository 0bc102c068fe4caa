package pop3

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/infodancer/mailtest/auth"
	"github.com/infodancer/mailtest/server"
)

// capaCommand implements the CAPA command (RFC 2449). It is valid in
// both the AUTHORIZATION and TRANSACTION states.
type capaCommand struct{}

func parseCapa(parameters string) (Command, error) {
	if parameters != "" {
		return nil, errors.New("CAPA command takes no arguments")
	}
	return &capaCommand{}, nil
}

func (c *capaCommand) String() string { return "CAPA" }

func (c *capaCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	lines := []string{"USER", "UIDL", "TOP"}
	if authTypes := srv.AuthTypes(); len(authTypes) > 0 {
		lines = append(lines, "SASL "+strings.Join(authTypes, " "))
	}
	return Response{OK: true, Lines: lines}, nil
}

// userCommand implements the USER command (RFC 1939). The name is held
// until PASS verifies it.
type userCommand struct {
	name string
}

func parseUser(parameters string) (Command, error) {
	fields := strings.Fields(parameters)
	if len(fields) != 1 {
		return nil, errors.New("USER command requires a username")
	}
	return &userCommand{name: fields[0]}, nil
}

func (u *userCommand) String() string { return "USER " + u.name }

func (u *userCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if sess.State() != StateAuthorization {
		return Response{Message: "Command not valid in this state"}, nil
	}

	sess.setUser(u.name)
	return Response{OK: true}, nil
}

// passCommand implements the PASS command (RFC 1939). The secret is
// the full parameter text, so secrets may contain spaces.
type passCommand struct {
	secret string
}

func parsePass(parameters string) (Command, error) {
	if parameters == "" {
		return nil, errors.New("PASS command requires a secret")
	}
	return &passCommand{secret: parameters}, nil
}

func (p *passCommand) String() string { return "PASS " + p.secret }

func (p *passCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if sess.State() != StateAuthorization {
		return Response{Message: "Command not valid in this state"}, nil
	}

	user := sess.User()
	if user == "" {
		return Response{Message: "No username given"}, nil
	}

	mb := srv.store.FindMailbox(user)
	if mb == nil || mb.Secret() != p.secret {
		srv.Collector().AuthAttempt(protocolName, "USER", false)
		return Response{Message: "Authentication failed"}, nil
	}

	sess.login("USER", user, mb)
	srv.Collector().AuthAttempt(protocolName, "USER", true)
	return Response{OK: true}, nil
}

// apopCommand implements the APOP command (RFC 1939): a digest login
// against the timestamp issued in the greeting.
type apopCommand struct {
	username string
	digest   string
}

func parseApop(parameters string) (Command, error) {
	fields := strings.Fields(parameters)
	if len(fields) != 2 {
		return nil, errors.New("APOP command requires a username and a digest")
	}
	return &apopCommand{username: fields[0], digest: fields[1]}, nil
}

func (a *apopCommand) String() string { return "APOP " + a.username + " " + a.digest }

func (a *apopCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if sess.State() != StateAuthorization {
		return Response{Message: "Command not valid in this state"}, nil
	}

	mb := srv.store.FindMailbox(a.username)
	if mb == nil || a.digest != apopDigest(sess.Timestamp(), mb.Secret()) {
		srv.Collector().AuthAttempt(protocolName, "APOP", false)
		return Response{Message: "Authentication failed"}, nil
	}

	sess.login("APOP", a.username, mb)
	srv.Collector().AuthAttempt(protocolName, "APOP", true)
	return Response{OK: true}, nil
}

// apopDigest computes the APOP digest: the lowercase hex MD5 of the
// greeting timestamp concatenated with the shared secret.
func apopDigest(timestamp, secret string) string {
	sum := md5.Sum([]byte(timestamp + secret))
	return hex.EncodeToString(sum[:])
}

// authCommand implements the AUTH command (RFC 1734 / RFC 5034). The
// SASL exchange runs inline on the connection: continuation lines are
// read and written here, not by the dispatch loop.
type authCommand struct {
	mechanism string
	initial   string
}

func parseAuth(parameters string) (Command, error) {
	fields := strings.Fields(parameters)
	switch len(fields) {
	case 1:
		return &authCommand{mechanism: fields[0]}, nil
	case 2:
		return &authCommand{mechanism: fields[0], initial: fields[1]}, nil
	case 0:
		return nil, errors.New("AUTH command requires an authentication type")
	default:
		return nil, errors.New("AUTH command takes at most two arguments")
	}
}

func (a *authCommand) String() string {
	if a.initial == "" {
		return "AUTH " + a.mechanism
	}
	return "AUTH " + a.mechanism + " " + a.initial
}

func (a *authCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	if sess.State() != StateAuthorization {
		return Response{Message: "Command not valid in this state"}, nil
	}

	mechanism := strings.ToUpper(a.mechanism)
	if !srv.IsAuthTypeSupported(mechanism) {
		return Response{Message: "Unrecognized authentication type"}, nil
	}
	factory, ok := srv.Authenticators().Lookup(mechanism)
	if !ok {
		return Response{Message: "Unrecognized authentication type"}, nil
	}

	var initial []byte
	if a.initial != "" {
		decoded, err := server.DecodeSASLResponse(a.initial)
		if err != nil {
			srv.Collector().AuthAttempt(protocolName, mechanism, false)
			return Response{Message: "Authentication failed"}, nil
		}
		initial = decoded
	}

	var creds *auth.Credentials
	mech := factory(auth.Options{
		Hostname: srv.Hostname(),
		Secrets:  srv.store,
		Success:  func(got auth.Credentials) { creds = &got },
	})

	err := server.RunSASL(mech, initial, conn, writeChallenge)
	if errors.Is(err, server.ErrAuthAborted) {
		srv.Collector().AuthAttempt(protocolName, mechanism, false)
		return Response{Message: "Authentication aborted"}, nil
	}
	if err != nil || creds == nil {
		srv.Collector().AuthAttempt(protocolName, mechanism, false)
		return Response{Message: "Authentication failed"}, nil
	}

	mb := srv.store.FindMailbox(creds.Username)
	if mb == nil {
		srv.Collector().AuthAttempt(protocolName, mechanism, false)
		return Response{Message: "Authentication failed"}, nil
	}

	sess.login(mechanism, creds.Username, mb)
	srv.Collector().AuthAttempt(protocolName, mechanism, true)
	return Response{OK: true, Message: "Authentication successful"}, nil
}

// writeChallenge emits one SASL continuation line in POP3 framing.
func writeChallenge(conn *server.Conn, challenge string) error {
	return conn.WriteLine("+ " + challenge)
}

// quitCommand implements the QUIT command (RFC 1939). In the
// TRANSACTION state it enters UPDATE and expunges messages marked
// deleted; in AUTHORIZATION it just ends the session.
type quitCommand struct{}

func parseQuit(parameters string) (Command, error) {
	if parameters != "" {
		return nil, errors.New("QUIT command takes no arguments")
	}
	return &quitCommand{}, nil
}

func (q *quitCommand) String() string { return "QUIT" }

func (q *quitCommand) Execute(ctx context.Context, srv *Server, sess *Session, conn *server.Conn) (Response, error) {
	sess.setState(StateUpdate)

	if mb := sess.Mailbox(); mb != nil {
		removed := mb.RemoveDeletedMessages()
		srv.Collector().MessageExpunged(sess.Username(), removed)
	}

	sess.Close()
	return Response{OK: true, Message: "Goodbye"}, nil
}
