package smtp

import (
	"context"
	"errors"
	"strings"

	"github.com/infodancer/mailtest/auth"
	"github.com/infodancer/mailtest/server"
)

// authCommand implements the AUTH command (RFC 4954). The SASL
// exchange runs inline on the connection: continuation lines are read
// and written here, not by the dispatch loop. Any previously
// authenticated identity is discarded before the new attempt.
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
	sess.Logout()

	mechanism := strings.ToUpper(a.mechanism)
	if !srv.IsAuthTypeSupported(mechanism) {
		return Response{Code: 504, Message: "5.5.4 Unrecognized authentication type"}, nil
	}
	factory, ok := srv.Authenticators().Lookup(mechanism)
	if !ok {
		return Response{Code: 504, Message: "5.5.4 Unrecognized authentication type"}, nil
	}

	var initial []byte
	if a.initial != "" {
		decoded, err := server.DecodeSASLResponse(a.initial)
		if err != nil {
			srv.Collector().AuthAttempt(protocolName, mechanism, false)
			return Response{Code: 535, Message: "5.7.8 Authentication failed"}, nil
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
		return Response{Code: 501, Message: "5.7.0 Authentication aborted"}, nil
	}
	if err != nil || creds == nil {
		srv.Collector().AuthAttempt(protocolName, mechanism, false)
		return Response{Code: 535, Message: "5.7.8 Authentication failed"}, nil
	}

	sess.Login(mechanism, creds.Username)
	srv.Collector().AuthAttempt(protocolName, mechanism, true)
	return Response{Code: 235, Message: "2.7.0 Authentication succeeded"}, nil
}

// writeChallenge emits one SASL continuation line in SMTP framing.
func writeChallenge(conn *server.Conn, challenge string) error {
	return conn.WriteLine("334 " + challenge)
}
