// Package smtp_test contains round-trip tests for the SMTP server.
// A line-level client asserts the exact wire dialogue; a real SMTP
// client library (emersion/go-smtp) proves interoperability end to
// end, including dot-stuffing and SASL.
package smtp_test

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/infodancer/mailtest/internal/logging"
	"github.com/infodancer/mailtest/mailbox"
	"github.com/infodancer/mailtest/pop3"
	"github.com/infodancer/mailtest/smtp"
)

// testEnv is a running SMTP server plus its backing store.
type testEnv struct {
	srv   *smtp.Server
	store *mailbox.Store
}

// newTestEnv starts an SMTP server on a random loopback port. t.Cleanup
// handles teardown.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := mailbox.NewStore()
	srv := smtp.NewServer(store)
	srv.SetLogger(logging.NewLogger("error"))
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Stop() })

	return &testEnv{srv: srv, store: store}
}

// dial opens a connection to the test server and wraps it in a
// smtpTestClient.
func (e *testEnv) dial(t *testing.T) *smtpTestClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", e.srv.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", e.srv.Addr(), err)
	}
	c := &smtpTestClient{conn: conn, r: bufio.NewReader(conn)}
	t.Cleanup(func() { _ = conn.Close() })
	return c
}

// smtpTestClient is a thin SMTP protocol driver for round-trip tests.
type smtpTestClient struct {
	conn net.Conn
	r    *bufio.Reader
}

func (c *smtpTestClient) readLine() string {
	line, _ := c.r.ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

func (c *smtpTestClient) send(t *testing.T, cmd string) {
	t.Helper()
	if _, err := fmt.Fprintf(c.conn, "%s\r\n", cmd); err != nil {
		t.Fatalf("send %q: %v", cmd, err)
	}
}

// mustReply asserts the next reply line is exactly want.
func (c *smtpTestClient) mustReply(t *testing.T, want string) {
	t.Helper()
	if got := c.readLine(); got != want {
		t.Fatalf("reply = %q, want %q", got, want)
	}
}

// Greet reads and asserts the service banner.
func (c *smtpTestClient) Greet(t *testing.T) {
	t.Helper()
	c.mustReply(t, "220 localhost Service ready")
}

// Ehlo sends EHLO and returns all reply lines of the multiline
// response.
func (c *smtpTestClient) Ehlo(t *testing.T, host string) []string {
	t.Helper()
	c.send(t, "EHLO "+host)
	var lines []string
	for {
		line := c.readLine()
		lines = append(lines, line)
		if len(line) < 4 || line[3] != '-' {
			return lines
		}
	}
}

func TestRoundTrip_Greeting(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	c.Greet(t)

	if env.srv.ActiveSession() == nil {
		t.Fatal("no active session after greeting")
	}
}

func TestRoundTrip_HeloEhlo(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	c.Greet(t)

	c.send(t, "HELO client.example")
	c.mustReply(t, "250 localhost")

	// With nothing configured the extension list is empty.
	lines := c.Ehlo(t, "client.example")
	want := []string{"250-localhost Hello client.example", "250 OK"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("EHLO = %v, want %v", lines, want)
	}

	// Configured mechanisms appear as an AUTH extension; enabling
	// STARTTLS advertises it.
	if err := env.srv.SetAuthTypes("PLAIN", "LOGIN"); err != nil {
		t.Fatalf("SetAuthTypes() error = %v", err)
	}
	env.srv.SetCommandEnabled("STARTTLS", true)

	lines = c.Ehlo(t, "client.example")
	want = []string{"250-localhost Hello client.example", "250-STARTTLS", "250-AUTH PLAIN LOGIN", "250 OK"}
	if !reflect.DeepEqual(lines, want) {
		t.Errorf("EHLO = %v, want %v", lines, want)
	}
}

func TestRoundTrip_SubmissionScenario(t *testing.T) {
	env := newTestEnv(t)
	alice := env.store.AddMailbox("alice", "password", "alice@localhost")
	bob := env.store.AddMailbox("bob", "pw", "bob@localhost")
	if err := env.srv.SetAuthTypes("PLAIN"); err != nil {
		t.Fatalf("SetAuthTypes() error = %v", err)
	}

	c := env.dial(t)
	c.Greet(t)

	lines := c.Ehlo(t, "localhost")
	want := []string{"250-localhost Hello localhost", "250-AUTH PLAIN", "250 OK"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("EHLO = %v, want %v", lines, want)
	}

	c.send(t, "AUTH PLAIN AGFsaWNlAHBhc3N3b3Jk")
	c.mustReply(t, "235 2.7.0 Authentication succeeded")

	c.send(t, "MAIL FROM:<alice@localhost>")
	c.mustReply(t, "250 2.1.0 Ok")
	c.send(t, "RCPT TO:<bob@localhost>")
	c.mustReply(t, "250 2.1.5 Ok")

	c.send(t, "DATA")
	c.mustReply(t, "354 Send message, end with <CRLF>.<CRLF>")
	for _, line := range []string{"Subject: Hi", "", "Hello", "..", "."} {
		c.send(t, line)
	}
	c.mustReply(t, "250 2.6.0 Message accepted")

	wantBody := "Subject: Hi\r\n\r\nHello\r\n."
	msgs := bob.Messages()
	if len(msgs) != 1 || msgs[0].Content() != wantBody {
		t.Fatalf("bob has %d messages, want one with %q", len(msgs), wantBody)
	}
	if len(alice.Messages()) != 0 {
		t.Error("alice's mailbox was modified")
	}
	if got, ok := env.srv.Message(); !ok || got != wantBody {
		t.Errorf("Message() = %q, %v, want %q, true", got, ok, wantBody)
	}

	sess := env.srv.ActiveSession()
	if sess == nil {
		t.Fatal("no active session")
	}
	if got := sess.Username(); got != "alice" {
		t.Errorf("Username() = %q, want %q", got, "alice")
	}
	if got := sess.AuthType(); got != "PLAIN" {
		t.Errorf("AuthType() = %q, want %q", got, "PLAIN")
	}
	if got := sess.Helo(); got != "localhost" {
		t.Errorf("Helo() = %q, want %q", got, "localhost")
	}
	if sess.InTransaction() {
		t.Error("envelope not cleared after delivery")
	}
	if got, ok := sess.Message(); !ok || got != wantBody {
		t.Errorf("session Message() = %q, %v, want %q, true", got, ok, wantBody)
	}

	// The history holds the parsed commands; the body lines never
	// reach the dispatcher.
	var history []string
	for _, cmd := range sess.Commands() {
		history = append(history, cmd.String())
	}
	wantHistory := []string{
		"EHLO localhost",
		"AUTH PLAIN AGFsaWNlAHBhc3N3b3Jk",
		"MAIL FROM:<alice@localhost>",
		"RCPT TO:<bob@localhost>",
		"DATA",
	}
	if !reflect.DeepEqual(history, wantHistory) {
		t.Errorf("command history = %v, want %v", history, wantHistory)
	}

	c.send(t, "QUIT")
	c.mustReply(t, "221 2.0.0 Goodbye")
}

func TestRoundTrip_AuthRequired(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddMailbox("alice", "pw", "alice@localhost")
	env.store.AddMailbox("bob", "pw", "bob@localhost")
	if err := env.srv.SetAuthTypes("PLAIN"); err != nil {
		t.Fatalf("SetAuthTypes() error = %v", err)
	}
	env.srv.SetAuthenticationRequired(true)

	c := env.dial(t)
	c.Greet(t)

	c.send(t, "MAIL FROM:<x@y>")
	c.mustReply(t, "530 5.7.0 Authentication required")

	// The envelope precondition is checked before the auth guard.
	c.send(t, "DATA")
	c.mustReply(t, "503 5.5.1 Bad sequence of commands")

	token := base64.StdEncoding.EncodeToString([]byte("\x00alice\x00pw"))
	c.send(t, "AUTH PLAIN "+token)
	c.mustReply(t, "235 2.7.0 Authentication succeeded")

	c.send(t, "MAIL FROM:<alice@localhost>")
	c.mustReply(t, "250 2.1.0 Ok")
}

func TestRoundTrip_BadSequence(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddMailbox("bob", "pw", "bob@localhost")

	c := env.dial(t)
	c.Greet(t)

	c.send(t, "RCPT TO:<bob@localhost>")
	c.mustReply(t, "503 5.5.1 Bad sequence of commands")
	c.send(t, "DATA")
	c.mustReply(t, "503 5.5.1 Bad sequence of commands")

	c.send(t, "MAIL FROM:<alice@localhost>")
	c.mustReply(t, "250 2.1.0 Ok")
	c.send(t, "MAIL FROM:<alice@localhost>")
	c.mustReply(t, "503 5.5.1 Bad sequence of commands")

	// DATA still needs a recipient.
	c.send(t, "DATA")
	c.mustReply(t, "503 5.5.1 Bad sequence of commands")

	// RSET drops the envelope, so RCPT loses its sender.
	c.send(t, "RCPT TO:<bob@localhost>")
	c.mustReply(t, "250 2.1.5 Ok")
	c.send(t, "RSET")
	c.mustReply(t, "250 2.0.0 Ok")
	c.send(t, "RCPT TO:<bob@localhost>")
	c.mustReply(t, "503 5.5.1 Bad sequence of commands")
	c.send(t, "MAIL FROM:<alice@localhost>")
	c.mustReply(t, "250 2.1.0 Ok")
}

func TestRoundTrip_ParseErrors(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	c.Greet(t)

	tests := []struct {
		cmd  string
		want string
	}{
		{"MAIL alice", "501 5.5.4 MAIL command requires FROM:<address>"},
		{"MAIL FROM:alice@localhost", "501 5.5.4 MAIL command requires FROM:<address>"},
		{"RCPT bob", "501 5.5.4 RCPT command requires TO:<address>"},
		{"DATA now", "501 5.5.4 DATA command takes no arguments"},
		{"HELO", "501 5.5.4 HELO command requires a hostname"},
		{"AUTH", "501 5.5.4 AUTH command requires an authentication type"},
	}
	for _, tt := range tests {
		c.send(t, tt.cmd)
		c.mustReply(t, tt.want)
	}
}

func TestRoundTrip_UnknownAndDisabled(t *testing.T) {
	env := newTestEnv(t)
	c := env.dial(t)
	c.Greet(t)

	c.send(t, "XYZZY")
	c.mustReply(t, "500 5.5.1 Unknown command")

	// STARTTLS ships disabled.
	c.send(t, "STARTTLS")
	c.mustReply(t, "502 5.5.1 Disabled command")
	env.srv.SetCommandEnabled("STARTTLS", true)
	c.send(t, "STARTTLS")
	c.mustReply(t, "454 4.7.0 TLS not available")

	env.srv.SetCommandEnabled("NOOP", false)
	c.send(t, "NOOP")
	c.mustReply(t, "502 5.5.1 Disabled command")
	env.srv.SetCommandEnabled("NOOP", true)
	c.send(t, "NOOP")
	c.mustReply(t, "250 2.0.0 Ok")
}

func TestRoundTrip_VrfyNeverVerifies(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddMailbox("bob", "pw", "bob@localhost")

	c := env.dial(t)
	c.Greet(t)

	c.send(t, "VRFY bob@localhost")
	c.mustReply(t, "252 2.5.0 Cannot verify user")
	c.send(t, "VRFY nobody@localhost")
	c.mustReply(t, "252 2.5.0 Cannot verify user")
}

func TestRoundTrip_AuthLoginPrompts(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddMailbox("alice", "pw", "alice@localhost")
	if err := env.srv.SetAuthTypes("LOGIN"); err != nil {
		t.Fatalf("SetAuthTypes() error = %v", err)
	}

	c := env.dial(t)
	c.Greet(t)

	c.send(t, "AUTH LOGIN")
	c.mustReply(t, "334 VXNlcm5hbWU6")
	c.send(t, base64.StdEncoding.EncodeToString([]byte("alice")))
	c.mustReply(t, "334 UGFzc3dvcmQ6")
	c.send(t, base64.StdEncoding.EncodeToString([]byte("pw")))
	c.mustReply(t, "235 2.7.0 Authentication succeeded")
}

func TestRoundTrip_AuthFailures(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddMailbox("alice", "pw", "alice@localhost")
	if err := env.srv.SetAuthTypes("PLAIN"); err != nil {
		t.Fatalf("SetAuthTypes() error = %v", err)
	}

	c := env.dial(t)
	c.Greet(t)

	c.send(t, "AUTH CRAM-MD5")
	c.mustReply(t, "504 5.5.4 Unrecognized authentication type")

	c.send(t, "AUTH PLAIN !!!")
	c.mustReply(t, "535 5.7.8 Authentication failed")

	wrong := base64.StdEncoding.EncodeToString([]byte("\x00alice\x00wrong"))
	c.send(t, "AUTH PLAIN "+wrong)
	c.mustReply(t, "535 5.7.8 Authentication failed")

	c.send(t, "AUTH PLAIN")
	c.mustReply(t, "334 ")
	c.send(t, "*")
	c.mustReply(t, "501 5.7.0 Authentication aborted")

	good := base64.StdEncoding.EncodeToString([]byte("\x00alice\x00pw"))
	c.send(t, "AUTH PLAIN "+good)
	c.mustReply(t, "235 2.7.0 Authentication succeeded")

	// A failed AUTH discards the previous identity.
	c.send(t, "AUTH PLAIN "+wrong)
	c.mustReply(t, "535 5.7.8 Authentication failed")
	sess := env.srv.ActiveSession()
	if sess == nil {
		t.Fatal("no active session")
	}
	if sess.Authenticated() {
		t.Error("session still authenticated after a failed AUTH")
	}
}

func TestRoundTrip_UnknownRecipientSkipped(t *testing.T) {
	env := newTestEnv(t)
	bob := env.store.AddMailbox("bob", "pw", "bob@localhost")

	c := env.dial(t)
	c.Greet(t)

	c.send(t, "MAIL FROM:<alice@localhost>")
	c.mustReply(t, "250 2.1.0 Ok")
	c.send(t, "RCPT TO:<carol@localhost>")
	c.mustReply(t, "250 2.1.5 Ok")
	c.send(t, "RCPT TO:<bob@localhost>")
	c.mustReply(t, "250 2.1.5 Ok")

	c.send(t, "DATA")
	c.mustReply(t, "354 Send message, end with <CRLF>.<CRLF>")
	c.send(t, "Hello")
	c.send(t, ".")
	c.mustReply(t, "250 2.6.0 Message accepted")

	msgs := bob.Messages()
	if len(msgs) != 1 || msgs[0].Content() != "Hello" {
		t.Fatalf("bob has %d messages, want one with %q", len(msgs), "Hello")
	}
}

func TestRoundTrip_DuplicateRecipients(t *testing.T) {
	env := newTestEnv(t)
	bob := env.store.AddMailbox("bob", "pw", "bob@localhost")

	c := env.dial(t)
	c.Greet(t)

	c.send(t, "MAIL FROM:<alice@localhost>")
	c.mustReply(t, "250 2.1.0 Ok")
	c.send(t, "RCPT TO:<bob@localhost>")
	c.mustReply(t, "250 2.1.5 Ok")
	c.send(t, "RCPT TO:<bob@localhost>")
	c.mustReply(t, "250 2.1.5 Ok")

	c.send(t, "DATA")
	c.mustReply(t, "354 Send message, end with <CRLF>.<CRLF>")
	c.send(t, "Hello")
	c.send(t, ".")
	c.mustReply(t, "250 2.6.0 Message accepted")

	if got := len(bob.Messages()); got != 2 {
		t.Fatalf("bob has %d messages, want 2", got)
	}
}

func TestRoundTrip_EmptyBody(t *testing.T) {
	env := newTestEnv(t)
	bob := env.store.AddMailbox("bob", "pw", "bob@localhost")

	c := env.dial(t)
	c.Greet(t)

	c.send(t, "MAIL FROM:<alice@localhost>")
	c.mustReply(t, "250 2.1.0 Ok")
	c.send(t, "RCPT TO:<bob@localhost>")
	c.mustReply(t, "250 2.1.5 Ok")
	c.send(t, "DATA")
	c.mustReply(t, "354 Send message, end with <CRLF>.<CRLF>")
	c.send(t, ".")
	c.mustReply(t, "250 2.6.0 Message accepted")

	msgs := bob.Messages()
	if len(msgs) != 1 || msgs[0].Content() != "" {
		t.Fatalf("bob has %d messages, want one empty message", len(msgs))
	}
	if got, ok := env.srv.Message(); !ok || got != "" {
		t.Errorf("Message() = %q, %v, want empty, true", got, ok)
	}
}

func TestRoundTrip_Transcript(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddMailbox("bob", "pw", "bob@localhost")

	c := env.dial(t)
	c.Greet(t)
	c.send(t, "MAIL FROM:<alice@localhost>")
	c.mustReply(t, "250 2.1.0 Ok")
	c.send(t, "RCPT TO:<bob@localhost>")
	c.mustReply(t, "250 2.1.5 Ok")
	c.send(t, "DATA")
	c.mustReply(t, "354 Send message, end with <CRLF>.<CRLF>")
	c.send(t, "Hello")
	c.send(t, ".")
	c.mustReply(t, "250 2.6.0 Message accepted")

	log := env.srv.Log()
	if !strings.HasPrefix(log, "S: 220 localhost Service ready\n") {
		t.Errorf("log does not start with the banner:\n%s", log)
	}
	for _, want := range []string{
		"C: MAIL FROM:<alice@localhost>\n",
		"S: 250 2.1.0 Ok\n",
		"S: 354 Send message, end with <CRLF>.<CRLF>\n",
		"C: Hello\n",
		"C: .\n",
		"S: 250 2.6.0 Message accepted\n",
	} {
		if !strings.Contains(log, want) {
			t.Errorf("log missing %q:\n%s", want, log)
		}
	}
}

func TestRoundTrip_GoSMTPClient(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddMailbox("alice", "password", "alice@localhost")
	bob := env.store.AddMailbox("bob", "pw", "bob@localhost")
	if err := env.srv.SetAuthTypes("PLAIN"); err != nil {
		t.Fatalf("SetAuthTypes() error = %v", err)
	}

	cl, err := gosmtp.Dial(env.srv.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer cl.Close()

	if err := cl.Hello("localhost"); err != nil {
		t.Fatalf("Hello() error = %v", err)
	}
	if err := cl.Auth(sasl.NewPlainClient("", "alice", "password")); err != nil {
		t.Fatalf("Auth() error = %v", err)
	}
	if err := cl.Mail("alice@localhost", nil); err != nil {
		t.Fatalf("Mail() error = %v", err)
	}
	if err := cl.Rcpt("bob@localhost", nil); err != nil {
		t.Fatalf("Rcpt() error = %v", err)
	}

	w, err := cl.Data()
	if err != nil {
		t.Fatalf("Data() error = %v", err)
	}
	body := "Subject: Hi\r\n\r\nHello"
	if _, err := w.Write([]byte(body)); err != nil {
		t.Fatalf("write body: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close body: %v", err)
	}
	if err := cl.Quit(); err != nil {
		t.Fatalf("Quit() error = %v", err)
	}

	msgs := bob.Messages()
	if len(msgs) != 1 || msgs[0].Content() != body {
		t.Fatalf("bob has %d messages, want one with %q", len(msgs), body)
	}
}

func TestRoundTrip_GoSMTPClientAuthRejected(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddMailbox("alice", "password", "alice@localhost")
	if err := env.srv.SetAuthTypes("PLAIN"); err != nil {
		t.Fatalf("SetAuthTypes() error = %v", err)
	}

	cl, err := gosmtp.Dial(env.srv.Addr())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer cl.Close()

	if err := cl.Hello("localhost"); err != nil {
		t.Fatalf("Hello() error = %v", err)
	}

	err = cl.Auth(sasl.NewPlainClient("", "alice", "wrong"))
	if err == nil {
		t.Fatal("Auth() with a wrong password succeeded")
	}
	smtpErr, ok := err.(*gosmtp.SMTPError)
	if !ok {
		t.Fatalf("Auth() error = %T, want *gosmtp.SMTPError", err)
	}
	if smtpErr.Code != 535 {
		t.Errorf("Auth() error code = %d, want 535", smtpErr.Code)
	}
}

func TestRoundTrip_DeliveryVisibleToPop3(t *testing.T) {
	env := newTestEnv(t)
	env.store.AddMailbox("bob", "pw", "bob@localhost")

	c := env.dial(t)
	c.Greet(t)
	c.send(t, "MAIL FROM:<alice@localhost>")
	c.mustReply(t, "250 2.1.0 Ok")
	c.send(t, "RCPT TO:<bob@localhost>")
	c.mustReply(t, "250 2.1.5 Ok")
	c.send(t, "DATA")
	c.mustReply(t, "354 Send message, end with <CRLF>.<CRLF>")
	c.send(t, "Hello")
	c.send(t, ".")
	c.mustReply(t, "250 2.6.0 Message accepted")
	c.send(t, "QUIT")
	c.mustReply(t, "221 2.0.0 Goodbye")

	// A POP3 server on the same store sees the delivery.
	pop := pop3.NewServer(env.store)
	pop.SetLogger(logging.NewLogger("error"))
	if err := pop.Start(); err != nil {
		t.Fatalf("pop3 Start() error = %v", err)
	}
	t.Cleanup(func() { _ = pop.Stop() })

	conn, err := net.DialTimeout("tcp", pop.Addr(), 5*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", pop.Addr(), err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	r := bufio.NewReader(conn)
	readLine := func() string {
		line, _ := r.ReadString('\n')
		return strings.TrimRight(line, "\r\n")
	}

	if line := readLine(); !strings.HasPrefix(line, "+OK POP3 server ready") {
		t.Fatalf("greeting = %q", line)
	}
	fmt.Fprintf(conn, "USER bob\r\n")
	if line := readLine(); line != "+OK" {
		t.Fatalf("USER reply = %q", line)
	}
	fmt.Fprintf(conn, "PASS pw\r\n")
	if line := readLine(); line != "+OK" {
		t.Fatalf("PASS reply = %q", line)
	}
	fmt.Fprintf(conn, "RETR 1\r\n")
	if line := readLine(); line != "+OK 5 octets" {
		t.Fatalf("RETR reply = %q", line)
	}
	if line := readLine(); line != "Hello" {
		t.Fatalf("RETR content = %q", line)
	}
	if line := readLine(); line != "." {
		t.Fatalf("RETR terminator = %q", line)
	}
}
