package server

import (
	"bufio"
	"io"
	"net"
	"testing"

	"github.com/infodancer/mailtest/internal/logging"
)

func TestConnReadWriteLine(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	log := &Log{}
	conn := NewConn(srv, ConnConfig{Log: log, Logger: logging.NewLogger("error")})

	errCh := make(chan error, 1)
	go func() {
		if _, err := client.Write([]byte("USER alice\r\n")); err != nil {
			errCh <- err
			return
		}
		r := bufio.NewReader(client)
		line, err := r.ReadString('\n')
		if err != nil {
			errCh <- err
			return
		}
		if line != "+OK\r\n" {
			t.Errorf("client read %q, want +OK CRLF", line)
		}
		errCh <- nil
	}()

	line, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "USER alice" {
		t.Errorf("ReadLine = %q, want USER alice", line)
	}
	if err := conn.WriteLine("+OK"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("client: %v", err)
	}

	want := "C: USER alice\nS: +OK\n"
	if got := log.String(); got != want {
		t.Errorf("log = %q, want %q", got, want)
	}
}

func TestConnReadLinePartial(t *testing.T) {
	client, srv := net.Pipe()
	defer srv.Close()

	conn := NewConn(srv, ConnConfig{Logger: logging.NewLogger("error")})

	go func() {
		client.Write([]byte("QUIT"))
		client.Close()
	}()

	line, err := conn.ReadLine()
	if err != nil {
		t.Fatalf("ReadLine: %v", err)
	}
	if line != "QUIT" {
		t.Errorf("ReadLine = %q, want QUIT", line)
	}

	if _, err := conn.ReadLine(); err != io.EOF {
		t.Errorf("second ReadLine error = %v, want io.EOF", err)
	}
}

func TestConnPlaintextTLSInfo(t *testing.T) {
	client, srv := net.Pipe()
	defer client.Close()
	defer srv.Close()

	conn := NewConn(srv, ConnConfig{Logger: logging.NewLogger("error")})
	if conn.IsTLS() {
		t.Error("IsTLS() = true for pipe connection")
	}
	if p := conn.TLSProtocol(); p != "" {
		t.Errorf("TLSProtocol() = %q, want empty", p)
	}
	if s := conn.TLSCipherSuite(); s != "" {
		t.Errorf("TLSCipherSuite() = %q, want empty", s)
	}
}

func TestLog(t *testing.T) {
	log := &Log{}
	log.Append("C: STAT\n")
	log.Append("S: +OK 0 0\n")

	if got := log.String(); got != "C: STAT\nS: +OK 0 0\n" {
		t.Errorf("String() = %q", got)
	}

	log.Reset()
	if got := log.String(); got != "" {
		t.Errorf("String() after Reset = %q, want empty", got)
	}
}
