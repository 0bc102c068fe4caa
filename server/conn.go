package server

import (
	"bufio"
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/infodancer/mailtest/internal/logging"
)

// Conn wraps a net.Conn with line-oriented reads and writes, the shared
// C:/S: transcript, and optional transaction logging.
type Conn struct {
	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	log    *Log
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// ConnConfig holds configuration for a new connection.
type ConnConfig struct {
	Log            *Log
	Logger         *slog.Logger
	LogTransaction bool
}

// NewConn creates a new Conn wrapper.
func NewConn(conn net.Conn, cfg ConnConfig) *Conn {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Create connection-scoped logger with remote address
	connLogger := logging.WithConnection(logger, conn.RemoteAddr().String())

	log := cfg.Log
	if log == nil {
		log = &Log{}
	}

	c := &Conn{
		conn:   conn,
		log:    log,
		logger: connLogger,
	}

	// Set up reader/writer with optional transaction logging
	var r io.Reader = conn
	var w io.Writer = conn

	if cfg.LogTransaction {
		r = logging.NewWireReader(conn, connLogger, "recv")
		w = logging.NewWireWriter(conn, connLogger, "send")
	}

	c.reader = bufio.NewReader(r)
	c.writer = bufio.NewWriter(w)

	return c
}

// ReadLine reads one line, strips the trailing CRLF, and records it in
// the transcript with a C: prefix. A partial line at EOF is returned
// without error; the next call reports the error.
func (c *Conn) ReadLine() (string, error) {
	line, err := c.reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	c.log.Append("C: " + line + "\n")
	return line, nil
}

// WriteLine writes one line with a trailing CRLF, flushes it, and
// records it in the transcript with an S: prefix.
func (c *Conn) WriteLine(line string) error {
	if _, err := c.writer.WriteString(line + "\r\n"); err != nil {
		return err
	}
	if err := c.writer.Flush(); err != nil {
		return err
	}
	c.log.Append("S: " + line + "\n")
	return nil
}

// Logger returns the connection-scoped logger.
func (c *Conn) Logger() *slog.Logger {
	return c.logger
}

// RemoteAddr returns the remote address of the connection.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local address of the connection.
func (c *Conn) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// IsTLS returns true if the connection is encrypted with TLS.
func (c *Conn) IsTLS() bool {
	_, ok := c.conn.(*tls.Conn)
	return ok
}

// TLSProtocol returns the negotiated TLS version name, or "" for a
// plaintext connection.
func (c *Conn) TLSProtocol() string {
	tc, ok := c.conn.(*tls.Conn)
	if !ok {
		return ""
	}
	return tls.VersionName(tc.ConnectionState().Version)
}

// TLSCipherSuite returns the negotiated cipher suite name, or "" for a
// plaintext connection.
func (c *Conn) TLSCipherSuite() string {
	tc, ok := c.conn.(*tls.Conn)
	if !ok {
		return ""
	}
	return tls.CipherSuiteName(tc.ConnectionState().CipherSuite)
}

// Close closes the connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	c.logger.Debug("connection closed")
	return c.conn.Close()
}
