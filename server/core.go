package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/infodancer/mailtest/auth"
	"github.com/infodancer/mailtest/internal/logging"
	"github.com/infodancer/mailtest/metrics"
)

// ConnectionHandler is called for each accepted connection. It owns
// the protocol conversation from greeting to close.
type ConnectionHandler func(ctx context.Context, conn *Conn) error

// Session is the constraint for the session type managed by a Core.
type Session interface {
	Close()
	Closed() bool
}

// shutdownTimeout bounds how long Stop waits for the worker to finish
// the connection it is handling.
const shutdownTimeout = 5 * time.Second

// Core implements the lifecycle and configuration shared by the
// protocol servers: a loopback listener, a single worker goroutine
// that handles one connection at a time, the session history, and the
// knobs a test harness turns between runs. S is the protocol's session
// type.
//
// Configuration setters only affect listeners opened by a later Start.
// SetHandler, SetLogger, and SetCollector must be called before Start.
type Core[S Session] struct {
	protocol  string
	logger    *slog.Logger
	collector metrics.Collector
	handler   ConnectionHandler
	auth      *auth.Registry

	mu           sync.Mutex
	hostname     string
	port         int
	useTLS       bool
	tlsProtocol  string
	authRequired bool
	authTypes    []string
	clock        func() time.Time
	cert         tls.Certificate
	haveCert     bool
	running      bool
	listener     net.Listener
	done         chan struct{}

	stopping atomic.Bool

	log Log

	sessMu    sync.Mutex
	sessions  []S
	active    S
	hasActive bool
}

// CoreConfig holds configuration for creating a new Core.
type CoreConfig struct {
	Protocol  string
	Hostname  string
	Logger    *slog.Logger
	Collector metrics.Collector
}

// NewCore creates a stopped Core. No authentication types are enabled
// until SetAuthTypes is called, matching a server that does not offer
// AUTH at all.
func NewCore[S Session](cfg CoreConfig) *Core[S] {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.NewLogger("info")
	}
	collector := cfg.Collector
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	hostname := cfg.Hostname
	if hostname == "" {
		hostname = "localhost"
	}

	return &Core[S]{
		protocol:    cfg.Protocol,
		logger:      logger,
		collector:   collector,
		auth:        auth.NewRegistry(),
		hostname:    hostname,
		tlsProtocol: "TLSv1.2",
		clock:       time.Now,
	}
}

// SetHandler sets the connection handler. Must be called before Start.
func (c *Core[S]) SetHandler(handler ConnectionHandler) {
	c.handler = handler
}

// SetLogger replaces the server logger. Must be called before Start.
func (c *Core[S]) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = logging.NewLogger("info")
	}
	c.logger = logger
}

// Logger returns the server logger.
func (c *Core[S]) Logger() *slog.Logger {
	return c.logger
}

// SetCollector replaces the metrics collector. Must be called before
// Start.
func (c *Core[S]) SetCollector(collector metrics.Collector) {
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	c.collector = collector
}

// Collector returns the metrics collector.
func (c *Core[S]) Collector() metrics.Collector {
	return c.collector
}

// Start opens the listener on the loopback interface and launches the
// worker goroutine. With port 0 the kernel picks a free port, which
// Port then reports.
func (c *Core[S]) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}

	addr := fmt.Sprintf("127.0.0.1:%d", c.port)

	var ln net.Listener
	var err error
	if c.useTLS {
		if !c.haveCert {
			c.cert, err = selfSignedCertificate()
			if err != nil {
				c.mu.Unlock()
				return err
			}
			c.haveCert = true
		}
		ln, err = tls.Listen("tcp", addr, selfSignedConfig(c.cert, c.tlsProtocol))
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		c.mu.Unlock()
		return err
	}

	c.listener = ln
	c.running = true
	c.stopping.Store(false)
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	logger := logging.WithListener(c.logger, ln.Addr().String(), c.protocol)
	logger.Info("server started")

	go c.serve(ln, logger, done)
	return nil
}

// Stop closes the listener and waits for the worker to finish. A
// connection being handled is allowed to complete; Stop gives up after
// the shutdown timeout. Stopping a server that is not running is a
// no-op. The server can be started again afterwards.
func (c *Core[S]) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.stopping.Store(true)
	ln := c.listener
	done := c.done
	c.listener = nil
	c.running = false
	c.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		return ErrShutdownTimeout
	}

	c.logger.Info("server stopped", slog.String("protocol", c.protocol))
	return nil
}

// Running reports whether the server is listening.
func (c *Core[S]) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// serve accepts and handles connections one at a time until the
// listener is closed.
func (c *Core[S]) serve(ln net.Listener, logger *slog.Logger, done chan struct{}) {
	defer close(done)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if c.stopping.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error("accept error", slog.String("error", err.Error()))
			return
		}

		c.handleConn(conn)

		if c.stopping.Load() {
			return
		}
	}
}

// handleConn wraps one accepted connection and runs the protocol
// handler over it. The shared transcript is reset so it only ever
// holds the most recent connection.
func (c *Core[S]) handleConn(netConn net.Conn) {
	c.collector.ConnectionOpened(c.protocol)
	defer c.collector.ConnectionClosed(c.protocol)

	if tc, ok := netConn.(*tls.Conn); ok {
		if err := tc.Handshake(); err != nil {
			c.logger.Debug("TLS handshake failed", slog.String("error", err.Error()))
			_ = netConn.Close()
			return
		}
		c.collector.TLSConnectionEstablished(c.protocol)
	}

	c.log.Reset()

	conn := NewConn(netConn, ConnConfig{
		Log:            &c.log,
		Logger:         c.logger,
		LogTransaction: c.logger.Enabled(context.Background(), slog.LevelDebug),
	})
	defer func() {
		_ = conn.Close()
		c.EndSession()
	}()

	conn.Logger().Info("connection accepted")

	ctx := logging.NewContext(context.Background(), conn.Logger())
	if c.handler != nil {
		if err := c.handler(ctx, conn); err != nil {
			conn.Logger().Debug("connection handler error", slog.String("error", err.Error()))
		}
	}
}

// Protocol returns the protocol name the Core was created with.
func (c *Core[S]) Protocol() string {
	return c.protocol
}

// Hostname returns the hostname used in greetings and challenges.
func (c *Core[S]) Hostname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hostname
}

// SetHostname sets the hostname used in greetings and challenges.
func (c *Core[S]) SetHostname(hostname string) {
	c.mu.Lock()
	c.hostname = hostname
	c.mu.Unlock()
}

// Port returns the actual port while the server is listening, and the
// configured port otherwise.
func (c *Core[S]) Port() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener != nil {
		if addr, ok := c.listener.Addr().(*net.TCPAddr); ok {
			return addr.Port
		}
	}
	return c.port
}

// SetPort sets the port for the next Start. Port 0 selects a free
// port.
func (c *Core[S]) SetPort(port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	c.mu.Lock()
	c.port = port
	c.mu.Unlock()
	return nil
}

// Addr returns the listen address as host:port.
func (c *Core[S]) Addr() string {
	return fmt.Sprintf("127.0.0.1:%d", c.Port())
}

// UseTLS reports whether the listener wraps connections in TLS.
func (c *Core[S]) UseTLS() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.useTLS
}

// SetTLS enables or disables implicit TLS for the next Start.
func (c *Core[S]) SetTLS(useTLS bool) {
	c.mu.Lock()
	c.useTLS = useTLS
	c.mu.Unlock()
}

// TLSProtocol returns the protocol version offered by a TLS listener.
func (c *Core[S]) TLSProtocol() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tlsProtocol
}

// SetTLSProtocol pins the TLS listener to a single protocol version
// such as "TLSv1.2".
func (c *Core[S]) SetTLSProtocol(protocol string) error {
	if _, ok := tlsVersions[protocol]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTLSProtocol, protocol)
	}
	c.mu.Lock()
	c.tlsProtocol = protocol
	c.mu.Unlock()
	return nil
}

// Certificate returns the self-signed certificate used by the TLS
// listener, generating it if needed. Test clients can add it to their
// root pool instead of disabling verification.
func (c *Core[S]) Certificate() (*x509.Certificate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.haveCert {
		cert, err := selfSignedCertificate()
		if err != nil {
			return nil, err
		}
		c.cert = cert
		c.haveCert = true
	}
	return c.cert.Leaf, nil
}

// AuthenticationRequired reports whether clients must authenticate
// before submitting or reading mail.
func (c *Core[S]) AuthenticationRequired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authRequired
}

// SetAuthenticationRequired makes authentication mandatory for
// protected operations.
func (c *Core[S]) SetAuthenticationRequired(required bool) {
	c.mu.Lock()
	c.authRequired = required
	c.mu.Unlock()
}

// AuthTypes returns the enabled authentication mechanisms in offer
// order.
func (c *Core[S]) AuthTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.authTypes))
	copy(out, c.authTypes)
	return out
}

// SetAuthTypes replaces the enabled mechanism list. Every mechanism
// must be registered; on error the previous list is kept.
func (c *Core[S]) SetAuthTypes(authTypes ...string) error {
	normalized := make([]string, 0, len(authTypes))
	for _, authType := range authTypes {
		authType = strings.ToUpper(authType)
		if !c.auth.Registered(authType) {
			return fmt.Errorf("%w: %s", ErrUnknownAuthType, authType)
		}
		normalized = append(normalized, authType)
	}
	c.mu.Lock()
	c.authTypes = normalized
	c.mu.Unlock()
	return nil
}

// AddAuthType appends a mechanism to the enabled list, moving it to
// the end if already enabled.
func (c *Core[S]) AddAuthType(authType string) error {
	authType = strings.ToUpper(authType)
	if !c.auth.Registered(authType) {
		return fmt.Errorf("%w: %s", ErrUnknownAuthType, authType)
	}
	c.mu.Lock()
	kept := c.authTypes[:0]
	for _, t := range c.authTypes {
		if t != authType {
			kept = append(kept, t)
		}
	}
	c.authTypes = append(kept, authType)
	c.mu.Unlock()
	return nil
}

// RemoveAuthType removes a mechanism from the enabled list.
func (c *Core[S]) RemoveAuthType(authType string) {
	authType = strings.ToUpper(authType)
	c.mu.Lock()
	kept := c.authTypes[:0]
	for _, t := range c.authTypes {
		if t != authType {
			kept = append(kept, t)
		}
	}
	c.authTypes = kept
	c.mu.Unlock()
}

// IsAuthTypeSupported reports whether a mechanism is on the enabled
// list.
func (c *Core[S]) IsAuthTypeSupported(authType string) bool {
	authType = strings.ToUpper(authType)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.authTypes {
		if t == authType {
			return true
		}
	}
	return false
}

// Authenticators returns the mechanism registry, so tests can add
// custom mechanisms before enabling them with SetAuthTypes.
func (c *Core[S]) Authenticators() *auth.Registry {
	return c.auth
}

// Now returns the current time according to the server clock.
func (c *Core[S]) Now() time.Time {
	c.mu.Lock()
	clock := c.clock
	c.mu.Unlock()
	return clock()
}

// SetClock replaces the server clock. Tests use a fixed clock to make
// the POP3 greeting timestamp deterministic. A nil clock restores the
// system clock.
func (c *Core[S]) SetClock(clock func() time.Time) {
	if clock == nil {
		clock = time.Now
	}
	c.mu.Lock()
	c.clock = clock
	c.mu.Unlock()
}

// Log returns the C:/S: transcript of the most recent connection.
func (c *Core[S]) Log() string {
	return c.log.String()
}

// BeginSession appends a session to the history and makes it the
// active session.
func (c *Core[S]) BeginSession(sess S) {
	c.sessMu.Lock()
	c.sessions = append(c.sessions, sess)
	c.active = sess
	c.hasActive = true
	c.sessMu.Unlock()
}

// EndSession closes the active session if the handler has not already
// done so, and clears the active slot. The session stays in the
// history.
func (c *Core[S]) EndSession() {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if !c.hasActive {
		return
	}
	if !c.active.Closed() {
		c.active.Close()
	}
	var zero S
	c.active = zero
	c.hasActive = false
}

// ActiveSession returns the session of the connection currently being
// handled, or the zero session value when there is none.
func (c *Core[S]) ActiveSession() S {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.active
}

// Sessions returns a snapshot of all sessions handled since the server
// was created, oldest first.
func (c *Core[S]) Sessions() []S {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	out := make([]S, len(c.sessions))
	copy(out, c.sessions)
	return out
}
