// Package metrics provides interfaces and implementations for collecting
// mail test server metrics. This package defines the Collector interface
// for recording metrics and the Server interface for exposing them.
package metrics

import "context"

// Collector defines the interface for recording mail server metrics.
// One collector can be shared by the SMTP and POP3 servers, so the
// connection and command metrics carry a protocol label.
type Collector interface {
	// Connection metrics
	ConnectionOpened(protocol string)
	ConnectionClosed(protocol string)
	TLSConnectionEstablished(protocol string)

	// Command metrics
	CommandProcessed(protocol string, command string)

	// Authentication metrics
	AuthAttempt(protocol string, mechanism string, success bool)

	// Message metrics
	MessageDelivered(recipient string, sizeBytes int64)
	MessageRetrieved(username string, sizeBytes int64)
	MessageListed(username string)
	MessageDeleted(username string)
	MessageExpunged(username string, count int)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is canceled
	// or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
