package server

import "errors"

var (
	// ErrAlreadyRunning is returned by Start when the server is listening.
	ErrAlreadyRunning = errors.New("server already running")

	// ErrShutdownTimeout is returned by Stop when the worker does not
	// exit within the shutdown grace period.
	ErrShutdownTimeout = errors.New("timeout waiting for server to stop")

	// ErrInvalidPort is returned when a port is outside 0-65535.
	ErrInvalidPort = errors.New("port out of range")

	// ErrUnknownTLSProtocol is returned for an unrecognized TLS protocol name.
	ErrUnknownTLSProtocol = errors.New("unknown TLS protocol")

	// ErrUnknownAuthType is returned when enabling an unregistered
	// authentication mechanism.
	ErrUnknownAuthType = errors.New("unknown authentication type")

	// ErrAuthAborted is returned by RunSASL when the client cancels the
	// exchange with a "*" line.
	ErrAuthAborted = errors.New("authentication aborted")
)
