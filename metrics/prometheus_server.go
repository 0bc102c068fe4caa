package metrics

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusServer serves the metrics scrape endpoint over HTTP.
type PrometheusServer struct {
	addr   string
	server *http.Server
}

// NewPrometheusServer creates a PrometheusServer exposing the given gatherer
// at the specified address and path. A nil gatherer serves the default
// registry.
func NewPrometheusServer(address, path string, gatherer prometheus.Gatherer) *PrometheusServer {
	handler := promhttp.Handler()
	if gatherer != nil {
		handler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	}

	mux := http.NewServeMux()
	mux.Handle(path, handler)

	return &PrometheusServer{
		addr: address,
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start listens on the configured address and serves scrapes until the
// context is canceled or serving fails. A close initiated by Shutdown
// returns nil.
func (s *PrometheusServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.addr, err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown stops the scrape endpoint, waiting for in-flight requests.
func (s *PrometheusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
