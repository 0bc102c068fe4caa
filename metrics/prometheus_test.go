package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPrometheusCollectorImplementsInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ Collector = NewPrometheusCollector(reg)
}

func TestPrometheusServerImplementsInterface(t *testing.T) {
	var _ Server = NewPrometheusServer(":0", "/metrics", nil)
}

func TestPrometheusCollectorMethods(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	// All methods should execute without panic
	c.ConnectionOpened("smtp")
	c.ConnectionClosed("smtp")
	c.TLSConnectionEstablished("pop3")
	c.CommandProcessed("pop3", "STAT")
	c.AuthAttempt("smtp", "PLAIN", true)
	c.AuthAttempt("pop3", "CRAM-MD5", false)
	c.MessageDelivered("alice@localhost", 512)
	c.MessageRetrieved("alice", 512)
	c.MessageListed("alice")
	c.MessageDeleted("alice")
	c.MessageExpunged("alice", 2)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	metricNames := make(map[string]bool)
	for _, mf := range mfs {
		metricNames[mf.GetName()] = true
	}

	expectedMetrics := []string{
		"mailtest_connections_total",
		"mailtest_connections_active",
		"mailtest_tls_connections_total",
		"mailtest_commands_total",
		"mailtest_auth_attempts_total",
		"mailtest_messages_delivered_total",
		"mailtest_messages_retrieved_total",
		"mailtest_messages_listed_total",
		"mailtest_messages_deleted_total",
		"mailtest_messages_expunged_total",
		"mailtest_messages_size_bytes",
	}

	for _, name := range expectedMetrics {
		if !metricNames[name] {
			t.Errorf("expected metric %q not found", name)
		}
	}
}

func TestPrometheusCollectorConnectionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.ConnectionOpened("pop3")
	c.ConnectionOpened("pop3")
	c.ConnectionOpened("pop3")
	c.ConnectionClosed("pop3")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range mfs {
		switch mf.GetName() {
		case "mailtest_connections_total":
			if len(mf.GetMetric()) == 0 {
				t.Error("connections_total has no metrics")
				continue
			}
			v := mf.GetMetric()[0].GetCounter().GetValue()
			if v != 3 {
				t.Errorf("connections_total = %v, want 3", v)
			}
		case "mailtest_connections_active":
			if len(mf.GetMetric()) == 0 {
				t.Error("connections_active has no metrics")
				continue
			}
			v := mf.GetMetric()[0].GetGauge().GetValue()
			if v != 2 {
				t.Errorf("connections_active = %v, want 2", v)
			}
		}
	}
}

func TestPrometheusCollectorAuthMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.AuthAttempt("smtp", "PLAIN", true)
	c.AuthAttempt("smtp", "PLAIN", false)
	c.AuthAttempt("pop3", "PLAIN", true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	for _, mf := range mfs {
		if mf.GetName() == "mailtest_auth_attempts_total" {
			if len(mf.GetMetric()) != 3 {
				t.Errorf("auth_attempts_total has %d metric entries, want 3", len(mf.GetMetric()))
			}
		}
	}
}

func TestPrometheusServerStartStop(t *testing.T) {
	server := NewPrometheusServer("127.0.0.1:0", "/metrics", prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	// Give server time to start
	time.Sleep(50 * time.Millisecond)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("Start() did not return after shutdown")
	}
}

func TestNewReturnsNoopWhenDisabled(t *testing.T) {
	cfg := Config{
		Enabled: false,
		Address: ":9100",
		Path:    "/metrics",
	}

	collector, server := New(cfg)

	if _, ok := collector.(*NoopCollector); !ok {
		t.Errorf("New() with Enabled=false returned collector type %T, want *NoopCollector", collector)
	}
	if _, ok := server.(*NoopServer); !ok {
		t.Errorf("New() with Enabled=false returned server type %T, want *NoopServer", server)
	}
}

func TestNewReturnsPrometheusWhenEnabled(t *testing.T) {
	cfg := Config{
		Enabled: true,
		Address: ":9100",
		Path:    "/metrics",
	}

	collector, server := New(cfg)

	if _, ok := collector.(*PrometheusCollector); !ok {
		t.Errorf("New() with Enabled=true returned collector type %T, want *PrometheusCollector", collector)
	}
	if _, ok := server.(*PrometheusServer); !ok {
		t.Errorf("New() with Enabled=true returned server type %T, want *PrometheusServer", server)
	}
}

func TestNoopCollectorImplementsInterface(t *testing.T) {
	var _ Collector = &NoopCollector{}
	var _ Server = &NoopServer{}
}
