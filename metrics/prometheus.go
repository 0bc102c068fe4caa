package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements the Collector interface using Prometheus metrics.
type PrometheusCollector struct {
	// Connection metrics
	connectionsTotal   *prometheus.CounterVec
	connectionsActive  *prometheus.GaugeVec
	tlsConnectionTotal *prometheus.CounterVec

	// Command metrics
	commandsTotal *prometheus.CounterVec

	// Authentication metrics
	authAttemptsTotal *prometheus.CounterVec

	// Message metrics
	messagesDeliveredTotal *prometheus.CounterVec
	messagesRetrievedTotal *prometheus.CounterVec
	messagesListedTotal    *prometheus.CounterVec
	messagesDeletedTotal   *prometheus.CounterVec
	messagesExpungedTotal  *prometheus.CounterVec
	messagesSizeBytes      prometheus.Histogram
}

// NewPrometheusCollector creates a new PrometheusCollector with all metrics registered.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtest_connections_total",
			Help: "Total number of connections opened.",
		}, []string{"protocol"}),
		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "mailtest_connections_active",
			Help: "Number of currently active connections.",
		}, []string{"protocol"}),
		tlsConnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtest_tls_connections_total",
			Help: "Total number of TLS connections established.",
		}, []string{"protocol"}),

		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtest_commands_total",
			Help: "Total number of commands processed.",
		}, []string{"protocol", "command"}),

		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtest_auth_attempts_total",
			Help: "Total number of authentication attempts.",
		}, []string{"protocol", "mechanism", "result"}),

		messagesDeliveredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtest_messages_delivered_total",
			Help: "Total number of messages delivered to mailboxes.",
		}, []string{"recipient"}),
		messagesRetrievedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtest_messages_retrieved_total",
			Help: "Total number of messages retrieved.",
		}, []string{"username"}),
		messagesListedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtest_messages_listed_total",
			Help: "Total number of message list operations.",
		}, []string{"username"}),
		messagesDeletedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtest_messages_deleted_total",
			Help: "Total number of messages marked for deletion.",
		}, []string{"username"}),
		messagesExpungedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailtest_messages_expunged_total",
			Help: "Total number of messages removed at end of session.",
		}, []string{"username"}),
		messagesSizeBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mailtest_messages_size_bytes",
			Help:    "Size of delivered and retrieved messages in bytes.",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576},
		}),
	}

	// Register all metrics
	reg.MustRegister(
		c.connectionsTotal,
		c.connectionsActive,
		c.tlsConnectionTotal,
		c.commandsTotal,
		c.authAttemptsTotal,
		c.messagesDeliveredTotal,
		c.messagesRetrievedTotal,
		c.messagesListedTotal,
		c.messagesDeletedTotal,
		c.messagesExpungedTotal,
		c.messagesSizeBytes,
	)

	return c
}

// ConnectionOpened increments the connection counter and active gauge.
func (c *PrometheusCollector) ConnectionOpened(protocol string) {
	c.connectionsTotal.WithLabelValues(protocol).Inc()
	c.connectionsActive.WithLabelValues(protocol).Inc()
}

// ConnectionClosed decrements the active connections gauge.
func (c *PrometheusCollector) ConnectionClosed(protocol string) {
	c.connectionsActive.WithLabelValues(protocol).Dec()
}

// TLSConnectionEstablished increments the TLS connection counter.
func (c *PrometheusCollector) TLSConnectionEstablished(protocol string) {
	c.tlsConnectionTotal.WithLabelValues(protocol).Inc()
}

// CommandProcessed increments the command counter.
func (c *PrometheusCollector) CommandProcessed(protocol string, command string) {
	c.commandsTotal.WithLabelValues(protocol, command).Inc()
}

// AuthAttempt increments the authentication attempts counter.
func (c *PrometheusCollector) AuthAttempt(protocol string, mechanism string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authAttemptsTotal.WithLabelValues(protocol, mechanism, result).Inc()
}

// MessageDelivered increments the delivery counter and observes message size.
func (c *PrometheusCollector) MessageDelivered(recipient string, sizeBytes int64) {
	c.messagesDeliveredTotal.WithLabelValues(recipient).Inc()
	c.messagesSizeBytes.Observe(float64(sizeBytes))
}

// MessageRetrieved increments the message retrieved counter and observes message size.
func (c *PrometheusCollector) MessageRetrieved(username string, sizeBytes int64) {
	c.messagesRetrievedTotal.WithLabelValues(username).Inc()
	c.messagesSizeBytes.Observe(float64(sizeBytes))
}

// MessageListed increments the message listed counter.
func (c *PrometheusCollector) MessageListed(username string) {
	c.messagesListedTotal.WithLabelValues(username).Inc()
}

// MessageDeleted increments the message deleted counter.
func (c *PrometheusCollector) MessageDeleted(username string) {
	c.messagesDeletedTotal.WithLabelValues(username).Inc()
}

// MessageExpunged adds the number of messages removed at session end.
func (c *PrometheusCollector) MessageExpunged(username string, count int) {
	c.messagesExpungedTotal.WithLabelValues(username).Add(float64(count))
}
