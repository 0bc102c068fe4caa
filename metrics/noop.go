package metrics

// NoopCollector is a no-op implementation of the Collector interface.
// All methods are empty stubs that do nothing.
type NoopCollector struct{}

// ConnectionOpened is a no-op.
func (n *NoopCollector) ConnectionOpened(protocol string) {}

// ConnectionClosed is a no-op.
func (n *NoopCollector) ConnectionClosed(protocol string) {}

// TLSConnectionEstablished is a no-op.
func (n *NoopCollector) TLSConnectionEstablished(protocol string) {}

// CommandProcessed is a no-op.
func (n *NoopCollector) CommandProcessed(protocol string, command string) {}

// AuthAttempt is a no-op.
func (n *NoopCollector) AuthAttempt(protocol string, mechanism string, success bool) {}

// MessageDelivered is a no-op.
func (n *NoopCollector) MessageDelivered(recipient string, sizeBytes int64) {}

// MessageRetrieved is a no-op.
func (n *NoopCollector) MessageRetrieved(username string, sizeBytes int64) {}

// MessageListed is a no-op.
func (n *NoopCollector) MessageListed(username string) {}

// MessageDeleted is a no-op.
func (n *NoopCollector) MessageDeleted(username string) {}

// MessageExpunged is a no-op.
func (n *NoopCollector) MessageExpunged(username string, count int) {}
