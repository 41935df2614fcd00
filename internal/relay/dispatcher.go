package relay

import "log"

// Dispatcher delivers commands to whichever session is currently registered
// for a device. It waits for the write to the transport, never for the
// device.
type Dispatcher struct {
	registry *Registry
	metrics  *Metrics
}

func NewDispatcher(r *Registry, m *Metrics) *Dispatcher {
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Dispatcher{registry: r, metrics: m}
}

// Send reports whether cmd was written to the device's live session. A
// missing session, a closed session, a saturated queue and a failed write all
// count as offline; the caller's durable state change stands either way and
// is replayed on the next connect. A session that is still opening is waited
// for so its replay is written first.
func (d *Dispatcher) Send(deviceID string, cmd Command) bool {
	s, ok := d.registry.Lookup(deviceID)
	if !ok {
		d.metrics.dispatches.WithLabelValues(string(cmd.Type), resultOffline).Inc()
		return false
	}
	if !s.awaitReady() {
		d.metrics.dispatches.WithLabelValues(string(cmd.Type), resultOffline).Inc()
		return false
	}
	return d.deliver(s, cmd)
}

// push is Send without waiting for the session to finish opening. The
// reconnect replay uses it from inside registration.
func (d *Dispatcher) push(deviceID string, cmd Command) bool {
	s, ok := d.registry.Lookup(deviceID)
	if !ok {
		d.metrics.dispatches.WithLabelValues(string(cmd.Type), resultOffline).Inc()
		return false
	}
	return d.deliver(s, cmd)
}

func (d *Dispatcher) deliver(s *Session, cmd Command) bool {
	reply := s.submit(cmd)
	if reply == nil {
		log.Printf("relay: dropping %s for device %s: session %d not accepting writes", cmd.Type, s.deviceID, s.id)
		d.metrics.dispatches.WithLabelValues(string(cmd.Type), resultDropped).Inc()
		return false
	}
	if err := <-reply; err != nil {
		log.Printf("relay: %s for device %s not written (session %d): %v", cmd.Type, s.deviceID, s.id, err)
		d.metrics.dispatches.WithLabelValues(string(cmd.Type), resultFailed).Inc()
		return false
	}
	d.metrics.dispatches.WithLabelValues(string(cmd.Type), resultDelivered).Inc()
	return true
}
