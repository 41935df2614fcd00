package relay

import (
	"errors"
	"log"

	"mattone/internal/models"
)

// StateStore is the slice of the device and channel directories the
// synchronizer reads from.
type StateStore interface {
	GetDeviceByCode(deviceCode string) (*models.Device, error)
	GetChannelForUser(channelID, userID string) (*models.Channel, error)
}

// Synchronizer replays a device's assigned channel whenever it connects.
// Devices keep no state of their own, so every fresh session is told what it
// should be showing.
type Synchronizer struct {
	store      StateStore
	dispatcher *Dispatcher
	metrics    *Metrics
}

func NewSynchronizer(st StateStore, d *Dispatcher, m *Metrics) *Synchronizer {
	if m == nil {
		m = NewMetrics(nil)
	}
	return &Synchronizer{store: st, dispatcher: d, metrics: m}
}

// HandleConnect is a Registry connect listener. It never fails: lookup
// errors are logged and the session carries on without a replay.
func (sy *Synchronizer) HandleConnect(deviceID string) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("relay: replay for device %s panicked: %v", deviceID, p)
			sy.metrics.replays.WithLabelValues(resultError).Inc()
		}
	}()

	result := sy.replay(deviceID)
	sy.metrics.replays.WithLabelValues(result).Inc()
}

func (sy *Synchronizer) replay(deviceID string) string {
	device, err := sy.store.GetDeviceByCode(deviceID)
	if errors.Is(err, models.ErrNotFound) {
		return resultSkipped
	}
	if err != nil {
		log.Printf("relay: loading device %s for replay: %v", deviceID, err)
		return resultError
	}
	if device.ActiveChannelID == nil || *device.ActiveChannelID == "" {
		return resultSkipped
	}

	ch, err := sy.store.GetChannelForUser(*device.ActiveChannelID, device.UserID)
	if errors.Is(err, models.ErrNotFound) {
		log.Printf("relay: device %s assigned channel %s is gone, skipping replay", deviceID, *device.ActiveChannelID)
		return resultSkipped
	}
	if err != nil {
		log.Printf("relay: loading channel %s for device %s: %v", *device.ActiveChannelID, deviceID, err)
		return resultError
	}

	if !sy.dispatcher.push(deviceID, Play(ch)) {
		return resultOffline
	}
	log.Printf("relay: replayed channel %s to device %s", ch.ID, deviceID)
	return resultDelivered
}
