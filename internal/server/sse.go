package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"mattone/internal/httputil"
	"mattone/internal/models"
	"mattone/internal/relay"
)

const deviceHeader = "X-Device-ID"

func deviceCode(r *http.Request) string {
	if code := r.Header.Get(deviceHeader); code != "" {
		return code
	}
	return r.URL.Query().Get("device_code")
}

// lookupDevice resolves the calling device, writing 400/404/500 itself
// when it cannot.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*models.Device, bool) {
	code := deviceCode(r)
	if code == "" {
		writeError(w, http.StatusBadRequest, deviceHeader+" header is required")
		return nil, false
	}
	d, err := s.store.GetDeviceByCode(code)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device not registered")
		return nil, false
	}
	if err != nil {
		log.Printf("looking up device %s: %v", code, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return d, true
}

func (s *Server) handleWhoami(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.lookupDevice(w, r); !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// touchDevice records where the device is connecting from.
func (s *Server) touchDevice(r *http.Request, d *models.Device) {
	ip := httputil.ClientIP(r)
	var geo *models.GeoResult
	if s.geoResolver != nil {
		geo = s.geoResolver.Lookup(ip)
	}
	if err := s.store.TouchDevice(d.DeviceCode, ip, geo, time.Now().UTC()); err != nil {
		log.Printf("recording connection of device %s: %v", d.DeviceCode, err)
	}
}

func (s *Server) handleDeviceEvents(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	sink, err := relay.NewEventStreamSink(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	s.touchDevice(r, d)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	logSessionEnd(d.DeviceCode, s.hub.Serve(r.Context(), d.DeviceCode, sink))
}

func (s *Server) handleDeviceSocket(w http.ResponseWriter, r *http.Request) {
	d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		log.Printf("websocket upgrade for device %s: %v", d.DeviceCode, err)
		return
	}
	defer conn.Close()
	s.touchDevice(r, d)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Devices never send commands; reading only surfaces the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	logSessionEnd(d.DeviceCode, s.hub.Serve(ctx, d.DeviceCode, relay.NewWebSocketSink(conn)))
}

func logSessionEnd(code string, err error) {
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("device %s stream ended: %v", code, err)
	}
}
