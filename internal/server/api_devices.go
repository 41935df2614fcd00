package server

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mattone/internal/models"
	"mattone/internal/relay"
)

type deviceResponse struct {
	models.Device
	Connected bool `json:"connected"`
}

func (s *Server) deviceView(d models.Device) deviceResponse {
	return deviceResponse{Device: d, Connected: s.hub.IsConnected(d.DeviceCode)}
}

type commandResponse struct {
	Status    string `json:"status"`
	Delivered bool   `json:"delivered"`
}

func writeCommandResult(w http.ResponseWriter, res relay.Result) {
	writeJSON(w, http.StatusOK, commandResponse{Status: res.Status(), Delivered: res.Delivered})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	devices, err := s.store.ListDevices(user.ID)
	if err != nil {
		log.Printf("listing devices for user %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	out := make([]deviceResponse, len(devices))
	for i, d := range devices {
		out[i] = s.deviceView(d)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	var in models.DeviceInput
	if !decodeJSON(w, r, &in) {
		return
	}
	in.DeviceCode = strings.TrimSpace(in.DeviceCode)
	in.Name = strings.TrimSpace(in.Name)
	if err := in.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, created, err := s.store.CreateDevice(user.ID, in)
	if errors.Is(err, models.ErrConflict) {
		writeError(w, http.StatusConflict, "device is registered to another account")
		return
	}
	if err != nil {
		log.Printf("registering device %s for user %s: %v", in.DeviceCode, user.ID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		log.Printf("device %s registered to user %s", d.DeviceCode, user.ID)
	}
	writeJSON(w, status, s.deviceView(*d))
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	d, err := s.store.DeleteDevice(chi.URLParam(r, "id"), user.ID)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	if err != nil {
		log.Printf("deleting device: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	s.hub.Disconnect(d.DeviceCode)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	var req struct {
		ChannelID string `json:"channel_id"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.ChannelID == "" {
		writeError(w, http.StatusBadRequest, "channel_id is required")
		return
	}

	d, ok := s.ownedDevice(w, r, user)
	if !ok {
		return
	}
	ch, err := s.store.GetChannelForUser(req.ChannelID, user.ID)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	if err != nil {
		log.Printf("loading channel %s: %v", req.ChannelID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if _, err := s.store.SetActiveChannel(d.ID, user.ID, &ch.ID); err != nil {
		s.writeStoreError(w, "setting active channel", err)
		return
	}
	writeCommandResult(w, s.hub.Dispatch(d.DeviceCode, relay.Play(ch)))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	d, ok := s.ownedDevice(w, r, user)
	if !ok {
		return
	}
	if _, err := s.store.SetActiveChannel(d.ID, user.ID, nil); err != nil {
		s.writeStoreError(w, "clearing active channel", err)
		return
	}
	writeCommandResult(w, s.hub.Dispatch(d.DeviceCode, relay.Stop()))
}

func (s *Server) ownedDevice(w http.ResponseWriter, r *http.Request, user *models.User) (*models.Device, bool) {
	d, err := s.store.GetDeviceForUser(chi.URLParam(r, "id"), user.ID)
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "device not found")
		return nil, false
	}
	if err != nil {
		log.Printf("loading device: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return d, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, action string, err error) {
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	log.Printf("%s: %v", action, err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
