package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mattone/internal/models"
)

func TestRegisterDevice(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/devices", `{"device_code":" tv-1 ","name":"Living room"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	d := decodeBody[deviceResponse](t, w)
	assert.Equal(t, "tv-1", d.DeviceCode)
	assert.Equal(t, "Living room", d.Name)
	assert.Equal(t, env.user.ID, d.UserID)
	assert.False(t, d.Connected)

	w = env.do(http.MethodPost, "/api/devices", `{"device_code":"tv-1","name":"Other"}`)
	require.Equal(t, http.StatusOK, w.Code, "re-registering by the owner returns the existing device")
	again := decodeBody[deviceResponse](t, w)
	assert.Equal(t, d.ID, again.ID)
}

func TestRegisterDevice_OtherAccount(t *testing.T) {
	env := newTestEnv(t)
	env.seedDevice(t, "tv-1")
	_, bobToken := newTestUser(t, env.store, "bob")

	w := env.doAs(bobToken, http.MethodPost, "/api/devices", `{"device_code":"tv-1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRegisterDevice_Invalid(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name string
		body string
		want int
	}{
		{"missing code", `{"name":"x"}`, http.StatusBadRequest},
		{"blank code", `{"device_code":"   "}`, http.StatusBadRequest},
		{"malformed json", `{"device_code":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/devices", tt.body)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestListDevices_ScopedToUser(t *testing.T) {
	env := newTestEnv(t)
	env.seedDevice(t, "tv-1")
	env.seedDevice(t, "tv-2")
	_, bobToken := newTestUser(t, env.store, "bob")

	w := env.do(http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decodeBody[[]deviceResponse](t, w), 2)

	w = env.doAs(bobToken, http.MethodGet, "/api/devices", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]\n", w.Body.String())
}

func TestDeleteDevice(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedDevice(t, "tv-1")
	_, bobToken := newTestUser(t, env.store, "bob")

	w := env.doAs(bobToken, http.MethodDelete, "/api/devices/"+d.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code, "devices of other users are invisible")

	w = env.do(http.MethodDelete, "/api/devices/"+d.ID, "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err := env.store.GetDeviceByCode("tv-1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	w = env.do(http.MethodDelete, "/api/devices/"+d.ID, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPlay_OfflineDeviceIsQueued(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedDevice(t, "tv-1")
	chs := env.seedChannels(t, models.Channel{TvgName: "Rai 1", StreamURL: "http://s/rai1"})

	w := env.do(http.MethodPost, "/api/devices/"+d.ID+"/play", `{"channel_id":"`+chs[0].ID+`"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody[commandResponse](t, w)
	assert.Equal(t, "queued", res.Status)
	assert.False(t, res.Delivered)

	got, err := env.store.GetDeviceByCode("tv-1")
	require.NoError(t, err)
	require.NotNil(t, got.ActiveChannelID, "assignment is stored even when the device is offline")
	assert.Equal(t, chs[0].ID, *got.ActiveChannelID)
}

func TestPlay_Errors(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedDevice(t, "tv-1")

	w := env.do(http.MethodPost, "/api/devices/"+d.ID+"/play", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/api/devices/"+d.ID+"/play", `{"channel_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "channel not found", decodeBody[errorResponse](t, w).Error)

	w = env.do(http.MethodPost, "/api/devices/missing/play", `{"channel_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "device not found", decodeBody[errorResponse](t, w).Error)
}

func TestPlay_ForeignChannel(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedDevice(t, "tv-1")
	bob, bobToken := newTestUser(t, env.store, "bob")
	_, err := env.store.ReplaceChannels(t.Context(), bob.ID, []models.Channel{{TvgName: "Bob TV", StreamURL: "http://s/bob"}})
	require.NoError(t, err)
	bobChannels, err := env.store.ListChannels(t.Context(), bob.ID, models.ChannelFilter{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, bobChannels, 1)

	w := env.do(http.MethodPost, "/api/devices/"+d.ID+"/play", `{"channel_id":"`+bobChannels[0].ID+`"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.doAs(bobToken, http.MethodPost, "/api/devices/"+d.ID+"/play", `{"channel_id":"`+bobChannels[0].ID+`"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStop_ClearsAssignment(t *testing.T) {
	env := newTestEnv(t)
	d := env.seedDevice(t, "tv-1")
	chs := env.seedChannels(t, models.Channel{TvgName: "Rai 1", StreamURL: "http://s/rai1"})
	_, err := env.store.SetActiveChannel(d.ID, env.user.ID, &chs[0].ID)
	require.NoError(t, err)

	w := env.do(http.MethodPost, "/api/devices/"+d.ID+"/stop", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "queued", decodeBody[commandResponse](t, w).Status)

	got, err := env.store.GetDeviceByCode("tv-1")
	require.NoError(t, err)
	assert.Nil(t, got.ActiveChannelID)
}
