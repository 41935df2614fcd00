package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mattone/internal/auth"
	"mattone/internal/models"
	"mattone/internal/relay"
	"mattone/internal/store"
	"mattone/migrations"
)

type testEnv struct {
	srv   *Server
	store *store.Store
	hub   *relay.Hub
	user  *models.User
	token string
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(migrations.FS); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

// newTestEnv builds a server with cookie-session auth and a signed-in user.
// The heartbeat is long enough that tests never see one.
func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	s := newTestStore(t)
	hub := relay.NewHub(s, relay.WithHeartbeatInterval(time.Hour))

	env := &testEnv{store: s, hub: hub}
	env.user, env.token = newTestUser(t, s, "alice")

	opts = append([]Option{WithAuth(auth.NewServiceWithVerifier(nil, "console", s))}, opts...)
	env.srv = NewServer(s, hub, opts...)
	return env
}

func newTestUser(t *testing.T, s *store.Store, name string) (*models.User, string) {
	t.Helper()
	u, err := s.GetOrCreateUserBySubject("sub-"+name, name+"@example.com", name)
	if err != nil {
		t.Fatalf("creating user %s: %v", name, err)
	}
	token, err := s.CreateSession(u.ID, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("creating session for %s: %v", name, err)
	}
	return u, token
}

// do sends an authenticated request for the env's user.
func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	return e.doAs(e.token, method, path, body)
}

func (e *testEnv) doAs(token, method, path, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seedDevice(t *testing.T, code string) *models.Device {
	t.Helper()
	d, _, err := e.store.CreateDevice(e.user.ID, models.DeviceInput{DeviceCode: code, Name: code})
	if err != nil {
		t.Fatalf("creating device %s: %v", code, err)
	}
	return d
}

// seedChannels imports channels for the env's user and returns them in
// listing order.
func (e *testEnv) seedChannels(t *testing.T, channels ...models.Channel) []models.Channel {
	t.Helper()
	ctx := context.Background()
	if _, err := e.store.ReplaceChannels(ctx, e.user.ID, channels); err != nil {
		t.Fatalf("seeding channels: %v", err)
	}
	got, err := e.store.ListChannels(ctx, e.user.ID, models.ChannelFilter{Page: 1, Limit: models.MaxChannelPageSize})
	if err != nil {
		t.Fatalf("listing seeded channels: %v", err)
	}
	return got
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response %q: %v", w.Body.String(), err)
	}
	return v
}

type errorResponse struct {
	Error string `json:"error"`
}

type fakeGeo struct {
	result *models.GeoResult
}

func (f fakeGeo) Lookup(string) *models.GeoResult { return f.result }
