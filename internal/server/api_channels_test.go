package server

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mattone/internal/models"
	"mattone/internal/playlist"
)

const testPlaylist = `#EXTM3U
#EXTINF:-1 tvg-name="Rai 1" tvg-logo="http://logo/rai1.png" group-title="Italia",Rai 1
http://stream/rai1.m3u8
#EXTINF:-1 tvg-name="Rai 2" group-title="Italia",Rai 2
http://stream/rai2.m3u8
#EXTINF:-1 group-title="News",BBC World
http://stream/bbc.m3u8
`

func TestListChannels(t *testing.T) {
	env := newTestEnv(t)
	env.seedChannels(t,
		models.Channel{TvgName: "Rai 1", GroupTitle: "Italia", StreamURL: "http://s/1"},
		models.Channel{TvgName: "Rai 2", GroupTitle: "Italia", StreamURL: "http://s/2"},
		models.Channel{TvgName: "BBC World", GroupTitle: "News", StreamURL: "http://s/3"},
	)

	tests := []struct {
		name      string
		query     string
		wantNames []string
		wantTotal int
		wantPage  int
		wantLimit int
	}{
		{"all", "", []string{"BBC World", "Rai 1", "Rai 2"}, 3, 1, models.DefaultChannelPageSize},
		{"group", "?group=Italia", []string{"Rai 1", "Rai 2"}, 2, 1, models.DefaultChannelPageSize},
		{"search", "?search=rai%202", []string{"Rai 2"}, 1, 1, models.DefaultChannelPageSize},
		{"paged", "?limit=2&page=2", []string{"Rai 2"}, 3, 2, 2},
		{"limit clamped", "?limit=1000", []string{"BBC World", "Rai 1", "Rai 2"}, 3, 1, models.MaxChannelPageSize},
		{"page clamped", "?page=-4", []string{"BBC World", "Rai 1", "Rai 2"}, 3, 1, models.DefaultChannelPageSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodGet, "/api/channels"+tt.query, "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			page := decodeBody[models.ChannelPage](t, w)
			var names []string
			for _, c := range page.Data {
				names = append(names, c.TvgName)
			}
			assert.Equal(t, tt.wantNames, names)
			assert.Equal(t, tt.wantTotal, page.Total)
			assert.Equal(t, tt.wantPage, page.Page)
			assert.Equal(t, tt.wantLimit, page.Limit)
		})
	}
}

func TestListChannels_HidesStreamURL(t *testing.T) {
	env := newTestEnv(t)
	env.seedChannels(t, models.Channel{TvgName: "Rai 1", StreamURL: "http://secret/stream"})

	w := env.do(http.MethodGet, "/api/channels", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestListChannels_BadPaging(t *testing.T) {
	env := newTestEnv(t)
	for _, q := range []string{"?page=abc", "?limit=1.5"} {
		w := env.do(http.MethodGet, "/api/channels"+q, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestListGroups(t *testing.T) {
	env := newTestEnv(t)
	env.seedChannels(t,
		models.Channel{TvgName: "a", GroupTitle: "sport", StreamURL: "http://s/1"},
		models.Channel{TvgName: "b", GroupTitle: "News", StreamURL: "http://s/2"},
		models.Channel{TvgName: "c", GroupTitle: "News", StreamURL: "http://s/3"},
		models.Channel{TvgName: "d", StreamURL: "http://s/4"},
	)

	w := env.do(http.MethodGet, "/api/channels/groups", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"News", "sport"}, decodeBody[[]string](t, w))
}

func TestImportChannels_FromURL(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/list.m3u":
			fmt.Fprint(w, testPlaylist)
		case "/empty.m3u":
			fmt.Fprint(w, "#EXTM3U\n")
		default:
			http.Error(w, "gone", http.StatusNotFound)
		}
	}))
	defer upstream.Close()
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/channels/import", `{"url":"`+upstream.URL+`/list.m3u"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]int{"count": 3}, decodeBody[map[string]int](t, w))

	w = env.do(http.MethodPost, "/api/channels/import", `{"url":"`+upstream.URL+`/empty.m3u"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]int{"count": 0}, decodeBody[map[string]int](t, w))

	total, err := env.store.CountChannels(t.Context(), env.user.ID, models.ChannelFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total, "an empty playlist keeps the existing channels")

	w = env.do(http.MethodPost, "/api/channels/import", `{"url":"`+upstream.URL+`/missing.m3u"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, strings.HasPrefix(decodeBody[errorResponse](t, w).Error, "failed to fetch playlist: "))
}

func TestImportChannels_InvalidURL(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []string{`{}`, `{"url":"ftp://host/list"}`, `{"url":"/relative"}`} {
		w := env.do(http.MethodPost, "/api/channels/import", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func multipartPlaylist(t *testing.T, field string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "list.m3u")
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/channels/import/file", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(&http.Cookie{Name: "mattone_session", Value: e.token})
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func TestImportChannelsFile(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartPlaylist(t, "file", []byte(testPlaylist))

	w := env.upload(body, ct)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, map[string]int{"count": 3}, decodeBody[map[string]int](t, w))

	chs, err := env.store.ListChannels(t.Context(), env.user.ID, models.ChannelFilter{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, chs, 3)
	ch, err := env.store.GetChannelForUser(chs[0].ID, env.user.ID)
	require.NoError(t, err)
	assert.Equal(t, playlist.FileUploadSource, ch.SourceURL)
}

func TestImportChannelsFile_MissingField(t *testing.T) {
	env := newTestEnv(t)
	body, ct := multipartPlaylist(t, "upload", []byte(testPlaylist))

	w := env.upload(body, ct)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestImportChannelsFile_TooLarge(t *testing.T) {
	env := newTestEnv(t, WithFetcher(playlist.NewFetcher(playlist.WithMaxBytes(64))))
	body, ct := multipartPlaylist(t, "file", []byte(testPlaylist))

	w := env.upload(body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
