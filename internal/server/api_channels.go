package server

import (
	"bytes"
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"mattone/internal/httputil"
	"mattone/internal/models"
	"mattone/internal/playlist"
)

func queryInt(r *http.Request, key string) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}

func (s *Server) handleListChannels(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	page, ok := queryInt(r, "page")
	if !ok {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	limit, ok := queryInt(r, "limit")
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	filter := models.ChannelFilter{
		Group:  r.URL.Query().Get("group"),
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
		Page:   page,
		Limit:  limit,
	}
	filter.Normalize()

	resp := models.ChannelPage{Page: filter.Page, Limit: filter.Limit}
	g, ctx := errgroup.WithContext(r.Context())
	g.Go(func() error {
		var err error
		resp.Data, err = s.store.ListChannels(ctx, user.ID, filter)
		return err
	})
	g.Go(func() error {
		var err error
		resp.Total, err = s.store.CountChannels(ctx, user.ID, filter)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Printf("listing channels for user %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	groups, err := s.store.ListGroups(user.ID)
	if err != nil {
		log.Printf("listing groups for user %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleImportChannels(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	var req struct {
		URL string `json:"url"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if err := httputil.ValidateRemoteURL(req.URL); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Printf("importing playlist %s for user %s", req.URL, user.ID)
	channels, err := s.fetcher.Fetch(r.Context(), req.URL)
	if err != nil {
		log.Printf("fetching playlist %s: %v", req.URL, err)
		writeError(w, http.StatusBadRequest, "failed to fetch playlist: "+err.Error())
		return
	}
	s.saveChannels(r.Context(), w, user, channels)
}

const multipartMemory = 8 << 20

func (s *Server) handleImportChannelsFile(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())
	maxBytes := s.fetcher.MaxBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+maxBodySize)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "playlist file too large")
			return
		}
		writeError(w, http.StatusBadRequest, "expected multipart form with a file field")
		return
	}
	defer r.MultipartForm.RemoveAll()

	f, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer f.Close()

	body, err := httputil.ReadLimited(f, maxBytes)
	if errors.Is(err, httputil.ErrBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "playlist file too large")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading file failed")
		return
	}

	channels, err := playlist.Parse(bytes.NewReader(body), playlist.FileUploadSource)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.saveChannels(r.Context(), w, user, channels)
}

// saveChannels replaces the user's channel list. An empty playlist leaves
// the existing list in place.
func (s *Server) saveChannels(ctx context.Context, w http.ResponseWriter, user *models.User, channels []models.Channel) {
	if len(channels) == 0 {
		writeJSON(w, http.StatusOK, map[string]int{"count": 0})
		return
	}
	n, err := s.store.ReplaceChannels(ctx, user.ID, channels)
	if err != nil {
		log.Printf("importing channels for user %s: %v", user.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to import channels")
		return
	}
	log.Printf("imported %d channels for user %s", n, user.ID)
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}
