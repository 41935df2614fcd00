package playlist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"mattone/internal/httputil"
	"mattone/internal/models"
)

const (
	DefaultMaxBytes     = 20 << 20
	DefaultFetchTimeout = 30 * time.Second
)

// Fetcher downloads remote playlists. Outbound requests share one rate
// limiter so a burst of imports cannot hammer upstream hosts.
type Fetcher struct {
	http     *http.Client
	limiter  *rate.Limiter
	maxBytes int64
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.http = c }
}

func WithMaxBytes(n int64) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.maxBytes = n
		}
	}
}

func WithLimiter(l *rate.Limiter) FetcherOption {
	return func(f *Fetcher) { f.limiter = l }
}

func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		http:     httputil.NewClientWithTimeout(DefaultFetchTimeout),
		limiter:  rate.NewLimiter(2, 5),
		maxBytes: DefaultMaxBytes,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

func (f *Fetcher) MaxBytes() int64 {
	return f.maxBytes
}

// Fetch downloads and parses the playlist at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]models.Channel, error) {
	if err := httputil.ValidateRemoteURL(rawURL); err != nil {
		return nil, err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer httputil.DrainBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("playlist host returned status %d: %s", resp.StatusCode, httputil.Truncate(body, 200))
	}

	body, err := httputil.ReadLimited(resp.Body, f.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("reading playlist: %w", err)
	}
	log.Printf("playlist: fetched %d bytes from %s", len(body), rawURL)

	return Parse(bytes.NewReader(body), rawURL)
}
