package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	appLog "taskcal/internal/log"
)

// maxFeedBytes bounds the size of a downloaded feed.
const maxFeedBytes = 10 << 20

// FetchResult is the outcome of downloading one feed.
type FetchResult struct {
	URL       string
	Body      []byte
	FromCache bool // body came from the disk cache (304 or fallback)
}

// cacheMeta holds HTTP validators for one cached feed.
type cacheMeta struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads ICS feeds for import. Responses are cached on disk
// with their ETag/Last-Modified validators; a stale cached copy is served
// when the origin is unreachable or answers with an error.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher returns a Fetcher caching under cacheDir. A nil client gets
// a 15s timeout.
func NewFetcher(cacheDir string, client *http.Client) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./data/ics-cache"
	}
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// FetchOne downloads rawURL, honoring and refreshing the disk cache.
func (f *Fetcher) FetchOne(ctx context.Context, rawURL string) (FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return FetchResult{}, fmt.Errorf("invalid feed URL %q", redactURL(rawURL))
	}

	dir := f.cacheDirFor(rawURL)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return FetchResult{}, fmt.Errorf("create cache dir: %w", err)
	}

	meta, _ := loadMeta(dir)
	cached, _ := os.ReadFile(filepath.Join(dir, "body.ics"))

	fallback := func(cause error) (FetchResult, error) {
		if len(cached) == 0 {
			return FetchResult{}, cause
		}
		appLog.Error("ics fetch failed, using cached body", cause, "url", redactURL(rawURL))
		return FetchResult{URL: rawURL, Body: cached, FromCache: true}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")
	if len(cached) > 0 {
		if meta.ETag != "" {
			req.Header.Set("If-None-Match", meta.ETag)
		}
		if meta.LastModified != "" {
			req.Header.Set("If-Modified-Since", meta.LastModified)
		}
	}

	appLog.Debug("ics fetch start", "url", redactURL(rawURL))

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes+1))
		if err != nil {
			return fallback(err)
		}
		if len(body) > maxFeedBytes {
			return fallback(fmt.Errorf("feed larger than %d bytes", maxFeedBytes))
		}

		m := cacheMeta{
			URL:          rawURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(dir, m, body); err != nil {
			appLog.Error("ics cache save failed", err, "url", redactURL(rawURL))
		}
		appLog.Info("ics fetch success", "url", redactURL(rawURL), "bytes", len(body))
		return FetchResult{URL: rawURL, Body: body}, nil

	case http.StatusNotModified:
		if len(cached) == 0 {
			return FetchResult{}, errors.New("304 Not Modified without a cached body")
		}
		appLog.Info("ics feed not modified", "url", redactURL(rawURL))
		return FetchResult{URL: rawURL, Body: cached, FromCache: true}, nil

	default:
		return fallback(fmt.Errorf("unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) cacheDirFor(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadMeta(dir string) (cacheMeta, error) {
	var m cacheMeta
	data, err := os.ReadFile(filepath.Join(dir, "meta.json"))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return cacheMeta{}, err
	}
	return m, nil
}

// saveCache writes the body before the metadata so validators never
// describe a body that is not on disk.
func saveCache(dir string, m cacheMeta, body []byte) error {
	if err := os.WriteFile(filepath.Join(dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	m.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host; feed URLs often embed secrets in
// the path or query.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
