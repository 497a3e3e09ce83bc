// Package httpclient wraps net/http with the retry, probing, and
// checksum-header-parsing behavior the rest of blobfetch depends on:
// size/name/checksums discovery, an accessibility probe that surfaces
// signed-URL-expiration response bodies, and a range-read helper that
// retries short bodies delivered under a 2xx status.
package httpclient

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	retry "github.com/avast/retry-go"
	gax "github.com/googleapis/gax-go/v2"
	lru "github.com/hashicorp/golang-lru"
	"github.com/rs/zerolog"

	"blobfetch/internal/xerr"
)

// headCacheCapacity is the bounded LRU's capacity (§3: "capacity 20").
const headCacheCapacity = 20

// shortBodyRetries is the inner retry budget for range_read_into when a
// server delivers a short body under a success status.
const shortBodyRetries = 10

// statusForcelist is the set of status codes the outer retry layer
// treats as transient.
var statusForcelist = map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true}

// Config tunes retry/backoff behavior. Zero values fall back to
// sensible defaults.
type Config struct {
	RetryAttempts uint
	RetryWait     time.Duration
	MaxWait       time.Duration
	Headers       map[string]string
	Logger        zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.RetryAttempts == 0 {
		c.RetryAttempts = 10
	}
	if c.RetryWait == 0 {
		c.RetryWait = 1 * time.Second
	}
	if c.MaxWait == 0 {
		c.MaxWait = 30 * time.Second
	}
	return c
}

// Client is the thin HTTP wrapper every reader strategy is built on.
type Client struct {
	http   *http.Client
	cfg    Config
	heads  *lru.Cache
}

// New constructs a Client. httpClient may be nil to use http.DefaultClient.
func New(httpClient *http.Client, cfg Config) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cache, err := lru.New(headCacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("httpclient: allocating head cache: %w", err)
	}
	return &Client{http: httpClient, cfg: cfg.withDefaults(), heads: cache}, nil
}

// head performs (or returns a cached) probing GET and returns its
// headers. A probing GET rather than a HEAD is used because S3
// pre-signed URLs may reject HEAD.
func (c *Client) head(ctx context.Context, rawURL string) (http.Header, error) {
	if v, ok := c.heads.Get(rawURL); ok {
		return v.(http.Header), nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	resp, err := c.doWithRetry(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: readBodyBestEffort(resp)}
	}
	c.heads.Add(rawURL, resp.Header)
	return resp.Header, nil
}

// HTTPError carries a non-2xx response's status and body text so
// callers can surface signed-URL expiration messages.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("httpclient: unexpected status %d: %s", e.StatusCode, e.Body)
}

func readBodyBestEffort(resp *http.Response) string {
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ""
	}
	return string(b)
}

func (c *Client) applyHeaders(req *http.Request) {
	for k, v := range c.cfg.Headers {
		req.Header.Add(k, v)
	}
}

// doWithRetry executes req with the outer retry policy: bounded
// attempts, exponential backoff, retrying connection errors and the
// status forcelist.
func (c *Client) doWithRetry(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := retry.Do(
		func() error {
			curResp, err := c.http.Do(req)
			if err != nil {
				return err
			}
			if statusForcelist[curResp.StatusCode] {
				body := readBodyBestEffort(curResp)
				curResp.Body.Close()
				return fmt.Errorf("httpclient: retryable status %d: %s", curResp.StatusCode, body)
			}
			resp = curResp
			return nil
		},
		retry.DelayType(retry.BackOffDelay),
		retry.Delay(c.cfg.RetryWait),
		retry.Attempts(c.cfg.RetryAttempts),
		retry.MaxDelay(c.cfg.MaxWait),
	)
	if err != nil {
		return nil, xerr.New(xerr.KindTransientNetwork, req.URL.String(), fmt.Errorf("request failed after retries: %w", err))
	}
	return resp, nil
}

// Size returns Content-Length.
func (c *Client) Size(ctx context.Context, rawURL string) (int64, error) {
	h, err := c.head(ctx, rawURL)
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseInt(h.Get("Content-Length"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("httpclient: parsing Content-Length: %w", err)
	}
	return n, nil
}

// Name derives a filename for rawURL: the Content-Disposition
// filename field, falling back to the last path segment of the URL.
func (c *Client) Name(ctx context.Context, rawURL string) (string, error) {
	h, err := c.head(ctx, rawURL)
	if err != nil {
		return "", err
	}
	name := parseContentDispositionFilename(h.Get("Content-Disposition"))
	if name == "" {
		if u, err := url.Parse(rawURL); err == nil {
			name = path.Base(u.Path)
			if name == "." || name == "/" {
				name = ""
			}
		}
	}
	if name == "" {
		return "", fmt.Errorf("httpclient: unable to extract name from url %q", rawURL)
	}
	return name, nil
}

func parseContentDispositionFilename(disposition string) string {
	if disposition == "" {
		return ""
	}
	for _, part := range strings.Split(disposition, ";") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "filename") {
			_, v, ok := strings.Cut(part, "=")
			if !ok {
				continue
			}
			return strings.Trim(strings.TrimSpace(v), `'"`)
		}
	}
	return ""
}

// Checksums extracts checksum hashes from headers. The returned map
// may contain keys gs_crc32c, gs_md5, s3_etag, etag, md5.
func (c *Client) Checksums(ctx context.Context, rawURL string) (map[string]string, error) {
	h, err := c.head(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	if goog := h.Get("x-goog-hash"); goog != "" {
		for _, part := range strings.Split(goog, ",") {
			name, val, ok := strings.Cut(strings.TrimSpace(part), "=")
			if !ok {
				continue
			}
			switch name {
			case "crc32c":
				out["gs_crc32c"] = val
			case "md5":
				out["gs_md5"] = val
			}
		}
	}
	if etag := h.Get("ETag"); etag != "" {
		etag = strings.Trim(etag, `"`)
		if strings.Contains(h.Get("Server"), "AmazonS3") {
			out["s3_etag"] = etag
		} else {
			out["etag"] = etag
		}
	}
	if md5 := h.Get("Content-MD5"); md5 != "" {
		if raw, err := base64.StdEncoding.DecodeString(md5); err == nil {
			out["md5"] = hex.EncodeToString(raw)
		}
	}
	return out, nil
}

// Accessible probes rawURL. On a 400/403/404 it returns (false,
// fullResponseBody) so callers can surface signed-URL expiration
// messages; other HTTP errors propagate.
func (c *Client) Accessible(ctx context.Context, rawURL string) (bool, string, error) {
	_, err := c.head(ctx, rawURL)
	if err == nil {
		return true, "", nil
	}
	var herr *HTTPError
	if ok := asHTTPError(err, &herr); ok {
		switch herr.StatusCode {
		case 400, 403, 404:
			return false, herr.Body, nil
		}
	}
	return false, "", err
}

func asHTTPError(err error, target **HTTPError) bool {
	for err != nil {
		if he, ok := err.(*HTTPError); ok {
			*target = he
			return true
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// RangeReadInto issues a Range: bytes=start-start+length-1 GET and
// reads exactly length bytes into dst. Because some servers
// occasionally deliver a short body with a success status, this
// retries up to shortBodyRetries times when fewer than length bytes
// were read.
func (c *Client) RangeReadInto(ctx context.Context, rawURL string, start int64, length int, dst []byte) error {
	if len(dst) < length {
		return fmt.Errorf("httpclient: destination buffer too small: have %d want %d", len(dst), length)
	}
	// The failure mode here (a short body delivered under a 2xx status)
	// isn't classified as an HTTP error by doWithRetry's outer policy,
	// so it needs its own bounded retry with backoff. gax.Backoff is
	// used rather than a second avast/retry-go loop nested inside the
	// first, since the two retry shapes (whole-request vs. short-body)
	// are genuinely different concerns.
	backoff := gax.Backoff{Initial: 100 * time.Millisecond, Max: 5 * time.Second, Multiplier: 2}
	var lastErr error
	for attempt := 0; attempt < shortBodyRetries; attempt++ {
		n, err := c.rangeReadAttempt(ctx, rawURL, start, length, dst)
		if err == nil && n == length {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("httpclient: incomplete range body: got %d want %d", n, length)
		}
		if attempt < shortBodyRetries-1 {
			select {
			case <-time.After(backoff.Pause()):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return xerr.New(xerr.KindShortBody, rawURL, fmt.Errorf("failed to download range after %d attempts: %w", shortBodyRetries, lastErr))
}

func (c *Client) rangeReadAttempt(ctx context.Context, rawURL string, start int64, length int, dst []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, err
	}
	c.applyHeaders(req)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, start+int64(length)-1))
	resp, err := c.doWithRetry(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return io.ReadFull(resp.Body, dst[:length])
}

// Open issues a streaming GET and returns its body unread, for callers
// (the raw and keep-alive readers) that need to pull bytes from the
// connection themselves rather than have the whole body read into a
// callback. The returned body's Close must be called by the caller.
func (c *Client) Open(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req)
	resp, err := c.doWithRetry(req)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// IterContent streams the response body in chunkSize blocks, invoking
// fn for each. Streaming stops (without error) once fn returns false
// or the body is exhausted.
func (c *Client) IterContent(ctx context.Context, rawURL string, chunkSize int, fn func([]byte) bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	c.applyHeaders(req)
	resp, err := c.doWithRetry(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	buf := make([]byte, chunkSize)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if !fn(buf[:n]) {
				return nil
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("httpclient: streaming body: %w", err)
		}
	}
}
