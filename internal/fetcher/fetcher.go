// Package fetcher issues the bounded, manually-redirected upstream GET
// described in spec §4.3.
package fetcher

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/yourname/notion-image-proxy/internal/apperr"
	"github.com/yourname/notion-image-proxy/internal/validator"
)

const (
	userAgent    = "notion-image-proxy/1.0 (+image fetcher)"
	maxRedirects = 5
)

var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
	ForceAttemptHTTP2:     true,
	MaxIdleConns:          200,
	MaxIdleConnsPerHost:   50,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
}

// Client fetches upstream images under a global deadline, chasing
// redirects manually so every hop is re-validated.
type Client struct {
	HTTP *http.Client
}

// New builds a Client whose underlying transport never follows redirects
// automatically — Fetch re-validates and re-dials each hop itself.
func New() *Client {
	return &Client{
		HTTP: &http.Client{
			Transport: defaultTransport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Result is a successful fetch.
type Result struct {
	Bytes        []byte
	ContentType  string
	OriginalSize int64
}

// Fetch performs the bounded GET with manual redirect chasing.
func (c *Client) Fetch(ctx context.Context, rawURL string, timeout time.Duration, maxSizeBytes int64, allowed validator.AllowedHosts) (*Result, *apperr.Error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	current := rawURL
	for hop := 0; ; hop++ {
		if hop > maxRedirects {
			return nil, apperr.New(502, apperr.CodeTooManyRedirects, "too many redirects")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return nil, apperr.Wrap(400, apperr.CodeInvalidURL, "could not build upstream request", err)
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "image/*")

		resp, err := c.HTTP.Do(req)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, apperr.Wrap(504, apperr.CodeUpstreamTimeout, "upstream request timed out", ctxErr)
			}
			return nil, apperr.Wrap(502, apperr.CodeFetchFailed, "upstream request failed", err)
		}

		if isRedirect(resp.StatusCode) {
			resp.Body.Close()
			loc := resp.Header.Get("Location")
			if loc == "" {
				return nil, apperr.New(502, apperr.CodeInvalidRedirect, "redirect missing Location header")
			}
			next, err := resolveRedirect(current, loc)
			if err != nil {
				return nil, apperr.New(502, apperr.CodeInvalidRedirect, "redirect Location could not be resolved")
			}
			if _, verr := validator.Validate(next, allowed); verr != nil {
				return nil, apperr.New(403, apperr.CodeRedirectBlocked, "redirect target is not allowed")
			}
			current = next
			continue
		}

		return c.readResponse(ctx, resp, maxSizeBytes)
	}
}

func (c *Client) readResponse(ctx context.Context, resp *http.Response, maxSizeBytes int64) (*Result, *apperr.Error) {
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		status := resp.StatusCode
		if status == http.StatusForbidden {
			// Remapped to avoid leaking upstream auth details.
			status = http.StatusBadGateway
		}
		return nil, apperr.New(status, apperr.CodeUpstreamError, "upstream returned a non-success status")
	}

	ct := normalizeContentType(resp.Header.Get("Content-Type"))
	if !strings.HasPrefix(ct, "image/") {
		return nil, apperr.New(400, apperr.CodeInvalidContentType, "upstream content type is not an image")
	}

	if resp.ContentLength > 0 && resp.ContentLength > maxSizeBytes {
		return nil, apperr.New(413, apperr.CodeImageTooLarge, "declared content length exceeds the maximum allowed size")
	}

	limited := &countingReader{r: resp.Body, max: maxSizeBytes}
	body, err := io.ReadAll(limited)
	if err != nil {
		if errors.Is(err, errTooLarge) {
			return nil, apperr.New(413, apperr.CodeImageTooLarge, "image exceeded the maximum allowed size while streaming")
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, apperr.Wrap(504, apperr.CodeUpstreamTimeout, "upstream body read timed out", ctxErr)
		}
		return nil, apperr.Wrap(502, apperr.CodeFetchFailed, "failed reading upstream body", err)
	}

	if len(body) == 0 {
		return nil, apperr.New(502, apperr.CodeEmptyBody, "upstream returned an empty body")
	}

	return &Result{Bytes: body, ContentType: ct, OriginalSize: int64(len(body))}, nil
}

var errTooLarge = errors.New("response body exceeded max size")

// countingReader enforces maxSizeBytes against the actual bytes read,
// never trusting the declared Content-Length.
type countingReader struct {
	r     io.Reader
	max   int64
	total int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.total += int64(n)
		if c.total > c.max {
			return n, errTooLarge
		}
	}
	return n, err
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolveRedirect(base, location string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// ParseSize parses a positive byte count such as a MAX_IMAGE_SIZE_BYTES
// value, returning fallback when s is not a positive integer.
func ParseSize(s string, fallback int64) int64 {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
