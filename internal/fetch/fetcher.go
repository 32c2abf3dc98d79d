// Package fetch is the network abstraction shared by sitemap discovery,
// sitemap processing and the page extractor command.
package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// MaxBodyBytes caps every response body; large sitemaps stay well below it.
	MaxBodyBytes = 50 << 20

	defaultTimeout = 30 * time.Second
)

// ErrUnexpectedStatus is wrapped by StatusError.
var ErrUnexpectedStatus = errors.New("unexpected status")

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %d for %s", ErrUnexpectedStatus, e.StatusCode, e.URL)
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// Options configures a single request.
type Options struct {
	Timeout time.Duration
	Headers map[string]string
}

// Response is a fully read HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a status in [200,300).
func (r *Response) OK() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// Err returns a *StatusError for non-2xx responses and nil otherwise.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &StatusError{URL: r.URL, StatusCode: r.StatusCode}
}

// ContentType returns the lower-cased Content-Type header.
func (r *Response) ContentType() string {
	return strings.ToLower(r.Header.Get("Content-Type"))
}

// Fetcher performs GET requests. Non-2xx responses are returned, not
// treated as errors; only transport failures produce an error.
type Fetcher interface {
	Get(ctx context.Context, url string, opts Options) (*Response, error)
}

// HTTPFetcher implements Fetcher over net/http.
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher wraps client; a nil client gets a default one.
func NewHTTPFetcher(client *http.Client) *HTTPFetcher {
	if client == nil {
		client = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("stopped after 5 redirects")
				}
				return nil
			},
		}
	}
	return &HTTPFetcher{client: client}
}

// Get fetches url with the timeout and headers in opts.
func (f *HTTPFetcher) Get(ctx context.Context, url string, opts Options) (*Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}

	return &Response{
		URL:        url,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

// readBody decodes Content-Encoding when the transport did not, and
// transparently gunzips payloads such as sitemap.xml.gz.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = io.LimitReader(resp.Body, MaxBodyBytes)

	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = io.LimitReader(gz, MaxBodyBytes)
	case "deflate":
		dr, err := deflateReader(r)
		if err != nil {
			return nil, err
		}
		defer dr.Close()
		r = io.LimitReader(dr, MaxBodyBytes)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return maybeGunzip(body), nil
}

// deflateReader decodes HTTP deflate, which is zlib-wrapped. Some servers
// send a raw DEFLATE stream instead, so a missing zlib header falls back
// to plain flate.
func deflateReader(r io.Reader) (io.ReadCloser, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	zr, err := zlib.NewReader(bytes.NewReader(raw))
	if err == nil {
		return zr, nil
	}
	if errors.Is(err, zlib.ErrHeader) {
		return flate.NewReader(bytes.NewReader(raw)), nil
	}
	return nil, err
}

func maybeGunzip(body []byte) []byte {
	if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body
	}
	gz, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return body
	}
	defer gz.Close()
	out, err := io.ReadAll(io.LimitReader(gz, MaxBodyBytes))
	if err != nil {
		return body
	}
	return out
}
