package sitemap

import (
	"context"
	"net/http"
	"sync"

	"github.com/romangod6/docs-crawler/internal/fetch"
)

type fakeResponse struct {
	status      int
	body        string
	contentType string
	err         error
}

// fakeFetcher serves canned responses and records every requested URL.
// Unknown URLs get a 404.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     []string
}

func newFakeFetcher(responses map[string]fakeResponse) *fakeFetcher {
	return &fakeFetcher{responses: responses}
}

func (f *fakeFetcher) Get(_ context.Context, url string, _ fetch.Options) (*fetch.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, url)
	r, ok := f.responses[url]
	f.mu.Unlock()

	if !ok {
		return &fetch.Response{URL: url, StatusCode: http.StatusNotFound, Header: http.Header{}}, nil
	}
	if r.err != nil {
		return nil, r.err
	}
	status := r.status
	if status == 0 {
		status = http.StatusOK
	}
	header := http.Header{}
	if r.contentType != "" {
		header.Set("Content-Type", r.contentType)
	}
	return &fetch.Response{URL: url, StatusCode: status, Header: header, Body: []byte(r.body)}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeFetcher) CallCount(url string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == url {
			n++
		}
	}
	return n
}
