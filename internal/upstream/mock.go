package upstream

import (
	"context"
	"net/url"
	"sync"

	"github.com/raeldev/apihub/internal/fault"
)

// MockCall records a single call made against the mock connector.
type MockCall struct {
	Method string // "fetch", "post", or "get_bytes"
	URL    string
	Fields url.Values
}

// MockConnector is a configurable Connector for tests. Responses are keyed
// by method and returned in FIFO order; when a queue is exhausted the last
// entry repeats.
type MockConnector struct {
	mu sync.Mutex

	Pages     []string
	PageErrs  []error
	Posts     [][]byte
	PostErrs  []error
	Bytes     [][]byte
	BytesErrs []error

	pageIdx, postIdx, bytesIdx int
	calls                      []MockCall
}

// NewMockConnector creates an empty mock connector.
func NewMockConnector() *MockConnector {
	return &MockConnector{}
}

// FetchPage returns the next queued page.
func (m *MockConnector) FetchPage(_ context.Context, pageURL string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: "fetch", URL: pageURL})

	idx, err := nextIdx(&m.pageIdx, len(m.Pages), m.PageErrs)
	if err != nil {
		return "", err
	}
	if idx < 0 {
		return "", fault.New(fault.KindUpstreamUnavailable, "mock: no pages configured")
	}
	return m.Pages[idx], nil
}

// PostForm returns the next queued post response.
func (m *MockConnector) PostForm(_ context.Context, postURL string, fields url.Values, _ map[string]string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: "post", URL: postURL, Fields: fields})

	idx, err := nextIdx(&m.postIdx, len(m.Posts), m.PostErrs)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, fault.New(fault.KindUpstreamUnavailable, "mock: no post responses configured")
	}
	return m.Posts[idx], nil
}

// GetBytes returns the next queued asset body.
func (m *MockConnector) GetBytes(_ context.Context, assetURL string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: "get_bytes", URL: assetURL})

	idx, err := nextIdx(&m.bytesIdx, len(m.Bytes), m.BytesErrs)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, fault.New(fault.KindUpstreamUnavailable, "mock: no byte responses configured")
	}
	return m.Bytes[idx], nil
}

// Calls returns a copy of all recorded calls.
func (m *MockConnector) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockCall(nil), m.calls...)
}

// nextIdx advances cursor through a response queue of length n, checking for
// a queued error at the same position first. Returns -1 when nothing is
// configured.
func nextIdx(cursor *int, n int, errs []error) (int, error) {
	idx := *cursor
	if idx < len(errs) && errs[idx] != nil {
		*cursor++
		return 0, errs[idx]
	}
	if n == 0 {
		return -1, nil
	}
	if idx >= n {
		idx = n - 1
	} else {
		*cursor++
	}
	return idx, nil
}
