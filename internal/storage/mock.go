package storage

import (
	"context"
	"fmt"
	"sync"
)

// MockUploader records uploads for tests.
type MockUploader struct {
	mu      sync.Mutex
	Err     error
	BaseURL string
	uploads []string
}

// NewMockUploader creates a mock that serves URLs under baseURL.
func NewMockUploader(baseURL string) *MockUploader {
	return &MockUploader{BaseURL: baseURL}
}

// Upload records the call and returns a synthetic public URL.
func (m *MockUploader) Upload(_ context.Context, data []byte, suggestedName string) (*UploadResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	m.uploads = append(m.uploads, suggestedName)
	return &UploadResult{
		PublicURL: fmt.Sprintf("%s/%s", m.BaseURL, suggestedName),
		FileName:  suggestedName,
		Size:      int64(len(data)),
	}, nil
}

// Uploads returns the names uploaded so far.
func (m *MockUploader) Uploads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.uploads...)
}
