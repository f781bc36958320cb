package task

import (
	"context"
	"sync"
)

// MockCheck is one queued CheckJob response.
type MockCheck struct {
	State      JobState
	ResultPath string
	Err        error
}

// MockJobClient is a configurable JobClient for tests.
type MockJobClient struct {
	mu sync.Mutex

	UploadPath string
	UploadErr  error
	JobID      string
	CreateErr  error
	Checks     []MockCheck

	checkIdx int
	uploads  int
	creates  int
}

// NewMockJobClient creates a mock that completes after the given checks.
func NewMockJobClient(checks ...MockCheck) *MockJobClient {
	return &MockJobClient{
		UploadPath: "uploads/mock.jpg",
		JobID:      "job-1",
		Checks:     checks,
	}
}

func (m *MockJobClient) UploadImage(_ context.Context, _ []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	if m.UploadErr != nil {
		return "", m.UploadErr
	}
	return m.UploadPath, nil
}

func (m *MockJobClient) CreateJob(_ context.Context, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.CreateErr != nil {
		return "", m.CreateErr
	}
	return m.JobID, nil
}

func (m *MockJobClient) CheckJob(_ context.Context, _ string) (JobState, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Checks) == 0 {
		return JobRunning, "", nil
	}
	idx := m.checkIdx
	if idx >= len(m.Checks) {
		idx = len(m.Checks) - 1
	} else {
		m.checkIdx++
	}
	c := m.Checks[idx]
	return c.State, c.ResultPath, c.Err
}
