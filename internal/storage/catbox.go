package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// CatboxUploader uploads to an anonymous catbox-style file host: a single
// multipart POST that answers with the public URL as plain text.
type CatboxUploader struct {
	endpoint string
	client   *http.Client
}

// CatboxOption configures the uploader.
type CatboxOption func(*CatboxUploader)

// WithCatboxClient replaces the HTTP client.
func WithCatboxClient(client *http.Client) CatboxOption {
	return func(u *CatboxUploader) { u.client = client }
}

// NewCatboxUploader creates an uploader against the given endpoint.
func NewCatboxUploader(endpoint string, opts ...CatboxOption) *CatboxUploader {
	u := &CatboxUploader{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload posts the payload as a multipart form.
func (u *CatboxUploader) Upload(ctx context.Context, data []byte, suggestedName string) (*UploadResult, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	if err := form.WriteField("reqtype", "fileupload"); err != nil {
		return nil, fmt.Errorf("write form field: %w", err)
	}
	part, err := form.CreateFormFile("fileToUpload", suggestedName)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write form file: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload to %s: %w", u.endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read upload response: %w", err)
	}

	publicURL := strings.TrimSpace(string(raw))
	if resp.StatusCode != http.StatusOK || !strings.HasPrefix(publicURL, "https://") {
		return nil, fmt.Errorf("upload rejected: status %d, body %q", resp.StatusCode, truncate(publicURL, 120))
	}

	return &UploadResult{
		PublicURL: publicURL,
		FileName:  suggestedName,
		Size:      int64(len(data)),
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
