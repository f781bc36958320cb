// Package storage implements the upload collaborators the task tracker hands
// processed assets to.
package storage

import "context"

// UploadResult describes where an uploaded asset ended up.
type UploadResult struct {
	PublicURL string `json:"public_url"`
	FileName  string `json:"file_name"`
	Size      int64  `json:"size_bytes"`
}

// Uploader stores a byte payload under a suggested name and returns its
// public location. Implementations handle naming conflicts themselves,
// retrying with a different name if needed.
type Uploader interface {
	Upload(ctx context.Context, data []byte, suggestedName string) (*UploadResult, error)
}
