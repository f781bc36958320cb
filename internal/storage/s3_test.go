package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3 struct {
	existing map[string]bool
	puts     []string
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.puts = append(f.puts, *params.Key)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.existing[*params.Key] {
		return &s3.HeadObjectOutput{}, nil
	}
	return nil, errors.New("NotFound")
}

func TestS3Upload(t *testing.T) {
	fake := &fakeS3{existing: map[string]bool{}}
	u, err := NewS3Uploader(context.Background(), "assets", WithS3Client(fake))
	if err != nil {
		t.Fatalf("NewS3Uploader returned error: %v", err)
	}

	res, err := u.Upload(context.Background(), []byte("data"), "pic.webp")
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if res.PublicURL != "https://assets.s3.amazonaws.com/uploads/pic.webp" {
		t.Errorf("PublicURL = %q", res.PublicURL)
	}
	if len(fake.puts) != 1 || fake.puts[0] != "uploads/pic.webp" {
		t.Errorf("puts = %v", fake.puts)
	}
}

func TestS3UploadRetriesOnConflict(t *testing.T) {
	fake := &fakeS3{existing: map[string]bool{
		"uploads/pic.webp":   true,
		"uploads/pic-1.webp": true,
	}}
	u, err := NewS3Uploader(context.Background(), "assets", WithS3Client(fake))
	if err != nil {
		t.Fatalf("NewS3Uploader returned error: %v", err)
	}

	res, err := u.Upload(context.Background(), []byte("data"), "pic.webp")
	if err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}
	if res.FileName != "pic-2.webp" {
		t.Errorf("FileName = %q, want pic-2.webp", res.FileName)
	}
}
