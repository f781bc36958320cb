package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3API is the subset of the S3 client the uploader needs.
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
}

// S3Uploader stores assets in an S3 bucket and returns their public URL.
type S3Uploader struct {
	client    s3API
	bucket    string
	prefix    string
	publicURL string
}

// S3Option configures the uploader.
type S3Option func(*S3Uploader)

// WithS3Client injects a client, used by tests.
func WithS3Client(client s3API) S3Option {
	return func(u *S3Uploader) { u.client = client }
}

// WithS3Prefix sets the key prefix objects are stored under.
func WithS3Prefix(prefix string) S3Option {
	return func(u *S3Uploader) { u.prefix = prefix }
}

// WithS3PublicURL overrides the base URL returned for uploaded objects
// (e.g. a CDN in front of the bucket).
func WithS3PublicURL(base string) S3Option {
	return func(u *S3Uploader) { u.publicURL = base }
}

// NewS3Uploader creates an uploader for bucket, loading AWS configuration
// from the environment unless a client is injected.
func NewS3Uploader(ctx context.Context, bucket string, opts ...S3Option) (*S3Uploader, error) {
	u := &S3Uploader{bucket: bucket, prefix: "uploads"}
	for _, opt := range opts {
		opt(u)
	}
	if u.client == nil {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		u.client = s3.NewFromConfig(cfg)
	}
	if u.publicURL == "" {
		u.publicURL = fmt.Sprintf("https://%s.s3.amazonaws.com", bucket)
	}
	return u, nil
}

// Upload writes the payload to the bucket. On a key collision the object
// name gets a numeric suffix, up to a small retry bound.
func (u *S3Uploader) Upload(ctx context.Context, data []byte, suggestedName string) (*UploadResult, error) {
	name := suggestedName
	ext := path.Ext(suggestedName)
	base := suggestedName[:len(suggestedName)-len(ext)]

	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			name = fmt.Sprintf("%s-%d%s", base, attempt, ext)
		}
		key := path.Join(u.prefix, name)

		_, err := u.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(key),
		})
		if err == nil {
			// Key exists, retry with a suffixed name.
			continue
		}

		_, err = u.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(u.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader(data),
		})
		if err != nil {
			return nil, fmt.Errorf("put object %s: %w", key, err)
		}

		return &UploadResult{
			PublicURL: u.publicURL + "/" + key,
			FileName:  name,
			Size:      int64(len(data)),
		}, nil
	}

	return nil, fmt.Errorf("upload %s: could not find a free object name", suggestedName)
}
