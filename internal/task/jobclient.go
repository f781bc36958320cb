package task

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/raeldev/apihub/internal/fault"
)

// JobState is the processing upstream's numeric job status.
type JobState int

const (
	JobRunning JobState = 1
	JobDone    JobState = 2
	JobFailed  JobState = 3
)

// JobClient is the contract against the image-processing upstream: upload
// the source image, create a job for it, then poll the job until done.
type JobClient interface {
	UploadImage(ctx context.Context, data []byte) (imagePath string, err error)
	CreateJob(ctx context.Context, imagePath string) (jobID string, err error)
	CheckJob(ctx context.Context, jobID string) (state JobState, resultPath string, err error)
}

// HTTPJobClient talks to the upstream's three-call JSON API.
type HTTPJobClient struct {
	baseURL string
	fnName  string
	client  *http.Client
}

// JobClientOption configures the client.
type JobClientOption func(*HTTPJobClient)

// WithJobHTTPClient replaces the HTTP client.
func WithJobHTTPClient(client *http.Client) JobClientOption {
	return func(c *HTTPJobClient) { c.client = client }
}

// WithJobFunction sets the upstream function name submitted with each job.
func WithJobFunction(fn string) JobClientOption {
	return func(c *HTTPJobClient) { c.fnName = fn }
}

// NewHTTPJobClient creates a client rooted at baseURL.
func NewHTTPJobClient(baseURL string, opts ...JobClientOption) *HTTPJobClient {
	c := &HTTPJobClient{
		baseURL: baseURL,
		fnName:  "img-restyle",
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type jobEnvelope struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Path        string   `json:"path"`
		TaskID      string   `json:"task_id"`
		Status      JobState `json:"status"`
		ResultImage string   `json:"result_image"`
	} `json:"data"`
}

// UploadImage posts the source image as a multipart form.
func (c *HTTPJobClient) UploadImage(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile("file", fmt.Sprintf("image_%d.jpg", time.Now().UnixMilli()))
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("write form file: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("close form: %w", err)
	}

	env, err := c.post(ctx, "/upload-img", &body, form.FormDataContentType())
	if err != nil {
		return "", err
	}
	return env.Data.Path, nil
}

// CreateJob submits a processing job for an uploaded image.
func (c *HTTPJobClient) CreateJob(ctx context.Context, imagePath string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"fn_name": c.fnName,
		"input": map[string]any{
			"source_image": imagePath,
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal job payload: %w", err)
	}

	env, err := c.post(ctx, "/create", bytes.NewReader(payload), "application/json")
	if err != nil {
		return "", err
	}
	return env.Data.TaskID, nil
}

// CheckJob polls one job.
func (c *HTTPJobClient) CheckJob(ctx context.Context, jobID string) (JobState, string, error) {
	payload, err := json.Marshal(map[string]any{
		"task_id": jobID,
		"fn_name": c.fnName,
	})
	if err != nil {
		return 0, "", fmt.Errorf("marshal status payload: %w", err)
	}

	env, err := c.post(ctx, "/check-status", bytes.NewReader(payload), "application/json")
	if err != nil {
		return 0, "", err
	}
	return env.Data.Status, env.Data.ResultImage, nil
}

func (c *HTTPJobClient) post(ctx context.Context, path string, body io.Reader, contentType string) (*jobEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, err, "processing upstream call failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamUnavailable, err, "read processing upstream response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fault.New(fault.KindUpstreamUnavailable, "processing upstream returned %d", resp.StatusCode)
	}

	var env jobEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fault.Wrap(fault.KindUpstreamInvalidResponse, err, "decode processing upstream response")
	}
	if env.Code != 200 {
		return nil, fault.New(fault.KindProcessingFailed, "processing upstream rejected call: %s", env.Message)
	}
	return &env, nil
}
