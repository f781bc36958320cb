package task

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/raeldev/apihub/internal/auth"
	"github.com/raeldev/apihub/internal/fault"
	"github.com/raeldev/apihub/internal/quota"
	"github.com/raeldev/apihub/internal/storage"
	"github.com/raeldev/apihub/internal/store"
	"github.com/raeldev/apihub/internal/upstream"
)

// Tracker defaults.
const (
	DefaultPollInterval    = 2 * time.Second
	DefaultMaxPollAttempts = 300
	DefaultRetention       = time.Hour
	DefaultPipelineTimeout = 15 * time.Minute
)

// Tracker accepts long-running image-processing work, runs it in a
// background worker, and answers status polls by task ID. Records are kept
// for a fixed retention window after creation regardless of outcome.
type Tracker struct {
	tasks     *store.Store[Task]
	quota     *quota.Counter
	connector upstream.Connector
	jobs      JobClient
	uploader  storage.Uploader
	logger    *slog.Logger

	ownerKey        string
	resultBase      string
	pollInterval    time.Duration
	maxPollAttempts int
	retention       time.Duration
	pipelineTimeout time.Duration
	now             func() time.Time

	wg sync.WaitGroup
}

// TrackerOption configures the Tracker.
type TrackerOption func(*Tracker)

// WithOwnerKey sets the credential that bypasses quota checks.
func WithOwnerKey(key string) TrackerOption {
	return func(t *Tracker) { t.ownerKey = key }
}

// WithResultBase sets the URL prefix processed assets are downloaded from.
func WithResultBase(base string) TrackerOption {
	return func(t *Tracker) { t.resultBase = base }
}

// WithPolling sets the poll interval and attempt bound.
func WithPolling(interval time.Duration, maxAttempts int) TrackerOption {
	return func(t *Tracker) {
		t.pollInterval = interval
		t.maxPollAttempts = maxAttempts
	}
}

// WithRetention sets how long task records are kept after creation.
func WithRetention(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.retention = d }
}

// WithPipelineTimeout bounds one worker run end to end.
func WithPipelineTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.pipelineTimeout = d }
}

// WithTrackerLogger sets the logger.
func WithTrackerLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker creates a tracker wired to its collaborators.
func NewTracker(connector upstream.Connector, jobs JobClient, uploader storage.Uploader, counter *quota.Counter, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		tasks:           store.New[Task](),
		quota:           counter,
		connector:       connector,
		jobs:            jobs,
		uploader:        uploader,
		logger:          slog.Default(),
		pollInterval:    DefaultPollInterval,
		maxPollAttempts: DefaultMaxPollAttempts,
		retention:       DefaultRetention,
		pipelineTimeout: DefaultPipelineTimeout,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Submit registers a new task and schedules its worker. Unless ownerKey
// matches the configured owner credential, one quota slot is consumed for
// identifier; the slot is refunded if the task later fails.
func (t *Tracker) Submit(sourceURL, identifier, ownerKey string) (*Receipt, error) {
	if sourceURL == "" {
		return nil, fault.New(fault.KindInvalidParameter, "url is required")
	}
	if identifier == "" {
		return nil, fault.New(fault.KindInvalidParameter, "identifier is required")
	}

	isOwner := auth.ValidateKey(ownerKey, t.ownerKey)

	if !isOwner {
		if _, err := t.quota.Check(identifier); err != nil {
			return nil, err
		}
	}

	taskID := "task_" + ulid.Make().String()
	now := t.now()
	t.tasks.Put(taskID, Task{
		ID:         taskID,
		Status:     StatusPending,
		URL:        sourceURL,
		Identifier: identifier,
		IsOwner:    isOwner,
		CreatedAt:  now,
	})

	t.logger.Info("task created", "task_id", taskID, "identifier", identifier, "owner", isOwner)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		t.run(taskID)
	}()

	return &Receipt{
		TaskID:        taskID,
		Status:        StatusPending,
		EstimatedTime: "3-5 minutes",
		CreatedAt:     now,
	}, nil
}

// GetStatus returns the current view of a task.
func (t *Tracker) GetStatus(taskID string) (*StatusView, error) {
	rec, ok := t.tasks.Get(taskID)
	if !ok {
		return nil, fault.New(fault.KindTaskNotFound, "task %q not found", taskID)
	}
	task := rec.Payload

	view := &StatusView{
		TaskID:      task.ID,
		Status:      task.Status,
		Progress:    task.Progress,
		CreatedAt:   task.CreatedAt,
		StartedAt:   task.StartedAt,
		CompletedAt: task.CompletedAt,
		Result:      task.Result,
		Error:       task.Error,
	}
	if task.Status == StatusProcessing {
		minutes := (100 - task.Progress + 19) / 20
		if minutes < 1 {
			minutes = 1
		}
		view.EstimatedRemaining = fmt.Sprintf("%d minutes", minutes)
	}
	return view, nil
}

// GetQueueStatus aggregates task counts by status.
func (t *Tracker) GetQueueStatus() QueueStatus {
	var qs QueueStatus
	for _, task := range t.tasks.Snapshot() {
		switch task.Status {
		case StatusPending:
			qs.Pending++
		case StatusProcessing:
			qs.Processing++
		case StatusCompleted:
			qs.Completed++
		case StatusFailed:
			qs.Failed++
		}
	}
	return qs
}

// Sweep removes task records older than the retention window, terminal or
// not, and returns the count removed.
func (t *Tracker) Sweep() int {
	return t.tasks.SweepBy(t.retention)
}

// Wait blocks until all scheduled workers have finished. Used on shutdown
// and by tests.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

// run executes the pipeline for one task: download the source asset, hand
// it to the processing upstream, poll until done, download the processed
// asset, and push it to the storage collaborator.
func (t *Tracker) run(taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.pipelineTimeout)
	defer cancel()

	t.transition(taskID, StatusProcessing, 10)

	result, err := t.pipeline(ctx, taskID)
	if err != nil {
		t.fail(taskID, err)
		return
	}

	now := t.now()
	t.tasks.Update(taskID, func(task *Task) {
		task.Status = StatusCompleted
		task.Progress = 100
		task.CompletedAt = &now
		task.Result = result
	})
	t.logger.Info("task completed", "task_id", taskID, "url", result.PublicURL)
}

func (t *Tracker) pipeline(ctx context.Context, taskID string) (*Result, error) {
	rec, ok := t.tasks.Get(taskID)
	if !ok {
		return nil, fault.New(fault.KindTaskNotFound, "task %q vanished before processing", taskID)
	}
	sourceURL := rec.Payload.URL

	t.setProgress(taskID, 20)
	source, err := t.connector.GetBytes(ctx, sourceURL)
	if err != nil {
		return nil, fmt.Errorf("download source: %w", err)
	}
	t.setProgress(taskID, 30)

	imagePath, err := t.jobs.UploadImage(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("upload to processing upstream: %w", err)
	}
	t.setProgress(taskID, 40)

	jobID, err := t.jobs.CreateJob(ctx, imagePath)
	if err != nil {
		return nil, fmt.Errorf("create processing job: %w", err)
	}

	resultPath, err := t.poll(ctx, taskID, jobID)
	if err != nil {
		return nil, err
	}
	t.setProgress(taskID, 80)

	processed, err := t.connector.GetBytes(ctx, t.resultBase+resultPath)
	if err != nil {
		return nil, fmt.Errorf("download processed asset: %w", err)
	}
	t.setProgress(taskID, 90)

	name := fmt.Sprintf("restyle_%d.webp", t.now().UnixMilli())
	uploaded, err := t.uploader.Upload(ctx, processed, name)
	if err != nil {
		return nil, fmt.Errorf("upload processed asset: %w", err)
	}

	return &Result{
		PublicURL:     uploaded.PublicURL,
		FileName:      uploaded.FileName,
		OriginalSize:  formatSize(len(source)),
		ProcessedSize: formatSize(len(processed)),
	}, nil
}

// poll checks the upstream job on a fixed interval, bounded by the attempt
// cap. Individual check failures are tolerated; only the bound ends the
// wait.
func (t *Tracker) poll(ctx context.Context, taskID, jobID string) (string, error) {
	for attempt := 1; attempt <= t.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", fault.Wrap(fault.KindProcessingTimeout, ctx.Err(), "pipeline deadline reached while polling")
		case <-time.After(t.pollInterval):
		}

		state, resultPath, err := t.jobs.CheckJob(ctx, jobID)
		if err != nil {
			t.logger.Debug("poll attempt failed", "task_id", taskID, "attempt", attempt, "error", err)
			continue
		}

		// Map poll progress onto the 40-80 band.
		progress := 40 + attempt*40/t.maxPollAttempts
		if progress > 80 {
			progress = 80
		}
		t.setProgress(taskID, progress)

		switch state {
		case JobDone:
			return resultPath, nil
		case JobFailed:
			return "", fault.New(fault.KindProcessingFailed, "processing upstream reported failure for job %s", jobID)
		}
	}

	return "", fault.New(fault.KindProcessingTimeout,
		"processing timeout after %d attempts", t.maxPollAttempts)
}

func (t *Tracker) fail(taskID string, cause error) {
	now := t.now()
	code := string(fault.KindOf(cause))
	if code == "" {
		code = "processing_error"
	}

	var refund bool
	var identifier string
	t.tasks.Update(taskID, func(task *Task) {
		task.Status = StatusFailed
		task.CompletedAt = &now
		task.Error = &Error{
			Message:   cause.Error(),
			Code:      code,
			Timestamp: now,
		}
		refund = !task.IsOwner
		identifier = task.Identifier
	})

	// Best-effort refund: a failed task should not count against the daily
	// limit.
	if refund && identifier != "" {
		t.quota.Rollback(identifier)
	}

	t.logger.Warn("task failed", "task_id", taskID, "code", code, "error", cause)
}

func (t *Tracker) transition(taskID string, status Status, progress int) {
	now := t.now()
	t.tasks.Update(taskID, func(task *Task) {
		task.Status = status
		if progress > task.Progress {
			task.Progress = progress
		}
		if status == StatusProcessing && task.StartedAt == nil {
			task.StartedAt = &now
		}
	})
}

func (t *Tracker) setProgress(taskID string, progress int) {
	t.tasks.Update(taskID, func(task *Task) {
		if progress > task.Progress {
			task.Progress = progress
		}
	})
}

func formatSize(n int) string {
	return fmt.Sprintf("%.2f MB", float64(n)/1024/1024)
}
