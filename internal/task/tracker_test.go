package task

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/raeldev/apihub/internal/fault"
	"github.com/raeldev/apihub/internal/quota"
	"github.com/raeldev/apihub/internal/storage"
	"github.com/raeldev/apihub/internal/upstream"
)

func newTestTracker(t *testing.T, jobs JobClient, opts ...TrackerOption) (*Tracker, *quota.Counter) {
	t.Helper()

	conn := upstream.NewMockConnector()
	conn.Bytes = [][]byte{[]byte("source-image"), []byte("processed-image")}

	counter := quota.New(quota.WithLimit(3))
	base := []TrackerOption{
		WithPolling(time.Millisecond, 5),
		WithOwnerKey("owner-secret"),
		WithResultBase("https://cdn.example.com/"),
	}
	tr := NewTracker(conn, jobs, storage.NewMockUploader("https://files.example.com"), counter, append(base, opts...)...)
	return tr, counter
}

func TestSubmitReturnsImmediately(t *testing.T) {
	jobs := NewMockJobClient(MockCheck{State: JobDone, ResultPath: "out/result.webp"})
	tr, counter := newTestTracker(t, jobs)

	receipt, err := tr.Submit("https://img.example.com/a.jpg", "user1", "")
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if receipt.Status != StatusPending {
		t.Errorf("Status = %q, want pending", receipt.Status)
	}
	if !strings.HasPrefix(receipt.TaskID, "task_") {
		t.Errorf("TaskID = %q, want task_ prefix", receipt.TaskID)
	}
	if st := counter.GetStatus("user1"); st.Used != 1 {
		t.Errorf("quota used = %d, want 1", st.Used)
	}

	tr.Wait()
}

func TestTaskCompletes(t *testing.T) {
	jobs := NewMockJobClient(
		MockCheck{State: JobRunning},
		MockCheck{State: JobDone, ResultPath: "out/result.webp"},
	)
	tr, _ := newTestTracker(t, jobs)

	receipt, err := tr.Submit("https://img.example.com/a.jpg", "user1", "")
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	tr.Wait()

	view, err := tr.GetStatus(receipt.TaskID)
	if err != nil {
		t.Fatalf("GetStatus returned error: %v", err)
	}
	if view.Status != StatusCompleted {
		t.Fatalf("Status = %q, want completed (error: %+v)", view.Status, view.Error)
	}
	if view.Progress != 100 {
		t.Errorf("Progress = %d, want 100", view.Progress)
	}
	if view.Result == nil || !strings.HasPrefix(view.Result.PublicURL, "https://files.example.com/") {
		t.Errorf("Result = %+v", view.Result)
	}
	if view.StartedAt == nil || view.CompletedAt == nil {
		t.Error("timestamps not set on completion")
	}
}

func TestStatusProgressionIsMonotonic(t *testing.T) {
	jobs := NewMockJobClient(
		MockCheck{State: JobRunning},
		MockCheck{State: JobRunning},
		MockCheck{State: JobDone, ResultPath: "out/r.webp"},
	)
	tr, _ := newTestTracker(t, jobs)

	receipt, err := tr.Submit("https://img.example.com/a.jpg", "user1", "")
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}

	// Poll status concurrently with the worker; progress must never go
	// backward and the status order must be pending → processing → terminal.
	rank := map[Status]int{StatusPending: 0, StatusProcessing: 1, StatusCompleted: 2, StatusFailed: 2}
	lastProgress, lastRank := -1, -1
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view, err := tr.GetStatus(receipt.TaskID)
		if err != nil {
			t.Fatalf("GetStatus returned error: %v", err)
		}
		if view.Progress < lastProgress {
			t.Fatalf("progress went backward: %d -> %d", lastProgress, view.Progress)
		}
		if rank[view.Status] < lastRank {
			t.Fatalf("status went backward: rank %d -> %d", lastRank, rank[view.Status])
		}
		lastProgress, lastRank = view.Progress, rank[view.Status]
		if view.Status == StatusCompleted || view.Status == StatusFailed {
			break
		}
		time.Sleep(time.Millisecond)
	}
	tr.Wait()

	view, _ := tr.GetStatus(receipt.TaskID)
	if view.Status != StatusCompleted && view.Status != StatusFailed {
		t.Fatalf("task never reached a terminal state: %q", view.Status)
	}
}

func TestProcessingFailureRollsBackQuota(t *testing.T) {
	jobs := NewMockJobClient(MockCheck{State: JobFailed})
	tr, counter := newTestTracker(t, jobs)

	receipt, err := tr.Submit("https://img.example.com/a.jpg", "user1", "")
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	tr.Wait()

	view, _ := tr.GetStatus(receipt.TaskID)
	if view.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", view.Status)
	}
	if view.Error == nil || view.Error.Code != string(fault.KindProcessingFailed) {
		t.Errorf("Error = %+v", view.Error)
	}

	// The consumed slot came back.
	if st := counter.GetStatus("user1"); st.Used != 0 {
		t.Errorf("quota used after failure = %d, want 0", st.Used)
	}
}

func TestPollTimeout(t *testing.T) {
	jobs := NewMockJobClient(MockCheck{State: JobRunning})
	tr, _ := newTestTracker(t, jobs, WithPolling(time.Millisecond, 3))

	receipt, err := tr.Submit("https://img.example.com/a.jpg", "user1", "")
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	tr.Wait()

	view, _ := tr.GetStatus(receipt.TaskID)
	if view.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", view.Status)
	}
	if view.Error.Code != string(fault.KindProcessingTimeout) {
		t.Errorf("Error.Code = %q, want %q", view.Error.Code, fault.KindProcessingTimeout)
	}
}

func TestQuotaExhaustion(t *testing.T) {
	jobs := NewMockJobClient(MockCheck{State: JobDone, ResultPath: "out/r.webp"})
	tr, _ := newTestTracker(t, jobs)

	for i := 0; i < 3; i++ {
		if _, err := tr.Submit("https://img.example.com/a.jpg", "user1", ""); err != nil {
			t.Fatalf("submit %d returned error: %v", i+1, err)
		}
	}

	_, err := tr.Submit("https://img.example.com/a.jpg", "user1", "")
	if !fault.IsKind(err, fault.KindDailyLimitExceeded) {
		t.Fatalf("kind = %q, want %q", fault.KindOf(err), fault.KindDailyLimitExceeded)
	}
	meta := fault.MetaOf(err)
	if meta["reset_in_seconds"].(int) <= 0 {
		t.Error("reset_in_seconds should be positive")
	}

	tr.Wait()
}

func TestOwnerBypassesQuota(t *testing.T) {
	jobs := NewMockJobClient(MockCheck{State: JobDone, ResultPath: "out/r.webp"})
	tr, counter := newTestTracker(t, jobs)

	for i := 0; i < 5; i++ {
		if _, err := tr.Submit("https://img.example.com/a.jpg", "boss", "owner-secret"); err != nil {
			t.Fatalf("owner submit %d returned error: %v", i+1, err)
		}
	}
	tr.Wait()

	if st := counter.GetStatus("boss"); st.Used != 0 {
		t.Errorf("owner usage = %d, want 0", st.Used)
	}
}

func TestOwnerFailureDoesNotRollback(t *testing.T) {
	jobs := NewMockJobClient(MockCheck{State: JobFailed})
	tr, counter := newTestTracker(t, jobs)

	// A non-owner consumed one slot that must survive the owner's failure.
	if _, err := counter.Check("boss"); err != nil {
		t.Fatalf("check: %v", err)
	}

	if _, err := tr.Submit("https://img.example.com/a.jpg", "boss", "owner-secret"); err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	tr.Wait()

	if st := counter.GetStatus("boss"); st.Used != 1 {
		t.Errorf("usage = %d, want 1 (owner failure must not refund)", st.Used)
	}
}

func TestGetStatusUnknownTask(t *testing.T) {
	tr, _ := newTestTracker(t, NewMockJobClient())
	_, err := tr.GetStatus("task_missing")
	if !fault.IsKind(err, fault.KindTaskNotFound) {
		t.Errorf("kind = %q, want %q", fault.KindOf(err), fault.KindTaskNotFound)
	}
}

func TestSubmitValidation(t *testing.T) {
	tr, _ := newTestTracker(t, NewMockJobClient())

	if _, err := tr.Submit("", "user1", ""); !fault.IsKind(err, fault.KindInvalidParameter) {
		t.Errorf("empty url: kind = %q", fault.KindOf(err))
	}
	if _, err := tr.Submit("https://x", "", ""); !fault.IsKind(err, fault.KindInvalidParameter) {
		t.Errorf("empty identifier: kind = %q", fault.KindOf(err))
	}
}

func TestQueueStatusAndSweep(t *testing.T) {
	jobs := NewMockJobClient(MockCheck{State: JobDone, ResultPath: "out/r.webp"})
	tr, _ := newTestTracker(t, jobs, WithRetention(time.Hour))

	receipt, err := tr.Submit("https://img.example.com/a.jpg", "user1", "")
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	tr.Wait()

	qs := tr.GetQueueStatus()
	if qs.Completed != 1 {
		t.Errorf("Completed = %d, want 1", qs.Completed)
	}

	// Not yet past retention.
	if removed := tr.Sweep(); removed != 0 {
		t.Errorf("Sweep removed %d, want 0", removed)
	}

	// Age the record past retention and sweep again.
	past := time.Now().Add(-2 * time.Hour)
	tr.tasks.SetClock(func() time.Time { return past })
	tr.tasks.Put("task_aged", Task{ID: "task_aged", Status: StatusCompleted, CreatedAt: past})
	tr.tasks.SetClock(time.Now)

	if removed := tr.Sweep(); removed != 1 {
		t.Errorf("Sweep removed %d, want 1", removed)
	}
	if _, err := tr.GetStatus(receipt.TaskID); err != nil {
		t.Errorf("recent task should survive sweep: %v", err)
	}
}

func TestFailureErrorWrapping(t *testing.T) {
	jobs := NewMockJobClient()
	jobs.UploadErr = errors.New("disk full")
	tr, _ := newTestTracker(t, jobs)

	receipt, err := tr.Submit("https://img.example.com/a.jpg", "user1", "")
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	tr.Wait()

	view, _ := tr.GetStatus(receipt.TaskID)
	if view.Status != StatusFailed {
		t.Fatalf("Status = %q, want failed", view.Status)
	}
	if !strings.Contains(view.Error.Message, "disk full") {
		t.Errorf("Error.Message = %q", view.Error.Message)
	}
	if view.Error.Code != "processing_error" {
		t.Errorf("Error.Code = %q, want processing_error", view.Error.Code)
	}
}
