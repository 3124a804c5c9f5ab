package handlers

import (
	"fmt"
	"testing"
	"time"
)

func TestClusterJob_Listeners(t *testing.T) {
	job := &ClusterJob{ID: "test-job-listeners", Status: JobStatusRunning}

	ch := job.AddListener()
	if ch == nil {
		t.Fatal("expected channel from AddListener")
	}

	job.SendEvent(JobEvent{Type: "progress", Message: "hello"})

	event := <-ch
	if event.Type != "progress" || event.Message != "hello" {
		t.Errorf("unexpected event %+v", event)
	}

	job.RemoveListener(ch)

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after RemoveListener")
	}
}

func TestClusterJob_Cancel(t *testing.T) {
	cancelled := false
	job := &ClusterJob{ID: "test-job-cancel", Status: JobStatusRunning}
	job.cancel = func() { cancelled = true }

	ch := job.AddListener()
	defer job.RemoveListener(ch)

	job.Cancel()

	// The job only becomes cancelled once it has wound down.
	if job.GetStatus() != JobStatusRunning {
		t.Errorf("expected status to stay 'running', got '%s'", job.GetStatus())
	}
	if !job.View().Cancelling {
		t.Error("expected view to report cancelling")
	}
	if !cancelled {
		t.Error("expected context cancel func to be called")
	}
	if event := <-ch; event.Type != "cancelling" {
		t.Errorf("expected event type 'cancelling', got '%s'", event.Type)
	}

	job.Cancel()
	if len(ch) != 0 {
		t.Errorf("expected a second cancel to send nothing, got %d events", len(ch))
	}
}

func TestClusterJob_CancelFinishedJobIsNoop(t *testing.T) {
	job := &ClusterJob{ID: "done", Status: JobStatusCompleted}
	job.cancel = func() { t.Error("cancel must not be called for a finished job") }

	job.Cancel()

	if job.GetStatus() != JobStatusCompleted {
		t.Errorf("expected status to stay completed, got '%s'", job.GetStatus())
	}
}

func TestSendEvent_FullBufferDoesNotBlock(t *testing.T) {
	job := &ClusterJob{}
	ch := job.AddListener()
	defer job.RemoveListener(ch)

	done := make(chan struct{})
	go func() {
		for i := range cap(ch) + 10 {
			job.SendEvent(JobEvent{Type: "progress", Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SendEvent blocked on a full listener")
	}
	if len(ch) != cap(ch) {
		t.Errorf("expected buffer to be full, got %d of %d", len(ch), cap(ch))
	}
}

func TestJobManager_CreateAndGet(t *testing.T) {
	jm := NewJobManager()
	options := ClusterJobOptions{Epsilon: 0.4, MinPoints: 3, BatchSize: 2, Concurrency: 1}

	job := jm.CreateJob("job123", 7, options, nil)

	if job.ID != "job123" {
		t.Errorf("expected job ID 'job123', got '%s'", job.ID)
	}
	if job.TotalImages != 7 {
		t.Errorf("expected 7 images, got %d", job.TotalImages)
	}
	if job.Status != JobStatusPending {
		t.Errorf("expected status pending, got %v", job.Status)
	}
	if job.Options != options {
		t.Errorf("expected options %+v, got %+v", options, job.Options)
	}

	if retrieved := jm.GetJob("job123"); retrieved != job {
		t.Error("retrieved job should match created job")
	}
	if jm.GetJob("nonexistent") != nil {
		t.Error("expected nil for nonexistent job")
	}
}

func TestJobManager_ListNewestFirst(t *testing.T) {
	jm := NewJobManager()
	older := jm.CreateJob("older", 1, ClusterJobOptions{}, nil)
	newer := jm.CreateJob("newer", 1, ClusterJobOptions{}, nil)
	older.StartedAt = newer.StartedAt.Add(-time.Minute)

	jobs := jm.ListJobs()
	if len(jobs) != 2 || jobs[0].ID != "newer" || jobs[1].ID != "older" {
		t.Errorf("unexpected order: %v", []string{jobs[0].ID, jobs[1].ID})
	}
}

func TestJobManager_PrunesOldestFinishedJobs(t *testing.T) {
	jm := NewJobManager()
	base := time.Now()

	running := jm.CreateJob("running", 1, ClusterJobOptions{}, nil)
	running.Status = JobStatusRunning
	running.StartedAt = base.Add(-3 * time.Hour)

	for i, id := range []string{"done-1", "done-2"} {
		job := jm.CreateJob(id, 1, ClusterJobOptions{}, nil)
		job.Status = JobStatusCompleted
		job.StartedAt = base.Add(time.Duration(i-2) * time.Hour)
	}

	jm.retention = 3
	jm.CreateJob("fresh", 1, ClusterJobOptions{}, nil)

	for _, id := range []string{"running", "done-2", "fresh"} {
		if jm.GetJob(id) == nil {
			t.Errorf("expected job %s to be kept", id)
		}
	}
	if jm.GetJob("done-1") != nil {
		t.Error("expected oldest finished job to be pruned")
	}
	if n := len(jm.ListJobs()); n != 3 {
		t.Errorf("expected 3 jobs, got %d", n)
	}
}

func TestIsJobTerminal(t *testing.T) {
	tests := []struct {
		status   JobStatus
		terminal bool
	}{
		{JobStatusPending, false},
		{JobStatusRunning, false},
		{JobStatusCompleted, true},
		{JobStatusFailed, true},
		{JobStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			if got := isJobTerminal(tt.status); got != tt.terminal {
				t.Errorf("isJobTerminal(%s) = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}
