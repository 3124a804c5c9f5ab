package handlers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kozaktomas/face-cluster/internal/constants"
	"github.com/kozaktomas/face-cluster/internal/export"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// ClusterJob represents an async clustering job.
type ClusterJob struct {
	EventBroadcaster

	ID              string
	Status          JobStatus
	Progress        int
	TotalImages     int
	ProcessedImages int
	FailedImages    int
	Error           string
	StartedAt       time.Time
	CompletedAt     *time.Time
	Options         ClusterJobOptions
	Result          *export.Document

	cancelRequested bool
}

// ClusterJobOptions are the effective parameters of a job.
type ClusterJobOptions struct {
	Epsilon       float64 `json:"epsilon"`
	MinPoints     int     `json:"min_points"`
	BatchSize     int     `json:"batch_size"`
	Concurrency   int     `json:"concurrency"`
	MinConfidence float64 `json:"min_confidence"`
	MaxFaces      int     `json:"max_faces"`
}

// JobView is a point-in-time copy of a job, safe to serialize.
type JobView struct {
	ID              string            `json:"id"`
	Status          JobStatus         `json:"status"`
	Progress        int               `json:"progress"`
	TotalImages     int               `json:"total_images"`
	ProcessedImages int               `json:"processed_images"`
	FailedImages    int               `json:"failed_images"`
	Error           string            `json:"error,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
	Cancelling      bool              `json:"cancelling,omitempty"`
	Options         ClusterJobOptions `json:"options"`
	Result          *export.Document  `json:"result,omitempty"`
}

// View returns a snapshot of the job.
func (j *ClusterJob) View() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobView{
		ID:              j.ID,
		Status:          j.Status,
		Progress:        j.Progress,
		TotalImages:     j.TotalImages,
		ProcessedImages: j.ProcessedImages,
		FailedImages:    j.FailedImages,
		Error:           j.Error,
		StartedAt:       j.StartedAt,
		CompletedAt:     j.CompletedAt,
		Cancelling:      j.cancelRequested && !isJobTerminal(j.Status),
		Options:         j.Options,
		Result:          j.Result,
	}
}

// GetStatus returns the current job status (implements SSEJob).
func (j *ClusterJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Cancel asks the clustering job to stop. Extraction already in flight
// finishes, the faces found so far are still clustered and only then does the
// job end as cancelled.
func (j *ClusterJob) Cancel() {
	j.mu.Lock()
	if isJobTerminal(j.Status) || j.cancelRequested {
		j.mu.Unlock()
		return
	}
	j.cancelRequested = true
	j.mu.Unlock()
	j.EventBroadcaster.Cancel()
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
// cancel is set before the job is published and never changes afterwards.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job context and tells listeners the job is stopping.
// The terminal event is sent by the job itself once it has wound down.
func (b *EventBroadcaster) Cancel() {
	if b.cancel != nil {
		b.cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelling", Message: "Job cancellation requested"})
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager manages async jobs. Once more than retention jobs are known,
// the oldest finished ones are forgotten.
type JobManager struct {
	jobs      map[string]*ClusterJob
	retention int
	mu        sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:      make(map[string]*ClusterJob),
		retention: constants.DefaultJobRetention,
	}
}

// CreateJob creates and publishes a new clustering job. cancel stops the
// job's context and may be nil.
func (m *JobManager) CreateJob(id string, totalImages int, options ClusterJobOptions, cancel context.CancelFunc) *ClusterJob {
	job := &ClusterJob{
		EventBroadcaster: EventBroadcaster{cancel: cancel},
		ID:               id,
		Status:           JobStatusPending,
		TotalImages:      totalImages,
		StartedAt:        time.Now(),
		Options:          options,
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.pruneLocked()
	m.mu.Unlock()

	return job
}

// pruneLocked drops the oldest finished jobs above the retention limit.
func (m *JobManager) pruneLocked() {
	excess := len(m.jobs) - m.retention
	if excess <= 0 {
		return
	}
	finished := make([]*ClusterJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		if isJobTerminal(job.GetStatus()) {
			finished = append(finished, job)
		}
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].StartedAt.Before(finished[j].StartedAt)
	})
	for _, job := range finished[:min(excess, len(finished))] {
		delete(m.jobs, job.ID)
	}
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *ClusterJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// ListJobs returns all jobs, newest first.
func (m *JobManager) ListJobs() []*ClusterJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*ClusterJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].StartedAt.After(jobs[j].StartedAt)
	})
	return jobs
}
