package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ofdeals/finder/internal/models"
	"github.com/ofdeals/finder/internal/queue"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var ErrJobNotFound = errors.New("job not found")

// Job tracks one enqueued scrape request through its lifecycle.
type Job struct {
	ID           string     `json:"id"`
	ListID       string     `json:"list_id"`
	Status       Status     `json:"status"`
	RunID        int64      `json:"run_id,omitempty"`
	ProfileCount int        `json:"profile_count"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Runner executes one scrape run. The scraper service implements it.
type Runner interface {
	ScrapeList(ctx context.Context, listID string) (*models.RunSummary, error)
}

// Manager queues scrape jobs and drains them with a single worker, so
// only one browser session runs at a time.
type Manager struct {
	queue  queue.Queue
	runner Runner
	logger *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewManager(runner Runner, logger *slog.Logger) *Manager {
	return &Manager{
		queue:  queue.NewInMemoryQueue(),
		runner: runner,
		logger: logger.With("component", "job_manager"),
		jobs:   make(map[string]*Job),
	}
}

// Enqueue registers a job and queues it for the worker.
func (m *Manager) Enqueue(listID string) (*Job, error) {
	job := &Job{
		ID:        uuid.New().String(),
		ListID:    listID,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	if err := m.queue.Push(&queue.Task{
		ID:         job.ID,
		ListID:     listID,
		EnqueuedAt: job.CreatedAt,
	}); err != nil {
		return nil, fmt.Errorf("queueing job: %w", err)
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	m.logger.Info("job enqueued", "id", job.ID, "list_id", listID)
	return copyJob(job), nil
}

// Get returns a snapshot of one job.
func (m *Manager) Get(id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return copyJob(job), nil
}

// List returns all known jobs, newest first.
func (m *Manager) List() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, copyJob(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// QueueDepth reports how many jobs are still waiting for the worker.
func (m *Manager) QueueDepth() int {
	return m.queue.Size()
}

// StartWorker drains the queue until the context is cancelled.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")
	defer m.queue.Close()

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, queue.ErrQueueClosed) {
				m.logger.Info("job worker stopped")
				return
			}
			m.logger.Error("popping task", "error", err)
			continue
		}

		m.execute(ctx, task)
	}
}

func (m *Manager) execute(ctx context.Context, task *queue.Task) {
	now := time.Now()
	m.update(task.ID, func(job *Job) {
		job.Status = StatusRunning
		job.StartedAt = &now
	})

	summary, err := m.runner.ScrapeList(ctx, task.ListID)

	done := time.Now()
	m.update(task.ID, func(job *Job) {
		job.CompletedAt = &done
		if err != nil {
			job.Status = StatusFailed
			job.Error = err.Error()
			return
		}
		job.Status = StatusCompleted
		job.RunID = summary.RunID
		job.ProfileCount = summary.ProfileCount
	})

	if err != nil {
		m.logger.Error("job failed", "id", task.ID, "list_id", task.ListID, "error", err)
	} else {
		m.logger.Info("job finished", "id", task.ID, "run_id", summary.RunID, "profiles", summary.ProfileCount)
	}
}

func (m *Manager) update(id string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[id]; ok {
		fn(job)
	}
}

func copyJob(job *Job) *Job {
	c := *job
	return &c
}
