// Package queue implements the durable priority task queue. Tasks are
// persisted in Postgres; workers poll on a ticker and claim tasks with a
// compare-and-swap so a task is processed by exactly one worker.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/job-scanner/internal/config"
	"github.com/job-scanner/internal/logging"
	"github.com/job-scanner/internal/models"
	"github.com/job-scanner/internal/retry"
	"github.com/job-scanner/internal/storage"
	"github.com/job-scanner/internal/types"
)

// Task priorities. Higher values are claimed first.
const (
	PriorityLow    = 1
	PriorityNormal = 5
	PriorityHigh   = 10
)

// ErrBackpressure is returned when the pending depth exceeds the configured
// threshold and the task is not high priority.
var ErrBackpressure = errors.New("queue backpressure: pending depth exceeded, try again later")

// Handler processes one claimed task
type Handler func(ctx context.Context, task *models.QueueTask) error

// TaskStore is the persistence contract the manager needs. The production
// implementation is storage.QueueTaskRepository.
type TaskStore interface {
	Create(ctx context.Context, task *models.QueueTask) error
	ClaimNext(ctx context.Context, now time.Time) (*models.QueueTask, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, lastError string) error
	Reschedule(ctx context.Context, id string, nextRun time.Time, lastError string) error
	GetStats(ctx context.Context) (*storage.QueueStats, error)
}

// Manager owns the worker pool and the handler registry
type Manager struct {
	store    TaskStore
	cfg      *config.QueueConfig
	retryCfg *retry.Config
	logger   *logging.Logger
	now      func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewManager creates a queue manager. Start must be called before tasks are
// processed; Enqueue works immediately.
func NewManager(store TaskStore, cfg *config.QueueConfig, logger *logging.Logger) *Manager {
	return &Manager{
		store:    store,
		cfg:      cfg,
		retryCfg: retry.DefaultConfig(),
		logger:   logger,
		now:      time.Now,
		handlers: make(map[string]Handler),
		stopCh:   make(chan struct{}),
	}
}

// RegisterHandler binds a handler to a task type. Registering the same type
// twice replaces the previous handler.
func (m *Manager) RegisterHandler(taskType string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[taskType] = handler
}

func (m *Manager) handlerFor(taskType string) (Handler, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.handlers[taskType]
	return h, ok
}

// Enqueue persists a new PENDING task. When the pending depth is past the
// backpressure threshold, only high-priority tasks are admitted; everything
// else is rejected with ErrBackpressure so callers can surface a retryable
// condition instead of letting the backlog grow without bound.
func (m *Manager) Enqueue(ctx context.Context, taskType string, payload []byte, priority int, scheduledFor time.Time) (*models.QueueTask, error) {
	if priority < PriorityHigh {
		stats, err := m.store.GetStats(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to check queue depth: %w", err)
		}
		if stats.Pending >= int64(m.cfg.BackpressureDepth) {
			m.logger.WithFields(map[string]interface{}{
				"taskType": taskType,
				"pending":  stats.Pending,
				"depth":    m.cfg.BackpressureDepth,
			}).Warn("Rejecting task due to queue backpressure")
			return nil, ErrBackpressure
		}
	}

	now := m.now()
	task := &models.QueueTask{
		ID:           uuid.New().String(),
		TaskType:     taskType,
		Payload:      payload,
		Priority:     priority,
		ScheduledFor: scheduledFor,
		Status:       types.TaskStatusPending,
		MaxAttempts:  m.cfg.MaxAttempts,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := m.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	m.logger.WithFields(map[string]interface{}{
		"taskId":   task.ID,
		"taskType": taskType,
		"priority": priority,
	}).Info("Task enqueued")

	return task, nil
}

// Start launches the worker pool. Each worker polls on a ticker and drains
// all due tasks per tick.
func (m *Manager) Start(ctx context.Context) {
	for i := 0; i < m.cfg.Workers; i++ {
		m.wg.Add(1)
		go m.workerLoop(ctx, i)
	}

	m.logger.WithFields(map[string]interface{}{
		"workers":      m.cfg.Workers,
		"pollInterval": m.cfg.PollInterval.String(),
	}).Info("Queue workers started")
}

// Stop signals the workers and waits for in-flight tasks to finish
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()
	m.logger.Info("Queue workers stopped")
}

func (m *Manager) workerLoop(ctx context.Context, id int) {
	defer m.wg.Done()

	logger := m.logger.WithField("worker", id)
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.drain(ctx, logger)
		}
	}
}

// drain claims and processes due tasks until the queue is empty or shutdown
// is requested
func (m *Manager) drain(ctx context.Context, logger *logging.Logger) {
	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		task, err := m.store.ClaimNext(ctx, m.now())
		if err != nil {
			logger.WithError(err).Error("Failed to claim task")
			return
		}
		if task == nil {
			return
		}

		m.process(ctx, logger, task)
	}
}

func (m *Manager) process(ctx context.Context, logger *logging.Logger, task *models.QueueTask) {
	taskLogger := logger.WithFields(map[string]interface{}{
		"taskId":   task.ID,
		"taskType": task.TaskType,
		"attempt":  task.Attempts,
	})

	handler, ok := m.handlerFor(task.TaskType)
	if !ok {
		taskLogger.Error("No handler registered for task type")
		if err := m.store.MarkFailed(ctx, task.ID, "no handler registered for task type "+task.TaskType); err != nil {
			taskLogger.WithError(err).Error("Failed to mark task failed")
		}
		return
	}

	if err := handler(ctx, task); err != nil {
		m.handleFailure(ctx, taskLogger, task, err)
		return
	}

	if err := m.store.MarkDone(ctx, task.ID); err != nil {
		taskLogger.WithError(err).Error("Failed to mark task done")
		return
	}
	taskLogger.Info("Task completed")
}

// handleFailure reschedules the task with exponential backoff while attempts
// remain, and fails it terminally once they are exhausted
func (m *Manager) handleFailure(ctx context.Context, logger *logging.Logger, task *models.QueueTask, taskErr error) {
	if task.Attempts >= task.MaxAttempts {
		logger.WithError(taskErr).Error("Task failed permanently, attempts exhausted")
		if err := m.store.MarkFailed(ctx, task.ID, taskErr.Error()); err != nil {
			logger.WithError(err).Error("Failed to mark task failed")
		}
		return
	}

	delay := retry.Delay(m.retryCfg, task.Attempts)
	nextRun := m.now().Add(delay)

	logger.WithError(taskErr).WithFields(map[string]interface{}{
		"nextRun": nextRun,
		"delay":   delay.String(),
	}).Warn("Task failed, rescheduling with backoff")

	if err := m.store.Reschedule(ctx, task.ID, nextRun, taskErr.Error()); err != nil {
		logger.WithError(err).Error("Failed to reschedule task")
	}
}

// GetStats reports queue depth per status for observability
func (m *Manager) GetStats(ctx context.Context) (*storage.QueueStats, error) {
	return m.store.GetStats(ctx)
}
