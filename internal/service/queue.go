package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/and161185/gamestats/internal/errs"
)

// Task is a unit of best-effort background work. Run must be idempotent:
// delivery is at least once.
type Task struct {
	Name   string
	UserID uuid.UUID
	Run    func(ctx context.Context) error
}

// TaskQueue is a bounded in-memory queue drained by a fixed worker pool.
type TaskQueue struct {
	ch          chan Task
	maxAttempts int
	backoff     time.Duration
	log         *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewTaskQueue starts workers goroutines over a queue of capacity size.
func NewTaskQueue(size, workers, maxAttempts int, log *zap.Logger) *TaskQueue {
	if size <= 0 {
		size = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &TaskQueue{
		ch:          make(chan Task, size),
		maxAttempts: maxAttempts,
		backoff:     100 * time.Millisecond,
		log:         log.Named("queue"),
		ctx:         ctx,
		cancel:      cancel,
	}
	q.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go q.worker()
	}
	return q
}

// Enqueue adds t without blocking; ErrQueueFull when there is no room.
func (q *TaskQueue) Enqueue(ctx context.Context, t Task) error {
	if t.Run == nil {
		return errors.New("validation: task without Run")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return errors.New("queue closed")
	}
	select {
	case q.ch <- t:
		return nil
	default:
		return errs.ErrQueueFull
	}
}

// Len returns the number of waiting tasks.
func (q *TaskQueue) Len() int { return len(q.ch) }

// Close stops intake and waits for queued tasks to drain or ctx to expire,
// after which in-flight tasks are cancelled.
func (q *TaskQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *TaskQueue) worker() {
	defer q.wg.Done()
	for t := range q.ch {
		q.run(t)
	}
}

func (q *TaskQueue) run(t Task) {
	var err error
	for attempt := 1; attempt <= q.maxAttempts; attempt++ {
		if err = q.safeRun(t); err == nil {
			return
		}
		if errors.Is(err, errs.ErrValidation) || errors.Is(err, errs.ErrNotFound) {
			break
		}
		if attempt < q.maxAttempts {
			select {
			case <-time.After(q.backoff * time.Duration(attempt)):
			case <-q.ctx.Done():
				attempt = q.maxAttempts
			}
		}
	}
	q.log.Warn("task dropped, monitor will reconcile",
		zap.String("task", t.Name),
		zap.String("user_id", t.UserID.String()),
		zap.Error(err),
	)
}

func (q *TaskQueue) safeRun(t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("task panic", zap.String("task", t.Name), zap.Any("panic", r), zap.Stack("stack"))
			err = errors.New("task panicked")
		}
	}()
	return t.Run(q.ctx)
}
