package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"voicenote-processor/pkg/models"
	"voicenote-processor/pkg/storage"
)

var (
	ErrQueueFull         = errors.New("dispatcher queue is full")
	ErrDispatcherStopped = errors.New("dispatcher is stopped")
)

// Job is a unit of background work. MaxAttempts of zero means the
// dispatcher's default.
type Job struct {
	Name        string
	MaxAttempts int
	Run         func(ctx context.Context) error
}

// JobQueue accepts background jobs without blocking the caller.
type JobQueue interface {
	Submit(job Job) error
}

// Dispatcher is a fixed pool of workers draining a bounded job queue. Failed
// jobs are retried with exponential backoff; jobs that run out of attempts go
// to the dead-letter sink.
type Dispatcher struct {
	workers     int
	maxAttempts int
	backoff     time.Duration
	sink        storage.DeadLetterSink

	taskQueue chan Job
	mu        sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
}

func NewDispatcher(workers, queueSize, maxAttempts int, backoff time.Duration, sink storage.DeadLetterSink) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < workers*2 {
		queueSize = workers * 2
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Dispatcher{
		workers:     workers,
		maxAttempts: maxAttempts,
		backoff:     backoff,
		sink:        sink,
		taskQueue:   make(chan Job, queueSize),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	log.Printf("Dispatcher: starting %d workers", d.workers)
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

func (d *Dispatcher) Submit(job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherStopped
	}
	select {
	case d.taskQueue <- job:
		return nil
	default:
		log.Printf("Dispatcher: queue full, rejected job %s", job.Name)
		return ErrQueueFull
	}
}

// Stop refuses new jobs, lets workers drain the queue and waits for them.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.taskQueue)
	d.mu.Unlock()

	d.wg.Wait()
	log.Println("Dispatcher: stopped")
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case job, ok := <-d.taskQueue:
			if !ok {
				return
			}
			d.run(ctx, job)

		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) run(ctx context.Context, job Job) {
	attempts := job.MaxAttempts
	if attempts < 1 {
		attempts = d.maxAttempts
	}

	tried, err := retry(ctx, attempts, d.backoff, func() error { return safeRun(ctx, job) })
	if err == nil {
		return
	}

	log.Printf("Dispatcher: job %s failed after %d attempts: %v", job.Name, tried, err)
	if d.sink == nil {
		return
	}
	dl := storage.DeadLetter{
		ID:        models.NewID(),
		Job:       job.Name,
		Attempts:  tried,
		Error:     err.Error(),
		CreatedAt: time.Now().UTC(),
	}
	if err := d.sink.RecordDeadLetter(context.WithoutCancel(ctx), dl); err != nil {
		log.Printf("Dispatcher: failed to record dead letter for %s: %v", job.Name, err)
	}
}

func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}

// retry calls fn up to attempts times, doubling the wait after each failure.
// It returns the number of calls made and the last error.
func retry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) (int, error) {
	if attempts < 1 {
		attempts = 1
	}
	wait := backoff
	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(); err == nil {
			return i, nil
		}
		if i == attempts {
			return i, err
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return i, errors.Join(err, ctx.Err())
		}
		wait *= 2
	}
	return attempts, err
}
