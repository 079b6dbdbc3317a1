package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/gympass/pkg/membership"
)

const (
	defaultDispatchQueueSize   = 256
	defaultDispatchWorkers     = 4
	defaultDispatchTaskTimeout = 30 * time.Second
)

// Task is a unit of deferred webhook work.
type Task func(ctx context.Context) error

// DispatcherConfig configures a Dispatcher
type DispatcherConfig struct {
	// QueueSize is the number of tasks buffered before Submit spills over
	// into a dedicated goroutine (default: 256).
	QueueSize int

	// Workers is the number of goroutines draining the queue (default: 4).
	Workers int

	// SpillLimit caps the goroutines running spilled tasks (default: Workers).
	// Past it, Submit waits for queue space until the request is done.
	SpillLimit int

	// TaskTimeout bounds each task (default: 30s).
	TaskTimeout time.Duration

	// ErrorHandler is called when a task fails. Defaults to logging at error level.
	ErrorHandler func(name string, err error)

	Logger  membership.Logger
	Metrics Metrics
}

type job struct {
	name string
	ctx  context.Context
	task Task
}

// Dispatcher runs tasks after the webhook response has been written.
// Tasks are detached from the request context so a client disconnect does
// not cancel reconciliation.
type Dispatcher struct {
	conf    DispatcherConfig
	queue   chan job
	wg      sync.WaitGroup
	spill   errgroup.Group
	mu      sync.RWMutex
	closed  bool
	closeCh chan struct{}
}

// NewDispatcher starts a dispatcher with cfg.Workers workers.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultDispatchQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultDispatchWorkers
	}
	if cfg.SpillLimit <= 0 {
		cfg.SpillLimit = cfg.Workers
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaultDispatchTaskTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = &membership.NoopLogger{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = &NoopMetrics{}
	}
	if cfg.ErrorHandler == nil {
		logger := cfg.Logger
		cfg.ErrorHandler = func(name string, err error) {
			logger.Error("dispatched task failed", membership.F("task", name), membership.F("error", err))
		}
	}

	d := &Dispatcher{
		conf:    cfg,
		queue:   make(chan job, cfg.QueueSize),
		closeCh: make(chan struct{}),
	}
	d.spill.SetLimit(cfg.SpillLimit)
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Submit schedules task. The request context's values are kept but its
// cancellation is not. When the queue is full the task runs on a spill
// goroutine; when those are exhausted too, Submit waits for queue space and
// returns ErrDispatcherBusy if ctx ends first.
func (d *Dispatcher) Submit(ctx context.Context, name string, task Task) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	j := job{name: name, ctx: context.WithoutCancel(ctx), task: task}
	select {
	case d.queue <- j:
		d.conf.Metrics.RecordDispatchQueueDepth(len(d.queue))
		return nil
	default:
	}

	if d.spill.TryGo(func() error {
		d.run(j)
		return nil
	}) {
		d.conf.Logger.Warn("dispatch queue full, running task on a spill goroutine",
			membership.F("task", name), membership.F("queue_size", cap(d.queue)))
		return nil
	}

	select {
	case d.queue <- j:
		d.conf.Metrics.RecordDispatchQueueDepth(len(d.queue))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrDispatcherBusy, ctx.Err())
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case j := <-d.queue:
			d.conf.Metrics.RecordDispatchQueueDepth(len(d.queue))
			d.run(j)
		case <-d.closeCh:
			// Drain whatever is still buffered before exiting
			for {
				select {
				case j := <-d.queue:
					d.run(j)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) run(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, d.conf.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			d.conf.ErrorHandler(j.name, fmt.Errorf("panic: %v", r))
		}
	}()

	if err := j.task(ctx); err != nil {
		d.conf.ErrorHandler(j.name, err)
	}
}

// Close stops accepting tasks and waits for queued and in-flight tasks to
// finish, or for ctx to expire.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.closeCh)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		_ = d.spill.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("dispatcher drain: %w", ctx.Err())
	}
}
