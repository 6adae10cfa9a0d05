// Package scheduler runs proving jobs on a fixed pool of workers, off the goroutines that serve
// network requests.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/zkattest/nitro-prover/proverr"
)

// Config sizes the pool.
type Config struct {
	// Workers is the number of jobs that may run at once. Zero means one.
	Workers int `yaml:"workers"`
	// QueueDepth bounds the number of jobs waiting for a worker. Zero means unbounded.
	QueueDepth int `yaml:"queue_depth"`
	// Timeout bounds the run time of a single job. Zero means no limit.
	Timeout time.Duration `yaml:"timeout"`
}

// Observer receives scheduling events. *metrics.Metrics implements it.
type Observer interface {
	Queued(depth int)
	Started(name string, wait time.Duration, active int)
	Finished(name string, run time.Duration, err error, active int)
	Rejected(name string)
}

type nopObserver struct{}

func (nopObserver) Queued(int)                                 {}
func (nopObserver) Started(string, time.Duration, int)         {}
func (nopObserver) Finished(string, time.Duration, error, int) {}
func (nopObserver) Rejected(string)                            {}

type job struct {
	ctx      context.Context
	name     string
	fn       func(context.Context) error
	done     chan error
	enqueued time.Time
}

// Scheduler is a FIFO queue in front of Config.Workers goroutines.
type Scheduler struct {
	cfg      Config
	logger   zerolog.Logger
	observer Observer

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*job
	active int
	closed bool

	wg sync.WaitGroup
}

// New starts the workers. observer may be nil.
func New(cfg Config, logger zerolog.Logger, observer Observer) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if observer == nil {
		observer = nopObserver{}
	}
	s := &Scheduler{cfg: cfg, logger: logger, observer: observer}
	s.cond = sync.NewCond(&s.mu)

	s.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go s.worker(i)
	}
	logger.Info().
		Int("workers", cfg.Workers).
		Int("queue_depth", cfg.QueueDepth).
		Dur("timeout", cfg.Timeout).
		Msg("proving scheduler started")
	return s
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config { return s.cfg }

// Stats reports the number of waiting and running jobs.
func (s *Scheduler) Stats() (queued, active int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue), s.active
}

// Submit queues fn and waits for its result. It fails immediately with proverr.ErrServiceBusy
// when the queue is full, and returns a proverr.ErrCancelled error as soon as ctx is done. A job
// cancelled while queued never runs.
func (s *Scheduler) Submit(ctx context.Context, name string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return proverr.FromContext(err)
	}
	j := &job{ctx: ctx, name: name, fn: fn, done: make(chan error, 1), enqueued: time.Now()}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.Wrap(proverr.ErrServiceBusy, "scheduler is shutting down")
	}
	if s.cfg.QueueDepth > 0 && len(s.queue) >= s.cfg.QueueDepth {
		depth := len(s.queue)
		s.mu.Unlock()
		s.observer.Rejected(name)
		return errors.Wrapf(proverr.ErrServiceBusy, "%d jobs queued", depth)
	}
	s.queue = append(s.queue, j)
	depth := len(s.queue)
	s.cond.Signal()
	s.mu.Unlock()
	s.observer.Queued(depth)

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		if s.dequeue(j) {
			s.logger.Debug().Str("job", name).Msg("job cancelled while queued")
		}
		return proverr.FromContext(ctx.Err())
	}
}

// dequeue removes j if no worker has picked it up yet.
func (s *Scheduler) dequeue(j *job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range s.queue {
		if q == j {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
			s.observer.Queued(len(s.queue))
			return true
		}
	}
	return false
}

// Close stops accepting jobs, lets the workers drain the queue and waits for them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) next() (*job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 && !s.closed {
		s.cond.Wait()
	}
	if len(s.queue) == 0 {
		return nil, false
	}
	j := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	s.active++
	return j, true
}

func (s *Scheduler) worker(id int) {
	defer s.wg.Done()
	logger := s.logger.With().Int("worker", id).Logger()
	for {
		j, ok := s.next()
		if !ok {
			return
		}
		s.observer.Queued(s.queueLen())
		err := s.run(j, logger)

		s.mu.Lock()
		s.active--
		s.mu.Unlock()
		j.done <- err
	}
}

func (s *Scheduler) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Scheduler) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// run executes one job under the configured timeout.
func (s *Scheduler) run(j *job, logger zerolog.Logger) (err error) {
	if ctxErr := j.ctx.Err(); ctxErr != nil {
		return proverr.FromContext(ctxErr)
	}
	ctx := j.ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	wait := time.Since(j.enqueued)
	s.observer.Started(j.name, wait, s.activeCount())
	logger.Debug().Str("job", j.name).Dur("wait", wait).Msg("job started")
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			buf = buf[:runtime.Stack(buf, false)]
			logger.Error().Str("job", j.name).Interface("panic", r).Bytes("stack", buf).Msg("job panicked")
			err = proverr.ProvingFailed(nil, fmt.Sprintf("job panicked: %v", r))
		}
		s.observer.Finished(j.name, time.Since(start), err, s.activeCount()-1)
		logger.Debug().Str("job", j.name).Dur("elapsed", time.Since(start)).Err(err).Msg("job finished")
	}()

	err = j.fn(ctx)
	if err != nil && ctx.Err() != nil {
		err = proverr.FromContext(errors.WithMessage(ctx.Err(), err.Error()))
	}
	return err
}
