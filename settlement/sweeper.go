package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

const (
	DefaultSweepInterval = time.Hour
	DefaultSweepTimeout  = 30 * time.Second

	sweepJobName = "settlement-expiry-sweep"
)

// SweepObserver receives the outcome of every sweep
type SweepObserver func(deleted int, duration time.Duration, err error)

// Sweeper periodically removes settlement records whose validity window has closed.
// Records without validBefore are never removed.
type Sweeper struct {
	store    Store
	interval time.Duration
	timeout  time.Duration
	clock    func() time.Time
	logger   *zap.Logger
	observer SweepObserver

	mu        sync.Mutex
	scheduler gocron.Scheduler
}

// SweeperOption configures a Sweeper
type SweeperOption func(*Sweeper)

// WithSweepInterval sets how often the sweep runs
func WithSweepInterval(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.interval = d
	}
}

// WithSweepTimeout bounds a single sweep
func WithSweepTimeout(d time.Duration) SweeperOption {
	return func(s *Sweeper) {
		s.timeout = d
	}
}

// WithSweepClock overrides the time source used to decide expiry
func WithSweepClock(clock func() time.Time) SweeperOption {
	return func(s *Sweeper) {
		s.clock = clock
	}
}

// WithSweepLogger sets the logger
func WithSweepLogger(logger *zap.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithSweepObserver registers a callback invoked after each sweep
func WithSweepObserver(observer SweepObserver) SweeperOption {
	return func(s *Sweeper) {
		s.observer = observer
	}
}

// NewSweeper creates a sweeper over store. It does nothing until Start.
func NewSweeper(store Store, opts ...SweeperOption) (*Sweeper, error) {
	s := &Sweeper{
		store:    store,
		interval: DefaultSweepInterval,
		timeout:  DefaultSweepTimeout,
		clock:    time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", s.interval)
	}
	if s.timeout <= 0 {
		return nil, fmt.Errorf("sweep timeout must be positive, got %s", s.timeout)
	}
	return s, nil
}

// Start schedules the sweep. The first run happens immediately and runs never overlap.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler != nil {
		return errors.New("sweeper already started")
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(s.run),
		gocron.WithName(sweepJobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("failed to register %s job: %w", sweepJobName, err)
	}

	scheduler.Start()
	s.scheduler = scheduler
	s.logger.Info("settlement sweeper started", zap.Duration("interval", s.interval))
	return nil
}

// Stop shuts the scheduler down and waits for a running sweep to return
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler == nil {
		return nil
	}
	err := s.scheduler.Shutdown()
	s.scheduler = nil
	if err != nil {
		return fmt.Errorf("failed to shutdown sweeper: %w", err)
	}
	s.logger.Info("settlement sweeper stopped")
	return nil
}

// run is the scheduled task; errors are logged and never stop the schedule
func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	_, _ = s.Sweep(ctx)
}

// Sweep performs one pass and returns the number of deleted records
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	now := s.clock()

	deleted, err := s.store.DeleteExpired(ctx, now)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("settlement sweep failed", zap.Error(err), zap.Duration("duration", duration))
	} else if deleted > 0 {
		s.logger.Info("removed expired settlement records",
			zap.Int("deleted", deleted),
			zap.Int64("now", now.Unix()),
			zap.Duration("duration", duration),
		)
	}

	if s.observer != nil {
		s.observer(deleted, duration, err)
	}
	return deleted, err
}
