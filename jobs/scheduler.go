package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Ticker abstracts time.Ticker so tests can drive the schedule.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory builds a ticker for the given interval.
type TickerFactory func(interval time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

// NewRealTicker wraps time.NewTicker.
func NewRealTicker(interval time.Duration) Ticker {
	return realTicker{t: time.NewTicker(interval)}
}

// RunFunc executes one maintenance pass.
type RunFunc func(ctx context.Context) error

// Entry is a periodic task run by Scheduler.
type Entry struct {
	Name     string
	Interval time.Duration
	Run      RunFunc
}

// Scheduler runs maintenance entries in-process, one goroutine per entry, until
// the context is cancelled. Runs of the same entry never overlap.
type Scheduler struct {
	entries   []Entry
	logger    *slog.Logger
	newTicker TickerFactory
}

// NewScheduler constructs a scheduler. A nil factory uses real tickers.
func NewScheduler(logger *slog.Logger, factory TickerFactory, entries ...Entry) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if factory == nil {
		factory = NewRealTicker
	}
	return &Scheduler{entries: entries, logger: logger, newTicker: factory}
}

// Run blocks until ctx is done and all entry loops returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil {
		return errors.New("scheduler: not configured")
	}
	var wg sync.WaitGroup
	for _, entry := range s.entries {
		if entry.Run == nil || entry.Interval <= 0 {
			s.logger.Warn("scheduler entry skipped", slog.String("name", entry.Name))
			continue
		}
		wg.Add(1)
		go func(e Entry) {
			defer wg.Done()
			s.loop(ctx, e)
		}(entry)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) loop(ctx context.Context, e Entry) {
	ticker := s.newTicker(e.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			if err := e.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("scheduled run failed", slog.String("name", e.Name), slog.Any("error", err))
			}
		}
	}
}
