package snapshot

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/alliedintel/internal/models"
)

// runner is satisfied by *Pipeline.
type runner interface {
	Run(ctx context.Context) (models.RunSummary, error)
}

// Scheduler drives a pipeline on a fixed interval after an initial grace delay.
// A tick that lands while a run is still in progress is skipped, not queued.
type Scheduler struct {
	pipeline     runner
	cancel       context.CancelFunc
	interval     time.Duration
	initialDelay time.Duration
	wg           sync.WaitGroup
	mu           sync.Mutex
}

// NewScheduler creates a scheduler for p.
func NewScheduler(p runner, interval, initialDelay time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 7*time.Minute + 30*time.Second
	}

	return &Scheduler{
		pipeline:     p,
		interval:     interval,
		initialDelay: max(initialDelay, 0),
	}
}

// Start launches the timer loop. It returns immediately; calling it twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.loop(ctx)

	log.Info().
		Dur("interval", s.interval).
		Dur("initial_delay", s.initialDelay).
		Msg("Snapshot scheduler started")
}

// Stop cancels the loop and waits for the running tick, if any, to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	s.wg.Wait()
	log.Info().Msg("Snapshot scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	delay := time.NewTimer(s.initialDelay)
	defer delay.Stop()

	select {
	case <-ctx.Done():
		return
	case <-delay.C:
	}

	s.spawn(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.spawn(ctx)
		}
	}
}

// spawn runs a tick in its own goroutine so a slow run never delays the ticker;
// the pipeline's running flag rejects the overlap.
func (s *Scheduler) spawn(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick(ctx)
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Interface("panic", rec).Msg("Recovered from panic in snapshot tick")
		}
	}()

	_, err := s.pipeline.Run(ctx)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		log.Warn().Msg("Previous snapshot run still in progress, skipping tick")
	case err != nil:
		log.Error().Err(err).Msg("Snapshot run failed")
	}
}
