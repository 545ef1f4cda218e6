// Package runner drives running sessions: each one gets a polling loop that
// evaluates the latest chart frame and feeds balance readings into the
// session until it stops.
package runner

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"trading-assistant/internal/database"
	"trading-assistant/internal/events"
	"trading-assistant/internal/metrics"
	"trading-assistant/internal/session"
	"trading-assistant/internal/signal"
)

// FrameSource supplies the latest market frame pushed for a user
type FrameSource interface {
	LoadFrame(ctx context.Context, userID string) (*database.MarketFrame, error)
}

// DecisionSink records evaluated signals for history
type DecisionSink interface {
	RecordSignalDecision(ctx context.Context, userID, signal string, confidence float64, sampleCount int) error
}

// RunningLister lists the sessions marked running in storage
type RunningLister interface {
	ListRunningSessions(ctx context.Context) ([]*session.Session, error)
}

// Runner manages one polling goroutine per running session
type Runner struct {
	sessions *session.Service
	engine   *signal.Engine
	frames   FrameSource
	sink     DecisionSink
	bus      *events.EventBus
	interval time.Duration
	logger   zerolog.Logger

	mu    sync.Mutex
	loops map[string]context.CancelFunc
	wg    sync.WaitGroup
}

// New creates a runner. sink may be nil when decision history is not wanted.
func New(sessions *session.Service, engine *signal.Engine, frames FrameSource, sink DecisionSink, bus *events.EventBus, interval time.Duration, logger zerolog.Logger) *Runner {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Runner{
		sessions: sessions,
		engine:   engine,
		frames:   frames,
		sink:     sink,
		bus:      bus,
		interval: interval,
		logger:   logger.With().Str("component", "runner").Logger(),
		loops:    make(map[string]context.CancelFunc),
	}
}

// StartLoop begins polling for a user. Starting an already polled user is a
// no-op; there is exactly one loop, and so one writer, per session.
func (r *Runner) StartLoop(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.loops[userID]; exists {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.loops[userID] = cancel

	r.wg.Add(1)
	go r.poll(ctx, userID)

	r.logger.Info().Str("user_id", userID).Msg("polling loop started")
}

// StopLoop cancels the polling loop for a user
func (r *Runner) StopLoop(userID string) {
	r.mu.Lock()
	cancel, exists := r.loops[userID]
	if exists {
		delete(r.loops, userID)
	}
	r.mu.Unlock()

	if exists {
		cancel()
		r.logger.Info().Str("user_id", userID).Msg("polling loop stopped")
	}
}

// Resume restarts loops for every session marked running in storage. Called
// once at startup so a process restart does not strand running sessions.
func (r *Runner) Resume(ctx context.Context, lister RunningLister) error {
	sessions, err := lister.ListRunningSessions(ctx)
	if err != nil {
		return err
	}

	for _, s := range sessions {
		r.StartLoop(s.UserID)
		metrics.SessionStarted()
	}

	if len(sessions) > 0 {
		r.logger.Info().Int("count", len(sessions)).Msg("resumed polling loops")
	}
	return nil
}

// Shutdown stops all loops and waits for them to exit
func (r *Runner) Shutdown() {
	r.mu.Lock()
	for userID, cancel := range r.loops {
		cancel()
		delete(r.loops, userID)
	}
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info().Msg("all polling loops stopped")
}

// LoopCount returns the number of active polling loops
func (r *Runner) LoopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loops)
}

func (r *Runner) poll(ctx context.Context, userID string) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if done := r.tick(ctx, userID); done {
				// The session stopped itself; drop the loop entry.
				r.mu.Lock()
				if cancel, exists := r.loops[userID]; exists {
					delete(r.loops, userID)
					cancel()
				}
				r.mu.Unlock()
				return
			}
		}
	}
}

// tick runs one poll cycle. Returns true when the session is no longer
// running and the loop should exit.
func (r *Runner) tick(ctx context.Context, userID string) bool {
	s, err := r.sessions.Get(ctx, userID)
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", userID).Msg("failed to load session")
		return false
	}
	if !s.IsRunning {
		return true
	}

	frame, err := r.frames.LoadFrame(ctx, userID)
	if err != nil {
		r.logger.Error().Err(err).Str("user_id", userID).Msg("failed to load frame")
		return false
	}
	if frame == nil {
		return false
	}

	if len(frame.Series) > 0 {
		decision := r.engine.Evaluate(frame.Series)
		metrics.IncDecision(string(decision.Signal))
		r.bus.PublishSignal(userID, string(decision.Signal), decision.Confidence)

		if r.sink != nil {
			if err := r.sink.RecordSignalDecision(ctx, userID, string(decision.Signal), decision.Confidence, len(frame.Series)); err != nil {
				r.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to record decision")
			}
		}
	}

	if frame.Balance != nil {
		s, err = r.sessions.ObserveBalance(ctx, userID, *frame.Balance)
		if err != nil {
			r.logger.Error().Err(err).Str("user_id", userID).Msg("failed to observe balance")
			return false
		}
		if !s.IsRunning {
			return true
		}
	}

	return false
}
