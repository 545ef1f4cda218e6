package session

import (
	"context"
	"fmt"
	"sync"

	"trading-assistant/internal/events"
	"trading-assistant/internal/logging"
	"trading-assistant/internal/metrics"
	"trading-assistant/internal/secrets"
)

// Store is the persistent session repository
type Store interface {
	GetSessionByUser(ctx context.Context, userID string) (*Session, error)
	CreateSession(ctx context.Context, s *Session) error
	SaveSession(ctx context.Context, s *Session) error
}

// SnapshotStore mirrors session state into fast shared storage
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, userID string, s *Session) error
}

// Credentials stores broker tokens out of band; tokens never hit the sessions table
type Credentials interface {
	StoreToken(ctx context.Context, userID string, token secrets.BrokerToken) error
	DeleteToken(ctx context.Context, userID string) error
}

// Service coordinates session transitions with persistence and events.
// All writes for one user are serialized through a per-user lock, so a
// transition and its save happen atomically relative to other callers.
type Service struct {
	store       Store
	snapshots   SnapshotStore
	credentials Credentials
	machine     *Machine
	bus         *events.EventBus
	log         *logging.Logger

	defaultMaxLosses int

	locks sync.Map // userID -> *sync.Mutex
}

// NewService creates a session service
func NewService(store Store, snapshots SnapshotStore, credentials Credentials, machine *Machine, bus *events.EventBus, defaultMaxLosses int) *Service {
	if defaultMaxLosses <= 0 {
		defaultMaxLosses = 5
	}
	return &Service{
		store:            store,
		snapshots:        snapshots,
		credentials:      credentials,
		machine:          machine,
		bus:              bus,
		log:              logging.WithComponent("session"),
		defaultMaxLosses: defaultMaxLosses,
	}
}

func (svc *Service) userLock(userID string) *sync.Mutex {
	lock, _ := svc.locks.LoadOrStore(userID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// loadOrCreate fetches the user's session, creating a stopped default row on
// first contact.
func (svc *Service) loadOrCreate(ctx context.Context, userID string) (*Session, error) {
	s, err := svc.store.GetSessionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = New(userID, svc.defaultMaxLosses)
		if err := svc.store.CreateSession(ctx, s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// persist saves the session row and refreshes the snapshot. Snapshot failures
// are logged, not fatal; the database row is the source of truth.
func (svc *Service) persist(ctx context.Context, s *Session) error {
	if err := svc.store.SaveSession(ctx, s); err != nil {
		return err
	}
	if svc.snapshots != nil {
		if err := svc.snapshots.SaveSnapshot(ctx, s.UserID, s); err != nil {
			svc.log.Warn("snapshot save failed", "user_id", s.UserID, "error", err)
		}
	}
	return nil
}

// Get returns the user's session, creating a default stopped one if needed
func (svc *Service) Get(ctx context.Context, userID string) (*Session, error) {
	lock := svc.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return svc.loadOrCreate(ctx, userID)
}

// Start begins the user's session with the given parameters
func (svc *Service) Start(ctx context.Context, userID string, p StartParams) (*Session, error) {
	lock := svc.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s, err := svc.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := svc.machine.Start(s, p); err != nil {
		return nil, err
	}

	if svc.credentials != nil {
		err := svc.credentials.StoreToken(ctx, userID, secrets.BrokerToken{Token: p.APIToken})
		if err != nil {
			return nil, fmt.Errorf("failed to store broker token: %w", err)
		}
	}

	if err := svc.persist(ctx, s); err != nil {
		return nil, err
	}

	metrics.SessionStarted()
	svc.bus.PublishSessionStarted(userID, s.BaseAmount, s.MaxConsecutiveLosses)
	svc.log.Info("session started", "user_id", userID, "base_amount", s.BaseAmount)
	return s, nil
}

// Stop halts the user's session. Stopping an already stopped session returns
// the session unchanged.
func (svc *Service) Stop(ctx context.Context, userID string) (*Session, error) {
	lock := svc.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s, err := svc.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	wasRunning := s.IsRunning
	svc.machine.Stop(s)

	if !wasRunning {
		return s, nil
	}

	if err := svc.persist(ctx, s); err != nil {
		return nil, err
	}

	metrics.SessionStopped()
	svc.bus.PublishSessionStopped(userID, s.TotalWins, s.TotalLosses)
	svc.log.Info("session stopped", "user_id", userID)
	return s, nil
}

// OpenTrade marks a trade as placed for the user's session
func (svc *Service) OpenTrade(ctx context.Context, userID string) (*Session, error) {
	lock := svc.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s, err := svc.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if err := svc.machine.OpenTrade(s); err != nil {
		return nil, err
	}

	if err := svc.persist(ctx, s); err != nil {
		return nil, err
	}

	svc.bus.PublishTradeOpened(userID, s.CurrentAmount)
	return s, nil
}

// RecordOutcome applies a trade result to the user's session
func (svc *Service) RecordOutcome(ctx context.Context, userID string, won bool) (*Session, error) {
	lock := svc.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s, err := svc.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	halted, err := svc.machine.RecordOutcome(s, won)
	if err != nil {
		return nil, err
	}

	if err := svc.persist(ctx, s); err != nil {
		return nil, err
	}

	metrics.IncOutcome(won)
	svc.bus.PublishOutcomeRecorded(userID, won, s.CurrentAmount, s.ConsecutiveLosses)

	if halted {
		metrics.IncSessionHalted()
		metrics.SessionStopped()
		svc.bus.PublishSessionHalted(userID, s.ConsecutiveLosses)
		svc.log.Warn("session halted by loss limit", "user_id", userID, "consecutive_losses", s.ConsecutiveLosses)
	}

	return s, nil
}

// ObserveBalance feeds a balance reading into the user's session. Readings
// for stopped sessions are ignored.
func (svc *Service) ObserveBalance(ctx context.Context, userID string, balance float64) (*Session, error) {
	lock := svc.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s, err := svc.loadOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !s.IsRunning {
		return s, nil
	}

	targetMet := svc.machine.ObserveBalance(s, balance)

	if err := svc.persist(ctx, s); err != nil {
		return nil, err
	}

	metrics.SetExtractedBalance(userID, balance)
	svc.bus.PublishBalanceUpdate(userID, balance)

	if targetMet {
		metrics.SessionStopped()
		profit := balance - *s.InitialBalance
		svc.bus.PublishTargetReached(userID, profit, *s.TPTarget)
		svc.bus.PublishSessionStopped(userID, s.TotalWins, s.TotalLosses)
		svc.log.Info("take-profit target reached", "user_id", userID, "profit", profit)
	}

	return s, nil
}

// Logs returns the session history for a user
func (svc *Service) Logs(ctx context.Context, userID string) ([]LogEntry, error) {
	s, err := svc.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.Logs == nil {
		return []LogEntry{}, nil
	}
	return s.Logs, nil
}
