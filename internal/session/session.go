// Package session implements the per-user trading session state machine:
// stake sizing, loss-streak circuit breaking, and the take-profit ceiling.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session
type Status string

const (
	StatusStopped           Status = "stopped"
	StatusRunning           Status = "running"
	StatusHaltedByLossLimit Status = "halted_loss_limit"
)

// LogEntry is one append-only, timestamped line of session history
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Session is the central entity: one trading session per user. It is mutated
// only through Machine transitions; persistence is an explicit load/save at
// the boundary.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	APIToken             string   `json:"-"` // Held in the credential store, never serialized
	BaseAmount           float64  `json:"base_amount"`
	TPTarget             *float64 `json:"tp_target,omitempty"`
	MaxConsecutiveLosses int      `json:"max_consecutive_losses"`

	CurrentAmount     float64 `json:"current_amount"`
	ConsecutiveLosses int     `json:"consecutive_losses"`
	TotalWins         int     `json:"total_wins"`
	TotalLosses       int     `json:"total_losses"`

	IsRunning   bool   `json:"is_running"`
	IsTradeOpen bool   `json:"is_trade_open"`
	Status      Status `json:"status"`

	InitialBalance *float64 `json:"initial_balance,omitempty"`

	Logs []LogEntry `json:"logs"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a stopped session with defaults for a user seen for the first
// time. maxLosses is the configured default circuit-breaker threshold.
func New(userID string, maxLosses int) *Session {
	if maxLosses <= 0 {
		maxLosses = 5
	}
	now := time.Now().UTC()
	return &Session{
		ID:                   uuid.New().String(),
		UserID:               userID,
		BaseAmount:           1.0,
		MaxConsecutiveLosses: maxLosses,
		CurrentAmount:        1.0,
		Status:               StatusStopped,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
}

// AppendLog appends a timestamped entry to the session history
func (s *Session) AppendLog(format string, args ...interface{}) {
	s.Logs = append(s.Logs, LogEntry{
		Timestamp: time.Now().UTC(),
		Message:   fmt.Sprintf(format, args...),
	})
}

// StartParams carries the four user-supplied fields of a Start transition
type StartParams struct {
	APIToken             string
	BaseAmount           float64
	TPTarget             *float64
	MaxConsecutiveLosses int
}

// Machine applies transitions to sessions. It holds no per-session state of
// its own; one machine serves every session.
type Machine struct {
	policy SizingPolicy
}

// NewMachine creates a state machine with the given stake-sizing policy
func NewMachine(policy SizingPolicy) *Machine {
	if policy == nil {
		policy = FlatRecovery{}
	}
	return &Machine{policy: policy}
}

// Policy returns the active stake-sizing policy
func (m *Machine) Policy() SizingPolicy {
	return m.policy
}

// Start begins a session. Valid only while not running; a running session
// rejects the call unchanged. Counters, the stake, and the balance baseline
// are reset; the previous halt state, if any, is cleared.
func (m *Machine) Start(s *Session, p StartParams) error {
	if s.IsRunning {
		return ErrAlreadyRunning
	}
	if p.APIToken == "" {
		return ErrMissingAPIToken
	}
	if p.BaseAmount <= 0 {
		return ErrInvalidBaseStake
	}
	if p.TPTarget != nil && *p.TPTarget <= 0 {
		return ErrInvalidTPTarget
	}
	if p.MaxConsecutiveLosses <= 0 {
		return ErrInvalidLossLimit
	}

	s.APIToken = p.APIToken
	s.BaseAmount = p.BaseAmount
	s.TPTarget = p.TPTarget
	s.MaxConsecutiveLosses = p.MaxConsecutiveLosses

	s.CurrentAmount = p.BaseAmount
	s.ConsecutiveLosses = 0
	s.TotalWins = 0
	s.TotalLosses = 0
	s.InitialBalance = nil // Captured on the first balance reading
	s.IsTradeOpen = false
	s.IsRunning = true
	s.Status = StatusRunning
	s.touch()

	s.AppendLog("session started: base stake %.2f, loss limit %d, policy %s",
		p.BaseAmount, p.MaxConsecutiveLosses, m.policy.Name())
	return nil
}

// Stop halts a running session manually. Counters and the current stake are
// kept; the next Start resets them. Stopping a stopped session is a no-op.
func (m *Machine) Stop(s *Session) {
	if !s.IsRunning {
		return
	}

	s.IsRunning = false
	s.Status = StatusStopped
	s.touch()
	s.AppendLog("session stopped manually after %d wins / %d losses", s.TotalWins, s.TotalLosses)
}

// OpenTrade marks a trade as placed and awaiting an outcome. At most one
// trade may be open per session.
func (m *Machine) OpenTrade(s *Session) error {
	if !s.IsRunning {
		return ErrNotRunning
	}
	if s.IsTradeOpen {
		return ErrTradeOpen
	}

	s.IsTradeOpen = true
	s.touch()
	s.AppendLog("trade opened with stake %.2f", s.CurrentAmount)
	return nil
}

// RecordOutcome applies the result of the open trade: counters, the sizing
// policy, and the consecutive-loss circuit breaker, atomically. Returns true
// when the loss limit tripped and the session halted.
func (m *Machine) RecordOutcome(s *Session, won bool) (halted bool, err error) {
	if !s.IsRunning {
		return false, ErrNotRunning
	}
	if !s.IsTradeOpen {
		return false, ErrNoTradeOpen
	}

	s.IsTradeOpen = false

	if won {
		s.TotalWins++
		s.ConsecutiveLosses = 0
		s.CurrentAmount = m.policy.NextAfterWin(s.BaseAmount, s.CurrentAmount)
		s.AppendLog("trade won; stake reset to %.2f", s.CurrentAmount)
	} else {
		s.TotalLosses++
		s.ConsecutiveLosses++
		s.CurrentAmount = m.policy.NextAfterLoss(s.BaseAmount, s.CurrentAmount)
		s.AppendLog("trade lost (%d in a row); next stake %.2f", s.ConsecutiveLosses, s.CurrentAmount)
	}

	if s.ConsecutiveLosses >= s.MaxConsecutiveLosses {
		s.IsRunning = false
		s.Status = StatusHaltedByLossLimit
		s.AppendLog("loss limit reached (%d consecutive losses); session halted", s.ConsecutiveLosses)
		halted = true
	}

	s.touch()
	return halted, nil
}

// ObserveBalance feeds an externally extracted balance reading into the
// session. The first reading after Start becomes the profit baseline; later
// readings are checked against the take-profit target. Returns true when the
// target was met and the session stopped. Readings while stopped are ignored.
func (m *Machine) ObserveBalance(s *Session, balance float64) (targetMet bool) {
	if !s.IsRunning {
		return false
	}

	if s.InitialBalance == nil {
		baseline := balance
		s.InitialBalance = &baseline
		s.touch()
		s.AppendLog("balance baseline captured: %.2f", balance)
		return false
	}

	if s.TPTarget == nil {
		return false
	}

	profit := balance - *s.InitialBalance
	if profit < *s.TPTarget {
		return false
	}

	s.IsRunning = false
	s.Status = StatusStopped
	s.touch()
	s.AppendLog("take-profit target reached: profit %.2f >= target %.2f; session stopped", profit, *s.TPTarget)
	return true
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now().UTC()
}
