package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"trading-assistant/internal/session"
)

// Repository provides raw-SQL access to the assistant's tables
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// =====================================================
// SESSION CRUD OPERATIONS
// =====================================================

// GetSessionByUser retrieves the session row for a user.
// Returns nil when the user has no session yet (not an error).
func (r *Repository) GetSessionByUser(ctx context.Context, userID string) (*session.Session, error) {
	query := `
		SELECT id, user_id, base_amount, tp_target, max_consecutive_losses,
			current_amount, consecutive_losses, total_wins, total_losses,
			is_running, is_trade_open, status, initial_balance, logs,
			created_at, updated_at
		FROM sessions WHERE user_id = $1
	`

	s := &session.Session{}
	var logsJSON []byte
	var status string
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&s.ID, &s.UserID, &s.BaseAmount, &s.TPTarget, &s.MaxConsecutiveLosses,
		&s.CurrentAmount, &s.ConsecutiveLosses, &s.TotalWins, &s.TotalLosses,
		&s.IsRunning, &s.IsTradeOpen, &status, &s.InitialBalance, &logsJSON,
		&s.CreatedAt, &s.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.Status = session.Status(status)
	if len(logsJSON) > 0 {
		if err := json.Unmarshal(logsJSON, &s.Logs); err != nil {
			return nil, fmt.Errorf("failed to decode session logs: %w", err)
		}
	}

	return s, nil
}

// CreateSession inserts a new session row
func (r *Repository) CreateSession(ctx context.Context, s *session.Session) error {
	logsJSON, err := json.Marshal(sessionLogs(s))
	if err != nil {
		return fmt.Errorf("failed to encode session logs: %w", err)
	}

	query := `
		INSERT INTO sessions (
			id, user_id, base_amount, tp_target, max_consecutive_losses,
			current_amount, consecutive_losses, total_wins, total_losses,
			is_running, is_trade_open, status, initial_balance, logs
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		s.ID, s.UserID, s.BaseAmount, s.TPTarget, s.MaxConsecutiveLosses,
		s.CurrentAmount, s.ConsecutiveLosses, s.TotalWins, s.TotalLosses,
		s.IsRunning, s.IsTradeOpen, string(s.Status), s.InitialBalance, logsJSON,
	).Scan(&s.CreatedAt, &s.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// SaveSession writes the full mutable state of a session in a single update
func (r *Repository) SaveSession(ctx context.Context, s *session.Session) error {
	logsJSON, err := json.Marshal(sessionLogs(s))
	if err != nil {
		return fmt.Errorf("failed to encode session logs: %w", err)
	}

	query := `
		UPDATE sessions SET
			base_amount = $2,
			tp_target = $3,
			max_consecutive_losses = $4,
			current_amount = $5,
			consecutive_losses = $6,
			total_wins = $7,
			total_losses = $8,
			is_running = $9,
			is_trade_open = $10,
			status = $11,
			initial_balance = $12,
			logs = $13
		WHERE id = $1
	`

	tag, err := r.db.Pool.Exec(ctx, query,
		s.ID, s.BaseAmount, s.TPTarget, s.MaxConsecutiveLosses,
		s.CurrentAmount, s.ConsecutiveLosses, s.TotalWins, s.TotalLosses,
		s.IsRunning, s.IsTradeOpen, string(s.Status), s.InitialBalance, logsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s not found", s.ID)
	}

	return nil
}

// sessionFieldColumns is the allow-list for UpdateSessionFields. Anything not
// listed here cannot be written through the partial-update path.
var sessionFieldColumns = map[string]string{
	"base_amount":            "base_amount",
	"tp_target":              "tp_target",
	"max_consecutive_losses": "max_consecutive_losses",
	"current_amount":         "current_amount",
	"consecutive_losses":     "consecutive_losses",
	"total_wins":             "total_wins",
	"total_losses":           "total_losses",
	"is_running":             "is_running",
	"is_trade_open":          "is_trade_open",
	"status":                 "status",
	"initial_balance":        "initial_balance",
}

// UpdateSessionFields updates individual columns by name. Unknown field names
// are rejected rather than silently ignored.
func (r *Repository) UpdateSessionFields(ctx context.Context, sessionID string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}

	setClause := ""
	args := []interface{}{sessionID}
	i := 2
	for name, value := range fields {
		col, ok := sessionFieldColumns[name]
		if !ok {
			return fmt.Errorf("unknown session field: %s", name)
		}
		if setClause != "" {
			setClause += ", "
		}
		setClause += fmt.Sprintf("%s = $%d", col, i)
		args = append(args, value)
		i++
	}

	query := fmt.Sprintf("UPDATE sessions SET %s WHERE id = $1", setClause)
	tag, err := r.db.Pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}

	return nil
}

// ListRunningSessions returns every session currently marked running.
// Used at startup to resume polling loops after a restart.
func (r *Repository) ListRunningSessions(ctx context.Context) ([]*session.Session, error) {
	query := `
		SELECT id, user_id, base_amount, tp_target, max_consecutive_losses,
			current_amount, consecutive_losses, total_wins, total_losses,
			is_running, is_trade_open, status, initial_balance, logs,
			created_at, updated_at
		FROM sessions WHERE is_running = TRUE
	`

	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list running sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*session.Session
	for rows.Next() {
		s := &session.Session{}
		var logsJSON []byte
		var status string
		err := rows.Scan(
			&s.ID, &s.UserID, &s.BaseAmount, &s.TPTarget, &s.MaxConsecutiveLosses,
			&s.CurrentAmount, &s.ConsecutiveLosses, &s.TotalWins, &s.TotalLosses,
			&s.IsRunning, &s.IsTradeOpen, &status, &s.InitialBalance, &logsJSON,
			&s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.Status = session.Status(status)
		if len(logsJSON) > 0 {
			if err := json.Unmarshal(logsJSON, &s.Logs); err != nil {
				return nil, fmt.Errorf("failed to decode session logs: %w", err)
			}
		}
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

// =====================================================
// HISTORY TABLES
// =====================================================

// RecordSignalDecision stores one chart analysis result
func (r *Repository) RecordSignalDecision(ctx context.Context, userID, signal string, confidence float64, sampleCount int) error {
	query := `
		INSERT INTO signal_decisions (user_id, signal, confidence, sample_count)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := r.db.Pool.Exec(ctx, query, userID, signal, confidence, sampleCount); err != nil {
		return fmt.Errorf("failed to record signal decision: %w", err)
	}
	return nil
}

// RecordBalanceReading stores one balance extraction attempt. balance is nil
// when extraction failed.
func (r *Repository) RecordBalanceReading(ctx context.Context, userID string, balance *float64) error {
	query := `
		INSERT INTO balance_readings (user_id, balance, extracted)
		VALUES ($1, $2, $3)
	`
	if _, err := r.db.Pool.Exec(ctx, query, userID, balance, balance != nil); err != nil {
		return fmt.Errorf("failed to record balance reading: %w", err)
	}
	return nil
}

// sessionLogs never serializes a null JSON array
func sessionLogs(s *session.Session) []session.LogEntry {
	if s.Logs == nil {
		return []session.LogEntry{}
	}
	return s.Logs
}
