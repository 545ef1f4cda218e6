// Redis-based session state sharing. Snapshots of session state and the
// latest market frame per user are kept in Redis so a restarted process can
// resume polling loops. When Redis is unavailable, an in-memory cache keeps
// the assistant working without interruption.
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"trading-assistant/internal/session"
)

const (
	// SessionKeyPrefix is the prefix for session snapshot keys
	// Format: assistant:session:{userID}
	SessionKeyPrefix = "assistant:session"

	// FrameKeyPrefix is the prefix for the latest market frame per user
	// Format: assistant:frame:{userID}
	FrameKeyPrefix = "assistant:frame"

	// SessionStateTTL is the TTL for session snapshot keys
	SessionStateTTL = 7 * 24 * time.Hour

	// FrameTTL is short; a stale frame must never drive a decision
	FrameTTL = time.Minute
)

// SessionSnapshot is the Redis representation of session state
type SessionSnapshot struct {
	Session *session.Session `json:"session"`
	SavedAt time.Time        `json:"saved_at"`
}

// MarketFrame is the most recent data pushed for a user: the close-price
// series from the chart and, when present, the last extracted balance.
type MarketFrame struct {
	Series     []float64 `json:"series"`
	Balance    *float64  `json:"balance,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// RedisSessionStateRepository provides Redis-based storage for session
// snapshots and market frames, with an in-memory fallback cache.
type RedisSessionStateRepository struct {
	client         *redis.Client
	snapshotCache  map[string]*SessionSnapshot // key = userID
	frameCache     map[string]*MarketFrame     // key = userID
	cacheMu        sync.RWMutex
	redisAvailable atomic.Bool
}

// NewRedisSessionStateRepository creates a new repository.
// If client is nil, the repository operates in memory-only mode.
func NewRedisSessionStateRepository(client *redis.Client) *RedisSessionStateRepository {
	repo := &RedisSessionStateRepository{
		client:        client,
		snapshotCache: make(map[string]*SessionSnapshot),
		frameCache:    make(map[string]*MarketFrame),
	}

	// Check initial Redis availability
	if client != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			log.Printf("[REDIS-SESSION] Redis unavailable at startup: %v, using in-memory cache", err)
			repo.redisAvailable.Store(false)
		} else {
			log.Printf("[REDIS-SESSION] Redis connected successfully")
			repo.redisAvailable.Store(true)
		}
	} else {
		log.Printf("[REDIS-SESSION] No Redis client provided, using in-memory cache only")
		repo.redisAvailable.Store(false)
	}

	return repo
}

func (r *RedisSessionStateRepository) sessionKey(userID string) string {
	return fmt.Sprintf("%s:%s", SessionKeyPrefix, userID)
}

func (r *RedisSessionStateRepository) frameKey(userID string) string {
	return fmt.Sprintf("%s:%s", FrameKeyPrefix, userID)
}

// SaveSnapshot saves a session snapshot with fallback to the in-memory cache
func (r *RedisSessionStateRepository) SaveSnapshot(ctx context.Context, userID string, s *session.Session) error {
	if s == nil {
		return fmt.Errorf("cannot save nil session snapshot")
	}

	snap := &SessionSnapshot{Session: s, SavedAt: time.Now()}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	// Always update in-memory cache
	r.cacheMu.Lock()
	r.snapshotCache[userID] = snap
	r.cacheMu.Unlock()

	if r.client != nil && r.redisAvailable.Load() {
		if err := r.client.Set(ctx, r.sessionKey(userID), data, SessionStateTTL).Err(); err != nil {
			log.Printf("[REDIS-SESSION] Failed to save snapshot: %v, using in-memory cache", err)
			r.redisAvailable.Store(false)
			// In-memory cache is already updated
			return nil
		}
	}

	return nil
}

// LoadSnapshot loads a session snapshot. Returns nil if none exists.
func (r *RedisSessionStateRepository) LoadSnapshot(ctx context.Context, userID string) (*SessionSnapshot, error) {
	if r.client != nil && r.redisAvailable.Load() {
		data, err := r.client.Get(ctx, r.sessionKey(userID)).Result()
		if err != nil {
			if err == redis.Nil {
				return r.snapshotFromCache(userID), nil
			}
			log.Printf("[REDIS-SESSION] Redis read error: %v, using in-memory cache", err)
			r.redisAvailable.Store(false)
			return r.snapshotFromCache(userID), nil
		}

		var snap SessionSnapshot
		if err := json.Unmarshal([]byte(data), &snap); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session snapshot: %w", err)
		}

		r.cacheMu.Lock()
		r.snapshotCache[userID] = &snap
		r.cacheMu.Unlock()

		return &snap, nil
	}

	return r.snapshotFromCache(userID), nil
}

// DeleteSnapshot removes a snapshot from Redis and the in-memory cache
func (r *RedisSessionStateRepository) DeleteSnapshot(ctx context.Context, userID string) error {
	r.cacheMu.Lock()
	delete(r.snapshotCache, userID)
	r.cacheMu.Unlock()

	if r.client != nil && r.redisAvailable.Load() {
		if err := r.client.Del(ctx, r.sessionKey(userID)).Err(); err != nil {
			log.Printf("[REDIS-SESSION] Failed to delete snapshot: %v", err)
			r.redisAvailable.Store(false)
		}
	}

	return nil
}

// SaveFrame stores the latest market frame for a user, replacing any previous
// frame. Frames expire quickly so the polling loop never acts on stale data.
func (r *RedisSessionStateRepository) SaveFrame(ctx context.Context, userID string, frame *MarketFrame) error {
	if frame == nil {
		return fmt.Errorf("cannot save nil market frame")
	}
	if frame.ReceivedAt.IsZero() {
		frame.ReceivedAt = time.Now()
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to marshal market frame: %w", err)
	}

	r.cacheMu.Lock()
	r.frameCache[userID] = frame
	r.cacheMu.Unlock()

	if r.client != nil && r.redisAvailable.Load() {
		if err := r.client.Set(ctx, r.frameKey(userID), data, FrameTTL).Err(); err != nil {
			log.Printf("[REDIS-SESSION] Failed to save frame: %v, using in-memory cache", err)
			r.redisAvailable.Store(false)
			return nil
		}
	}

	return nil
}

// LoadFrame returns the latest market frame for a user, or nil when no fresh
// frame exists. In memory-only mode the FrameTTL is enforced by timestamp.
func (r *RedisSessionStateRepository) LoadFrame(ctx context.Context, userID string) (*MarketFrame, error) {
	if r.client != nil && r.redisAvailable.Load() {
		data, err := r.client.Get(ctx, r.frameKey(userID)).Result()
		if err != nil {
			if err == redis.Nil {
				return nil, nil
			}
			log.Printf("[REDIS-SESSION] Redis read error: %v, using in-memory cache", err)
			r.redisAvailable.Store(false)
			return r.frameFromCache(userID), nil
		}

		var frame MarketFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return nil, fmt.Errorf("failed to unmarshal market frame: %w", err)
		}
		return &frame, nil
	}

	return r.frameFromCache(userID), nil
}

// IsRedisAvailable returns whether Redis is currently available
func (r *RedisSessionStateRepository) IsRedisAvailable() bool {
	return r.redisAvailable.Load()
}

// CheckRedisConnection performs a health check and updates availability status
func (r *RedisSessionStateRepository) CheckRedisConnection(ctx context.Context) error {
	if r.client == nil {
		return fmt.Errorf("no Redis client configured")
	}

	err := r.client.Ping(ctx).Err()
	if err != nil {
		r.redisAvailable.Store(false)
		return fmt.Errorf("redis ping failed: %w", err)
	}

	wasUnavailable := !r.redisAvailable.Load()
	r.redisAvailable.Store(true)

	if wasUnavailable {
		log.Printf("[REDIS-SESSION] Redis connection recovered")
	}

	return nil
}

// --- In-memory cache operations ---

func (r *RedisSessionStateRepository) snapshotFromCache(userID string) *SessionSnapshot {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if snap, exists := r.snapshotCache[userID]; exists {
		snapCopy := *snap
		return &snapCopy
	}
	return nil
}

func (r *RedisSessionStateRepository) frameFromCache(userID string) *MarketFrame {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	frame, exists := r.frameCache[userID]
	if !exists {
		return nil
	}
	if time.Since(frame.ReceivedAt) > FrameTTL {
		return nil
	}
	frameCopy := *frame
	return &frameCopy
}

// ClearCache clears all in-memory entries. Primarily used for testing.
func (r *RedisSessionStateRepository) ClearCache() {
	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.snapshotCache = make(map[string]*SessionSnapshot)
	r.frameCache = make(map[string]*MarketFrame)
}
