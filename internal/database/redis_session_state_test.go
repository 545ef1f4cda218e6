package database

import (
	"context"
	"testing"
	"time"

	"trading-assistant/internal/session"
)

// All tests run in memory-only mode (nil client); Redis behavior shares the
// same marshal/unmarshal and cache paths.

func TestSnapshotRoundTripInMemory(t *testing.T) {
	repo := NewRedisSessionStateRepository(nil)
	ctx := context.Background()

	s := session.New("alice", 5)
	s.TotalWins = 3
	if err := repo.SaveSnapshot(ctx, "alice", s); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	snap, err := repo.LoadSnapshot(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if snap == nil {
		t.Fatal("LoadSnapshot returned nil")
	}
	if snap.Session.UserID != "alice" || snap.Session.TotalWins != 3 {
		t.Errorf("snapshot state = %+v, want alice with 3 wins", snap.Session)
	}
	if snap.SavedAt.IsZero() {
		t.Error("SavedAt not set")
	}
}

func TestLoadSnapshotMissingUser(t *testing.T) {
	repo := NewRedisSessionStateRepository(nil)

	snap, err := repo.LoadSnapshot(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if snap != nil {
		t.Errorf("snapshot = %+v, want nil for unknown user", snap)
	}
}

func TestDeleteSnapshot(t *testing.T) {
	repo := NewRedisSessionStateRepository(nil)
	ctx := context.Background()

	if err := repo.SaveSnapshot(ctx, "alice", session.New("alice", 5)); err != nil {
		t.Fatal(err)
	}
	if err := repo.DeleteSnapshot(ctx, "alice"); err != nil {
		t.Fatal(err)
	}

	snap, err := repo.LoadSnapshot(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Error("snapshot still present after delete")
	}
}

func TestSaveSnapshotRejectsNil(t *testing.T) {
	repo := NewRedisSessionStateRepository(nil)
	if err := repo.SaveSnapshot(context.Background(), "alice", nil); err == nil {
		t.Error("nil snapshot must be rejected")
	}
}

func TestFrameRoundTripInMemory(t *testing.T) {
	repo := NewRedisSessionStateRepository(nil)
	ctx := context.Background()

	balance := 123.45
	frame := &MarketFrame{
		Series:  []float64{1, 2, 3},
		Balance: &balance,
	}
	if err := repo.SaveFrame(ctx, "alice", frame); err != nil {
		t.Fatalf("SaveFrame failed: %v", err)
	}

	got, err := repo.LoadFrame(ctx, "alice")
	if err != nil {
		t.Fatalf("LoadFrame failed: %v", err)
	}
	if got == nil {
		t.Fatal("LoadFrame returned nil")
	}
	if len(got.Series) != 3 || got.Series[2] != 3 {
		t.Errorf("Series = %v, want [1 2 3]", got.Series)
	}
	if got.Balance == nil || *got.Balance != 123.45 {
		t.Errorf("Balance = %v, want 123.45", got.Balance)
	}
	if got.ReceivedAt.IsZero() {
		t.Error("ReceivedAt not set")
	}
}

func TestStaleFrameExpires(t *testing.T) {
	repo := NewRedisSessionStateRepository(nil)
	ctx := context.Background()

	frame := &MarketFrame{
		Series:     []float64{1},
		ReceivedAt: time.Now().Add(-2 * FrameTTL),
	}
	if err := repo.SaveFrame(ctx, "alice", frame); err != nil {
		t.Fatal(err)
	}

	got, err := repo.LoadFrame(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("stale frame returned: %+v", got)
	}
}

func TestFrameIsolatedPerUser(t *testing.T) {
	repo := NewRedisSessionStateRepository(nil)
	ctx := context.Background()

	if err := repo.SaveFrame(ctx, "alice", &MarketFrame{Series: []float64{1}}); err != nil {
		t.Fatal(err)
	}

	got, err := repo.LoadFrame(ctx, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("frame leaked across users")
	}
}

func TestRedisUnavailableInMemoryMode(t *testing.T) {
	repo := NewRedisSessionStateRepository(nil)

	if repo.IsRedisAvailable() {
		t.Error("nil client must report Redis unavailable")
	}
	if err := repo.CheckRedisConnection(context.Background()); err == nil {
		t.Error("CheckRedisConnection must fail without a client")
	}
}
