package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/logdebug/internal/logging"
	"github.com/therealutkarshpriyadarshi/logdebug/pkg/types"
)

func newTestStore(cfg Config) *Store {
	return NewStore(cfg, logging.Nop())
}

func record(n int64) *types.Record {
	rec := types.NewRecord("/test")
	rec.Set(types.Digit("n", n))
	return rec
}

func valueOf(t *testing.T, rec *types.Record) int64 {
	t.Helper()
	f, ok := rec.Get("n")
	if !ok {
		t.Fatalf("record has no n field: %+v", rec)
	}
	return f.Value.(int64)
}

func TestStore_GetReplace(t *testing.T) {
	store := newTestStore(Config{})
	ctx := context.Background()

	rec, err := store.Get(ctx, "a")
	if err != nil || rec != nil {
		t.Fatalf("Get() on unknown session = %v, %v", rec, err)
	}
	if store.Len() != 0 {
		t.Errorf("Get() created a session")
	}

	if err := store.Replace(ctx, "a", record(1)); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	got, err := store.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if valueOf(t, got) != 1 {
		t.Errorf("Get() = %+v", got)
	}

	// snapshots are independent of the stored record
	got.Set(types.Digit("n", 99))
	again, _ := store.Get(ctx, "a")
	if valueOf(t, again) != 1 {
		t.Error("mutating a snapshot changed the stored record")
	}

	if err := store.Replace(ctx, "a", nil); err == nil {
		t.Error("expected error replacing with nil")
	}
}

func TestStore_UpdateFailureKeepsRecord(t *testing.T) {
	store := newTestStore(Config{})
	ctx := context.Background()
	_ = store.Replace(ctx, "a", record(1))

	boom := errors.New("boom")
	err := store.Update(ctx, "a", func(_ context.Context, cur *types.Record) (*types.Record, error) {
		cur.Set(types.Digit("n", 2))
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}

	got, _ := store.Get(ctx, "a")
	if valueOf(t, got) != 1 {
		t.Errorf("record changed after failed update: %+v", got)
	}
}

func TestStore_UpdateEmptySession(t *testing.T) {
	store := newTestStore(Config{})
	ctx := context.Background()

	var seen *types.Record
	called := false
	err := store.Update(ctx, "fresh", func(_ context.Context, cur *types.Record) (*types.Record, error) {
		called, seen = true, cur
		return nil, nil
	})
	if err != nil || !called {
		t.Fatalf("Update() error = %v, called = %v", err, called)
	}
	if seen != nil {
		t.Errorf("empty session passed %+v", seen)
	}
	if rec, _ := store.Get(ctx, "fresh"); rec != nil {
		t.Errorf("session not empty after no-op update: %+v", rec)
	}
}

// Concurrent read-modify-write cycles on one key never lose an update.
func TestStore_Serializable(t *testing.T) {
	store := newTestStore(Config{})
	ctx := context.Background()
	_ = store.Replace(ctx, "a", record(0))

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.Update(ctx, "a", func(_ context.Context, cur *types.Record) (*types.Record, error) {
				n := cur.Fields[0].Value.(int64)
				time.Sleep(time.Millisecond)
				return record(n + 1), nil
			})
			if err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := store.Get(ctx, "a")
	if valueOf(t, got) != workers {
		t.Errorf("n = %d, want %d", valueOf(t, got), workers)
	}
}

func TestStore_KeysDoNotBlockEachOther(t *testing.T) {
	store := newTestStore(Config{})
	ctx := context.Background()

	held := make(chan struct{})
	releaseA := make(chan struct{})
	go func() {
		_ = store.Update(ctx, "a", func(context.Context, *types.Record) (*types.Record, error) {
			close(held)
			<-releaseA
			return record(1), nil
		})
	}()
	<-held
	defer close(releaseA)

	done := make(chan error, 1)
	go func() { done <- store.Replace(ctx, "b", record(2)) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Replace(b) error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("update of session b waited on session a")
	}
}

func TestStore_CancelWhileWaiting(t *testing.T) {
	store := newTestStore(Config{})
	ctx := context.Background()
	_ = store.Replace(ctx, "a", record(1))

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.Update(ctx, "a", func(_ context.Context, cur *types.Record) (*types.Record, error) {
			close(held)
			<-release
			return nil, nil
		})
	}()
	<-held

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()

	called := false
	err := store.Update(waitCtx, "a", func(context.Context, *types.Record) (*types.Record, error) {
		called = true
		return record(2), nil
	})
	close(release)

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Update() error = %v, want DeadlineExceeded", err)
	}
	if called {
		t.Error("update function ran without holding the session")
	}

	got, _ := store.Get(ctx, "a")
	if valueOf(t, got) != 1 {
		t.Errorf("record changed after cancelled wait: %+v", got)
	}
}

func TestStore_HeldOperationIgnoresCancel(t *testing.T) {
	store := newTestStore(Config{})
	ctx, cancel := context.WithCancel(context.Background())

	err := store.Update(ctx, "a", func(opCtx context.Context, _ *types.Record) (*types.Record, error) {
		cancel()
		if opCtx.Err() != nil {
			return nil, fmt.Errorf("operation context cancelled: %w", opCtx.Err())
		}
		return record(5), nil
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, _ := store.Get(context.Background(), "a")
	if valueOf(t, got) != 5 {
		t.Errorf("n = %d, want 5", valueOf(t, got))
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(Config{})
	ctx := context.Background()
	_ = store.Replace(ctx, "a", record(1))

	existed, err := store.Delete(ctx, "a")
	if err != nil || !existed {
		t.Fatalf("Delete() = %v, %v", existed, err)
	}
	if rec, _ := store.Get(ctx, "a"); rec != nil {
		t.Errorf("Get() after Delete() = %+v", rec)
	}
	if existed, _ := store.Delete(ctx, "a"); existed {
		t.Error("Delete() of missing session reported true")
	}
}

func TestStore_DeleteWhileWaiting(t *testing.T) {
	store := newTestStore(Config{})
	ctx := context.Background()
	_ = store.Replace(ctx, "a", record(1))

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.Update(ctx, "a", func(context.Context, *types.Record) (*types.Record, error) {
			close(held)
			<-release
			return nil, nil
		})
	}()
	<-held

	// queue a delete and then a write behind the held cell
	deleted := make(chan struct{})
	go func() {
		_, _ = store.Delete(ctx, "a")
		close(deleted)
	}()
	time.Sleep(20 * time.Millisecond)

	written := make(chan error, 1)
	go func() { written <- store.Replace(ctx, "a", record(2)) }()
	time.Sleep(20 * time.Millisecond)

	close(release)
	<-deleted
	if err := <-written; err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	got, _ := store.Get(ctx, "a")
	if got == nil {
		t.Fatal("write queued behind a delete was lost")
	}
	if valueOf(t, got) != 2 {
		t.Errorf("n = %d, want 2", valueOf(t, got))
	}
}

func TestStore_Capacity(t *testing.T) {
	store := newTestStore(Config{MaxSessions: 2})
	ctx := context.Background()

	for _, key := range []string{"a", "b"} {
		if err := store.Replace(ctx, key, record(1)); err != nil {
			t.Fatalf("Replace(%s) error = %v", key, err)
		}
	}
	if err := store.Replace(ctx, "c", record(1)); !errors.Is(err, ErrCapacity) {
		t.Errorf("Replace(c) error = %v, want ErrCapacity", err)
	}
	if err := store.Replace(ctx, "a", record(3)); err != nil {
		t.Errorf("Replace(a) on existing session error = %v", err)
	}
}

func TestStore_Sweep(t *testing.T) {
	store := newTestStore(Config{IdleTTL: time.Minute})
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	_ = store.Replace(ctx, "old", record(1))
	now = now.Add(2 * time.Minute)
	_ = store.Replace(ctx, "new", record(2))

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = store.Update(ctx, "old", func(context.Context, *types.Record) (*types.Record, error) {
			close(held)
			<-release
			return nil, nil
		})
	}()
	<-held

	if n := store.Sweep(); n != 0 {
		t.Errorf("Sweep() evicted %d sessions while one was held", n)
	}
	close(release)

	// wait for the holder to let go
	deadline := time.Now().Add(2 * time.Second)
	for {
		store.mu.Lock()
		refs := store.cells["old"].refs
		store.mu.Unlock()
		if refs == 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Millisecond)
	}

	now = now.Add(2 * time.Minute)
	if n := store.Sweep(); n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}
	if store.Len() != 0 {
		t.Errorf("Len() = %d, want 0", store.Len())
	}
}

func TestStore_RunReportsEvictions(t *testing.T) {
	evicted := make(chan [2]int, 1)
	store := newTestStore(Config{
		IdleTTL:       time.Millisecond,
		SweepInterval: 5 * time.Millisecond,
		OnEvict: func(n, remaining int) {
			select {
			case evicted <- [2]int{n, remaining}:
			default:
			}
		},
	})

	_ = store.Replace(context.Background(), "idle", record(1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Run(ctx)
		close(done)
	}()

	select {
	case got := <-evicted:
		if got != [2]int{1, 0} {
			t.Errorf("OnEvict(%d, %d), want (1, 0)", got[0], got[1])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("idle session was never evicted")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
