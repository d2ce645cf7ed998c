package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func createTestUser(t *testing.T, st *Store, name string) *User {
	t.Helper()
	u := &User{
		Username:     name,
		Email:        name + "@example.com",
		PasswordHash: "hash",
		FullName:     "Test " + name,
	}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser(%s) failed: %v", name, err)
	}
	return u
}

func TestOpen(t *testing.T) {
	st := openTestStore(t)

	for _, table := range []string{"users", "sessions", "infractions", "contracts", "user_contracts", "payments", "subscriptions"} {
		var name string
		err := st.db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Fatalf("%s table not created: %v", table, err)
		}
	}
}

func TestOpenFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contestare.db")

	st, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	createTestUser(t, st, "alice")
	st.Close()

	// Reopening must not recreate or wipe tables
	st, err = Open(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer st.Close()

	var mode string
	if err := st.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("journal_mode query failed: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected WAL mode, got %q", mode)
	}

	exists, err := st.UsernameExists(context.Background(), "alice")
	if err != nil {
		t.Fatalf("UsernameExists failed: %v", err)
	}
	if !exists {
		t.Error("user should survive reopen")
	}
}

func TestMemoryStoresAreIsolated(t *testing.T) {
	a := openTestStore(t)
	b := openTestStore(t)

	createTestUser(t, a, "alice")

	exists, err := b.UsernameExists(context.Background(), "alice")
	if err != nil {
		t.Fatalf("UsernameExists failed: %v", err)
	}
	if exists {
		t.Error("second in-memory store should not see rows from the first")
	}
}

func TestWithTxRollback(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := st.WithTx(ctx, func(q *Queries) error {
		u := &User{Username: "ghost", Email: "ghost@example.com", PasswordHash: "x", FullName: "Ghost"}
		if err := q.CreateUser(ctx, u); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}

	exists, err := st.UsernameExists(ctx, "ghost")
	if err != nil {
		t.Fatalf("UsernameExists failed: %v", err)
	}
	if exists {
		t.Error("rolled back insert should not be visible")
	}
}

func TestWithTxCommit(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	var id int64
	err := st.WithTx(ctx, func(q *Queries) error {
		u := &User{Username: "bob", Email: "bob@example.com", PasswordHash: "x", FullName: "Bob"}
		if err := q.CreateUser(ctx, u); err != nil {
			return err
		}
		id = u.ID
		return q.SetPremium(ctx, u.ID, true)
	})
	if err != nil {
		t.Fatalf("WithTx failed: %v", err)
	}

	u, err := st.GetUser(ctx, id)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if !u.IsPremium {
		t.Error("committed update should be visible")
	}
}

func TestConcurrentAccess(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, st, "owner")

	var wg sync.WaitGroup
	// testing.T methods are not goroutine-safe
	errCh := make(chan error, 20)

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			inf := sampleInfraction(owner.ID, fmt.Sprintf("N-%d", n))
			if err := st.CreateInfraction(ctx, &inf); err != nil {
				errCh <- fmt.Errorf("CreateInfraction %d: %v", n, err)
			}
		}(i)
	}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := st.ListInfractions(ctx, owner.ID); err != nil {
				errCh <- fmt.Errorf("ListInfractions: %v", err)
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	list, err := st.ListInfractions(ctx, owner.ID)
	if err != nil {
		t.Fatalf("final ListInfractions failed: %v", err)
	}
	if len(list) != 10 {
		t.Errorf("expected 10 infractions, got %d", len(list))
	}
}

func TestSessions(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	u := createTestUser(t, st, "alice")

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	live := Session{Token: "live", UserID: u.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	stale := Session{Token: "stale", UserID: u.ID, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	for _, s := range []Session{live, stale} {
		if err := st.CreateSession(ctx, s); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}

	got, err := st.GetSession(ctx, "live", now)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.UserID != u.ID {
		t.Errorf("session user = %d, want %d", got.UserID, u.ID)
	}

	if _, err := st.GetSession(ctx, "stale", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("expired session should be ErrNotFound, got %v", err)
	}
	if _, err := st.GetSession(ctx, "nope", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown session should be ErrNotFound, got %v", err)
	}

	n, err := st.PurgeExpiredSessions(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpiredSessions failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d sessions, want 1", n)
	}

	if err := st.DeleteSession(ctx, "live"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := st.GetSession(ctx, "live", now); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted session should be ErrNotFound, got %v", err)
	}
}
