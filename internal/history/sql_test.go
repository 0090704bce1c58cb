package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/EXCurryBar/mybot/internal/config"
	"github.com/EXCurryBar/mybot/internal/models"
	"github.com/EXCurryBar/mybot/internal/storage"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{"sqlite3": {DSN: ":memory:"}}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLStoreKeepsLastWindow(t *testing.T) {
	store := NewSQLStore(openTestDB(t), DefaultWindow)
	ctx := context.Background()

	for i := 0; i < 31; i++ {
		if err := store.Append(ctx, "user:U1", models.RoleUser, fmt.Sprintf("m%d", i)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	msgs, err := store.Read(ctx, "user:U1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 30 {
		t.Fatalf("want 30 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "m1" {
		t.Fatalf("oldest message should be m1 after eviction, got %s", msgs[0].Content)
	}
	if msgs[29].Content != "m30" {
		t.Fatalf("newest message should be m30, got %s", msgs[29].Content)
	}
}

func TestSQLStoreIsolatesSessions(t *testing.T) {
	store := NewSQLStore(openTestDB(t), 5)
	ctx := context.Background()

	if err := store.Append(ctx, "user:U1", models.RoleUser, "hi from direct"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, "group:G1:user:U1", models.RoleUser, "hi from group"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.Append(ctx, "group:G1:user:U1", models.RoleAssistant, "hello group"); err != nil {
		t.Fatalf("append: %v", err)
	}

	direct, err := store.Read(ctx, "user:U1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(direct) != 1 || direct[0].Content != "hi from direct" {
		t.Fatalf("unexpected direct history: %+v", direct)
	}
	group, err := store.Read(ctx, "group:G1:user:U1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(group) != 2 || group[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected group history: %+v", group)
	}
}

func TestSQLStoreReadUnknownSessionIsEmpty(t *testing.T) {
	store := NewSQLStore(openTestDB(t), DefaultWindow)
	msgs, err := store.Read(context.Background(), "user:nobody")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty history, got %d", len(msgs))
	}
}

func TestSQLStoreConcurrentAppendsStayBounded(t *testing.T) {
	store := NewSQLStore(openTestDB(t), 10)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := store.Append(ctx, "user:U1", models.RoleUser, fmt.Sprintf("m%d", i)); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	msgs, err := store.Read(ctx, "user:U1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 10 {
		t.Fatalf("want 10 messages, got %d", len(msgs))
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].ID <= msgs[i-1].ID {
			t.Fatalf("history not in append order at %d", i)
		}
	}
}

func TestSQLStoreClosedDBIsUnavailable(t *testing.T) {
	db := openTestDB(t)
	store := NewSQLStore(db, DefaultWindow)
	db.Close()

	_, err := store.Read(context.Background(), "user:U1")
	if !errors.Is(err, models.ErrPersistenceUnavailable) {
		t.Fatalf("read error should be ErrPersistenceUnavailable, got %v", err)
	}
	err = store.Append(context.Background(), "user:U1", models.RoleUser, "x")
	if !errors.Is(err, models.ErrPersistenceUnavailable) {
		t.Fatalf("append error should be ErrPersistenceUnavailable, got %v", err)
	}
}
