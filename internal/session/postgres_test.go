package session

import (
	"context"
	"errors"
	"os"
	"testing"
)

// testPGStore connects to the database named by STUDIO_TEST_POSTGRES_DSN, or
// skips the test when the variable is unset. The sessions table is emptied
// before each test.
func testPGStore(t *testing.T) *PGStore {
	t.Helper()
	dsn := os.Getenv("STUDIO_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("STUDIO_TEST_POSTGRES_DSN not set; skipping PostgreSQL integration tests")
	}

	ctx := context.Background()
	store, err := NewPGStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPGStore: %v", err)
	}
	t.Cleanup(store.Close)

	if _, err := store.pool.Exec(ctx, `TRUNCATE sessions`); err != nil {
		t.Fatalf("truncate sessions: %v", err)
	}
	return store
}

func TestPGStore_RoundTrip(t *testing.T) {
	store := testPGStore(t)
	ctx := context.Background()

	s := New()
	s.CurrentStage = StageImageGenerate
	s.Context["images"] = []string{"/data/outputs/a.png"}
	s.Context["regeneration_count"] = 2
	s.AddHistory("user", "네")

	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentStage != StageImageGenerate {
		t.Errorf("CurrentStage = %q", got.CurrentStage)
	}
	if imgs := got.Context.StrSlice("images"); len(imgs) != 1 || imgs[0] != "/data/outputs/a.png" {
		t.Errorf("images = %v", imgs)
	}
	if got.Context.Int("regeneration_count") != 2 {
		t.Errorf("regeneration_count = %d", got.Context.Int("regeneration_count"))
	}
	if len(got.History) != 1 || got.History[0].Content != "네" {
		t.Errorf("history = %+v", got.History)
	}
}

func TestPGStore_UpsertAndDelete(t *testing.T) {
	store := testPGStore(t)
	ctx := context.Background()

	s := New()
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.CurrentStage = StageCompleted
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.CurrentStage != StageCompleted {
		t.Errorf("CurrentStage = %q, want COMPLETED", got.CurrentStage)
	}

	if err := store.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestPGStore_List(t *testing.T) {
	store := testPGStore(t)
	ctx := context.Background()

	a, b := New(), New()
	if err := store.Save(ctx, a); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, b); err != nil {
		t.Fatalf("Save: %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	// b saved last, so it leads.
	if list[0].ID != b.ID {
		t.Errorf("list[0] = %q, want %q", list[0].ID, b.ID)
	}
}
