package goal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	err = store.Update(ctx, "persona", func(st *State) error {
		st.Active = &Goal{
			ID:          "goal-1",
			Description: "Find out what the visitors are celebrating",
			Status:      StatusActive,
			CreatedAt:   now,
			ExpiresAt:   now.Add(30 * time.Minute),
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	st, err := store.Get(ctx, "persona")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Active == nil {
		t.Fatal("active goal lost")
	}
	if st.Active.Description != "Find out what the visitors are celebrating" {
		t.Errorf("description = %q", st.Active.Description)
	}
	if !st.Active.ExpiresAt.Equal(now.Add(30 * time.Minute)) {
		t.Errorf("expires_at = %v", st.Active.ExpiresAt)
	}
}

func TestFileStoreMissingScopeIsEmpty(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	st, err := store.Get(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if st.Active != nil || len(st.History) != 0 {
		t.Errorf("state = %+v", st)
	}
}

func TestFileStorePersistsHistory(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, _ := NewFileStore(dir)

	now := time.Now().UTC().Truncate(time.Second)
	done := now.Add(10 * time.Minute)
	_ = store.Update(ctx, "persona", func(st *State) error {
		st.History = append(st.History, Goal{
			ID:              "goal-0",
			Description:     "old objective",
			Status:          StatusCompleted,
			CreatedAt:       now,
			ExpiresAt:       now.Add(30 * time.Minute),
			CompletedAt:     &done,
			CompletionNotes: "Goal expired after time limit",
		})
		st.Active = &Goal{
			ID:          "goal-1",
			Description: "new objective",
			Status:      StatusActive,
			CreatedAt:   done,
			ExpiresAt:   done.Add(30 * time.Minute),
		}
		return nil
	})

	// reopen to prove it survived the process boundary
	reopened, _ := NewFileStore(dir)
	st, err := reopened.Get(ctx, "persona")
	if err != nil {
		t.Fatal(err)
	}
	if len(st.History) != 1 {
		t.Fatalf("history = %d entries", len(st.History))
	}
	h := st.History[0]
	if h.Description != "old objective" || h.CompletionNotes != "Goal expired after time limit" {
		t.Errorf("history entry = %+v", h)
	}
	if h.CompletedAt == nil || !h.CompletedAt.Equal(done) {
		t.Errorf("completed_at = %v", h.CompletedAt)
	}
	if st.Active == nil || st.Active.Description != "new objective" {
		t.Errorf("active = %+v", st.Active)
	}
}

func TestFileStoreWritesFrontmatterMarkdown(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, _ := NewFileStore(dir)

	_ = store.Update(ctx, "persona", func(st *State) error {
		st.Active = &Goal{ID: "goal-1", Description: "say hello", Status: StatusActive}
		return nil
	})

	data, err := os.ReadFile(filepath.Join(dir, "persona.md"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.HasPrefix(content, "---\n") {
		t.Error("file should start with frontmatter")
	}
	if !strings.Contains(content, "say hello") {
		t.Error("body should carry the description")
	}
	if _, err := os.Stat(filepath.Join(dir, "persona.md.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestFileStoreUpdateErrorAbortsWrite(t *testing.T) {
	ctx := context.Background()
	store, _ := NewFileStore(t.TempDir())

	_ = store.Update(ctx, "persona", func(st *State) error {
		st.Active = &Goal{ID: "goal-1", Description: "keep me", Status: StatusActive}
		return nil
	})
	err := store.Update(ctx, "persona", func(st *State) error {
		st.Active = nil
		return os.ErrInvalid
	})
	if err == nil {
		t.Fatal("fn error should propagate")
	}

	st, _ := store.Get(ctx, "persona")
	if st.Active == nil || st.Active.ID != "goal-1" {
		t.Error("failed update mutated the file")
	}
}
