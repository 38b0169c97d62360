package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/apexdeliver/backend/internal/model"
)

// Requires a migrated database; set TEST_DATABASE_URL to run.
func TestPgSubmissionRepository_SaveListStats(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	repo := NewPgSubmissionRepository(pool)
	defer repo.Close()

	before, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}

	unique := fmt.Sprintf("%d", time.Now().UnixNano())
	rec := &model.SubmissionRecord{
		SessionID: "sess-" + unique,
		EmailHash: "hash-" + unique,
		Action:    model.ActionUpdated,
		Outcome:   model.OutcomeSuccess,
		Tags:      []string{"newsletter", "webinar"},
	}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if rec.ID == "" {
		t.Error("expected ID to be set after Save")
	}

	got, err := repo.FindByID(ctx, rec.ID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if got.SessionID != rec.SessionID {
		t.Errorf("expected session %q, got %q", rec.SessionID, got.SessionID)
	}
	if len(got.Tags) != 2 {
		t.Errorf("expected 2 tags, got %v", got.Tags)
	}

	list, err := repo.List(ctx, model.SubmissionListOptions{Outcome: "success", Limit: 1})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 1 || list[0].ID != rec.ID {
		t.Errorf("expected newest record first, got %v", list)
	}

	after, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if after.Updated != before.Updated+1 {
		t.Errorf("expected updated count to grow by 1, got %d -> %d", before.Updated, after.Updated)
	}
}

// A malformed id never reaches PostgreSQL, so no database is needed.
func TestPgSubmissionRepository_FindByID_MalformedID(t *testing.T) {
	repo := &PgSubmissionRepository{}
	for _, id := range []string{"abc", "", "123", "not-a-uuid-at-all"} {
		_, err := repo.FindByID(context.Background(), id)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("FindByID(%q): expected ErrNotFound, got %v", id, err)
		}
	}
}
