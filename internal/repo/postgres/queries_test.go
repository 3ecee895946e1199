package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/quickrail-labs/quickrail-go/internal/repo"
)

func TestResultQueriesLockAndOrderByPair(t *testing.T) {
	if !strings.Contains(lockPairQuery, "pg_advisory_xact_lock") {
		t.Fatalf("expected transaction-scoped advisory lock")
	}
	if !strings.Contains(latestResultQuery, "ORDER BY created_at DESC, seq DESC") {
		t.Fatalf("expected created_at, seq ordering in latest query")
	}
	if !strings.Contains(supersedeResultQuery, "nextval('run_results_seq')") {
		t.Fatalf("expected supersede to assign a fresh seq")
	}
	if !strings.Contains(supersedeResultQuery, "case_id = $2") {
		t.Fatalf("expected supersede to stay within the locked pair")
	}
	if pairLockKey("r1", "c1") == pairLockKey("r1c", "1") {
		t.Fatalf("expected distinct lock keys")
	}
}

func TestSnapshotRefreshNeverLowersVersion(t *testing.T) {
	if !strings.Contains(refreshSnapshotQuery, "case_version_snapshot <= $2") {
		t.Fatalf("expected version guard in refresh query")
	}
	if !strings.Contains(listSlotsQuery, "ORDER BY position ASC") {
		t.Fatalf("expected slots ordered by position")
	}
}

func TestSetClosedOnlyMatchesTransitions(t *testing.T) {
	if !strings.Contains(setClosedQuery, "closed <> $2") {
		t.Fatalf("expected conditional update on closed flag")
	}
	if !strings.Contains(setClosedQuery, "RETURNING") {
		t.Fatalf("expected RETURNING clause")
	}
}

func TestTranslationUpsertIsLastWriteWins(t *testing.T) {
	if !strings.Contains(upsertTranslationQuery, "ON CONFLICT (case_id, target_lang) DO UPDATE") {
		t.Fatalf("expected upsert conflict clause")
	}
	if strings.Contains(upsertTranslationQuery, "created_at = EXCLUDED.created_at") {
		t.Fatalf("upsert must keep the original created_at")
	}
}

func TestSchemaCoversTables(t *testing.T) {
	all := strings.Join(schemaStatements, "\n")
	for _, table := range []string{"cases", "case_issue_links", "case_media", "runs", "run_slots", "run_results", "case_translations", "audit_events"} {
		if !strings.Contains(all, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("schema missing table %s", table)
		}
	}
	if !strings.Contains(all, "UNIQUE (run_id, position)") {
		t.Fatalf("expected unique slot positions")
	}
}

func TestMapPgError(t *testing.T) {
	fk := fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgForeignKeyViolation, ConstraintName: "run_results_run_id_fkey"})
	if !errors.Is(mapPgError(fk), repo.ErrNotFound) {
		t.Fatalf("expected foreign key violation to map to ErrNotFound")
	}
	dup := &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "runs_pkey"}
	if !errors.Is(mapPgError(dup), repo.ErrConflict) {
		t.Fatalf("expected unique violation to map to ErrConflict")
	}
	other := errors.New("boom")
	if mapPgError(other) != other {
		t.Fatalf("expected unrelated errors to pass through")
	}
}

func TestStoresRejectNilDB(t *testing.T) {
	if NewRunStore(nil) != nil || NewSlotStore(nil) != nil || NewResultStore(nil) != nil ||
		NewTranslationStore(nil) != nil || NewCaseStore(nil) != nil {
		t.Fatalf("expected nil stores for nil db")
	}
	var s *RunStore
	if _, err := s.GetRun(context.Background(), "r1"); err == nil {
		t.Fatalf("expected error from uninitialized store")
	}
	if err := Migrate(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil db")
	}
}
