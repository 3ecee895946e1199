package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
)

const insertRunQuery = `INSERT INTO runs (
	run_id,
	project_id,
	name,
	description,
	language,
	closed,
	created_by,
	created_at,
	updated_at,
	closed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`

const insertSlotQuery = `INSERT INTO run_slots (
	slot_id,
	run_id,
	case_id,
	position,
	case_version_snapshot,
	title_snapshot,
	steps_snapshot,
	expected_result_snapshot,
	priority_snapshot,
	issue_links_snapshot,
	media_names_snapshot,
	language_snapshot,
	translated,
	created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`

const runColumns = `run_id, project_id, name, description, language, closed, created_by, created_at, updated_at, closed_at`

const selectRunQuery = `SELECT ` + runColumns + ` FROM runs WHERE run_id = $1`

// setClosedQuery only matches when the flag actually changes, so concurrent
// closers observe exactly one transition.
const setClosedQuery = `UPDATE runs
SET closed = $2,
	updated_at = $3,
	closed_at = CASE WHEN $2 THEN $3 ELSE NULL END
WHERE run_id = $1 AND closed <> $2
RETURNING ` + runColumns

type RunStore struct {
	db TxDB
}

var _ repo.RunRepository = (*RunStore)(nil)

func NewRunStore(db TxDB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) CreateRun(ctx context.Context, run domain.Run, slots []domain.Slot) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	if err := domain.ValidatePositions(slots); err != nil {
		return err
	}
	createdAt := normalizeTime(run.CreatedAt)
	updatedAt := normalizeTime(run.UpdatedAt)
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(
			ctx,
			insertRunQuery,
			strings.TrimSpace(run.ID),
			strings.TrimSpace(run.ProjectID),
			strings.TrimSpace(run.Name),
			run.Description,
			string(run.Language),
			run.Closed,
			strings.TrimSpace(run.CreatedBy),
			createdAt,
			updatedAt,
			nullTime(run.ClosedAt),
		)
		if err != nil {
			return fmt.Errorf("insert run: %w", mapPgError(err))
		}
		for _, slot := range slots {
			if err := slot.Validate(); err != nil {
				return err
			}
			snap := slot.Snapshot
			_, err := tx.ExecContext(
				ctx,
				insertSlotQuery,
				strings.TrimSpace(slot.ID),
				strings.TrimSpace(run.ID),
				strings.TrimSpace(slot.CaseID),
				slot.Position,
				snap.CaseVersion,
				snap.Title,
				snap.Steps,
				snap.ExpectedResult,
				string(snap.Priority),
				snap.IssueLinks,
				snap.MediaNames,
				string(snap.Language),
				snap.Translated,
				normalizeTime(slot.CreatedAt),
			)
			if err != nil {
				return fmt.Errorf("insert slot %d: %w", slot.Position, mapPgError(err))
			}
		}
		return nil
	})
}

func (s *RunStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRunQuery, id))
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	if strings.TrimSpace(filter.ProjectID) == "" {
		return nil, fmt.Errorf("project id is required")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)

	args = append(args, strings.TrimSpace(filter.ProjectID))
	clauses = append(clauses, fmt.Sprintf("project_id = $%d", len(args)))
	if filter.Closed != nil {
		args = append(args, *filter.Closed)
		clauses = append(clauses, fmt.Sprintf("closed = $%d", len(args)))
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE ` + strings.Join(clauses, " AND ")
	query += " ORDER BY created_at DESC, run_id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) SetClosed(ctx context.Context, id string, closed bool, at time.Time) (domain.Run, bool, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, false, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, false, fmt.Errorf("run id is required")
	}
	run, err := scanRun(s.db.QueryRowContext(ctx, setClosedQuery, id, closed, normalizeTime(at)))
	if err == nil {
		return run, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Run{}, false, fmt.Errorf("set closed: %w", err)
	}
	current, err := s.GetRun(ctx, id)
	if err != nil {
		return domain.Run{}, false, err
	}
	return current, false, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var (
		run      domain.Run
		language string
		closedAt sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.ProjectID, &run.Name, &run.Description, &language, &run.Closed,
		&run.CreatedBy, &run.CreatedAt, &run.UpdatedAt, &closedAt); err != nil {
		return domain.Run{}, err
	}
	run.Language = domain.Language(language)
	run.CreatedAt = run.CreatedAt.UTC()
	run.UpdatedAt = run.UpdatedAt.UTC()
	run.ClosedAt = timePtr(closedAt)
	return run, nil
}
