package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
)

// lockPairQuery serializes writers of one (run, case) pair until the
// surrounding transaction ends.
const lockPairQuery = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`

const resultColumns = `result_id, seq, run_id, case_id, operator_id, outcome, note, issue_links, created_at`

const latestResultQuery = `SELECT ` + resultColumns + `
FROM run_results
WHERE run_id = $1 AND case_id = $2
ORDER BY created_at DESC, seq DESC, result_id DESC
LIMIT 1`

const insertResultQuery = `INSERT INTO run_results (
	result_id,
	run_id,
	case_id,
	operator_id,
	outcome,
	note,
	issue_links,
	created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
RETURNING seq`

const supersedeResultQuery = `UPDATE run_results
SET outcome = $4,
	note = $5,
	issue_links = $6,
	created_at = $7,
	seq = nextval('run_results_seq')
WHERE run_id = $1 AND case_id = $2 AND result_id = $3
RETURNING seq`

const listResultsByRunQuery = `SELECT ` + resultColumns + `
FROM run_results
WHERE run_id = $1
ORDER BY created_at ASC, seq ASC`

const listResultsByCaseQuery = `SELECT ` + resultColumns + `
FROM run_results
WHERE run_id = $1 AND case_id = $2
ORDER BY created_at ASC, seq ASC`

const selectResultQuery = `SELECT ` + resultColumns + `
FROM run_results
WHERE run_id = $1 AND result_id = $2`

const deleteResultQuery = `DELETE FROM run_results WHERE run_id = $1 AND result_id = $2`

const deleteResultsByRunQuery = `DELETE FROM run_results WHERE run_id = $1`

type ResultStore struct {
	db TxDB
}

var _ repo.ResultRepository = (*ResultStore)(nil)

func NewResultStore(db TxDB) *ResultStore {
	if db == nil {
		return nil
	}
	return &ResultStore{db: db}
}

func pairLockKey(runID, caseID string) string {
	return runID + "/" + caseID
}

func (s *ResultStore) WithPairLock(ctx context.Context, runID, caseID string, fn func(tx repo.ResultTx) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store not initialized")
	}
	runID = strings.TrimSpace(runID)
	caseID = strings.TrimSpace(caseID)
	if runID == "" || caseID == "" {
		return fmt.Errorf("run id and case id are required")
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, lockPairQuery, pairLockKey(runID, caseID)); err != nil {
			return fmt.Errorf("lock pair: %w", err)
		}
		return fn(&resultTx{tx: tx, runID: runID, caseID: caseID})
	})
}

type resultTx struct {
	tx     *sql.Tx
	runID  string
	caseID string
}

func (t *resultTx) Latest(ctx context.Context) (domain.ResultEntry, bool, error) {
	entry, err := scanResult(t.tx.QueryRowContext(ctx, latestResultQuery, t.runID, t.caseID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ResultEntry{}, false, nil
	}
	if err != nil {
		return domain.ResultEntry{}, false, fmt.Errorf("latest result: %w", err)
	}
	return entry, true, nil
}

func (t *resultTx) Append(ctx context.Context, entry domain.ResultEntry) (domain.ResultEntry, error) {
	if err := t.owns(entry); err != nil {
		return domain.ResultEntry{}, err
	}
	entry.CreatedAt = normalizeTime(entry.CreatedAt)
	err := t.tx.QueryRowContext(ctx, insertResultQuery,
		strings.TrimSpace(entry.ID),
		t.runID,
		t.caseID,
		strings.TrimSpace(entry.OperatorID),
		string(entry.Outcome),
		entry.Note,
		entry.IssueLinks,
		entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		return domain.ResultEntry{}, fmt.Errorf("insert result: %w", mapPgError(err))
	}
	return entry, nil
}

func (t *resultTx) Supersede(ctx context.Context, entry domain.ResultEntry) (domain.ResultEntry, error) {
	if err := t.owns(entry); err != nil {
		return domain.ResultEntry{}, err
	}
	entry.CreatedAt = normalizeTime(entry.CreatedAt)
	err := t.tx.QueryRowContext(ctx, supersedeResultQuery,
		t.runID,
		t.caseID,
		strings.TrimSpace(entry.ID),
		string(entry.Outcome),
		entry.Note,
		entry.IssueLinks,
		entry.CreatedAt,
	).Scan(&entry.Seq)
	if err != nil {
		return domain.ResultEntry{}, handleNotFound(err)
	}
	return entry, nil
}

func (t *resultTx) owns(entry domain.ResultEntry) error {
	if entry.RunID != t.runID || entry.CaseID != t.caseID {
		return fmt.Errorf("entry does not belong to the locked pair")
	}
	if strings.TrimSpace(entry.ID) == "" {
		return fmt.Errorf("result id is required")
	}
	return entry.Validate()
}

func (s *ResultStore) ListByRun(ctx context.Context, runID string) ([]domain.ResultEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store not initialized")
	}
	return s.list(ctx, listResultsByRunQuery, strings.TrimSpace(runID))
}

func (s *ResultStore) ListByCase(ctx context.Context, runID, caseID string) ([]domain.ResultEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("result store not initialized")
	}
	return s.list(ctx, listResultsByCaseQuery, strings.TrimSpace(runID), strings.TrimSpace(caseID))
}

func (s *ResultStore) list(ctx context.Context, query string, args ...any) ([]domain.ResultEntry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	out := make([]domain.ResultEntry, 0)
	for rows.Next() {
		entry, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

func (s *ResultStore) GetEntry(ctx context.Context, runID, entryID string) (domain.ResultEntry, error) {
	if s == nil || s.db == nil {
		return domain.ResultEntry{}, fmt.Errorf("result store not initialized")
	}
	entry, err := scanResult(s.db.QueryRowContext(ctx, selectResultQuery, strings.TrimSpace(runID), strings.TrimSpace(entryID)))
	if err != nil {
		return domain.ResultEntry{}, handleNotFound(err)
	}
	return entry, nil
}

func (s *ResultStore) DeleteEntry(ctx context.Context, runID, entryID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store not initialized")
	}
	res, err := s.db.ExecContext(ctx, deleteResultQuery, strings.TrimSpace(runID), strings.TrimSpace(entryID))
	if err != nil {
		return fmt.Errorf("delete result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete result rows: %w", err)
	}
	if n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func (s *ResultStore) DeleteByRun(ctx context.Context, runID string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("result store not initialized")
	}
	res, err := s.db.ExecContext(ctx, deleteResultsByRunQuery, strings.TrimSpace(runID))
	if err != nil {
		return 0, fmt.Errorf("delete results: %w", err)
	}
	return res.RowsAffected()
}

func scanResult(row rowScanner) (domain.ResultEntry, error) {
	var (
		entry   domain.ResultEntry
		outcome string
	)
	if err := row.Scan(&entry.ID, &entry.Seq, &entry.RunID, &entry.CaseID, &entry.OperatorID,
		&outcome, &entry.Note, &entry.IssueLinks, &entry.CreatedAt); err != nil {
		return domain.ResultEntry{}, err
	}
	entry.Outcome = domain.Outcome(outcome)
	entry.CreatedAt = entry.CreatedAt.UTC()
	return entry, nil
}
