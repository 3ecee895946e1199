package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
)

const listSlotsQuery = `SELECT slot_id, run_id, case_id, position,
	case_version_snapshot, title_snapshot, steps_snapshot, expected_result_snapshot,
	priority_snapshot, issue_links_snapshot, media_names_snapshot, language_snapshot,
	translated, created_at, refreshed_at
FROM run_slots
WHERE run_id = $1
ORDER BY position ASC`

// refreshSnapshotQuery refuses to move a slot to an older case version.
const refreshSnapshotQuery = `UPDATE run_slots
SET case_version_snapshot = $2,
	title_snapshot = $3,
	steps_snapshot = $4,
	expected_result_snapshot = $5,
	priority_snapshot = $6,
	issue_links_snapshot = $7,
	media_names_snapshot = $8,
	language_snapshot = $9,
	translated = $10,
	refreshed_at = $11
WHERE slot_id = $1 AND case_version_snapshot <= $2`

const slotExistsQuery = `SELECT 1 FROM run_slots WHERE slot_id = $1`

type SlotStore struct {
	db DB
}

var _ repo.SlotRepository = (*SlotStore)(nil)

func NewSlotStore(db DB) *SlotStore {
	if db == nil {
		return nil
	}
	return &SlotStore{db: db}
}

func (s *SlotStore) ListSlots(ctx context.Context, runID string) ([]domain.Slot, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("slot store not initialized")
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	rows, err := s.db.QueryContext(ctx, listSlotsQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	slots := make([]domain.Slot, 0)
	for rows.Next() {
		var (
			slot        domain.Slot
			priority    string
			language    string
			refreshedAt sql.NullTime
		)
		snap := &slot.Snapshot
		if err := rows.Scan(&slot.ID, &slot.RunID, &slot.CaseID, &slot.Position,
			&snap.CaseVersion, &snap.Title, &snap.Steps, &snap.ExpectedResult,
			&priority, &snap.IssueLinks, &snap.MediaNames, &language,
			&snap.Translated, &slot.CreatedAt, &refreshedAt); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		snap.Priority = domain.Priority(priority)
		snap.Language = domain.Language(language)
		slot.CreatedAt = slot.CreatedAt.UTC()
		slot.RefreshedAt = timePtr(refreshedAt)
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate slots: %w", err)
	}
	return slots, nil
}

func (s *SlotStore) RefreshSnapshot(ctx context.Context, slotID string, snap domain.Snapshot, at time.Time) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("slot store not initialized")
	}
	slotID = strings.TrimSpace(slotID)
	if slotID == "" {
		return false, fmt.Errorf("slot id is required")
	}
	res, err := s.db.ExecContext(ctx, refreshSnapshotQuery,
		slotID,
		snap.CaseVersion,
		snap.Title,
		snap.Steps,
		snap.ExpectedResult,
		string(snap.Priority),
		snap.IssueLinks,
		snap.MediaNames,
		string(snap.Language),
		snap.Translated,
		normalizeTime(at),
	)
	if err != nil {
		return false, fmt.Errorf("refresh snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("refresh snapshot rows: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	var one int
	if err := s.db.QueryRowContext(ctx, slotExistsQuery, slotID).Scan(&one); err != nil {
		return false, handleNotFound(err)
	}
	return false, nil
}
