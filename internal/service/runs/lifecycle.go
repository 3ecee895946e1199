package runs

import (
	"context"
	"fmt"
	"strings"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/snapshot"
)

type CreateRunInput struct {
	ProjectID   string
	Name        string
	Description string
	Language    string
	CaseIDs     []string
}

type CreateRunResult struct {
	Run    domain.Run
	Slots  []domain.Slot
	Report snapshot.Report
}

// CreateRun enrolls the existing cases among CaseIDs, in input order, into a
// new run. Duplicate ids are enrolled once and unknown ids are skipped, so
// slot positions stay contiguous.
func (s *Service) CreateRun(ctx context.Context, in CreateRunInput, info AuditInfo) (CreateRunResult, error) {
	actor, err := requireActor(info)
	if err != nil {
		return CreateRunResult{}, err
	}
	projectID := strings.TrimSpace(in.ProjectID)
	if projectID == "" {
		return CreateRunResult{}, invalid("project id is required")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return CreateRunResult{}, invalid("run name is required")
	}
	lang, err := domain.ParseLanguage(in.Language)
	if err != nil {
		return CreateRunResult{}, invalid(err.Error())
	}

	ids := uniqueIDs(in.CaseIDs)
	snaps, report, err := s.snapshots.Build(ctx, ids, lang, false)
	if err != nil {
		return CreateRunResult{}, fmt.Errorf("build snapshots: %w", err)
	}

	now := s.now()
	run := domain.Run{
		ID:          s.newID(),
		ProjectID:   projectID,
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Language:    lang,
		CreatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	slots := make([]domain.Slot, 0, len(ids))
	for _, id := range ids {
		snap, ok := snaps[id]
		if !ok {
			continue
		}
		slots = append(slots, domain.Slot{
			ID:        s.newID(),
			RunID:     run.ID,
			CaseID:    id,
			Position:  len(slots),
			Snapshot:  snap,
			CreatedAt: now,
		})
	}
	if err := s.runs.CreateRun(ctx, run, slots); err != nil {
		return CreateRunResult{}, fmt.Errorf("create run: %w", err)
	}

	s.emit(ctx, info, "run.created", "run", run.ID, map[string]any{
		"project_id": projectID,
		"name":       name,
		"language":   string(lang),
		"slots":      len(slots),
		"missing":    report.Missing,
		"warnings":   len(report.Warnings),
	})
	return CreateRunResult{Run: run, Slots: slots, Report: report}, nil
}

type CloseResult struct {
	Run       domain.Run
	Changed   bool
	Refreshed int
	Report    snapshot.Report
}

// CloseRun marks the run closed and refreshes each slot snapshot from the
// current case content. Per-slot failures are reported; the close itself
// stands.
func (s *Service) CloseRun(ctx context.Context, runID string, info AuditInfo) (CloseResult, error) {
	if _, err := requireActor(info); err != nil {
		return CloseResult{}, err
	}
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return CloseResult{}, err
	}
	if run.Closed {
		return CloseResult{Run: run}, nil
	}
	slots, err := s.slots.ListSlots(ctx, runID)
	if err != nil {
		return CloseResult{}, fmt.Errorf("list slots: %w", err)
	}
	if len(slots) == 0 {
		return CloseResult{Run: run}, nil
	}

	now := s.now()
	run, changed, err := s.runs.SetClosed(ctx, runID, true, now)
	if err != nil {
		return CloseResult{}, fmt.Errorf("close run: %w", err)
	}
	if !changed {
		return CloseResult{Run: run}, nil
	}

	result := CloseResult{Run: run, Changed: true}
	if s.policy.RefreshOnClose {
		result.Refreshed, result.Report = s.refreshSlots(ctx, run, slots)
	}

	s.emit(ctx, info, "run.closed", "run", run.ID, map[string]any{
		"project_id": run.ProjectID,
		"slots":      len(slots),
		"refreshed":  result.Refreshed,
		"warnings":   len(result.Report.Warnings),
	})
	return result, nil
}

func (s *Service) refreshSlots(ctx context.Context, run domain.Run, slots []domain.Slot) (int, snapshot.Report) {
	ids := make([]string, 0, len(slots))
	for _, slot := range slots {
		ids = append(ids, slot.CaseID)
	}
	snaps, report, err := s.snapshots.Build(ctx, ids, run.Language, false)
	if err != nil {
		s.logger.Warn("snapshot refresh skipped", "run_id", run.ID, "error", err)
		report.Warnings = append(report.Warnings, snapshot.Warning{Reason: "refresh_failed", Detail: err.Error()})
		s.metrics.SlotRefreshed("failed")
		return 0, report
	}

	// A translated slot whose translation failed keeps its previous snapshot
	// rather than the original-language fallback.
	untranslated := make(map[string]struct{})
	if !run.Language.IsOriginal() {
		for _, w := range report.Warnings {
			if w.CaseID != "" && strings.HasPrefix(w.Reason, "translation_") {
				untranslated[w.CaseID] = struct{}{}
			}
		}
	}

	refreshed := 0
	at := s.now()
	for _, slot := range slots {
		snap, ok := snaps[slot.CaseID]
		if !ok {
			s.metrics.SlotRefreshed("case_missing")
			continue
		}
		if _, skip := untranslated[slot.CaseID]; skip {
			s.logger.Warn("slot refresh kept previous snapshot", "run_id", run.ID, "case_id", slot.CaseID, "language", string(run.Language))
			s.metrics.SlotRefreshed("failed")
			continue
		}
		ok, err := s.slots.RefreshSnapshot(ctx, slot.ID, snap, at)
		switch {
		case err != nil:
			s.logger.Warn("slot refresh failed", "run_id", run.ID, "case_id", slot.CaseID, "error", err)
			report.Warnings = append(report.Warnings, snapshot.Warning{CaseID: slot.CaseID, Reason: "refresh_failed", Detail: err.Error()})
			s.metrics.SlotRefreshed("failed")
		case !ok:
			s.metrics.SlotRefreshed("stale")
		default:
			refreshed++
			s.metrics.SlotRefreshed("refreshed")
		}
	}
	return refreshed, report
}

// ReopenRun marks a closed run open again. Snapshots are left untouched.
func (s *Service) ReopenRun(ctx context.Context, runID string, info AuditInfo) (domain.Run, bool, error) {
	if _, err := requireActor(info); err != nil {
		return domain.Run{}, false, err
	}
	if _, err := s.runs.GetRun(ctx, runID); err != nil {
		return domain.Run{}, false, err
	}
	run, changed, err := s.runs.SetClosed(ctx, runID, false, s.now())
	if err != nil {
		return domain.Run{}, false, fmt.Errorf("reopen run: %w", err)
	}
	if changed {
		s.emit(ctx, info, "run.reopened", "run", run.ID, map[string]any{"project_id": run.ProjectID})
	}
	return run, changed, nil
}

func uniqueIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
