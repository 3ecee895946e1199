package runs

import (
	"context"
	"fmt"
	"strings"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/execution/state"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
)

type RunSummary struct {
	Run   domain.Run
	Stats state.Stats
}

func (s *Service) GetRun(ctx context.Context, runID string) (RunSummary, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return RunSummary{}, err
	}
	stats, err := s.statsFor(ctx, run.ID)
	if err != nil {
		return RunSummary{}, err
	}
	return RunSummary{Run: run, Stats: stats}, nil
}

// ListRuns returns the project's runs, newest first, each with its stats.
func (s *Service) ListRuns(ctx context.Context, filter repo.RunFilter) ([]RunSummary, error) {
	filter.ProjectID = strings.TrimSpace(filter.ProjectID)
	if filter.ProjectID == "" {
		return nil, invalid("project id is required")
	}
	if filter.Limit < 0 {
		return nil, invalid("limit must be >= 0")
	}
	runs, err := s.runs.ListRuns(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]RunSummary, 0, len(runs))
	for _, run := range runs {
		stats, err := s.statsFor(ctx, run.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, RunSummary{Run: run, Stats: stats})
	}
	return out, nil
}

// Stats recomputes run statistics from a point-in-time read of the log.
func (s *Service) Stats(ctx context.Context, runID string) (state.Stats, error) {
	if _, err := s.runs.GetRun(ctx, runID); err != nil {
		return state.Stats{}, err
	}
	return s.statsFor(ctx, runID)
}

func (s *Service) statsFor(ctx context.Context, runID string) (state.Stats, error) {
	slots, err := s.slots.ListSlots(ctx, runID)
	if err != nil {
		return state.Stats{}, fmt.Errorf("list slots: %w", err)
	}
	entries, err := s.results.ListByRun(ctx, runID)
	if err != nil {
		return state.Stats{}, fmt.Errorf("list results: %w", err)
	}
	return state.ComputeStats(runID, slots, entries), nil
}

// SlotView is a slot as an operator sees it. Content is live case data while
// the run is open in original language, and the frozen snapshot otherwise.
type SlotView struct {
	Slot          domain.Slot
	Content       domain.Snapshot
	Live          bool
	Latest        *domain.ResultEntry
	LatestComment *domain.ResultEntry
}

func (s *Service) Slots(ctx context.Context, runID string) ([]SlotView, error) {
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	slots, err := s.slots.ListSlots(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	entries, err := s.results.ListByRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	var live map[string]domain.Case
	if !run.SnapshotAuthoritative() && len(slots) > 0 {
		ids := make([]string, 0, len(slots))
		for _, slot := range slots {
			ids = append(ids, slot.CaseID)
		}
		if live, err = s.cases.GetCases(ctx, ids); err != nil {
			return nil, fmt.Errorf("load cases: %w", err)
		}
	}

	byCase := make(map[string][]domain.ResultEntry, len(slots))
	for _, entry := range entries {
		byCase[entry.CaseID] = append(byCase[entry.CaseID], entry)
	}

	out := make([]SlotView, 0, len(slots))
	for _, slot := range slots {
		view := SlotView{Slot: slot, Content: slot.Snapshot}
		if c, ok := live[slot.CaseID]; ok {
			view.Live = true
			view.Content.CaseVersion = c.Version
			view.Content.Title = c.Title
			view.Content.Steps = c.Steps
			view.Content.ExpectedResult = c.ExpectedResult
			view.Content.Priority = c.Priority
		}
		pair := byCase[slot.CaseID]
		if entry, ok := state.LatestOutcome(pair, runID, slot.CaseID); ok {
			view.Latest = &entry
		}
		if entry, ok := state.LatestComment(pair, runID, slot.CaseID); ok {
			view.LatestComment = &entry
		}
		out = append(out, view)
	}
	return out, nil
}
