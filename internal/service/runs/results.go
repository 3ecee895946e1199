package runs

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
)

// Disposition tells whether a submission added an entry or overwrote the
// operator's previous one.
type Disposition string

const (
	DispositionAppended   Disposition = "appended"
	DispositionSuperseded Disposition = "superseded"
)

type SubmitInput struct {
	RunID      string
	CaseID     string
	Outcome    string
	Note       string
	IssueLinks []string
}

// SubmitResult records an outcome for an enrolled case. Within the
// correction window, the same operator's latest entry for the pair is
// overwritten and moved to the top of the log.
func (s *Service) SubmitResult(ctx context.Context, in SubmitInput, info AuditInfo) (domain.ResultEntry, Disposition, error) {
	operator, err := requireActor(info)
	if err != nil {
		return domain.ResultEntry{}, "", err
	}
	runID := strings.TrimSpace(in.RunID)
	caseID := strings.TrimSpace(in.CaseID)
	if runID == "" || caseID == "" {
		return domain.ResultEntry{}, "", invalid("run id and case id are required")
	}
	outcome, err := domain.ParseOutcome(in.Outcome)
	if err != nil {
		return domain.ResultEntry{}, "", invalid(err.Error())
	}
	if err := s.ensureEnrolled(ctx, runID, caseID); err != nil {
		return domain.ResultEntry{}, "", err
	}

	var (
		saved       domain.ResultEntry
		disposition Disposition
	)
	err = s.results.WithPairLock(ctx, runID, caseID, func(tx repo.ResultTx) error {
		run, err := s.runs.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Closed {
			return ErrRunClosed
		}
		now := s.now()
		latest, found, err := tx.Latest(ctx)
		if err != nil {
			return fmt.Errorf("latest entry: %w", err)
		}
		if found && latest.OperatorID == operator && now.Sub(latest.CreatedAt) < s.policy.CorrectionWindow {
			latest.Outcome = outcome
			latest.Note = in.Note
			latest.IssueLinks = domain.JoinList(in.IssueLinks)
			latest.CreatedAt = now
			saved, err = tx.Supersede(ctx, latest)
			disposition = DispositionSuperseded
			return err
		}
		saved, err = tx.Append(ctx, domain.ResultEntry{
			ID:         s.newID(),
			RunID:      runID,
			CaseID:     caseID,
			OperatorID: operator,
			Outcome:    outcome,
			Note:       in.Note,
			IssueLinks: domain.JoinList(in.IssueLinks),
			CreatedAt:  now,
		})
		disposition = DispositionAppended
		return err
	})
	if err != nil {
		return domain.ResultEntry{}, "", err
	}

	s.metrics.ResultSubmitted(string(disposition))
	action := "result.recorded"
	if disposition == DispositionSuperseded {
		action = "result.superseded"
	}
	s.emit(ctx, info, action, "result", saved.ID, map[string]any{
		"run_id":  runID,
		"case_id": caseID,
		"outcome": string(saved.Outcome),
	})
	return saved, disposition, nil
}

func (s *Service) ensureEnrolled(ctx context.Context, runID, caseID string) error {
	if _, err := s.runs.GetRun(ctx, runID); err != nil {
		return err
	}
	slots, err := s.slots.ListSlots(ctx, runID)
	if err != nil {
		return fmt.Errorf("list slots: %w", err)
	}
	for _, slot := range slots {
		if slot.CaseID == caseID {
			return nil
		}
	}
	return fmt.Errorf("case %s in run %s: %w", caseID, runID, repo.ErrNotFound)
}

// DeleteResult removes one entry. Operators may only delete their own.
func (s *Service) DeleteResult(ctx context.Context, runID, entryID string, info AuditInfo) error {
	operator, err := requireActor(info)
	if err != nil {
		return err
	}
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Closed {
		return ErrRunClosed
	}
	entry, err := s.results.GetEntry(ctx, runID, entryID)
	if err != nil {
		return err
	}
	if entry.OperatorID != operator {
		return ErrForbidden
	}
	if err := s.results.DeleteEntry(ctx, runID, entryID); err != nil {
		return err
	}
	s.emit(ctx, info, "result.deleted", "result", entryID, map[string]any{
		"run_id":  runID,
		"case_id": entry.CaseID,
	})
	return nil
}

// ResetResults deletes the whole result log of an open run.
func (s *Service) ResetResults(ctx context.Context, runID string, info AuditInfo) (int64, error) {
	if _, err := requireActor(info); err != nil {
		return 0, err
	}
	run, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return 0, err
	}
	if run.Closed {
		return 0, ErrRunClosed
	}
	n, err := s.results.DeleteByRun(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("reset results: %w", err)
	}
	s.emit(ctx, info, "results.reset", "run", runID, map[string]any{"deleted": n})
	return n, nil
}

// History returns the full log of a pair, newest first.
func (s *Service) History(ctx context.Context, runID, caseID string) ([]domain.ResultEntry, error) {
	if _, err := s.runs.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	entries, err := s.results.ListByCase(ctx, runID, caseID)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].NewerThan(entries[j]) })
	return entries, nil
}
