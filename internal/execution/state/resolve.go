package state

import (
	"strings"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
)

// LatestOutcome returns the authoritative execution outcome of a (run, case)
// pair: the newest entry by (created_at, seq) that is not a pseudo-outcome.
// The result depends only on the entries, never on their order.
func LatestOutcome(entries []domain.ResultEntry, runID, caseID string) (domain.ResultEntry, bool) {
	return latest(entries, func(entry domain.ResultEntry) bool {
		return samePair(entry, runID, caseID) && entry.Outcome.IsExecutional()
	})
}

// LatestComment returns the newest entry of any kind carrying a note.
func LatestComment(entries []domain.ResultEntry, runID, caseID string) (domain.ResultEntry, bool) {
	return latest(entries, func(entry domain.ResultEntry) bool {
		return samePair(entry, runID, caseID) && strings.TrimSpace(entry.Note) != ""
	})
}

// MostRecent returns the newest entry of any kind for the pair.
func MostRecent(entries []domain.ResultEntry, runID, caseID string) (domain.ResultEntry, bool) {
	return latest(entries, func(entry domain.ResultEntry) bool {
		return samePair(entry, runID, caseID)
	})
}

func latest(entries []domain.ResultEntry, keep func(domain.ResultEntry) bool) (domain.ResultEntry, bool) {
	var best domain.ResultEntry
	found := false
	for _, entry := range entries {
		if !keep(entry) {
			continue
		}
		if !found || entry.NewerThan(best) {
			best = entry
			found = true
		}
	}
	return best, found
}

func samePair(entry domain.ResultEntry, runID, caseID string) bool {
	return entry.RunID == runID && entry.CaseID == caseID
}

func groupByCase(entries []domain.ResultEntry, runID string) map[string][]domain.ResultEntry {
	out := make(map[string][]domain.ResultEntry)
	for _, entry := range entries {
		if entry.RunID != runID {
			continue
		}
		caseID := strings.TrimSpace(entry.CaseID)
		if caseID == "" {
			continue
		}
		out[caseID] = append(out[caseID], entry)
	}
	return out
}
