package state

import (
	"strconv"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
)

// Stats aggregates the resolved outcome of every slot of a run.
type Stats struct {
	Total    int     `json:"total"`
	Executed int     `json:"executed"`
	Pending  int     `json:"pending"`
	Pass     int     `json:"pass"`
	Fail     int     `json:"fail"`
	Blocked  int     `json:"blocked"`
	Retest   int     `json:"retest"`
	NA       int     `json:"na"`
	PassRate float64 `json:"pass_rate"`
	Progress float64 `json:"progress"`
}

// ComputeStats folds a point-in-time read of slots and the result log into
// counts and rates. Rates are percentages rounded to one decimal place and are
// zero when their denominator is zero.
func ComputeStats(runID string, slots []domain.Slot, entries []domain.ResultEntry) Stats {
	byCase := groupByCase(entries, runID)
	stats := Stats{Total: len(slots)}
	for _, slot := range slots {
		entry, ok := LatestOutcome(byCase[slot.CaseID], runID, slot.CaseID)
		if !ok {
			continue
		}
		stats.Executed++
		switch entry.Outcome {
		case domain.OutcomePass:
			stats.Pass++
		case domain.OutcomeFail:
			stats.Fail++
		case domain.OutcomeBlocked:
			stats.Blocked++
		case domain.OutcomeRetest:
			stats.Retest++
		case domain.OutcomeNA:
			stats.NA++
		}
	}
	stats.Pending = stats.Total - stats.Executed
	stats.PassRate = percent(stats.Pass, stats.Executed)
	stats.Progress = percent(stats.Executed, stats.Total)
	return stats
}

func percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	// Correctly rounded to one decimal, ties to even, like Python's round(x, 1).
	v, _ := strconv.ParseFloat(strconv.FormatFloat(float64(part)/float64(whole)*100, 'f', 1, 64), 64)
	return v
}
