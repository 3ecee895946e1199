package state

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func entry(id string, seq int64, caseID string, outcome domain.Outcome, at time.Time) domain.ResultEntry {
	return domain.ResultEntry{
		ID:         id,
		Seq:        seq,
		RunID:      "run-1",
		CaseID:     caseID,
		OperatorID: "op-1",
		Outcome:    outcome,
		CreatedAt:  at,
	}
}

func TestLatestOutcomeSkipsPseudoOutcomes(t *testing.T) {
	entries := []domain.ResultEntry{
		entry("e1", 1, "c1", domain.OutcomeFail, t0),
		entry("e2", 2, "c1", domain.OutcomeComment, t0.Add(time.Minute)),
		entry("e3", 3, "c1", domain.OutcomeArtifact, t0.Add(2*time.Minute)),
	}
	got, ok := LatestOutcome(entries, "run-1", "c1")
	require.True(t, ok)
	assert.Equal(t, "e1", got.ID)
	assert.Equal(t, domain.OutcomeFail, got.Outcome)
}

func TestLatestOutcomeOnlyPseudoIsPending(t *testing.T) {
	entries := []domain.ResultEntry{
		entry("e1", 1, "c1", domain.OutcomeComment, t0),
	}
	_, ok := LatestOutcome(entries, "run-1", "c1")
	assert.False(t, ok)
}

func TestLatestOutcomeFiltersPair(t *testing.T) {
	other := entry("e2", 2, "c1", domain.OutcomePass, t0.Add(time.Hour))
	other.RunID = "run-2"
	entries := []domain.ResultEntry{
		entry("e1", 1, "c1", domain.OutcomeFail, t0),
		other,
		entry("e3", 3, "c2", domain.OutcomePass, t0.Add(time.Hour)),
	}
	got, ok := LatestOutcome(entries, "run-1", "c1")
	require.True(t, ok)
	assert.Equal(t, "e1", got.ID)
}

func TestLatestOutcomeSeqBreaksTimestampTie(t *testing.T) {
	entries := []domain.ResultEntry{
		entry("e9", 9, "c1", domain.OutcomePass, t0),
		entry("e4", 4, "c1", domain.OutcomeFail, t0),
	}
	got, ok := LatestOutcome(entries, "run-1", "c1")
	require.True(t, ok)
	assert.Equal(t, "e9", got.ID)
}

func TestLatestComment(t *testing.T) {
	withNote := entry("e1", 1, "c1", domain.OutcomeFail, t0)
	withNote.Note = "button misaligned"
	comment := entry("e2", 2, "c1", domain.OutcomeComment, t0.Add(time.Minute))
	comment.Note = "retested on staging"
	blank := entry("e3", 3, "c1", domain.OutcomePass, t0.Add(2*time.Minute))

	got, ok := LatestComment([]domain.ResultEntry{withNote, comment, blank}, "run-1", "c1")
	require.True(t, ok)
	assert.Equal(t, "e2", got.ID)
}

func TestMostRecentIncludesPseudoOutcomes(t *testing.T) {
	entries := []domain.ResultEntry{
		entry("e1", 1, "c1", domain.OutcomePass, t0),
		entry("e2", 2, "c1", domain.OutcomeComment, t0.Add(time.Second)),
	}
	got, ok := MostRecent(entries, "run-1", "c1")
	require.True(t, ok)
	assert.Equal(t, "e2", got.ID)
}

func TestComputeStats(t *testing.T) {
	slots := make([]domain.Slot, 10)
	for i := range slots {
		slots[i] = domain.Slot{ID: fmt.Sprintf("s%d", i), RunID: "run-1", CaseID: fmt.Sprintf("c%d", i), Position: i}
	}
	var entries []domain.ResultEntry
	for i := 0; i < 4; i++ {
		entries = append(entries, entry(fmt.Sprintf("p%d", i), int64(i+1), fmt.Sprintf("c%d", i), domain.OutcomePass, t0))
	}
	for i := 4; i < 6; i++ {
		entries = append(entries, entry(fmt.Sprintf("f%d", i), int64(i+1), fmt.Sprintf("c%d", i), domain.OutcomeFail, t0))
	}
	entries = append(entries, entry("note", 99, "c7", domain.OutcomeComment, t0))

	stats := ComputeStats("run-1", slots, entries)
	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 6, stats.Executed)
	assert.Equal(t, 4, stats.Pending)
	assert.Equal(t, 4, stats.Pass)
	assert.Equal(t, 2, stats.Fail)
	assert.Equal(t, 66.7, stats.PassRate)
	assert.Equal(t, 60.0, stats.Progress)
}

func TestComputeStatsEmpty(t *testing.T) {
	stats := ComputeStats("run-1", nil, nil)
	assert.Equal(t, Stats{}, stats)

	slots := []domain.Slot{{ID: "s0", RunID: "run-1", CaseID: "c0"}}
	stats = ComputeStats("run-1", slots, nil)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 0.0, stats.PassRate)
	assert.Equal(t, 0.0, stats.Progress)
}

func TestComputeStatsUsesLatestOutcomePerSlot(t *testing.T) {
	slots := []domain.Slot{{ID: "s0", RunID: "run-1", CaseID: "c0"}}
	entries := []domain.ResultEntry{
		entry("e1", 1, "c0", domain.OutcomeFail, t0),
		entry("e2", 2, "c0", domain.OutcomeRetest, t0.Add(time.Minute)),
		entry("e3", 3, "c0", domain.OutcomeBlocked, t0.Add(2*time.Minute)),
	}
	stats := ComputeStats("run-1", slots, entries)
	assert.Equal(t, 1, stats.Executed)
	assert.Equal(t, 1, stats.Blocked)
	assert.Equal(t, 0, stats.Fail)
	assert.Equal(t, 0, stats.Retest)
	assert.Equal(t, 0.0, stats.PassRate)
	assert.Equal(t, 100.0, stats.Progress)
}

func TestPercentRoundsHalfTenthsToEven(t *testing.T) {
	tests := []struct {
		part, whole int
		want        float64
	}{
		{1, 80, 1.2},
		{1, 16, 6.2},
		{3, 16, 18.8},
		{2, 3, 66.7},
		{1, 3, 33.3},
		{1, 8, 12.5},
		{0, 5, 0},
		{3, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, percent(tt.part, tt.whole), "%d/%d", tt.part, tt.whole)
	}
}

func TestComputeStatsProgressOnLargeRun(t *testing.T) {
	slots := make([]domain.Slot, 80)
	for i := range slots {
		slots[i] = domain.Slot{ID: fmt.Sprintf("s%d", i), RunID: "run-1", CaseID: fmt.Sprintf("c%d", i), Position: i}
	}
	entries := []domain.ResultEntry{entry("p0", 1, "c0", domain.OutcomePass, time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))}

	stats := ComputeStats("run-1", slots, entries)
	assert.Equal(t, 1.2, stats.Progress)
	assert.Equal(t, 100.0, stats.PassRate)
}
