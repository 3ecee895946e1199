package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seedRun(t *testing.T, s *Store) domain.Run {
	t.Helper()
	run := domain.Run{ID: "run-1", ProjectID: "p1", Name: "smoke", Language: domain.LanguageOriginal, CreatedBy: "u1", CreatedAt: t0, UpdatedAt: t0}
	slots := []domain.Slot{
		{ID: "s2", RunID: "run-1", CaseID: "c2", Position: 1, Snapshot: domain.Snapshot{CaseVersion: 1}},
		{ID: "s1", RunID: "run-1", CaseID: "c1", Position: 0, Snapshot: domain.Snapshot{CaseVersion: 2}},
	}
	require.NoError(t, s.CreateRun(context.Background(), run, slots))
	return run
}

func TestCreateRunOrdersSlotsAndRejectsGaps(t *testing.T) {
	s := New()
	seedRun(t, s)

	slots, err := s.ListSlots(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, "c1", slots[0].CaseID)
	assert.Equal(t, "c2", slots[1].CaseID)

	bad := domain.Run{ID: "run-2", ProjectID: "p1", Name: "x", Language: domain.LanguageOriginal, CreatedBy: "u1"}
	err = s.CreateRun(context.Background(), bad, []domain.Slot{{ID: "s", RunID: "run-2", CaseID: "c1", Position: 1}})
	assert.Error(t, err)
	_, err = s.GetRun(context.Background(), "run-2")
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestSetClosedReportsChange(t *testing.T) {
	s := New()
	seedRun(t, s)
	ctx := context.Background()

	run, changed, err := s.SetClosed(ctx, "run-1", true, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, run.Closed)
	require.NotNil(t, run.ClosedAt)

	_, changed, err = s.SetClosed(ctx, "run-1", true, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	run, changed, err = s.SetClosed(ctx, "run-1", false, t0.Add(3*time.Hour))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Nil(t, run.ClosedAt)
}

func TestRefreshSnapshotNeverMovesBackward(t *testing.T) {
	s := New()
	seedRun(t, s)
	ctx := context.Background()

	ok, err := s.RefreshSnapshot(ctx, "s1", domain.Snapshot{CaseVersion: 1, Title: "old"}, t0)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.RefreshSnapshot(ctx, "s1", domain.Snapshot{CaseVersion: 3, Title: "new"}, t0)
	require.NoError(t, err)
	assert.True(t, ok)

	slots, _ := s.ListSlots(ctx, "run-1")
	assert.Equal(t, "new", slots[0].Snapshot.Title)
	assert.NotNil(t, slots[0].RefreshedAt)

	_, err = s.RefreshSnapshot(ctx, "missing", domain.Snapshot{}, t0)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestWithPairLockDiscardsWritesOnError(t *testing.T) {
	s := New()
	seedRun(t, s)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.WithPairLock(ctx, "run-1", "c1", func(tx repo.ResultTx) error {
		_, err := tx.Append(ctx, domain.ResultEntry{ID: "r1", RunID: "run-1", CaseID: "c1", OperatorID: "u1", Outcome: domain.OutcomePass, CreatedAt: t0})
		require.NoError(t, err)
		latest, ok, err := tx.Latest(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "r1", latest.ID)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	entries, _ := s.ListByRun(ctx, "run-1")
	assert.Empty(t, entries)
}

func TestSupersedeAssignsFreshSeq(t *testing.T) {
	s := New()
	seedRun(t, s)
	ctx := context.Background()

	var first domain.ResultEntry
	require.NoError(t, s.WithPairLock(ctx, "run-1", "c1", func(tx repo.ResultTx) error {
		var err error
		first, err = tx.Append(ctx, domain.ResultEntry{ID: "r1", RunID: "run-1", CaseID: "c1", OperatorID: "u1", Outcome: domain.OutcomeFail, CreatedAt: t0})
		return err
	}))
	require.NoError(t, s.WithPairLock(ctx, "run-1", "c1", func(tx repo.ResultTx) error {
		entry := first
		entry.Outcome = domain.OutcomePass
		entry.CreatedAt = t0.Add(time.Minute)
		updated, err := tx.Supersede(ctx, entry)
		assert.Greater(t, updated.Seq, first.Seq)
		return err
	}))

	entries, _ := s.ListByCase(ctx, "run-1", "c1")
	require.Len(t, entries, 1)
	assert.Equal(t, domain.OutcomePass, entries[0].Outcome)

	err := s.WithPairLock(ctx, "run-1", "c1", func(tx repo.ResultTx) error {
		_, err := tx.Supersede(ctx, domain.ResultEntry{ID: "nope", RunID: "run-1", CaseID: "c1", OperatorID: "u1", Outcome: domain.OutcomePass})
		return err
	})
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestWithPairLockSerializesConcurrentAppends(t *testing.T) {
	s := New()
	seedRun(t, s)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.WithPairLock(ctx, "run-1", "c1", func(tx repo.ResultTx) error {
				_, err := tx.Append(ctx, domain.ResultEntry{
					ID: "r" + string(rune('a'+i)), RunID: "run-1", CaseID: "c1", OperatorID: "u1",
					Outcome: domain.OutcomePass, CreatedAt: t0,
				})
				return err
			})
		}(i)
	}
	wg.Wait()

	entries, _ := s.ListByRun(ctx, "run-1")
	assert.Len(t, entries, 20)
	seqs := map[int64]bool{}
	for _, e := range entries {
		seqs[e.Seq] = true
	}
	assert.Len(t, seqs, 20)
}

func TestDeleteEntryAndReset(t *testing.T) {
	s := New()
	seedRun(t, s)
	ctx := context.Background()
	for _, id := range []string{"r1", "r2"} {
		id := id
		require.NoError(t, s.WithPairLock(ctx, "run-1", "c1", func(tx repo.ResultTx) error {
			_, err := tx.Append(ctx, domain.ResultEntry{ID: id, RunID: "run-1", CaseID: "c1", OperatorID: "u1", Outcome: domain.OutcomePass, CreatedAt: t0})
			return err
		}))
	}

	require.NoError(t, s.DeleteEntry(ctx, "run-1", "r1"))
	assert.ErrorIs(t, s.DeleteEntry(ctx, "run-1", "r1"), repo.ErrNotFound)
	_, err := s.GetEntry(ctx, "run-1", "r2")
	require.NoError(t, err)

	n, err := s.DeleteByRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestUpdateCaseBumpsVersionOnlyOnChange(t *testing.T) {
	s := New()
	require.NoError(t, s.PutCase(domain.Case{ID: "c1", ProjectID: "p1", Title: "Login"}))

	c, err := s.UpdateCase("c1", domain.CaseContent{Title: "Login"}, t0)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Version)

	c, err = s.UpdateCase("c1", domain.CaseContent{Title: "Login v2"}, t0)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Version)

	_, err = s.UpdateCase("missing", domain.CaseContent{}, t0)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestTranslationsLastWriteWins(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := domain.TranslationKey{CaseID: "c1", Target: domain.LanguageEnglish}
	entry := domain.Translation{CaseID: "c1", Source: domain.LanguageKorean, Target: domain.LanguageEnglish, Content: domain.CaseContent{Title: "one"}, SourceFingerprint: "f1", CreatedAt: t0}
	require.NoError(t, s.UpsertTranslations(ctx, []domain.Translation{entry}))
	entry.Content.Title = "two"
	entry.CreatedAt = t0.Add(time.Hour)
	require.NoError(t, s.UpsertTranslations(ctx, []domain.Translation{entry}))

	got, err := s.GetTranslations(ctx, []domain.TranslationKey{key})
	require.NoError(t, err)
	assert.Equal(t, "two", got[key].Content.Title)
	assert.Equal(t, t0, got[key].CreatedAt)

	require.NoError(t, s.DeleteCaseTranslations(ctx, "c1"))
	got, _ = s.GetTranslations(ctx, []domain.TranslationKey{key})
	assert.Empty(t, got)
}
