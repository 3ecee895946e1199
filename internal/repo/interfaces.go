package repo

import (
	"context"
	"errors"
	"time"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

type RunFilter struct {
	ProjectID string
	Closed    *bool
	Limit     int
}

// RunRepository manages runs and their enrolled slots.
type RunRepository interface {
	// CreateRun writes the run and all of its slots atomically.
	CreateRun(ctx context.Context, run domain.Run, slots []domain.Slot) error
	GetRun(ctx context.Context, id string) (domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)
	// SetClosed flips the closed flag. changed is false when the run already
	// had the requested state.
	SetClosed(ctx context.Context, id string, closed bool, at time.Time) (run domain.Run, changed bool, err error)
}

// SlotRepository reads slots and applies snapshot refreshes.
type SlotRepository interface {
	ListSlots(ctx context.Context, runID string) ([]domain.Slot, error)
	// RefreshSnapshot overwrites one slot's snapshot in its own commit. It
	// reports false without writing when the new snapshot would capture an
	// older case version.
	RefreshSnapshot(ctx context.Context, slotID string, snapshot domain.Snapshot, at time.Time) (bool, error)
}

// ResultTx is the view of the result log available while a (run, case)
// pair is locked.
type ResultTx interface {
	Latest(ctx context.Context) (domain.ResultEntry, bool, error)
	Append(ctx context.Context, entry domain.ResultEntry) (domain.ResultEntry, error)
	// Supersede overwrites outcome, note, issue links and created_at of an
	// existing entry and assigns it a fresh seq.
	Supersede(ctx context.Context, entry domain.ResultEntry) (domain.ResultEntry, error)
}

// ResultRepository manages the append-only result log.
type ResultRepository interface {
	// WithPairLock runs fn with exclusive access to the (run, case) pair and
	// commits its writes atomically.
	WithPairLock(ctx context.Context, runID, caseID string, fn func(tx ResultTx) error) error
	ListByRun(ctx context.Context, runID string) ([]domain.ResultEntry, error)
	ListByCase(ctx context.Context, runID, caseID string) ([]domain.ResultEntry, error)
	GetEntry(ctx context.Context, runID, entryID string) (domain.ResultEntry, error)
	DeleteEntry(ctx context.Context, runID, entryID string) error
	DeleteByRun(ctx context.Context, runID string) (int64, error)
}

// TranslationRepository is the persistent tier of the translation cache.
// Upserts are last-write-wins.
type TranslationRepository interface {
	GetTranslations(ctx context.Context, keys []domain.TranslationKey) (map[domain.TranslationKey]domain.Translation, error)
	UpsertTranslations(ctx context.Context, entries []domain.Translation) error
	DeleteTranslations(ctx context.Context, keys []domain.TranslationKey) error
	DeleteCaseTranslations(ctx context.Context, caseID string) error
}

// CaseRepository reads canonical cases. Missing ids are omitted from the result.
type CaseRepository interface {
	GetCases(ctx context.Context, ids []string) (map[string]domain.Case, error)
}

// IssueLinkSource lists issue-tracker URLs linked to each case.
type IssueLinkSource interface {
	IssueLinks(ctx context.Context, caseIDs []string) (map[string][]string, error)
}

// MediaSource lists attached media file names for each case.
type MediaSource interface {
	MediaNames(ctx context.Context, caseIDs []string) (map[string][]string, error)
}
