// Package memstore is an in-process implementation of every repository the
// run engine depends on. It backs RUNENGINE_STORE=memory and the tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
)

type Store struct {
	mu           sync.RWMutex
	cases        map[string]domain.Case
	issueLinks   map[string][]string
	mediaNames   map[string][]string
	runs         map[string]domain.Run
	slots        map[string][]domain.Slot
	results      map[string][]domain.ResultEntry
	translations map[domain.TranslationKey]domain.Translation
	seq          int64

	lockMu    sync.Mutex
	pairLocks map[string]*sync.Mutex
}

var (
	_ repo.RunRepository         = (*Store)(nil)
	_ repo.SlotRepository        = (*Store)(nil)
	_ repo.ResultRepository      = (*Store)(nil)
	_ repo.TranslationRepository = (*Store)(nil)
	_ repo.CaseRepository        = (*Store)(nil)
	_ repo.IssueLinkSource       = (*Store)(nil)
	_ repo.MediaSource           = (*Store)(nil)
)

func New() *Store {
	return &Store{
		cases:        make(map[string]domain.Case),
		issueLinks:   make(map[string][]string),
		mediaNames:   make(map[string][]string),
		runs:         make(map[string]domain.Run),
		slots:        make(map[string][]domain.Slot),
		results:      make(map[string][]domain.ResultEntry),
		translations: make(map[domain.TranslationKey]domain.Translation),
		pairLocks:    make(map[string]*sync.Mutex),
	}
}

// PutCase inserts or replaces a case. A zero version becomes 1.
func (s *Store) PutCase(c domain.Case) error {
	if c.Version == 0 {
		c.Version = 1
	}
	if c.Priority == "" {
		c.Priority = domain.PriorityMedium
	}
	if c.Status == "" {
		c.Status = domain.CaseStatusActive
	}
	if err := c.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[c.ID] = c
	return nil
}

// UpdateCase edits a case's content and bumps its version when the content changed.
func (s *Store) UpdateCase(id string, content domain.CaseContent, at time.Time) (domain.Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return domain.Case{}, repo.ErrNotFound
	}
	if c.Content() == content {
		return c, nil
	}
	c.Title = content.Title
	c.Steps = content.Steps
	c.ExpectedResult = content.ExpectedResult
	c.Version++
	c.UpdatedAt = at.UTC()
	s.cases[id] = c
	return c, nil
}

func (s *Store) SetIssueLinks(caseID string, links ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issueLinks[caseID] = append([]string(nil), links...)
}

func (s *Store) SetMediaNames(caseID string, names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mediaNames[caseID] = append([]string(nil), names...)
}

func (s *Store) GetCases(ctx context.Context, ids []string) (map[string]domain.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.Case, len(ids))
	for _, id := range ids {
		if c, ok := s.cases[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (s *Store) IssueLinks(ctx context.Context, caseIDs []string) (map[string][]string, error) {
	return s.listsFor(s.issueLinks, caseIDs), nil
}

func (s *Store) MediaNames(ctx context.Context, caseIDs []string) (map[string][]string, error) {
	return s.listsFor(s.mediaNames, caseIDs), nil
}

func (s *Store) listsFor(src map[string][]string, caseIDs []string) map[string][]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]string, len(caseIDs))
	for _, id := range caseIDs {
		if items, ok := src[id]; ok && len(items) > 0 {
			out[id] = append([]string(nil), items...)
		}
	}
	return out
}

func (s *Store) CreateRun(ctx context.Context, run domain.Run, slots []domain.Slot) error {
	if err := run.Validate(); err != nil {
		return err
	}
	if err := domain.ValidatePositions(slots); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	ordered := append([]domain.Slot(nil), slots...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Position < ordered[j].Position })
	for _, slot := range ordered {
		if err := slot.Validate(); err != nil {
			return err
		}
		if slot.RunID != run.ID {
			return fmt.Errorf("slot %s belongs to run %s", slot.ID, slot.RunID)
		}
	}
	s.runs[run.ID] = run
	s.slots[run.ID] = ordered
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (s *Store) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Run, 0)
	for _, run := range s.runs {
		if filter.ProjectID != "" && run.ProjectID != filter.ProjectID {
			continue
		}
		if filter.Closed != nil && run.Closed != *filter.Closed {
			continue
		}
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Store) SetClosed(ctx context.Context, id string, closed bool, at time.Time) (domain.Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, false, repo.ErrNotFound
	}
	if run.Closed == closed {
		return run, false, nil
	}
	at = at.UTC()
	run.Closed = closed
	run.UpdatedAt = at
	if closed {
		run.ClosedAt = &at
	} else {
		run.ClosedAt = nil
	}
	s.runs[id] = run
	return run, true, nil
}

func (s *Store) ListSlots(ctx context.Context, runID string) ([]domain.Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Slot(nil), s.slots[runID]...), nil
}

func (s *Store) RefreshSnapshot(ctx context.Context, slotID string, snapshot domain.Snapshot, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for runID, slots := range s.slots {
		for i, slot := range slots {
			if slot.ID != slotID {
				continue
			}
			if domain.EnsureSnapshotForward(slot.Snapshot, snapshot) != nil {
				return false, nil
			}
			refreshed := at.UTC()
			slot.Snapshot = snapshot
			slot.RefreshedAt = &refreshed
			s.slots[runID][i] = slot
			return true, nil
		}
	}
	return false, repo.ErrNotFound
}

func (s *Store) pairLock(runID, caseID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	key := runID + "\x00" + caseID
	m, ok := s.pairLocks[key]
	if !ok {
		m = &sync.Mutex{}
		s.pairLocks[key] = m
	}
	return m
}

func (s *Store) WithPairLock(ctx context.Context, runID, caseID string, fn func(tx repo.ResultTx) error) error {
	if strings.TrimSpace(runID) == "" || strings.TrimSpace(caseID) == "" {
		return fmt.Errorf("run id and case id are required")
	}
	m := s.pairLock(runID, caseID)
	m.Lock()
	defer m.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &resultTx{store: s, runID: runID, caseID: caseID}
	if err := fn(tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range tx.pending {
		s.applyLocked(entry)
	}
	return nil
}

func (s *Store) applyLocked(entry domain.ResultEntry) {
	entries := s.results[entry.RunID]
	for i := range entries {
		if entries[i].ID == entry.ID {
			entries[i] = entry
			return
		}
	}
	s.results[entry.RunID] = append(entries, entry)
}

func (s *Store) nextSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

type resultTx struct {
	store   *Store
	runID   string
	caseID  string
	pending []domain.ResultEntry
}

func (tx *resultTx) entries() []domain.ResultEntry {
	tx.store.mu.RLock()
	committed := append([]domain.ResultEntry(nil), tx.store.results[tx.runID]...)
	tx.store.mu.RUnlock()
	byID := make(map[string]int, len(committed))
	for i, entry := range committed {
		byID[entry.ID] = i
	}
	for _, entry := range tx.pending {
		if i, ok := byID[entry.ID]; ok {
			committed[i] = entry
			continue
		}
		byID[entry.ID] = len(committed)
		committed = append(committed, entry)
	}
	return committed
}

func (tx *resultTx) Latest(ctx context.Context) (domain.ResultEntry, bool, error) {
	var best domain.ResultEntry
	found := false
	for _, entry := range tx.entries() {
		if entry.CaseID != tx.caseID {
			continue
		}
		if !found || entry.NewerThan(best) {
			best, found = entry, true
		}
	}
	return best, found, nil
}

func (tx *resultTx) Append(ctx context.Context, entry domain.ResultEntry) (domain.ResultEntry, error) {
	if entry.RunID != tx.runID || entry.CaseID != tx.caseID {
		return domain.ResultEntry{}, fmt.Errorf("entry does not belong to the locked pair")
	}
	if err := entry.Validate(); err != nil {
		return domain.ResultEntry{}, err
	}
	entry.Seq = tx.store.nextSeq()
	entry.CreatedAt = entry.CreatedAt.UTC()
	tx.pending = append(tx.pending, entry)
	return entry, nil
}

func (tx *resultTx) Supersede(ctx context.Context, entry domain.ResultEntry) (domain.ResultEntry, error) {
	if entry.RunID != tx.runID || entry.CaseID != tx.caseID {
		return domain.ResultEntry{}, fmt.Errorf("entry does not belong to the locked pair")
	}
	if err := entry.Validate(); err != nil {
		return domain.ResultEntry{}, err
	}
	found := false
	for _, existing := range tx.entries() {
		if existing.ID == entry.ID {
			found = true
			break
		}
	}
	if !found {
		return domain.ResultEntry{}, repo.ErrNotFound
	}
	entry.Seq = tx.store.nextSeq()
	entry.CreatedAt = entry.CreatedAt.UTC()
	tx.pending = append(tx.pending, entry)
	return entry, nil
}

func (s *Store) ListByRun(ctx context.Context, runID string) ([]domain.ResultEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ResultEntry(nil), s.results[runID]...), nil
}

func (s *Store) ListByCase(ctx context.Context, runID, caseID string) ([]domain.ResultEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ResultEntry, 0)
	for _, entry := range s.results[runID] {
		if entry.CaseID == caseID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (s *Store) GetEntry(ctx context.Context, runID, entryID string) (domain.ResultEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.results[runID] {
		if entry.ID == entryID {
			return entry, nil
		}
	}
	return domain.ResultEntry{}, repo.ErrNotFound
}

func (s *Store) DeleteEntry(ctx context.Context, runID, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.results[runID]
	for i, entry := range entries {
		if entry.ID == entryID {
			s.results[runID] = append(entries[:i:i], entries[i+1:]...)
			return nil
		}
	}
	return repo.ErrNotFound
}

func (s *Store) DeleteByRun(ctx context.Context, runID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.results[runID]))
	delete(s.results, runID)
	return n, nil
}

func (s *Store) GetTranslations(ctx context.Context, keys []domain.TranslationKey) (map[domain.TranslationKey]domain.Translation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[domain.TranslationKey]domain.Translation, len(keys))
	for _, key := range keys {
		if entry, ok := s.translations[key]; ok {
			out[key] = entry
		}
	}
	return out, nil
}

func (s *Store) UpsertTranslations(ctx context.Context, entries []domain.Translation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return err
		}
		if existing, ok := s.translations[entry.Key()]; ok && !existing.CreatedAt.IsZero() {
			entry.CreatedAt = existing.CreatedAt
		}
		s.translations[entry.Key()] = entry
	}
	return nil
}

func (s *Store) DeleteTranslations(ctx context.Context, keys []domain.TranslationKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.translations, key)
	}
	return nil
}

func (s *Store) DeleteCaseTranslations(ctx context.Context, caseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.translations {
		if key.CaseID == caseID {
			delete(s.translations, key)
		}
	}
	return nil
}
