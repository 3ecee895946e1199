package translation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/platform/metrics"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
)

const fillTimeout = 10 * time.Second

type Cache struct {
	store   repo.TranslationRepository
	l1      *lru.Cache[domain.TranslationKey, domain.Translation]
	fills   singleflight.Group
	metrics *metrics.Metrics
}

func NewCache(store repo.TranslationRepository, size int, m *metrics.Metrics) (*Cache, error) {
	if store == nil {
		return nil, errors.New("translation store is required")
	}
	l1, err := lru.New[domain.TranslationKey, domain.Translation](size)
	if err != nil {
		return nil, fmt.Errorf("translation lru: %w", err)
	}
	return &Cache{store: store, l1: l1, metrics: m}, nil
}

// GetMany returns cached entries for keys; absent keys are omitted. Identical
// concurrent loads from the store are collapsed into one query.
func (c *Cache) GetMany(ctx context.Context, keys []domain.TranslationKey) (map[domain.TranslationKey]domain.Translation, error) {
	out := make(map[domain.TranslationKey]domain.Translation, len(keys))
	misses := make([]domain.TranslationKey, 0, len(keys))
	seen := make(map[domain.TranslationKey]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		if entry, ok := c.l1.Get(key); ok {
			out[key] = entry
			continue
		}
		misses = append(misses, key)
	}
	c.metrics.CacheLookup("l1", "hit", len(out))
	c.metrics.CacheLookup("l1", "miss", len(misses))
	if len(misses) == 0 {
		return out, nil
	}

	sort.Slice(misses, func(i, j int) bool { return misses[i].String() < misses[j].String() })
	names := make([]string, len(misses))
	for i, key := range misses {
		names[i] = key.String()
	}
	// The fill is shared by every caller of the same keys and outlives the
	// cancellation of whichever caller started it.
	ch := c.fills.DoChan(strings.Join(names, ","), func() (any, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fillTimeout)
		defer cancel()
		loaded, err := c.store.GetTranslations(fillCtx, misses)
		if err != nil {
			return nil, err
		}
		for key, entry := range loaded {
			c.l1.Add(key, entry)
		}
		return loaded, nil
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load translations: %w", ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, fmt.Errorf("load translations: %w", res.Err)
	}
	loaded := res.Val.(map[domain.TranslationKey]domain.Translation)
	hits := 0
	for _, key := range misses {
		if entry, ok := loaded[key]; ok {
			out[key] = entry
			hits++
		}
	}
	c.metrics.CacheLookup("l2", "hit", hits)
	c.metrics.CacheLookup("l2", "miss", len(misses)-hits)
	return out, nil
}

// PutMany upserts entries into the store, then the in-process tier.
func (c *Cache) PutMany(ctx context.Context, entries []domain.Translation) error {
	if len(entries) == 0 {
		return nil
	}
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("translation %s: %w", entry.Key(), err)
		}
	}
	if err := c.store.UpsertTranslations(ctx, entries); err != nil {
		return fmt.Errorf("store translations: %w", err)
	}
	for _, entry := range entries {
		c.l1.Add(entry.Key(), entry)
	}
	return nil
}

// Evict drops entries from both tiers.
func (c *Cache) Evict(ctx context.Context, keys []domain.TranslationKey) error {
	if len(keys) == 0 {
		return nil
	}
	for _, key := range keys {
		c.l1.Remove(key)
	}
	if err := c.store.DeleteTranslations(ctx, keys); err != nil {
		return fmt.Errorf("delete translations: %w", err)
	}
	for _, key := range keys {
		c.l1.Remove(key)
	}
	c.metrics.CacheEvicted(len(keys))
	return nil
}

// InvalidateCase drops every cached translation of a case.
func (c *Cache) InvalidateCase(ctx context.Context, caseID string) error {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return errors.New("case id is required")
	}
	langs := domain.TranslationLanguages()
	for _, lang := range langs {
		c.l1.Remove(domain.TranslationKey{CaseID: caseID, Target: lang})
	}
	if err := c.store.DeleteCaseTranslations(ctx, caseID); err != nil {
		return fmt.Errorf("delete case translations: %w", err)
	}
	for _, lang := range langs {
		c.l1.Remove(domain.TranslationKey{CaseID: caseID, Target: lang})
	}
	c.metrics.CacheEvicted(len(langs))
	return nil
}
