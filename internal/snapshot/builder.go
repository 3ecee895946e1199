// Package snapshot builds the frozen case content stored in run slots,
// translating it through the cache and provider when the run has a target
// language.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/platform/metrics"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
	"github.com/quickrail-labs/quickrail-go/internal/translation"
)

// TranslationCache is the subset of translation.Cache the builder uses.
type TranslationCache interface {
	GetMany(ctx context.Context, keys []domain.TranslationKey) (map[domain.TranslationKey]domain.Translation, error)
	PutMany(ctx context.Context, entries []domain.Translation) error
	Evict(ctx context.Context, keys []domain.TranslationKey) error
}

const (
	ReasonIssueLinksUnavailable = "issue_links_unavailable"
	ReasonMediaUnavailable      = "media_unavailable"
	ReasonTranslationTimeout    = "translation_timeout"
	ReasonTranslationFailed     = "translation_failed"
	ReasonTranslationMissing    = "translation_missing"
)

// Warning is a non-fatal degradation of one snapshot. CaseID is empty when
// the warning applies to the whole build.
type Warning struct {
	CaseID string `json:"case_id,omitempty"`
	Reason string `json:"reason"`
	Detail string `json:"detail,omitempty"`
}

type Report struct {
	// Missing lists requested case ids the case store does not know.
	Missing  []string  `json:"missing,omitempty"`
	Warnings []Warning `json:"warnings,omitempty"`
}

type Deps struct {
	Cases      repo.CaseRepository
	IssueLinks repo.IssueLinkSource
	Media      repo.MediaSource
	Cache      TranslationCache
	Provider   translation.Provider
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

type Builder struct {
	cases    repo.CaseRepository
	links    repo.IssueLinkSource
	media    repo.MediaSource
	cache    TranslationCache
	provider translation.Provider
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewBuilder(d Deps) (*Builder, error) {
	if d.Cases == nil {
		return nil, errors.New("case repository is required")
	}
	if d.Cache == nil {
		return nil, errors.New("translation cache is required")
	}
	if d.Provider == nil {
		d.Provider = translation.DisabledProvider{}
	}
	if d.Timeout <= 0 {
		d.Timeout = 60 * time.Second
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Builder{
		cases:    d.Cases,
		links:    d.IssueLinks,
		media:    d.Media,
		cache:    d.Cache,
		provider: d.Provider,
		timeout:  d.Timeout,
		logger:   d.Logger,
		metrics:  d.Metrics,
		now:      d.Now,
	}, nil
}

// Build captures snapshots of the given cases in lang, keyed by case id.
// Translation problems never fail the build: affected cases keep their
// original text and are listed in the report. force skips cached
// translations and replaces them with fresh ones.
func (b *Builder) Build(ctx context.Context, caseIDs []string, lang domain.Language, force bool) (map[string]domain.Snapshot, Report, error) {
	if err := lang.Validate(); err != nil {
		return nil, Report{}, err
	}
	var report Report
	ids := dedupe(caseIDs)
	if len(ids) == 0 {
		return map[string]domain.Snapshot{}, report, nil
	}

	cases, err := b.cases.GetCases(ctx, ids)
	if err != nil {
		return nil, Report{}, fmt.Errorf("load cases: %w", err)
	}
	present := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := cases[id]; ok {
			present = append(present, id)
			continue
		}
		report.Missing = append(report.Missing, id)
	}

	var links, media map[string][]string
	if b.links != nil && len(present) > 0 {
		if links, err = b.links.IssueLinks(ctx, present); err != nil {
			links = nil
			b.warnSource(&report, ReasonIssueLinksUnavailable, err)
		}
	}
	if b.media != nil && len(present) > 0 {
		if media, err = b.media.MediaNames(ctx, present); err != nil {
			media = nil
			b.warnSource(&report, ReasonMediaUnavailable, err)
		}
	}

	out := make(map[string]domain.Snapshot, len(present))
	for _, id := range present {
		c := cases[id]
		out[id] = domain.Snapshot{
			CaseVersion:    c.Version,
			Title:          c.Title,
			Steps:          c.Steps,
			ExpectedResult: c.ExpectedResult,
			Priority:       c.Priority,
			IssueLinks:     domain.JoinList(links[id]),
			MediaNames:     domain.JoinList(media[id]),
			Language:       lang,
		}
	}
	if lang.IsOriginal() || len(present) == 0 {
		return out, report, nil
	}

	b.translate(ctx, cases, present, lang, force, out, &report)
	return out, report, nil
}

func (b *Builder) warnSource(report *Report, reason string, err error) {
	b.logger.Warn("snapshot source unavailable", "reason", reason, "error", err)
	report.Warnings = append(report.Warnings, Warning{Reason: reason, Detail: err.Error()})
}

type pending struct {
	caseID      string
	content     domain.CaseContent
	version     int
	fingerprint string
}

func (b *Builder) translate(ctx context.Context, cases map[string]domain.Case, ids []string, target domain.Language, force bool, out map[string]domain.Snapshot, report *Report) {
	groups := make(map[domain.Language][]pending)
	keys := make([]domain.TranslationKey, 0, len(ids))
	work := make([]pending, 0, len(ids))
	sources := make(map[string]domain.Language, len(ids))
	for _, id := range ids {
		content := cases[id].Content()
		source := translation.DetectLanguage(content)
		if source == target {
			continue
		}
		sources[id] = source
		keys = append(keys, domain.TranslationKey{CaseID: id, Target: target})
		work = append(work, pending{
			caseID:      id,
			content:     content,
			version:     cases[id].Version,
			fingerprint: translation.Fingerprint(content),
		})
	}
	if len(work) == 0 {
		return
	}

	var hits map[domain.TranslationKey]domain.Translation
	if force {
		if err := b.cache.Evict(ctx, keys); err != nil {
			b.logger.Warn("translation cache evict failed", "error", err)
		}
	} else {
		var err error
		hits, err = b.cache.GetMany(ctx, keys)
		if err != nil {
			b.logger.Warn("translation cache lookup failed", "error", err)
			hits = nil
		}
	}

	for _, item := range work {
		hit, ok := hits[domain.TranslationKey{CaseID: item.caseID, Target: target}]
		if ok && hit.SourceFingerprint == item.fingerprint {
			apply(out, item.caseID, hit.Content)
			continue
		}
		groups[sources[item.caseID]] = append(groups[sources[item.caseID]], item)
	}
	if len(groups) == 0 {
		return
	}

	var (
		mu       sync.Mutex
		fresh    []domain.Translation
		failures []Warning
	)
	var g errgroup.Group
	for source, items := range groups {
		g.Go(func() error {
			translated, warnings := b.translateGroup(ctx, source, target, items)
			mu.Lock()
			defer mu.Unlock()
			fresh = append(fresh, translated...)
			failures = append(failures, warnings...)
			return nil
		})
	}
	_ = g.Wait()

	if err := b.cache.PutMany(ctx, fresh); err != nil {
		b.logger.Warn("translation cache write failed", "error", err, "entries", len(fresh))
	}
	for _, entry := range fresh {
		apply(out, entry.CaseID, entry.Content)
	}
	for _, w := range failures {
		b.metrics.TranslationFailed(w.Reason)
	}
	report.Warnings = append(report.Warnings, failures...)
}

func (b *Builder) translateGroup(ctx context.Context, source, target domain.Language, items []pending) ([]domain.Translation, []Warning) {
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	req := translation.BatchRequest{Source: source, Target: target, Items: make([]translation.BatchItem, 0, len(items))}
	for _, item := range items {
		req.Items = append(req.Items, translation.BatchItem{ID: item.caseID, Content: item.content})
	}

	start := time.Now()
	translated, err := b.provider.TranslateBatch(callCtx, req)
	b.metrics.ProviderCall(string(source), string(target), time.Since(start), err)

	warnings := make([]Warning, 0)
	if err != nil {
		reason := ReasonTranslationFailed
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			reason = ReasonTranslationTimeout
		}
		b.logger.Warn("translation batch failed",
			"source", source, "target", target, "cases", len(items), "reason", reason, "error", err)
		for _, item := range items {
			warnings = append(warnings, Warning{CaseID: item.caseID, Reason: reason, Detail: err.Error()})
		}
		return nil, warnings
	}

	now := b.now().UTC()
	entries := make([]domain.Translation, 0, len(items))
	for _, item := range items {
		content, ok := translated[item.caseID]
		if !ok {
			warnings = append(warnings, Warning{CaseID: item.caseID, Reason: ReasonTranslationMissing})
			continue
		}
		entries = append(entries, domain.Translation{
			CaseID:            item.caseID,
			Source:            source,
			Target:            target,
			Content:           content,
			SourceVersion:     item.version,
			SourceFingerprint: item.fingerprint,
			CreatedAt:         now,
			UpdatedAt:         now,
		})
	}
	return entries, warnings
}

func apply(out map[string]domain.Snapshot, caseID string, content domain.CaseContent) {
	snap := out[caseID]
	snap.Title = content.Title
	snap.Steps = content.Steps
	snap.ExpectedResult = content.ExpectedResult
	snap.Translated = true
	out[caseID] = snap
}

func dedupe(ids []string) []string {
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
