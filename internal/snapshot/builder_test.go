package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/repo/memstore"
	"github.com/quickrail-labs/quickrail-go/internal/translation"
)

type fakeProvider struct {
	mu    sync.Mutex
	calls []translation.BatchRequest
	err   error
	block bool
	drop  map[string]bool
}

func (p *fakeProvider) TranslateBatch(ctx context.Context, req translation.BatchRequest) (map[string]domain.CaseContent, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.err != nil {
		return nil, p.err
	}
	out := make(map[string]domain.CaseContent, len(req.Items))
	for _, item := range req.Items {
		if p.drop[item.ID] {
			continue
		}
		prefix := "[" + string(req.Target) + "] "
		out[item.ID] = domain.CaseContent{
			Title:          prefix + item.Content.Title,
			Steps:          prefix + item.Content.Steps,
			ExpectedResult: prefix + item.Content.ExpectedResult,
		}
	}
	return out, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type failingLinks struct{}

func (failingLinks) IssueLinks(ctx context.Context, ids []string) (map[string][]string, error) {
	return nil, errors.New("tracker down")
}

func newFixture(t *testing.T, provider translation.Provider) (*memstore.Store, *Builder) {
	t.Helper()
	store := memstore.New()
	require.NoError(t, store.PutCase(domain.Case{ID: "ko-1", ProjectID: "p1", Title: "로그인 확인", Steps: "1. 앱을 연다", ExpectedResult: "홈 화면", Priority: domain.PriorityHigh}))
	require.NoError(t, store.PutCase(domain.Case{ID: "ko-2", ProjectID: "p1", Title: "로그아웃", Steps: "1. 메뉴를 연다", ExpectedResult: "로그인 화면"}))
	require.NoError(t, store.PutCase(domain.Case{ID: "en-1", ProjectID: "p1", Title: "Search", Steps: "1. Type a query", ExpectedResult: "Results"}))
	store.SetIssueLinks("ko-1", "https://jira/QA-1", " ", "https://jira/QA-2")
	store.SetMediaNames("ko-1", "login.png")

	cache, err := translation.NewCache(store, 32, nil)
	require.NoError(t, err)
	b, err := NewBuilder(Deps{
		Cases:      store,
		IssueLinks: store,
		Media:      store,
		Cache:      cache,
		Provider:   provider,
		Timeout:    time.Second,
		Logger:     slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	return store, b
}

func TestBuildOriginalCopiesCaseContent(t *testing.T) {
	provider := &fakeProvider{}
	_, b := newFixture(t, provider)

	snaps, report, err := b.Build(context.Background(), []string{"ko-1", "missing", "ko-1"}, domain.LanguageOriginal, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"missing"}, report.Missing)
	require.Len(t, snaps, 1)

	snap := snaps["ko-1"]
	assert.Equal(t, "로그인 확인", snap.Title)
	assert.Equal(t, 1, snap.CaseVersion)
	assert.Equal(t, domain.PriorityHigh, snap.Priority)
	assert.Equal(t, "https://jira/QA-1 | https://jira/QA-2", snap.IssueLinks)
	assert.Equal(t, "login.png", snap.MediaNames)
	assert.False(t, snap.Translated)
	assert.Zero(t, provider.callCount())
}

func TestBuildTranslatesOneBatchPerSourceLanguage(t *testing.T) {
	provider := &fakeProvider{}
	_, b := newFixture(t, provider)

	snaps, report, err := b.Build(context.Background(), []string{"ko-1", "ko-2", "en-1"}, domain.LanguageEnglish, false)
	require.NoError(t, err)
	assert.Empty(t, report.Warnings)
	require.Equal(t, 1, provider.callCount())
	assert.Len(t, provider.calls[0].Items, 2)
	assert.Equal(t, domain.LanguageKorean, provider.calls[0].Source)

	assert.Equal(t, "[en] 로그인 확인", snaps["ko-1"].Title)
	assert.True(t, snaps["ko-1"].Translated)
	assert.Equal(t, domain.LanguageEnglish, snaps["ko-1"].Language)
	assert.Equal(t, "Search", snaps["en-1"].Title)
	assert.False(t, snaps["en-1"].Translated)
}

func TestBuildUsesCacheUntilSourceChanges(t *testing.T) {
	provider := &fakeProvider{}
	store, b := newFixture(t, provider)
	ctx := context.Background()

	_, _, err := b.Build(ctx, []string{"ko-1"}, domain.LanguageEnglish, false)
	require.NoError(t, err)
	_, _, err = b.Build(ctx, []string{"ko-1"}, domain.LanguageEnglish, false)
	require.NoError(t, err)
	assert.Equal(t, 1, provider.callCount())

	_, err = store.UpdateCase("ko-1", domain.CaseContent{Title: "로그인 재확인", Steps: "1. 앱을 연다", ExpectedResult: "홈 화면"}, time.Now())
	require.NoError(t, err)
	snaps, _, err := b.Build(ctx, []string{"ko-1"}, domain.LanguageEnglish, false)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount())
	assert.Equal(t, "[en] 로그인 재확인", snaps["ko-1"].Title)
	assert.Equal(t, 2, snaps["ko-1"].CaseVersion)
}

func TestBuildForceBypassesCache(t *testing.T) {
	provider := &fakeProvider{}
	_, b := newFixture(t, provider)
	ctx := context.Background()

	_, _, err := b.Build(ctx, []string{"ko-1"}, domain.LanguageEnglish, false)
	require.NoError(t, err)
	_, _, err = b.Build(ctx, []string{"ko-1"}, domain.LanguageEnglish, true)
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount())
}

func TestBuildFallsBackOnProviderFailure(t *testing.T) {
	provider := &fakeProvider{err: errors.New("quota exceeded")}
	_, b := newFixture(t, provider)

	snaps, report, err := b.Build(context.Background(), []string{"ko-1", "en-1"}, domain.LanguageEnglish, false)
	require.NoError(t, err)
	assert.Equal(t, "로그인 확인", snaps["ko-1"].Title)
	assert.False(t, snaps["ko-1"].Translated)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, "ko-1", report.Warnings[0].CaseID)
	assert.Equal(t, ReasonTranslationFailed, report.Warnings[0].Reason)
}

func TestBuildReportsItemsMissingFromResponse(t *testing.T) {
	provider := &fakeProvider{drop: map[string]bool{"ko-2": true}}
	_, b := newFixture(t, provider)

	snaps, report, err := b.Build(context.Background(), []string{"ko-1", "ko-2"}, domain.LanguageEnglish, false)
	require.NoError(t, err)
	assert.True(t, snaps["ko-1"].Translated)
	assert.Equal(t, "로그아웃", snaps["ko-2"].Title)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, ReasonTranslationMissing, report.Warnings[0].Reason)
}

func TestBuildTimesOut(t *testing.T) {
	provider := &fakeProvider{block: true}
	_, b := newFixture(t, provider)
	b.timeout = 20 * time.Millisecond

	snaps, report, err := b.Build(context.Background(), []string{"en-1"}, domain.LanguageKorean, false)
	require.NoError(t, err)
	assert.Equal(t, "Search", snaps["en-1"].Title)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, ReasonTranslationTimeout, report.Warnings[0].Reason)
}

func TestBuildDegradesWhenIssueLinksUnavailable(t *testing.T) {
	provider := &fakeProvider{}
	_, b := newFixture(t, provider)
	b.links = failingLinks{}

	snaps, report, err := b.Build(context.Background(), []string{"ko-1"}, domain.LanguageOriginal, false)
	require.NoError(t, err)
	assert.Empty(t, snaps["ko-1"].IssueLinks)
	assert.Equal(t, "login.png", snaps["ko-1"].MediaNames)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, ReasonIssueLinksUnavailable, report.Warnings[0].Reason)
	assert.True(t, strings.Contains(report.Warnings[0].Detail, "tracker down"))
}

func TestBuildRejectsUnknownLanguage(t *testing.T) {
	_, b := newFixture(t, &fakeProvider{})
	_, _, err := b.Build(context.Background(), []string{"ko-1"}, domain.Language("fr"), false)
	assert.Error(t, err)
}
