package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/platform/openapi"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
	"github.com/quickrail-labs/quickrail-go/internal/repo/memstore"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestSeedLoadsCases(t *testing.T) {
	store := memstore.New()
	raw := []byte(`
cases:
  - id: c1
    project_id: p1
    title: Login works
    steps: open page
    expected_result: dashboard
    priority: high
    issue_links: [JIRA-1]
    media_names: [login.png]
  - id: c2
    project_id: p1
    title: 로그아웃
`)
	n, err := seed(store, raw, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cases, err := store.GetCases(context.Background(), []string{"c1", "c2"})
	require.NoError(t, err)
	require.Len(t, cases, 2)
	assert.Equal(t, domain.PriorityHigh, cases["c1"].Priority)
	assert.Equal(t, 1, cases["c2"].Version)

	links, err := store.IssueLinks(context.Background(), []string{"c1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"JIRA-1"}, links["c1"])
}

func TestSeedRejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"unknown field":   "cases:\n  - id: c1\n    project_id: p1\n    title: t\n    owner: bob\n",
		"bad priority":    "cases:\n  - id: c1\n    project_id: p1\n    title: t\n    priority: urgent\n",
		"missing title":   "cases:\n  - id: c1\n    project_id: p1\n",
		"missing project": "cases:\n  - id: c1\n    title: t\n",
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := seed(memstore.New(), []byte(raw), time.Now())
			assert.Error(t, err)
		})
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(invalidConfig("store", errors.New("bad"))))
	assert.Equal(t, 2, exitCode(errors.Join(errors.New("x"), invalidConfig("auth", errors.New("bad")))))
	assert.Equal(t, 1, exitCode(errors.New("database unavailable")))
}

func TestStatsCommandOnMemoryStore(t *testing.T) {
	t.Setenv("RUNENGINE_STORE", "memory")
	t.Setenv("RUNENGINE_SEED_FILE", "")

	var out bytes.Buffer
	root := newRootCmd(discardLogger())
	root.SetOut(&out)
	root.SetArgs([]string{"stats", "missing-run"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, repo.ErrNotFound))
	assert.Equal(t, 1, exitCode(err))
}

func TestResetCommandRequiresRun(t *testing.T) {
	t.Setenv("RUNENGINE_STORE", "memory")

	root := newRootCmd(discardLogger())
	root.SetOut(io.Discard)
	root.SetArgs([]string{"reset", "missing-run", "--actor", "ops"})
	err := root.ExecuteContext(context.Background())
	assert.True(t, errors.Is(err, repo.ErrNotFound))
}

func TestInvalidStoreIsConfigError(t *testing.T) {
	t.Setenv("RUNENGINE_STORE", "sqlite")

	root := newRootCmd(discardLogger())
	root.SetOut(io.Discard)
	root.SetArgs([]string{"stats", "r1"})
	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestEmbeddedOpenAPIDocumentIsValid(t *testing.T) {
	_, err := openapi.NewValidator(openapiSpec, discardLogger())
	require.NoError(t, err)
}
