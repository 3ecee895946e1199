package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
)

const selectCasesQuery = `SELECT case_id, project_id, title, steps, expected_result, priority, status, version, updated_at
FROM cases
WHERE case_id = ANY($1)`

const selectIssueLinksQuery = `SELECT case_id, url
FROM case_issue_links
WHERE case_id = ANY($1)
ORDER BY case_id, position, url`

const selectMediaNamesQuery = `SELECT case_id, file_name
FROM case_media
WHERE case_id = ANY($1)
ORDER BY case_id, file_name`

// CaseStore reads the case store's tables. It also serves issue links and,
// when object storage is not configured, media file names.
type CaseStore struct {
	db DB
}

var (
	_ repo.CaseRepository  = (*CaseStore)(nil)
	_ repo.IssueLinkSource = (*CaseStore)(nil)
	_ repo.MediaSource     = (*CaseStore)(nil)
)

func NewCaseStore(db DB) *CaseStore {
	if db == nil {
		return nil
	}
	return &CaseStore{db: db}
}

func trimIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func (s *CaseStore) GetCases(ctx context.Context, ids []string) (map[string]domain.Case, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("case store not initialized")
	}
	out := make(map[string]domain.Case, len(ids))
	ids = trimIDs(ids)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, selectCasesQuery, ids)
	if err != nil {
		return nil, fmt.Errorf("select cases: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c                domain.Case
			priority, status string
		)
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Title, &c.Steps, &c.ExpectedResult,
			&priority, &status, &c.Version, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		c.Priority = domain.Priority(priority)
		c.Status = domain.CaseStatus(status)
		c.UpdatedAt = c.UpdatedAt.UTC()
		out[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	return out, nil
}

func (s *CaseStore) IssueLinks(ctx context.Context, caseIDs []string) (map[string][]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("case store not initialized")
	}
	return s.lists(ctx, selectIssueLinksQuery, caseIDs)
}

func (s *CaseStore) MediaNames(ctx context.Context, caseIDs []string) (map[string][]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("case store not initialized")
	}
	return s.lists(ctx, selectMediaNamesQuery, caseIDs)
}

func (s *CaseStore) lists(ctx context.Context, query string, caseIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	ids := trimIDs(caseIDs)
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("select case lists: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var caseID, value string
		if err := rows.Scan(&caseID, &value); err != nil {
			return nil, fmt.Errorf("scan case list: %w", err)
		}
		out[caseID] = append(out[caseID], value)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate case lists: %w", err)
	}
	return out, nil
}
