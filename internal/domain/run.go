package domain

import (
	"errors"
	"strings"
	"time"
)

// Run is a test execution session over an ordered set of cases.
type Run struct {
	ID          string
	ProjectID   string
	Name        string
	Description string
	Language    Language
	Closed      bool
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ClosedAt    *time.Time
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(r.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(r.Name) == "" {
		return errors.New("run name is required")
	}
	if strings.TrimSpace(r.CreatedBy) == "" {
		return errors.New("created by is required")
	}
	return r.Language.Validate()
}

// SnapshotAuthoritative reports whether readers must use frozen slot
// snapshots instead of live case content.
func (r Run) SnapshotAuthoritative() bool {
	return r.Closed || !r.Language.IsOriginal()
}
