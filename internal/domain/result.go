package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Outcome is the status recorded by a result entry. Comment and artifact are
// pseudo-outcomes: they annotate a case but never count as an execution.
type Outcome string

const (
	OutcomePass     Outcome = "pass"
	OutcomeFail     Outcome = "fail"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeRetest   Outcome = "retest"
	OutcomeNA       Outcome = "na"
	OutcomeComment  Outcome = "comment"
	OutcomeArtifact Outcome = "artifact"
)

func ParseOutcome(value string) (Outcome, error) {
	outcome := Outcome(strings.ToLower(strings.TrimSpace(value)))
	switch outcome {
	case OutcomePass, OutcomeFail, OutcomeBlocked, OutcomeRetest, OutcomeNA, OutcomeComment, OutcomeArtifact:
		return outcome, nil
	case "n/a":
		return OutcomeNA, nil
	default:
		return "", fmt.Errorf("unsupported outcome %q", value)
	}
}

// IsExecutional reports whether the outcome counts toward execution status.
func (o Outcome) IsExecutional() bool {
	switch o {
	case OutcomePass, OutcomeFail, OutcomeBlocked, OutcomeRetest, OutcomeNA:
		return true
	default:
		return false
	}
}

// ResultEntry is one row of the append-only result log of a (run, case) pair.
// Seq is assigned by the store and breaks created_at ties.
type ResultEntry struct {
	ID         string
	Seq        int64
	RunID      string
	CaseID     string
	OperatorID string
	Outcome    Outcome
	Note       string
	IssueLinks string
	CreatedAt  time.Time
}

func (e ResultEntry) Validate() error {
	if strings.TrimSpace(e.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(e.CaseID) == "" {
		return errors.New("case id is required")
	}
	if strings.TrimSpace(e.OperatorID) == "" {
		return errors.New("operator id is required")
	}
	if _, err := ParseOutcome(string(e.Outcome)); err != nil {
		return err
	}
	return nil
}

// NewerThan orders entries by created_at, then seq, then id.
func (e ResultEntry) NewerThan(other ResultEntry) bool {
	if !e.CreatedAt.Equal(other.CreatedAt) {
		return e.CreatedAt.After(other.CreatedAt)
	}
	if e.Seq != other.Seq {
		return e.Seq > other.Seq
	}
	return e.ID > other.ID
}
