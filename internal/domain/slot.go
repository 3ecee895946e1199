package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ListSeparator joins multi-valued snapshot fields (issue links, media names).
const ListSeparator = " | "

// Snapshot is the frozen copy of case content captured for an execution slot.
type Snapshot struct {
	CaseVersion    int
	Title          string
	Steps          string
	ExpectedResult string
	Priority       Priority
	IssueLinks     string
	MediaNames     string
	Language       Language
	Translated     bool
}

func (s Snapshot) Content() CaseContent {
	return CaseContent{
		Title:          s.Title,
		Steps:          s.Steps,
		ExpectedResult: s.ExpectedResult,
	}
}

// Slot is one ordered position of a run, bound to a case and its snapshot.
type Slot struct {
	ID          string
	RunID       string
	CaseID      string
	Position    int
	Snapshot    Snapshot
	CreatedAt   time.Time
	RefreshedAt *time.Time
}

func (s Slot) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("slot id is required")
	}
	if strings.TrimSpace(s.RunID) == "" {
		return errors.New("run id is required")
	}
	if strings.TrimSpace(s.CaseID) == "" {
		return errors.New("case id is required")
	}
	if s.Position < 0 {
		return errors.New("position must be >= 0")
	}
	return nil
}

// ValidatePositions checks that slots carry the positions 0..n-1 exactly once.
func ValidatePositions(slots []Slot) error {
	seen := make([]bool, len(slots))
	for _, slot := range slots {
		if slot.Position < 0 || slot.Position >= len(slots) {
			return fmt.Errorf("slot position %d out of range", slot.Position)
		}
		if seen[slot.Position] {
			return fmt.Errorf("duplicate slot position %d", slot.Position)
		}
		seen[slot.Position] = true
	}
	return nil
}

// EnsureSnapshotForward rejects a refresh that would capture an older case version.
func EnsureSnapshotForward(before, after Snapshot) error {
	if after.CaseVersion < before.CaseVersion {
		return fmt.Errorf("snapshot version would decrease from %d to %d", before.CaseVersion, after.CaseVersion)
	}
	return nil
}

// JoinList trims items, drops empties and joins with ListSeparator.
func JoinList(items []string) string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return strings.Join(out, ListSeparator)
}

func SplitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ListSeparator)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
