package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Priority is the closed set of case priorities.
type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
	PriorityMedium   Priority = "Medium"
	PriorityLow      Priority = "Low"
)

// ParsePriority matches case-insensitively. Empty input maps to Medium.
func ParsePriority(value string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "":
		return PriorityMedium, nil
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "medium":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	default:
		return "", fmt.Errorf("unsupported priority %q", value)
	}
}

type CaseStatus string

const (
	CaseStatusActive   CaseStatus = "active"
	CaseStatusArchived CaseStatus = "archived"
)

// Case is the canonical, editable test case owned by the case store.
// Version increments whenever title, steps or expected result change.
type Case struct {
	ID             string
	ProjectID      string
	Title          string
	Steps          string
	ExpectedResult string
	Priority       Priority
	Status         CaseStatus
	Version        int
	UpdatedAt      time.Time
}

// CaseContent is the translatable part of a case.
type CaseContent struct {
	Title          string `json:"title"`
	Steps          string `json:"steps"`
	ExpectedResult string `json:"expected_result"`
}

func (c Case) Content() CaseContent {
	return CaseContent{
		Title:          c.Title,
		Steps:          c.Steps,
		ExpectedResult: c.ExpectedResult,
	}
}

func (c Case) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("case id is required")
	}
	if strings.TrimSpace(c.ProjectID) == "" {
		return errors.New("project id is required")
	}
	if strings.TrimSpace(c.Title) == "" {
		return errors.New("title is required")
	}
	if c.Version < 1 {
		return errors.New("case version must be >= 1")
	}
	return nil
}

// Text concatenates the translatable fields for language detection and fingerprinting.
func (c CaseContent) Text() string {
	return c.Title + "\n" + c.Steps + "\n" + c.ExpectedResult
}
