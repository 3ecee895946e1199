package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/repo/memstore"
)

// seedFile is the YAML layout of RUNENGINE_SEED_FILE. It fills the memory
// store with cases for local runs and demos.
type seedFile struct {
	Cases []seedCase `yaml:"cases"`
}

type seedCase struct {
	ID             string   `yaml:"id"`
	ProjectID      string   `yaml:"project_id"`
	Title          string   `yaml:"title"`
	Steps          string   `yaml:"steps"`
	ExpectedResult string   `yaml:"expected_result"`
	Priority       string   `yaml:"priority"`
	Version        int      `yaml:"version"`
	IssueLinks     []string `yaml:"issue_links"`
	MediaNames     []string `yaml:"media_names"`
}

func seedFromFile(store *memstore.Store, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return seed(store, raw, time.Now().UTC())
}

func seed(store *memstore.Store, raw []byte, now time.Time) (int, error) {
	var file seedFile
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return 0, fmt.Errorf("decode seed: %w", err)
	}
	for i, sc := range file.Cases {
		priority, err := domain.ParsePriority(sc.Priority)
		if err != nil {
			return 0, fmt.Errorf("case %d: %w", i, err)
		}
		c := domain.Case{
			ID:             sc.ID,
			ProjectID:      sc.ProjectID,
			Title:          sc.Title,
			Steps:          sc.Steps,
			ExpectedResult: sc.ExpectedResult,
			Priority:       priority,
			Status:         domain.CaseStatusActive,
			Version:        sc.Version,
			UpdatedAt:      now,
		}
		if c.Version == 0 {
			c.Version = 1
		}
		if err := c.Validate(); err != nil {
			return 0, fmt.Errorf("case %d: %w", i, err)
		}
		if err := store.PutCase(c); err != nil {
			return 0, fmt.Errorf("case %s: %w", c.ID, err)
		}
		if len(sc.IssueLinks) > 0 {
			store.SetIssueLinks(c.ID, sc.IssueLinks...)
		}
		if len(sc.MediaNames) > 0 {
			store.SetMediaNames(c.ID, sc.MediaNames...)
		}
	}
	return len(file.Cases), nil
}
