// Package config loads the engine policy: result correction window, snapshot
// refresh on close, and translation settings.
//
// Precedence is defaults, then the optional YAML file named by
// RUNENGINE_POLICY_FILE, then individual environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quickrail-labs/quickrail-go/internal/platform/env"
)

type Policy struct {
	// CorrectionWindow is how long an operator's latest entry can be
	// overwritten by that operator's next submission.
	CorrectionWindow time.Duration     `yaml:"correction_window"`
	RefreshOnClose   bool              `yaml:"refresh_on_close"`
	Translation      TranslationPolicy `yaml:"translation"`
}

type TranslationPolicy struct {
	Timeout      time.Duration `yaml:"timeout"`
	Model        string        `yaml:"model"`
	Temperature  float64       `yaml:"temperature"`
	CacheSize    int           `yaml:"cache_size"`
	SystemPrompt string        `yaml:"system_prompt"`
	// UserPrompt may reference {source_lang}, {target_lang} and {payload}.
	UserPrompt string `yaml:"user_prompt"`
}

const defaultSystemPrompt = `You translate software test cases for QA teams.
Keep numbering, line breaks, markdown, code, URLs and placeholders exactly as they are.
Answer with JSON only.`

const defaultUserPrompt = `Translate every item below from {source_lang} to {target_lang}.
Return a JSON array with one object per input item, keeping each "id" unchanged and
translating "title", "steps" and "expected_result".

{payload}`

func Default() Policy {
	return Policy{
		CorrectionWindow: 5 * time.Minute,
		RefreshOnClose:   true,
		Translation: TranslationPolicy{
			Timeout:      60 * time.Second,
			Model:        "gpt-4o-mini",
			Temperature:  0.3,
			CacheSize:    4096,
			SystemPrompt: defaultSystemPrompt,
			UserPrompt:   defaultUserPrompt,
		},
	}
}

// Load builds the policy from defaults, the optional YAML file and env overrides.
func Load() (Policy, error) {
	p := Default()
	if path := strings.TrimSpace(env.String("RUNENGINE_POLICY_FILE", "")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Policy{}, fmt.Errorf("read policy file: %w", err)
		}
		if err := decodeInto(&p, raw); err != nil {
			return Policy{}, fmt.Errorf("parse policy file %s: %w", path, err)
		}
	}
	if err := p.applyEnv(); err != nil {
		return Policy{}, err
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// Parse decodes a YAML policy document over the defaults.
func Parse(raw []byte) (Policy, error) {
	p := Default()
	if err := decodeInto(&p, raw); err != nil {
		return Policy{}, err
	}
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func decodeInto(p *Policy, raw []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (p *Policy) applyEnv() error {
	var err error
	if p.CorrectionWindow, err = env.Duration("RUNENGINE_CORRECTION_WINDOW", p.CorrectionWindow); err != nil {
		return err
	}
	if p.RefreshOnClose, err = env.Bool("RUNENGINE_REFRESH_ON_CLOSE", p.RefreshOnClose); err != nil {
		return err
	}
	if p.Translation.Timeout, err = env.Duration("RUNENGINE_TRANSLATION_TIMEOUT", p.Translation.Timeout); err != nil {
		return err
	}
	if p.Translation.CacheSize, err = env.Int("RUNENGINE_TRANSLATION_CACHE_SIZE", p.Translation.CacheSize); err != nil {
		return err
	}
	p.Translation.Model = env.String("RUNENGINE_TRANSLATION_MODEL", p.Translation.Model)
	return nil
}

func (p Policy) Validate() error {
	if p.CorrectionWindow < 0 {
		return errors.New("correction_window must be >= 0")
	}
	if p.Translation.Timeout <= 0 {
		return errors.New("translation.timeout must be positive")
	}
	if strings.TrimSpace(p.Translation.Model) == "" {
		return errors.New("translation.model is required")
	}
	if p.Translation.Temperature < 0 || p.Translation.Temperature > 2 {
		return errors.New("translation.temperature must be within [0, 2]")
	}
	if p.Translation.CacheSize < 1 {
		return errors.New("translation.cache_size must be >= 1")
	}
	if !strings.Contains(p.Translation.UserPrompt, "{payload}") {
		return errors.New("translation.user_prompt must contain {payload}")
	}
	return nil
}
