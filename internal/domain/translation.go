package domain

import (
	"errors"
	"strings"
	"time"
)

// TranslationKey identifies one cached translation.
type TranslationKey struct {
	CaseID string
	Target Language
}

func (k TranslationKey) String() string {
	return k.CaseID + "/" + string(k.Target)
}

// Translation is a cached translation of a case's content. SourceFingerprint
// pins the source text the entry was produced from.
type Translation struct {
	CaseID            string
	Source            Language
	Target            Language
	Content           CaseContent
	SourceVersion     int
	SourceFingerprint string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (t Translation) Key() TranslationKey {
	return TranslationKey{CaseID: t.CaseID, Target: t.Target}
}

func (t Translation) Validate() error {
	if strings.TrimSpace(t.CaseID) == "" {
		return errors.New("case id is required")
	}
	if t.Target.IsOriginal() || t.Target.Validate() != nil {
		return errors.New("translation target must be a concrete language")
	}
	if t.Source.IsOriginal() || t.Source.Validate() != nil {
		return errors.New("translation source must be a concrete language")
	}
	if strings.TrimSpace(t.SourceFingerprint) == "" {
		return errors.New("source fingerprint is required")
	}
	return nil
}
