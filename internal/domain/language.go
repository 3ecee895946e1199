package domain

import (
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

// Language is the content language mode of a run or a translation target.
type Language string

const (
	LanguageOriginal Language = "original"
	LanguageKorean   Language = "ko"
	LanguageEnglish  Language = "en"
)

// TranslationLanguages lists the languages the translation pipeline can produce.
func TranslationLanguages() []Language {
	return []Language{LanguageKorean, LanguageEnglish}
}

// ParseLanguage accepts "original" (or empty) and any BCP 47 tag whose base
// language is Korean or English ("ko-KR", "en_US", ...).
func ParseLanguage(value string) (Language, error) {
	raw := strings.ToLower(strings.TrimSpace(value))
	if raw == "" || raw == string(LanguageOriginal) {
		return LanguageOriginal, nil
	}
	tag, err := language.Parse(strings.ReplaceAll(raw, "_", "-"))
	if err != nil {
		return "", fmt.Errorf("unsupported language %q: %w", value, err)
	}
	base, _ := tag.Base()
	switch base.String() {
	case string(LanguageKorean):
		return LanguageKorean, nil
	case string(LanguageEnglish):
		return LanguageEnglish, nil
	default:
		return "", fmt.Errorf("unsupported language %q", value)
	}
}

func (l Language) IsOriginal() bool {
	return l == LanguageOriginal
}

func (l Language) Validate() error {
	switch l {
	case LanguageOriginal, LanguageKorean, LanguageEnglish:
		return nil
	default:
		return fmt.Errorf("unsupported language %q", string(l))
	}
}

// DisplayName is the English name used in translation prompts.
func (l Language) DisplayName() string {
	switch l {
	case LanguageKorean:
		return "Korean"
	case LanguageEnglish:
		return "English"
	default:
		return string(l)
	}
}
