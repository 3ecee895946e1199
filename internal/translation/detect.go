package translation

import (
	"encoding/hex"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
)

// hangulThreshold is the share of Hangul syllables above which text is Korean.
const hangulThreshold = 0.1

// DetectLanguage classifies case content as Korean or English by the share of
// Hangul syllables among all characters.
func DetectLanguage(content domain.CaseContent) domain.Language {
	total, hangul := 0, 0
	for _, r := range content.Text() {
		total++
		if r >= 0xAC00 && r <= 0xD7A3 {
			hangul++
		}
	}
	if total == 0 {
		return domain.LanguageEnglish
	}
	if float64(hangul)/float64(total) > hangulThreshold {
		return domain.LanguageKorean
	}
	return domain.LanguageEnglish
}

// Fingerprint identifies the exact source text a translation was made from.
func Fingerprint(content domain.CaseContent) string {
	var b strings.Builder
	b.WriteString(content.Title)
	b.WriteByte(0)
	b.WriteString(content.Steps)
	b.WriteByte(0)
	b.WriteString(content.ExpectedResult)
	sum := blake3.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
