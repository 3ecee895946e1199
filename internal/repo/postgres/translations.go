package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
)

const selectTranslationsQuery = `SELECT case_id, source_lang, target_lang, title, steps, expected_result,
	source_version, source_fingerprint, created_at, updated_at
FROM case_translations
WHERE (case_id, target_lang) IN (SELECT * FROM unnest($1::text[], $2::text[]))`

const upsertTranslationQuery = `INSERT INTO case_translations (
	case_id,
	target_lang,
	source_lang,
	title,
	steps,
	expected_result,
	source_version,
	source_fingerprint,
	created_at,
	updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (case_id, target_lang) DO UPDATE SET
	source_lang = EXCLUDED.source_lang,
	title = EXCLUDED.title,
	steps = EXCLUDED.steps,
	expected_result = EXCLUDED.expected_result,
	source_version = EXCLUDED.source_version,
	source_fingerprint = EXCLUDED.source_fingerprint,
	updated_at = EXCLUDED.updated_at`

const deleteTranslationsQuery = `DELETE FROM case_translations
WHERE (case_id, target_lang) IN (SELECT * FROM unnest($1::text[], $2::text[]))`

const deleteCaseTranslationsQuery = `DELETE FROM case_translations WHERE case_id = $1`

type TranslationStore struct {
	db TxDB
}

var _ repo.TranslationRepository = (*TranslationStore)(nil)

func NewTranslationStore(db TxDB) *TranslationStore {
	if db == nil {
		return nil
	}
	return &TranslationStore{db: db}
}

func splitKeys(keys []domain.TranslationKey) ([]string, []string) {
	caseIDs := make([]string, 0, len(keys))
	targets := make([]string, 0, len(keys))
	for _, key := range keys {
		caseIDs = append(caseIDs, strings.TrimSpace(key.CaseID))
		targets = append(targets, string(key.Target))
	}
	return caseIDs, targets
}

func (s *TranslationStore) GetTranslations(ctx context.Context, keys []domain.TranslationKey) (map[domain.TranslationKey]domain.Translation, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("translation store not initialized")
	}
	out := make(map[domain.TranslationKey]domain.Translation, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	caseIDs, targets := splitKeys(keys)
	rows, err := s.db.QueryContext(ctx, selectTranslationsQuery, caseIDs, targets)
	if err != nil {
		return nil, fmt.Errorf("select translations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry          domain.Translation
			source, target string
		)
		if err := rows.Scan(&entry.CaseID, &source, &target, &entry.Content.Title, &entry.Content.Steps,
			&entry.Content.ExpectedResult, &entry.SourceVersion, &entry.SourceFingerprint,
			&entry.CreatedAt, &entry.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan translation: %w", err)
		}
		entry.Source = domain.Language(source)
		entry.Target = domain.Language(target)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entry.UpdatedAt = entry.UpdatedAt.UTC()
		out[entry.Key()] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate translations: %w", err)
	}
	return out, nil
}

func (s *TranslationStore) UpsertTranslations(ctx context.Context, entries []domain.Translation) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("translation store not initialized")
	}
	if len(entries) == 0 {
		return nil
	}
	for _, entry := range entries {
		if err := entry.Validate(); err != nil {
			return fmt.Errorf("translation %s: %w", entry.Key(), err)
		}
	}
	return withTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, entry := range entries {
			_, err := tx.ExecContext(ctx, upsertTranslationQuery,
				strings.TrimSpace(entry.CaseID),
				string(entry.Target),
				string(entry.Source),
				entry.Content.Title,
				entry.Content.Steps,
				entry.Content.ExpectedResult,
				entry.SourceVersion,
				entry.SourceFingerprint,
				normalizeTime(entry.CreatedAt),
				normalizeTime(entry.UpdatedAt),
			)
			if err != nil {
				return fmt.Errorf("upsert translation %s: %w", entry.Key(), err)
			}
		}
		return nil
	})
}

func (s *TranslationStore) DeleteTranslations(ctx context.Context, keys []domain.TranslationKey) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("translation store not initialized")
	}
	if len(keys) == 0 {
		return nil
	}
	caseIDs, targets := splitKeys(keys)
	if _, err := s.db.ExecContext(ctx, deleteTranslationsQuery, caseIDs, targets); err != nil {
		return fmt.Errorf("delete translations: %w", err)
	}
	return nil
}

func (s *TranslationStore) DeleteCaseTranslations(ctx context.Context, caseID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("translation store not initialized")
	}
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return fmt.Errorf("case id is required")
	}
	if _, err := s.db.ExecContext(ctx, deleteCaseTranslationsQuery, caseID); err != nil {
		return fmt.Errorf("delete case translations: %w", err)
	}
	return nil
}
