package translation

import (
	"context"
	"errors"

	"github.com/quickrail-labs/quickrail-go/internal/domain"
)

var ErrProviderDisabled = errors.New("translation provider not configured")

type BatchItem struct {
	ID      string
	Content domain.CaseContent
}

// BatchRequest is one provider call: every item shares Source.
type BatchRequest struct {
	Source domain.Language
	Target domain.Language
	Items  []BatchItem
}

// Provider translates a batch in a single round trip. Items missing from the
// returned map are treated as failed by the caller.
type Provider interface {
	TranslateBatch(ctx context.Context, req BatchRequest) (map[string]domain.CaseContent, error)
}

// DisabledProvider fails every batch, so snapshots fall back to original text.
type DisabledProvider struct{}

func (DisabledProvider) TranslateBatch(ctx context.Context, req BatchRequest) (map[string]domain.CaseContent, error) {
	return nil, ErrProviderDisabled
}
