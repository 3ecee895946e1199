package runs

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quickrail-labs/quickrail-go/internal/config"
	"github.com/quickrail-labs/quickrail-go/internal/domain"
	"github.com/quickrail-labs/quickrail-go/internal/platform/auditlog"
	"github.com/quickrail-labs/quickrail-go/internal/platform/metrics"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
	"github.com/quickrail-labs/quickrail-go/internal/snapshot"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrRunClosed    = errors.New("run is closed")
	ErrForbidden    = errors.New("forbidden")
)

type SnapshotBuilder interface {
	Build(ctx context.Context, caseIDs []string, lang domain.Language, force bool) (map[string]domain.Snapshot, snapshot.Report, error)
}

type TranslationInvalidator interface {
	InvalidateCase(ctx context.Context, caseID string) error
}

type AuditAppender interface {
	Append(ctx context.Context, event auditlog.Event) error
}

// AuditInfo describes the caller of a mutation. Actor doubles as the
// operator id of submitted results.
type AuditInfo struct {
	Actor     string
	RequestID string
	UserAgent string
	IP        net.IP
	Service   string
}

type Deps struct {
	Runs         repo.RunRepository
	Slots        repo.SlotRepository
	Results      repo.ResultRepository
	Cases        repo.CaseRepository
	Snapshots    SnapshotBuilder
	Translations TranslationInvalidator
	Audit        AuditAppender
	Policy       config.Policy
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Now          func() time.Time
	NewID        func() string
}

type Service struct {
	runs         repo.RunRepository
	slots        repo.SlotRepository
	results      repo.ResultRepository
	cases        repo.CaseRepository
	snapshots    SnapshotBuilder
	translations TranslationInvalidator
	audit        AuditAppender
	policy       config.Policy
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	newID        func() string
}

func New(d Deps) (*Service, error) {
	if d.Runs == nil || d.Slots == nil || d.Results == nil || d.Cases == nil {
		return nil, errors.New("run, slot, result and case repositories are required")
	}
	if d.Snapshots == nil {
		return nil, errors.New("snapshot builder is required")
	}
	if err := d.Policy.Validate(); err != nil {
		return nil, err
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return &Service{
		runs:         d.Runs,
		slots:        d.Slots,
		results:      d.Results,
		cases:        d.Cases,
		snapshots:    d.Snapshots,
		translations: d.Translations,
		audit:        d.Audit,
		policy:       d.Policy,
		logger:       d.Logger,
		metrics:      d.Metrics,
		now:          func() time.Time { return d.Now().UTC() },
		newID:        d.NewID,
	}, nil
}

// InvalidateCase drops every cached translation of a case. The case store
// calls it after editing or deleting the case.
func (s *Service) InvalidateCase(ctx context.Context, caseID string) error {
	caseID = strings.TrimSpace(caseID)
	if caseID == "" {
		return invalid("case id is required")
	}
	if s.translations == nil {
		return nil
	}
	return s.translations.InvalidateCase(ctx, caseID)
}

func (s *Service) emit(ctx context.Context, info AuditInfo, action, resourceType, resourceID string, payload map[string]any) {
	if s.audit == nil {
		return
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if svc := strings.TrimSpace(info.Service); svc != "" {
		payload["service"] = svc
	}
	err := s.audit.Append(ctx, auditlog.Event{
		OccurredAt:   s.now(),
		Actor:        info.Actor,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		RequestID:    info.RequestID,
		IP:           info.IP,
		UserAgent:    info.UserAgent,
		Payload:      payload,
	})
	if err != nil {
		s.logger.Warn("audit append failed", "action", action, "resource_id", resourceID, "error", err)
	}
}

func requireActor(info AuditInfo) (string, error) {
	actor := strings.TrimSpace(info.Actor)
	if actor == "" {
		return "", invalid("actor is required")
	}
	return actor, nil
}

type inputError struct {
	msg string
}

func (e inputError) Error() string        { return e.msg }
func (e inputError) Is(target error) bool { return target == ErrInvalidInput }

func invalid(msg string) error {
	return inputError{msg: msg}
}
