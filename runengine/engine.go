package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/quickrail-labs/quickrail-go/internal/config"
	"github.com/quickrail-labs/quickrail-go/internal/platform/auditlog"
	"github.com/quickrail-labs/quickrail-go/internal/platform/env"
	"github.com/quickrail-labs/quickrail-go/internal/platform/httpserver"
	"github.com/quickrail-labs/quickrail-go/internal/platform/metrics"
	"github.com/quickrail-labs/quickrail-go/internal/platform/objectstore"
	"github.com/quickrail-labs/quickrail-go/internal/platform/postgres"
	"github.com/quickrail-labs/quickrail-go/internal/repo"
	"github.com/quickrail-labs/quickrail-go/internal/repo/memstore"
	pgrepo "github.com/quickrail-labs/quickrail-go/internal/repo/postgres"
	"github.com/quickrail-labs/quickrail-go/internal/service/runs"
	"github.com/quickrail-labs/quickrail-go/internal/snapshot"
	"github.com/quickrail-labs/quickrail-go/internal/translation"
)

const (
	storePostgres = "postgres"
	storeMemory   = "memory"

	mediaFromCases = "cases"
	mediaFromMinIO = "minio"
)

// configError marks failures caused by invalid configuration. main exits
// with status 2 for these.
type configError struct{ err error }

func (e configError) Error() string { return e.err.Error() }
func (e configError) Unwrap() error { return e.err }

func invalidConfig(what string, err error) error {
	return configError{err: fmt.Errorf("invalid %s config: %w", what, err)}
}

type engineConfig struct {
	Store       string
	MediaSource string
	SeedFile    string
	Policy      config.Policy
}

func engineConfigFromEnv() (engineConfig, error) {
	store, err := env.Choice("RUNENGINE_STORE", storePostgres, storePostgres, storeMemory)
	if err != nil {
		return engineConfig{}, invalidConfig("store", err)
	}
	media, err := env.Choice("RUNENGINE_MEDIA_SOURCE", mediaFromCases, mediaFromCases, mediaFromMinIO)
	if err != nil {
		return engineConfig{}, invalidConfig("media", err)
	}
	policy, err := config.Load()
	if err != nil {
		return engineConfig{}, invalidConfig("policy", err)
	}
	return engineConfig{
		Store:       store,
		MediaSource: media,
		SeedFile:    strings.TrimSpace(env.String("RUNENGINE_SEED_FILE", "")),
		Policy:      policy,
	}, nil
}

type stores struct {
	runs         repo.RunRepository
	slots        repo.SlotRepository
	results      repo.ResultRepository
	translations repo.TranslationRepository
	cases        repo.CaseRepository
	links        repo.IssueLinkSource
	media        repo.MediaSource
}

// engine is the assembled run engine plus the resources main must release.
type engine struct {
	svc      *runs.Service
	db       *sql.DB
	audit    runs.AuditAppender
	registry *prometheus.Registry
	checks   []httpserver.ReadinessCheck
}

func (e *engine) Close() {
	if e != nil && e.db != nil {
		_ = e.db.Close()
	}
}

func newEngine(ctx context.Context, logger *slog.Logger, cfg engineConfig) (*engine, error) {
	registry, m := metrics.NewRegistry()
	eng := &engine{registry: registry}

	var st stores
	switch cfg.Store {
	case storeMemory:
		mem := memstore.New()
		if cfg.SeedFile != "" {
			n, err := seedFromFile(mem, cfg.SeedFile)
			if err != nil {
				return nil, invalidConfig("seed", err)
			}
			logger.Info("seeded memory store", "cases", n, "file", cfg.SeedFile)
		}
		st = stores{runs: mem, slots: mem, results: mem, translations: mem, cases: mem, links: mem, media: mem}
		eng.audit = auditlog.LogAppender{Logger: logger}
	default:
		dbCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return nil, invalidConfig("database", err)
		}
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			return nil, fmt.Errorf("database unavailable: %w", err)
		}
		eng.db = db
		caseStore := pgrepo.NewCaseStore(db)
		st = stores{
			runs:         pgrepo.NewRunStore(db),
			slots:        pgrepo.NewSlotStore(db),
			results:      pgrepo.NewResultStore(db),
			translations: pgrepo.NewTranslationStore(db),
			cases:        caseStore,
			links:        caseStore,
			media:        caseStore,
		}
		eng.audit = auditlog.NewDBAppender(db)
		eng.checks = append(eng.checks, httpserver.ReadinessCheck{Name: "postgres", Check: postgres.PingCheck(db, 750*time.Millisecond)})
	}

	if cfg.MediaSource == mediaFromMinIO {
		objCfg, err := objectstore.ConfigFromEnv()
		if err != nil {
			eng.Close()
			return nil, invalidConfig("object storage", err)
		}
		client, err := objectstore.NewMinIOClient(objCfg)
		if err != nil {
			eng.Close()
			return nil, fmt.Errorf("object storage client: %w", err)
		}
		st.media = objectstore.NewMediaLister(client, objCfg)
		eng.checks = append(eng.checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBucket(checkCtx, client, objCfg)
			},
		})
	}

	provider, err := newProvider(logger, cfg.Policy)
	if err != nil {
		eng.Close()
		return nil, err
	}

	cache, err := translation.NewCache(st.translations, cfg.Policy.Translation.CacheSize, m)
	if err != nil {
		eng.Close()
		return nil, err
	}
	builder, err := snapshot.NewBuilder(snapshot.Deps{
		Cases:      st.cases,
		IssueLinks: st.links,
		Media:      st.media,
		Cache:      cache,
		Provider:   provider,
		Timeout:    cfg.Policy.Translation.Timeout,
		Logger:     logger,
		Metrics:    m,
	})
	if err != nil {
		eng.Close()
		return nil, err
	}
	svc, err := runs.New(runs.Deps{
		Runs:         st.runs,
		Slots:        st.slots,
		Results:      st.results,
		Cases:        st.cases,
		Snapshots:    builder,
		Translations: cache,
		Audit:        eng.audit,
		Policy:       cfg.Policy,
		Logger:       logger,
		Metrics:      m,
	})
	if err != nil {
		eng.Close()
		return nil, err
	}
	eng.svc = svc
	return eng, nil
}

func newProvider(logger *slog.Logger, policy config.Policy) (translation.Provider, error) {
	providerCfg, enabled, err := translation.OpenAIConfigFromEnv(policy.Translation)
	if err != nil {
		return nil, invalidConfig("translation", err)
	}
	if !enabled {
		logger.Info("translation provider disabled; translated runs keep original text")
		return translation.DisabledProvider{}, nil
	}
	provider, err := translation.NewOpenAIProvider(providerCfg)
	if err != nil {
		return nil, invalidConfig("translation", err)
	}
	return provider, nil
}

// openDatabase is used by commands that only need the schema.
func openDatabase(ctx context.Context) (*sql.DB, error) {
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return nil, invalidConfig("database", err)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("database unavailable: %w", err)
	}
	return db, nil
}

func exitCode(err error) int {
	var cfgErr configError
	if errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}

func actorFromEnv() string {
	if actor := strings.TrimSpace(env.String("RUNENGINE_ACTOR", "")); actor != "" {
		return actor
	}
	if user := strings.TrimSpace(os.Getenv("USER")); user != "" {
		return user
	}
	return "runengine-cli"
}
