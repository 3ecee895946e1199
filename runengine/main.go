package main

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quickrail-labs/quickrail-go/internal/platform/auditlog"
	"github.com/quickrail-labs/quickrail-go/internal/platform/auth"
	"github.com/quickrail-labs/quickrail-go/internal/platform/httpserver"
	"github.com/quickrail-labs/quickrail-go/internal/platform/metrics"
	"github.com/quickrail-labs/quickrail-go/internal/platform/openapi"
	pgrepo "github.com/quickrail-labs/quickrail-go/internal/repo/postgres"
	"github.com/quickrail-labs/quickrail-go/internal/service/runs"
)

//go:embed openapi.yaml
var openapiSpec []byte

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(logger).ExecuteContext(ctx); err != nil {
		logger.Error("runengine failed", "error", err)
		stop()
		os.Exit(exitCode(err))
	}
}

func newRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "runengine",
		Short:         "Test run execution and snapshot engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(logger),
		newMigrateCmd(logger),
		newStatsCmd(logger),
		newLifecycleCmd(logger, "close", "Close a run and refresh its snapshots"),
		newLifecycleCmd(logger, "reopen", "Reopen a closed run"),
		newLifecycleCmd(logger, "reset", "Delete every result of a run"),
	)
	return root
}

func newServeCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the run engine HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			httpCfg, err := httpserver.ConfigFromEnv(serviceName, "RUNENGINE_HTTP_ADDR", ":8090")
			if err != nil {
				return invalidConfig("http", err)
			}
			authCfg, err := auth.ConfigFromEnv()
			if err != nil {
				return invalidConfig("auth", err)
			}
			cfg, err := engineConfigFromEnv()
			if err != nil {
				return err
			}
			authn, err := newAuthenticator(ctx, authCfg)
			if err != nil {
				return err
			}
			if authCfg.Mode == auth.ModeDev {
				logger.Warn("dev auth enabled; every request runs as a fixed identity", "subject", authCfg.DevSubject)
			}

			eng, err := newEngine(ctx, logger, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			handler, err := newHandler(logger, eng, authn)
			if err != nil {
				return err
			}
			err = httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, serviceName, handler))
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func newAuthenticator(ctx context.Context, cfg auth.Config) (auth.Authenticator, error) {
	switch cfg.Mode {
	case auth.ModeOIDC:
		authn, err := auth.NewOIDCAuthenticator(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("oidc provider: %w", err)
		}
		return authn, nil
	case auth.ModeDev:
		return auth.NewDevAuthenticator(cfg), nil
	default:
		authn, err := auth.NewGatewayHeadersAuthenticator(cfg)
		if err != nil {
			return nil, invalidConfig("auth", err)
		}
		return authn, nil
	}
}

// newHandler assembles routes, schema validation and authentication.
// Health, readiness and metrics bypass authentication.
func newHandler(logger *slog.Logger, eng *engine, authn auth.Authenticator) (http.Handler, error) {
	validator, err := openapi.NewValidator(openapiSpec, logger)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, eng.checks...))
	mux.Handle("GET /metrics", metrics.HandlerFor(eng.registry))

	api := newRunsAPI(logger, eng.svc)
	apiMux := http.NewServeMux()
	api.register(apiMux)
	mux.Handle("/", validator.Wrap(apiMux))

	return auth.Middleware{
		Logger:        logger,
		Authenticator: authn,
		Authorize:     auth.MethodRoleAuthorizer(),
		Audit:         auditlog.AuthDenyFunc(eng.audit, serviceName),
		SkipPrefixes:  []string{"/healthz", "/readyz", "/metrics"},
	}.Wrap(mux), nil
}

func newMigrateCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openDatabase(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			if err := pgrepo.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			logger.Info("schema migrated")
			return nil
		},
	}
}

func newStatsCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stats RUN_ID",
		Short: "Print execution statistics of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), logger, func(eng *engine) error {
				stats, err := eng.svc.Stats(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			})
		},
	}
}

func newLifecycleCmd(logger *slog.Logger, action, short string) *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   action + " RUN_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info := runs.AuditInfo{Actor: actor, Service: serviceName + "-cli"}
			return withEngine(cmd.Context(), logger, func(eng *engine) error {
				ctx := cmd.Context()
				switch action {
				case "close":
					res, err := eng.svc.CloseRun(ctx, args[0], info)
					if err != nil {
						return err
					}
					return printJSON(cmd, map[string]any{
						"run":       toRunResponse(res.Run, nil),
						"changed":   res.Changed,
						"refreshed": res.Refreshed,
						"report":    normalizeReport(res.Report),
					})
				case "reopen":
					run, changed, err := eng.svc.ReopenRun(ctx, args[0], info)
					if err != nil {
						return err
					}
					return printJSON(cmd, map[string]any{"run": toRunResponse(run, nil), "changed": changed})
				default:
					n, err := eng.svc.ResetResults(ctx, args[0], info)
					if err != nil {
						return err
					}
					return printJSON(cmd, map[string]any{"deleted": n})
				}
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", actorFromEnv(), "identity recorded in the audit log")
	return cmd
}

func withEngine(ctx context.Context, logger *slog.Logger, fn func(*engine) error) error {
	cfg, err := engineConfigFromEnv()
	if err != nil {
		return err
	}
	eng, err := newEngine(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()
	return fn(eng)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
