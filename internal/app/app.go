// Package app provides application-level wiring for the maskflow commands:
// metadata store repositories, connectors, the masking service client, the
// run services and the trigger API.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"maskflow/internal/api"
	"maskflow/internal/config"
	"maskflow/internal/connector"
	"maskflow/internal/db/repository"
	"maskflow/internal/domain"
	"maskflow/internal/hyperscale"
	"maskflow/internal/metrics"
	"maskflow/internal/middleware"
	"maskflow/internal/service/runner"
	"maskflow/internal/service/scheduler"
)

// ServiceClient is the external profiling and masking service.
type ServiceClient interface {
	domain.ProfilingService
	domain.MaskingService
}

// Deps holds the external dependencies that main() must provide.
type Deps struct {
	Cfg     *config.Config
	WriteDB *sql.DB
	ReadDB  *sql.DB
	Logger  *slog.Logger
	// Registry receives the metrics; nil disables them. A *prometheus.Registry
	// is also served at /metrics.
	Registry prometheus.Registerer
	// Service replaces the HTTP client built from Cfg.Hyperscale.
	Service ServiceClient
}

// App holds the fully-wired application.
type App struct {
	Repos   *repository.Repositories // write pool, process-wide table names
	Events  *repository.EventLogRepo // read pool
	Runner  *runner.Runner
	Metrics *metrics.Metrics

	cfg      *config.Config
	logger   *slog.Logger
	registry prometheus.Registerer
}

// New wires repositories, the service client and the runner from deps.
func New(ctx context.Context, deps Deps) (*App, error) {
	cfg := deps.Cfg
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	readDB := deps.ReadDB
	if readDB == nil {
		readDB = deps.WriteDB
	}

	repos, err := repository.New(deps.WriteDB, cfg.Tables)
	if err != nil {
		return nil, fmt.Errorf("metadata repositories: %w", err)
	}
	events, err := repository.NewEventLogRepo(readDB, cfg.Tables.EventLog)
	if err != nil {
		return nil, fmt.Errorf("event log reader: %w", err)
	}

	var m *metrics.Metrics
	if deps.Registry != nil {
		m = metrics.New(deps.Registry)
	}

	svc := deps.Service
	if svc == nil {
		svc, err = newServiceClient(cfg.Hyperscale, logger, m)
		if err != nil {
			return nil, err
		}
	}

	a := &App{
		Repos:    repos,
		Events:   events,
		Metrics:  m,
		cfg:      cfg,
		logger:   logger,
		registry: deps.Registry,
	}
	a.Runner = runner.New(deps.WriteDB, cfg.Tables, svc, svc, a.OpenConnector, logger, m)

	warnPendingConstraints(ctx, repos.Constraints, logger)
	return a, nil
}

func newServiceClient(hc config.HyperscaleConfig, logger *slog.Logger, m *metrics.Metrics) (ServiceClient, error) {
	if hc.URL == "" {
		return unconfiguredService{}, nil
	}
	client, err := hyperscale.New(hyperscale.Options{
		BaseURL:         hc.URL,
		APIKey:          hc.APIKey,
		Timeout:         hc.Timeout,
		Retry:           hyperscale.RetryPolicy{MaxAttempts: hc.RetryAttempts, BaseDelay: hc.RetryBaseDelay},
		RPS:             hc.RPS,
		BreakerFailures: hc.BreakerFailures,
		Logger:          logger,
		Observer:        m.ObserveAPICall,
	})
	if err != nil {
		return nil, fmt.Errorf("hyperscale client: %w", err)
	}
	return client, nil
}

// unconfiguredService fails every call; LoadFromEnv has already warned.
type unconfiguredService struct{}

func (unconfiguredService) Profile(context.Context, map[string][]any) (map[string]domain.ColumnProfile, error) {
	return nil, fmt.Errorf("profiling service unavailable: HYPERSCALE_URL not set")
}

func (unconfiguredService) Mask(context.Context, domain.MaskRequest) (map[string][]any, error) {
	return nil, fmt.Errorf("masking service unavailable: HYPERSCALE_URL not set")
}

// OpenConnector connects to a source or sink with the configured object
// storage credentials.
func (a *App) OpenConnector(ctx context.Context, spec domain.ConnectionSpec) (domain.Connector, error) {
	return connector.Open(ctx, spec, a.cfg.Storage, a.logger)
}

// Scheduler builds the cron scheduler for the configured recurring runs.
// Empty run file paths or schedules skip the corresponding job.
func (a *App) Scheduler(discoveryRunFile, maskingRunFile string) (*scheduler.Scheduler, error) {
	s := scheduler.NewScheduler(a.Runner, a.cfg.RunDefaults(), a.logger)
	jobs := []scheduler.Job{
		{Name: "discovery", Kind: runner.KindDiscovery, Schedule: a.cfg.DiscoverySchedule, RunFile: discoveryRunFile},
		{Name: "masking", Kind: runner.KindMasking, Schedule: a.cfg.MaskingSchedule, RunFile: maskingRunFile},
	}
	for _, job := range jobs {
		if job.Schedule == "" {
			continue
		}
		if job.RunFile == "" {
			return nil, domain.ErrValidation("%s schedule %q set without a run file", job.Name, job.Schedule)
		}
		if err := s.Add(job); err != nil {
			return nil, err
		}
		a.logger.Info("scheduled recurring run", "job", job.Name, "schedule", job.Schedule, "run_file", job.RunFile)
	}
	return s, nil
}

// Router builds the trigger API with the configured authentication. OIDC
// discovery contacts the issuer, so ctx bounds that call.
func (a *App) Router(ctx context.Context) (http.Handler, error) {
	auth, err := newAuthenticator(ctx, a.cfg.Auth)
	if err != nil {
		return nil, err
	}
	var metricsHandler http.Handler
	if g, ok := a.registry.(prometheus.Gatherer); ok {
		metricsHandler = promhttp.HandlerFor(g, promhttp.HandlerOpts{})
	}
	h := api.NewHandler(a.Runner, a.Events, a.cfg.RunDefaults(), a.logger)
	return api.NewRouter(h, api.RouterConfig{
		Auth:      auth,
		RateLimit: middleware.RateLimitConfig{RequestsPerSecond: a.cfg.RateLimitRPS, Burst: a.cfg.RateLimitBurst},
		Metrics:   metricsHandler,

		CORSAllowedOrigins: a.cfg.CORSAllowedOrigins,
	}), nil
}

// newAuthenticator prefers OIDC over a shared secret when both are set.
func newAuthenticator(ctx context.Context, ac config.AuthConfig) (*middleware.Authenticator, error) {
	var tokens middleware.TokenValidator
	switch {
	case ac.OIDCIssuerURL != "":
		v, err := middleware.NewOIDCValidator(ctx, ac.OIDCIssuerURL, ac.OIDCAudience)
		if err != nil {
			return nil, err
		}
		tokens = v
	case ac.JWTSecret != "":
		v, err := middleware.NewHS256Validator(ac.JWTSecret)
		if err != nil {
			return nil, err
		}
		tokens = v
	}
	return middleware.NewAuthenticator(tokens, ac.APIKeys), nil
}

// warnPendingConstraints reports constraints dropped by an earlier run that
// never recreated them. The next masking run recreates them.
func warnPendingConstraints(ctx context.Context, repo domain.ConstraintRepository, logger *slog.Logger) {
	pending, err := repo.ListPending(ctx, "")
	if err != nil {
		logger.Warn("list pending constraints failed", "error", err)
		return
	}
	if len(pending) == 0 {
		return
	}
	tables := make([]string, 0, len(pending))
	for _, c := range pending {
		tables = append(tables, c.SinkDataset+":"+c.Table.String())
	}
	logger.Warn("constraints dropped by an earlier run are still pending; the next masking run recreates them",
		"count", len(pending), "tables", tables)
}
