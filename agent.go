package shimz

import (
	"fmt"

	sentrygo "github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zoobzio/shimz/report/sentry"
)

// Agent wires the tracer, error routing and method installation together.
type Agent struct {
	RunID     string
	Config    Config
	Logger    *zap.Logger
	Tracer    *Tracer
	Router    *Router
	Installer *Installer
	Table     *Table
	Adapters  *Adapters
	Errors    *ErrorCollector
	Sentry    *sentry.Reporter
}

// NewAgent builds an agent from cfg. Extra tracer options are applied after
// the logger option, so a test clock or OTel tracer can be injected.
func NewAgent(cfg Config, logger *zap.Logger, opts ...Option) (*Agent, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID := uuid.NewString()
	logger = logger.With(zap.String("run_id", runID))

	tracer := New(append([]Option{WithLogger(logger)}, opts...)...)
	if cfg.HandlerWorkers > 0 {
		if err := tracer.EnableWorkerPool(cfg.HandlerWorkers, cfg.HandlerQueueSize); err != nil {
			return nil, fmt.Errorf("enabling worker pool: %w", err)
		}
	}

	a := &Agent{
		RunID:  runID,
		Config: cfg,
		Logger: logger,
		Tracer: tracer,
		Errors: NewErrorCollector("fallback", cfg.ErrorBufferSize, tracer.clock),
	}

	fallback := MultiReporter{a.Errors}
	if cfg.SentryDSN != "" {
		reporter, err := sentry.NewFromOptions(sentrygo.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: cfg.SentryEnvironment,
		}, logger)
		if err != nil {
			a.Errors.Close()
			tracer.Close()
			return nil, fmt.Errorf("creating sentry reporter: %w", err)
		}
		a.Sentry = reporter
		fallback = append(fallback, reporter)
	}

	a.Router = NewRouter(tracer, fallback)
	a.Installer = NewInstaller(logger)
	a.Table = NewTable(a.Installer)
	a.Adapters = NewAdapters(tracer, a.Router,
		WithInstaller(a.Installer),
		WithCaptureParameters(cfg.CaptureParameters),
		WithUnboundedLimitAsOne(cfg.UnboundedLimitAsOne))

	logger.Debug("agent started",
		zap.Bool("capture_parameters", cfg.CaptureParameters),
		zap.Bool("unbounded_limit_as_one", cfg.UnboundedLimitAsOne),
		zap.Bool("sentry", a.Sentry != nil))
	return a, nil
}

// Apply installs every wrapper registered for resource on target. A disabled
// agent installs nothing.
func (a *Agent) Apply(resource string, target any) int {
	if !a.Config.Enabled {
		a.Logger.Debug("agent disabled, skipping", zap.String("resource", resource))
		return 0
	}
	return a.Table.Apply(resource, target)
}

// Close flushes the fallback reporters and stops the tracer.
func (a *Agent) Close() {
	if a.Sentry != nil {
		a.Sentry.Flush(sentry.DefaultFlushTimeout)
	}
	a.Errors.Close()
	a.Tracer.Close()
}
