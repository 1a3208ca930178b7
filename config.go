package shimz

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

// Config is the agent configuration, read from SHIMZ_* environment variables.
type Config struct {
	Enabled             bool   `env:"SHIMZ_ENABLED,default=true"`
	LogLevel            string `env:"SHIMZ_LOG_LEVEL,default=info"`
	LogFormat           string `env:"SHIMZ_LOG_FORMAT,default=json"`
	CaptureParameters   bool   `env:"SHIMZ_CAPTURE_PARAMETERS,default=false"`
	UnboundedLimitAsOne bool   `env:"SHIMZ_UNBOUNDED_LIMIT_AS_ONE,default=true"`
	ErrorBufferSize     int    `env:"SHIMZ_ERROR_BUFFER_SIZE,default=1000"`
	HandlerWorkers      int    `env:"SHIMZ_HANDLER_WORKERS,default=0"`
	HandlerQueueSize    int    `env:"SHIMZ_HANDLER_QUEUE_SIZE,default=1000"`
	MetricsNamespace    string `env:"SHIMZ_METRICS_NAMESPACE,default=shimz"`
	SentryDSN           string `env:"SHIMZ_SENTRY_DSN"`
	SentryEnvironment   string `env:"SHIMZ_SENTRY_ENVIRONMENT"`
}

// LoadConfig reads the configuration from the process environment.
func LoadConfig(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, fmt.Errorf("processing config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFrom reads the configuration from env instead of the process
// environment.
func LoadConfigFrom(ctx context.Context, env map[string]string) (Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: envconfig.MapLookuper(env),
	}); err != nil {
		return Config{}, fmt.Errorf("processing config: %w", err)
	}
	return cfg, nil
}
