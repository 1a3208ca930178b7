// Package reliability checks that the propagation layer stays balanced and
// observable when callbacks panic, never fire or pile up.
package reliability

import (
	"context"
	"testing"

	"github.com/sethvargo/go-envconfig"
)

// Config scales the reliability runs. Level "stress" enables the long runs.
type Config struct {
	Level        string `env:"SHIMZ_RELIABILITY_LEVEL,default=basic"`
	Transactions int    `env:"SHIMZ_RELIABILITY_TRANSACTIONS,default=200"`
	Depth        int    `env:"SHIMZ_RELIABILITY_DEPTH,default=8"`
}

// Stress reports whether stress runs are enabled.
func (c Config) Stress() bool {
	return c.Level == "stress"
}

func loadConfig(t *testing.T) Config {
	t.Helper()
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		t.Fatalf("reading reliability config: %v", err)
	}
	if cfg.Stress() {
		cfg.Transactions *= 50
	}
	return cfg
}
