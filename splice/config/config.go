package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Server struct {
	ListenAddr     string `env:"LISTEN_ADDR, default=0.0.0.0:6556"`
	DBPath         string `env:"DB_PATH, default=splice.db"`
	DataDir        string `env:"DATA_DIR, default=data"`
	Dev            bool   `env:"DEV, default=false"`
	Telemetry      bool   `env:"TELEMETRY, default=false"`
	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES, default=536870912"`
}

type Pipelines struct {
	StepTimeout      string `env:"STEP_TIMEOUT, default=2m"`
	LogDir           string `env:"LOG_DIR, default=data/logs"`
	QueueSize        int    `env:"QUEUE_SIZE, default=32"`
	Workers          int    `env:"WORKERS, default=2"`
	ArtifactCapacity int    `env:"ARTIFACT_CAPACITY, default=10"`
}

// Timeout parses StepTimeout, falling back to fallback when it is
// empty or malformed.
func (p Pipelines) Timeout(fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(p.StepTimeout)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

type Generator struct {
	ApiKey  string `env:"API_KEY"`
	BaseURL string `env:"BASE_URL, default=https://api.openai.com/v1"`
	Model   string `env:"MODEL, default=gpt-4o-mini"`
}

type Config struct {
	Server    Server    `env:",prefix=SPLICE_SERVER_"`
	Pipelines Pipelines `env:",prefix=SPLICE_PIPELINES_"`
	Generator Generator `env:",prefix=SPLICE_GENERATOR_"`
}

func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
