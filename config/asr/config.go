package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port     int    `env:"PORT" env-default:"50051"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	LogJSON  bool   `env:"LOG_JSON" env-default:"false"`

	Whisper Whisper

	// PruneInterval is how often idle transcripts are dropped; MaxIdle is the idle cutoff.
	PruneInterval time.Duration `env:"ASR_PRUNE_INTERVAL" env-default:"10m"`
	MaxIdle       time.Duration `env:"ASR_MAX_IDLE" env-default:"2h"`
}

type Whisper struct {
	BaseURL string        `env:"WHISPER_BASE_URL" env-default:"https://api.openai.com"`
	APIKey  string        `env:"WHISPER_API_KEY"`
	Model   string        `env:"WHISPER_MODEL" env-default:"whisper-1"`
	Timeout time.Duration `env:"WHISPER_TIMEOUT" env-default:"60s"`
}

func MustLoad() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("failed to read environment variables: " + err.Error())
	}

	return &cfg
}
