package config

import (
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port     int    `env:"PORT" env-default:"8080"`
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	LogJSON  bool   `env:"LOG_JSON" env-default:"false"`

	JWTSecret string `env:"JWT_SECRET" env-required:"true"`

	// DatabaseURL selects the Postgres store; empty keeps records in memory.
	DatabaseURL string `env:"DATABASE_URL"`
	// RedisAddr enables the shared run lock and status events; empty runs single-process.
	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" env-default:"0"`
	RunLockTTL    time.Duration `env:"RUN_LOCK_TTL" env-default:"2m"`

	TierPolicyFile string `env:"TIER_POLICY_FILE"`

	UploadDir      string        `env:"UPLOAD_DIR" env-default:"./uploads"`
	UploadMaxAge   time.Duration `env:"UPLOAD_MAX_AGE" env-default:"24h"`
	SweepInterval  time.Duration `env:"UPLOAD_SWEEP_INTERVAL" env-default:"1h"`
	Workers        int           `env:"PIPELINE_WORKERS" env-default:"4"`
	QueueSize      int           `env:"PIPELINE_QUEUE_SIZE" env-default:"64"`
	ShutdownGrace  time.Duration `env:"SHUTDOWN_GRACE" env-default:"30s"`
	CalendarWindow time.Duration `env:"CALENDAR_TIMEOUT" env-default:"30s"`

	Whisper  Whisper
	LLM      LLM
	Calendar Calendar
	ASR      ASR
	Live     Live
}

type Whisper struct {
	BaseURL string        `env:"WHISPER_BASE_URL" env-default:"https://api.openai.com"`
	APIKey  string        `env:"WHISPER_API_KEY"`
	Model   string        `env:"WHISPER_MODEL" env-default:"whisper-1"`
	Timeout time.Duration `env:"WHISPER_TIMEOUT" env-default:"10m"`
}

type LLM struct {
	BaseURL string        `env:"LLM_BASE_URL" env-default:"https://api.openai.com"`
	APIKey  string        `env:"LLM_API_KEY"`
	Model   string        `env:"LLM_MODEL" env-default:"gpt-4o"`
	Timeout time.Duration `env:"LLM_TIMEOUT" env-default:"2m"`
}

type Calendar struct {
	BaseURL string        `env:"CALENDAR_BASE_URL" env-default:"https://www.googleapis.com/calendar/v3"`
	Timeout time.Duration `env:"CALENDAR_HTTP_TIMEOUT" env-default:"15s"`
}

type ASR struct {
	Address string `env:"ASR_ADDR" env-default:"localhost:50051"`
}

type Live struct {
	AllowDegraded bool          `env:"LIVE_ALLOW_DEGRADED" env-default:"false"`
	MaxInFlight   int           `env:"LIVE_MAX_IN_FLIGHT" env-default:"4"`
	ChunkBacklog  int           `env:"LIVE_CHUNK_BACKLOG" env-default:"16"`
	ChunkTimeout  time.Duration `env:"LIVE_CHUNK_TIMEOUT" env-default:"30s"`
}

func MustLoad() *Config {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("failed to read environment variables: " + err.Error())
	}

	return &cfg
}
