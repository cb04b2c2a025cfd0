// Package config loads and validates the analyzer configuration from the
// environment. The loaded Config is passed explicitly to every constructor;
// nothing in this package is a process-wide singleton.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/jamzercise/lidify-fork/pkgs/utils"
)

// Queue and topic names shared with the main application. Overridable via
// environment, but the defaults are the wire contract.
const (
	DefaultAnalysisQueue  = "audio:analysis:queue"
	DefaultRequestTopic   = "audio:text:embed"
	DefaultResponsePrefix = "audio:text:embed:response:"
	DefaultModelVersion   = "laion-clap-music-v1"
)

const (
	DriverRedis = "redis"
	DriverNATS  = "nats"
)

type Config struct {
	Name     string         `json:"name"     validate:"required"`
	Mode     string         `json:"mode"     validate:"oneof=dev prod test"`
	Broker   BrokerConfig   `json:"broker"`
	Postgres PostgresConfig `json:"postgres"`
	CLAP     CLAPConfig     `json:"clap"`
	Worker   WorkerConfig   `json:"worker"`
	Otel     OtelConfig     `json:"otel"`
}

type BrokerConfig struct {
	Driver         string `json:"driver"          validate:"oneof=redis nats"`
	RedisURL       string `json:"redis_url"       validate:"required_if=Driver redis"`
	NatsURL        string `json:"nats_url"        validate:"required_if=Driver nats"`
	Stream         string `json:"stream"          validate:"required_if=Driver nats"`
	Queue          string `json:"queue"           validate:"required"`
	RequestTopic   string `json:"request_topic"   validate:"required"`
	ResponsePrefix string `json:"response_prefix" validate:"required"`
}

type PostgresConfig struct {
	URL string `json:"url" validate:"required"`
}

type CLAPConfig struct {
	RuntimeURL     string        `json:"runtime_url"   validate:"required,url"`
	ModelVersion   string        `json:"model_version" validate:"required"`
	Threads        int           `json:"threads"       validate:"min=1"`
	LoadTimeout    time.Duration `json:"load_timeout"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

type WorkerConfig struct {
	MusicPath        string        `json:"music_path" validate:"required"`
	Workers          int           `json:"workers"    validate:"min=1"`
	PollTimeout      time.Duration `json:"poll_timeout"`
	ShutdownWaitTime time.Duration `json:"shutdown_wait_time"`
	HealthCheckHost  string        `json:"health_check_host"`
	HealthCheckPort  int           `json:"health_check_port" validate:"min=0,max=65535"`
}

type OtelConfig struct {
	ServiceName       string `json:"service_name"`
	CollectorEndpoint string `json:"collector_endpoint"`
	Insecure          bool   `json:"insecure"`
}

// Load reads the configuration from the environment, optionally merged with
// a dotenv file. envFile may be empty.
func Load(envFile string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read env file %s: %w", envFile, err)
			}
		}
	}

	v.SetDefault("SERVICE_NAME", "clap-analyzer")
	v.SetDefault("MODE", "dev")

	v.SetDefault("BROKER_DRIVER", DriverRedis)
	v.SetDefault("REDIS_URL", "redis://localhost:6379/0")
	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NATS_STREAM", "AUDIO_ANALYSIS")
	v.SetDefault("ANALYSIS_QUEUE", DefaultAnalysisQueue)
	v.SetDefault("TEXT_EMBED_CHANNEL", DefaultRequestTopic)
	v.SetDefault("TEXT_EMBED_RESPONSE_PREFIX", DefaultResponsePrefix)

	v.SetDefault("CLAP_RUNTIME_URL", "http://localhost:8600")
	v.SetDefault("MODEL_VERSION", DefaultModelVersion)
	v.SetDefault("THREADS_PER_WORKER", 2)
	v.SetDefault("CLAP_LOAD_TIMEOUT", "5m")
	v.SetDefault("CLAP_REQUEST_TIMEOUT", "60s")

	v.SetDefault("MUSIC_PATH", "/music")
	v.SetDefault("NUM_WORKERS", 2)
	// Legacy knobs take plain seconds, not duration strings.
	v.SetDefault("SLEEP_INTERVAL", 5)
	v.SetDefault("SHUTDOWN_WAIT_TIME", 10)
	v.SetDefault("HEALTH_CHECK_HOST", "")
	v.SetDefault("HEALTH_CHECK_PORT", 8081)

	v.SetDefault("OTEL_SERVICE_NAME", "clap-analyzer")
	v.SetDefault("OTEL_COLLECTOR_ENDPOINT", "")
	v.SetDefault("OTEL_INSECURE", true)

	cfg := &Config{
		Name: v.GetString("SERVICE_NAME"),
		Mode: v.GetString("MODE"),
		Broker: BrokerConfig{
			Driver:         v.GetString("BROKER_DRIVER"),
			RedisURL:       v.GetString("REDIS_URL"),
			NatsURL:        v.GetString("NATS_URL"),
			Stream:         v.GetString("NATS_STREAM"),
			Queue:          v.GetString("ANALYSIS_QUEUE"),
			RequestTopic:   v.GetString("TEXT_EMBED_CHANNEL"),
			ResponsePrefix: v.GetString("TEXT_EMBED_RESPONSE_PREFIX"),
		},
		Postgres: PostgresConfig{
			URL: v.GetString("DATABASE_URL"),
		},
		CLAP: CLAPConfig{
			RuntimeURL:     v.GetString("CLAP_RUNTIME_URL"),
			ModelVersion:   v.GetString("MODEL_VERSION"),
			Threads:        v.GetInt("THREADS_PER_WORKER"),
			LoadTimeout:    v.GetDuration("CLAP_LOAD_TIMEOUT"),
			RequestTimeout: v.GetDuration("CLAP_REQUEST_TIMEOUT"),
		},
		Worker: WorkerConfig{
			MusicPath:        v.GetString("MUSIC_PATH"),
			Workers:          v.GetInt("NUM_WORKERS"),
			PollTimeout:      time.Duration(v.GetInt("SLEEP_INTERVAL")) * time.Second,
			ShutdownWaitTime: time.Duration(v.GetInt("SHUTDOWN_WAIT_TIME")) * time.Second,
			HealthCheckHost:  v.GetString("HEALTH_CHECK_HOST"),
			HealthCheckPort:  v.GetInt("HEALTH_CHECK_PORT"),
		},
		Otel: OtelConfig{
			ServiceName:       v.GetString("OTEL_SERVICE_NAME"),
			CollectorEndpoint: v.GetString("OTEL_COLLECTOR_ENDPOINT"),
			Insecure:          v.GetBool("OTEL_INSECURE"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Worker.PollTimeout <= 0 {
		return fmt.Errorf("invalid configuration: SLEEP_INTERVAL must be positive")
	}
	if c.Worker.ShutdownWaitTime <= 0 {
		return fmt.Errorf("invalid configuration: SHUTDOWN_WAIT_TIME must be positive")
	}
	return nil
}

// MarshalJSON masks credentials embedded in connection URLs so a Config can
// be logged as-is.
func (c Config) MarshalJSON() ([]byte, error) {
	type Alias Config
	masked := Alias(c)
	masked.Broker.RedisURL = MaskURL(c.Broker.RedisURL)
	masked.Broker.NatsURL = MaskURL(c.Broker.NatsURL)
	masked.Postgres.URL = MaskURL(c.Postgres.URL)
	return json.Marshal(masked)
}

func (c Config) String() string {
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("Config{Name: %s, Mode: %s}", c.Name, c.Mode)
	}
	return string(b)
}

// MaskURL replaces the password portion of a connection URL. Unparseable
// input is masked whole rather than leaked.
func MaskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return utils.Mask(raw)
	}
	if u.User == nil {
		return raw
	}
	pwd, ok := u.User.Password()
	if !ok {
		return raw
	}

	// Rebuilt by hand: url.String would percent-encode the mask runes.
	rest := u.Host + u.Path
	if u.RawQuery != "" {
		rest += "?" + u.RawQuery
	}
	return fmt.Sprintf("%s://%s:%s@%s", u.Scheme, u.User.Username(), utils.Mask(pwd), rest)
}

// NewLogger builds the base logger for the service. Components derive child
// loggers from it with their own fields.
func NewLogger(mode string) zerolog.Logger {
	logger := log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	logger = logger.Level(utils.IfElse(
		mode == "dev",
		zerolog.DebugLevel,
		zerolog.InfoLevel))

	logger.Info().
		Str("mode", mode).
		Str("log_level", logger.GetLevel().String()).
		Msg("Base Logger Initialized")
	return logger
}
