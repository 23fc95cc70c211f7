package config

import (
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/jmgilman/go/errors"
	"github.com/joho/godotenv"
)

const envPrefix = "CHARGEBABY_"

type Config struct {
	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"console"`

	NotionBaseURL string `env:"NOTION_BASE_URL" envDefault:"https://api.notion.com/v1"`
	NotionToken   string `env:"NOTION_TOKEN,notEmpty"`
	NotionVersion string `env:"NOTION_VERSION" envDefault:"2022-06-28"`

	ChargeBabyDatabaseID string `env:"DATABASE_ID,notEmpty"`
	ChargerDatabaseID    string `env:"CHARGER_DATABASE_ID"`
	CableDatabaseID      string `env:"CABLE_DATABASE_ID"`

	ListTTL            time.Duration `env:"LIST_TTL" envDefault:"60s"`
	DetailTTL          time.Duration `env:"DETAIL_TTL" envDefault:"300s"`
	ImageTTL           time.Duration `env:"IMAGE_TTL" envDefault:"168h"`
	FetchRetries       int           `env:"FETCH_RETRIES" envDefault:"3"`
	FetchTimeout       time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`
	ImageFetchTimeout  time.Duration `env:"IMAGE_FETCH_TIMEOUT" envDefault:"15s"`
	ImageUpstreamHosts []string      `env:"IMAGE_UPSTREAM_HOSTS" envSeparator:"," envDefault:"prod-files-secure.s3.us-west-2.amazonaws.com,s3.us-west-2.amazonaws.com,file.notion.so,www.notion.so"`

	RedisAddr     string        `env:"REDIS_ADDR"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	LockTTL       time.Duration `env:"LOCK_TTL" envDefault:"45s"`

	S3Endpoint  string `env:"S3_ENDPOINT"`
	S3Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	S3AccessKey string `env:"S3_ACCESS_KEY"`
	S3SecretKey string `env:"S3_SECRET_KEY"`

	PurgeToken string `env:"PURGE_TOKEN"`
}

// RedisEnabled reports whether the purge re-warm gate should use Redis.
func (c Config) RedisEnabled() bool { return c.RedisAddr != "" }

// S3Enabled reports whether s3:// image URLs can be served.
func (c Config) S3Enabled() bool { return c.S3AccessKey != "" && c.S3SecretKey != "" }

// Load reads .env if present, then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return parse(nil)
}

func parse(environment map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      envPrefix,
		Environment: environment,
	}); err != nil {
		return Config{}, errors.Wrap(err, errors.CodeInvalidConfig, "parse environment")
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	positive := []struct {
		name string
		d    time.Duration
	}{
		{"LIST_TTL", c.ListTTL},
		{"DETAIL_TTL", c.DetailTTL},
		{"IMAGE_TTL", c.ImageTTL},
		{"FETCH_TIMEOUT", c.FetchTimeout},
		{"IMAGE_FETCH_TIMEOUT", c.ImageFetchTimeout},
		{"LOCK_TTL", c.LockTTL},
	}
	for _, p := range positive {
		if p.d <= 0 {
			return errors.Newf(errors.CodeInvalidConfig, "%s%s must be positive", envPrefix, p.name)
		}
	}
	if c.FetchRetries <= 0 {
		return errors.Newf(errors.CodeInvalidConfig, "%sFETCH_RETRIES must be positive", envPrefix)
	}
	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		return errors.Newf(errors.CodeInvalidConfig, "%sS3_ACCESS_KEY and %sS3_SECRET_KEY must be set together", envPrefix, envPrefix)
	}
	return nil
}
