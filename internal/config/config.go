package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Dropbox struct {
		Source          string        `split_words:"true" required:"true"`
		Destination     string        `split_words:"true" required:"true"`
		Identifier      string        `split_words:"true" default:"dropbox-exporter"`
		AccessToken     string        `split_words:"true"`
		RefreshToken    string        `split_words:"true"`
		AppKey          string        `split_words:"true"`
		AppSecret       string        `split_words:"true"`
		APIURL          string        `envconfig:"API_URL" default:"https://api.dropboxapi.com"`
		ContentURL      string        `envconfig:"CONTENT_URL" default:"https://content.dropboxapi.com"`
		TokenURL        string        `envconfig:"TOKEN_URL" default:"https://api.dropboxapi.com/oauth2/token"`
		DownloadThreads int           `split_words:"true" default:"4"`
		RefreshBudget   int           `split_words:"true" default:"1"`
		RequestTimeout  time.Duration `split_words:"true" default:"0"`
	}

	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	JobTimeout        time.Duration `envconfig:"JOB_TIMEOUT" default:"0"`
	ExitOnFinish      bool          `envconfig:"EXIT_ON_FINISH" default:"false"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string        `envconfig:"DB_PATH" default:"exports.db"`
	JournalRetention  time.Duration `envconfig:"JOURNAL_RETENTION" default:"0"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	Telemetry struct {
		Enabled      bool   `default:"true"`
		ServiceName  string `split_words:"true" default:"dropbox-exporter"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		Username        string        `split_words:"true"`
		Password        string        `split_words:"true"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig loads the optional dotenv files, then reads environment
// variables and populates the Config struct. Variables already set in the
// environment win over the dotenv files.
func LoadConfig(dotenvFiles ...string) (*Config, error) {
	if len(dotenvFiles) == 0 {
		dotenvFiles = []string{".env"}
	}

	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("error loading %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Dropbox.DownloadThreads < 1 {
		errs = append(errs, fmt.Errorf("DROPBOX_DOWNLOAD_THREADS must be at least 1, got %d", c.Dropbox.DownloadThreads))
	}

	if c.Dropbox.RefreshBudget < 0 {
		errs = append(errs, fmt.Errorf("DROPBOX_REFRESH_BUDGET must not be negative, got %d", c.Dropbox.RefreshBudget))
	}

	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval))
	}

	if c.JobTimeout < 0 {
		errs = append(errs, fmt.Errorf("JOB_TIMEOUT must not be negative, got %s", c.JobTimeout))
	}

	if c.JournalRetention > 0 && c.CleanupInterval <= 0 {
		errs = append(errs, fmt.Errorf("CLEANUP_INTERVAL must be positive when JOURNAL_RETENTION is set, got %s", c.CleanupInterval))
	}

	if c.Dropbox.AccessToken == "" && !c.CanRefresh() {
		errs = append(errs, errors.New("either DROPBOX_ACCESS_TOKEN or DROPBOX_REFRESH_TOKEN with DROPBOX_APP_KEY must be set"))
	}

	if c.Dropbox.RefreshToken != "" && c.Dropbox.AppKey == "" {
		errs = append(errs, errors.New("DROPBOX_APP_KEY is required to use DROPBOX_REFRESH_TOKEN"))
	}

	return errors.Join(errs...)
}

// CanRefresh reports whether expired access tokens can be renewed.
func (c *Config) CanRefresh() bool {
	return c.Dropbox.RefreshToken != "" && c.Dropbox.AppKey != ""
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
