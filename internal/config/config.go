package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Logging struct {
		Environment string `yaml:"environment"`
		Level       string `yaml:"level"`
	} `yaml:"logging"`

	Database struct {
		Driver          string        `yaml:"driver"` // sqlite | postgres
		DSN             string        `yaml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns"`
		MaxIdleConns    int           `yaml:"max_idle_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	} `yaml:"database"`

	Storage struct {
		UploadDir string `yaml:"upload_dir"`
		TempDir   string `yaml:"temp_dir"`
	} `yaml:"storage"`

	Limits struct {
		MaxFileSizeMB     int      `yaml:"max_file_size_mb"`
		AllowedExtensions []string `yaml:"allowed_extensions"`
	} `yaml:"limits"`

	Workers struct {
		Count     int `yaml:"count"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"workers"`

	Pipeline struct {
		TranscriptionTimeout time.Duration `yaml:"transcription_timeout"`
		SentimentTimeout     time.Duration `yaml:"sentiment_timeout"`
		EntityTimeout        time.Duration `yaml:"entity_timeout"`
		SummaryTimeout       time.Duration `yaml:"summary_timeout"`
		MaxAttempts          int           `yaml:"max_attempts"`
		RetryDelay           time.Duration `yaml:"retry_delay"`
		KeyPhraseCount       int           `yaml:"key_phrase_count"`
		SummaryMinChars      int           `yaml:"summary_min_chars"`
		LockMode             string        `yaml:"lock_mode"` // local | postgres
	} `yaml:"pipeline"`

	Stages struct {
		Transcription string `yaml:"transcription"` // local | remote
		Sentiment     string `yaml:"sentiment"`
		Entity        string `yaml:"entity"`
		Summary       string `yaml:"summary"`

		Whisper struct {
			Model  string `yaml:"model"`
			Device string `yaml:"device"`
			Python string `yaml:"python"`
		} `yaml:"whisper"`

		Remote struct {
			BaseURL string `yaml:"base_url"`
			APIKey  string `yaml:"api_key"`
		} `yaml:"remote"`
	} `yaml:"stages"`

	Recovery struct {
		Interval       time.Duration `yaml:"interval"`
		StaleAfter     time.Duration `yaml:"stale_after"`
		TempMaxAge     time.Duration `yaml:"temp_max_age"`
		RequeueOnStart bool          `yaml:"requeue_on_start"`
	} `yaml:"recovery"`

	Export struct {
		LocalDir string `yaml:"local_dir"`

		GoogleDrive struct {
			CredentialsFile string `yaml:"credentials_file"`
			TokenFile       string `yaml:"token_file"`
			FolderName      string `yaml:"folder_name"`
		} `yaml:"google_drive"`

		Mongo struct {
			URI        string `yaml:"uri"`
			Database   string `yaml:"database"`
			Collection string `yaml:"collection"`
		} `yaml:"mongo"`
	} `yaml:"export"`
}

// Load reads .env (if present), the YAML file at path, applies defaults and
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional .env

	var cfg Config
	if path != "" {
		file, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(file, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	setInt(&c.Server.Port, 8080)
	setString(&c.Server.Host, "0.0.0.0")

	setString(&c.Logging.Environment, "local")
	setString(&c.Logging.Level, "info")

	setString(&c.Database.Driver, "sqlite")
	setString(&c.Database.DSN, "data/speech_insights.db")

	setString(&c.Storage.UploadDir, "data/audio")
	setString(&c.Storage.TempDir, "temp")

	setInt(&c.Limits.MaxFileSizeMB, 100)
	if len(c.Limits.AllowedExtensions) == 0 {
		c.Limits.AllowedExtensions = []string{"mp3", "wav", "m4a", "flac", "ogg", "webm", "aac"}
	}

	setInt(&c.Workers.Count, 2)
	setInt(&c.Workers.QueueSize, 100)

	setDuration(&c.Pipeline.TranscriptionTimeout, 10*time.Minute)
	setDuration(&c.Pipeline.SentimentTimeout, 2*time.Minute)
	setDuration(&c.Pipeline.EntityTimeout, time.Minute)
	setDuration(&c.Pipeline.SummaryTimeout, 2*time.Minute)
	setInt(&c.Pipeline.KeyPhraseCount, 5)
	setInt(&c.Pipeline.SummaryMinChars, 200)
	setString(&c.Pipeline.LockMode, "local")
	setInt(&c.Pipeline.MaxAttempts, 2)

	setString(&c.Stages.Transcription, "local")
	setString(&c.Stages.Sentiment, "local")
	setString(&c.Stages.Entity, "local")
	setString(&c.Stages.Summary, "local")
	setString(&c.Stages.Whisper.Model, "base")
	setString(&c.Stages.Whisper.Device, "cpu")
	setString(&c.Stages.Whisper.Python, "python")

	setDuration(&c.Recovery.Interval, 5*time.Minute)
	setDuration(&c.Recovery.StaleAfter, 30*time.Minute)
	setDuration(&c.Recovery.TempMaxAge, 24*time.Hour)

	setString(&c.Export.GoogleDrive.FolderName, "Speech Insights")
	setString(&c.Export.Mongo.Database, "speech_insights")
	setString(&c.Export.Mongo.Collection, "analyses")
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	envString(&c.Logging.Environment, "ENVIRONMENT")
	envString(&c.Logging.Level, "LOG_LEVEL")
	envString(&c.Database.Driver, "DATABASE_DRIVER")
	envString(&c.Database.DSN, "DATABASE_DSN")
	envString(&c.Stages.Remote.BaseURL, "MODEL_BASE_URL")
	envString(&c.Stages.Remote.APIKey, "MODEL_API_KEY")
	envString(&c.Export.Mongo.URI, "MONGO_URI")
	if v := os.Getenv("PIPELINE_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Pipeline.MaxAttempts = n
		}
	}
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	switch c.Pipeline.LockMode {
	case "local":
	case "postgres":
		if c.Database.Driver != "postgres" {
			return fmt.Errorf("lock_mode postgres requires the postgres driver")
		}
	default:
		return fmt.Errorf("unknown lock mode %q", c.Pipeline.LockMode)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", c.Pipeline.MaxAttempts)
	}
	for name, backend := range map[string]string{
		"transcription": c.Stages.Transcription,
		"sentiment":     c.Stages.Sentiment,
		"entity":        c.Stages.Entity,
		"summary":       c.Stages.Summary,
	} {
		switch backend {
		case "local":
		case "remote":
			if c.Stages.Remote.BaseURL == "" {
				return fmt.Errorf("stage %s uses remote backend but stages.remote.base_url is empty", name)
			}
		default:
			return fmt.Errorf("unknown backend %q for stage %s", backend, name)
		}
	}
	if c.Workers.Count <= 0 {
		return fmt.Errorf("workers.count must be positive")
	}
	return nil
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setDuration(v *time.Duration, def time.Duration) {
	if *v == 0 {
		*v = def
	}
}

func envString(v *string, key string) {
	if s := os.Getenv(key); s != "" {
		*v = s
	}
}
