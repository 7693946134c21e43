// Package config defines the service settings and their defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"fleet-ingest/internal/logging"
)

const redactedValue = "********"

// Settings is the full service configuration. It is loaded once at start.
type Settings struct {
	Samsara     SamsaraSettings     `koanf:"samsara" yaml:"samsara"`
	Transporter TransporterSettings `koanf:"transporter" yaml:"transporter"`
	HTTP        HTTPSettings        `koanf:"http" yaml:"http"`
	Pipeline    PipelineSettings    `koanf:"pipeline" yaml:"pipeline"`
	Log         LogSettings         `koanf:"log" yaml:"log"`
}

// SamsaraSettings configures the vehicle stats source.
type SamsaraSettings struct {
	APIToken          string        `koanf:"api_token" yaml:"api_token"`
	BaseURL           string        `koanf:"base_url" yaml:"base_url"`
	StatTypes         []string      `koanf:"stat_types" yaml:"stat_types"`
	RequestsPerSecond float64       `koanf:"requests_per_second" yaml:"requests_per_second"`
	Timeout           time.Duration `koanf:"timeout" yaml:"timeout"`
	MaxRetries        uint64        `koanf:"max_retries" yaml:"max_retries"`
	BreakerFailures   uint32        `koanf:"breaker_failures" yaml:"breaker_failures"`
	BreakerCooldown   time.Duration `koanf:"breaker_cooldown" yaml:"breaker_cooldown"`
}

// TransporterSettings groups destination settings.
type TransporterSettings struct {
	Database DatabaseSettings `koanf:"database" yaml:"database"`
}

// DatabaseSettings configures the PostgreSQL destination.
type DatabaseSettings struct {
	Host            string        `koanf:"host" yaml:"host"`
	Port            uint16        `koanf:"port" yaml:"port"`
	User            string        `koanf:"user" yaml:"user"`
	Password        string        `koanf:"password" yaml:"password"`
	Name            string        `koanf:"name" yaml:"name"`
	ApplicationName string        `koanf:"application_name" yaml:"application_name"`
	Table           string        `koanf:"table" yaml:"table"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout" yaml:"connect_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout" yaml:"write_timeout"`
	EnsureSchema    bool          `koanf:"ensure_schema" yaml:"ensure_schema"`
}

// HTTPSettings configures the loop-mode status server. Port 0 disables it.
type HTTPSettings struct {
	Port int `koanf:"port" yaml:"port"`
}

// PipelineSettings configures buffering and scheduling.
type PipelineSettings struct {
	QueueCapacity int           `koanf:"queue_capacity" yaml:"queue_capacity"`
	Interval      time.Duration `koanf:"interval" yaml:"interval"`
	SpillDir      string        `koanf:"spill_dir" yaml:"spill_dir"`
}

// LogSettings configures the process logger. An empty File disables the log file.
type LogSettings struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
	File   string `koanf:"file" yaml:"file"`
}

// Defaults returns the built-in settings.
func Defaults() *Settings {
	return &Settings{
		Samsara: SamsaraSettings{
			BaseURL:           "https://api.samsara.com",
			StatTypes:         []string{"gps", "engineStates", "obdOdometerMeters"},
			RequestsPerSecond: 5,
			Timeout:           30 * time.Second,
			MaxRetries:        3,
			BreakerFailures:   5,
			BreakerCooldown:   time.Minute,
		},
		Transporter: TransporterSettings{
			Database: DatabaseSettings{
				Host:            "localhost",
				Port:            5432,
				User:            "postgres",
				Name:            "postgres",
				ApplicationName: "fleet-ingest",
				Table:           "vehicle_stats",
				ConnectTimeout:  60 * time.Second,
				WriteTimeout:    10 * time.Second,
			},
		},
		HTTP: HTTPSettings{Port: 8080},
		Pipeline: PipelineSettings{
			QueueCapacity: 1_000_000,
			Interval:      time.Minute,
		},
		Log: LogSettings{
			Level:  "info",
			Format: "console",
			File:   "fleet-ingest.log",
		},
	}
}

// Validate reports every invalid setting at once.
func (s *Settings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Samsara.APIToken) == "" {
		errs = append(errs, errors.New("samsara.api_token is required"))
	}
	if len(s.Samsara.StatTypes) == 0 {
		errs = append(errs, errors.New("samsara.stat_types must not be empty"))
	}
	if s.Samsara.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("samsara.requests_per_second must not be negative"))
	}
	db := s.Transporter.Database
	if db.Host == "" {
		errs = append(errs, errors.New("transporter.database.host is required"))
	}
	if db.Name == "" {
		errs = append(errs, errors.New("transporter.database.name is required"))
	}
	if db.ConnectTimeout <= 0 || db.WriteTimeout <= 0 {
		errs = append(errs, errors.New("transporter.database timeouts must be positive"))
	}
	if s.HTTP.Port < 0 || s.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", s.HTTP.Port))
	}
	if s.Pipeline.QueueCapacity <= 0 {
		errs = append(errs, errors.New("pipeline.queue_capacity must be positive"))
	}
	if s.Pipeline.Interval <= 0 {
		errs = append(errs, errors.New("pipeline.interval must be positive"))
	}
	if _, err := logging.ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy with secrets masked.
func (s *Settings) Redacted() *Settings {
	out := *s
	out.Samsara.StatTypes = append([]string(nil), s.Samsara.StatTypes...)
	if out.Samsara.APIToken != "" {
		out.Samsara.APIToken = redactedValue
	}
	if out.Transporter.Database.Password != "" {
		out.Transporter.Database.Password = redactedValue
	}
	return &out
}

// YAML renders the redacted settings.
func (s *Settings) YAML() ([]byte, error) {
	return yaml.Marshal(s.Redacted())
}
