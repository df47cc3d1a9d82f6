// Package config loads and validates the plain aggregate configuration
// records consumed by the coordinator, worker, and CLI binaries. Loading
// itself (TOML parsing, BARTO_-prefixed environment overrides, file
// watching) is delegated to spf13/viper and fsnotify; this package's own
// job is to decode the loaded values into validated structs once rather
// than build them up incrementally.
package config

import (
	"fmt"

	"github.com/rustyhorde/barto/barrors"
)

// TLSConfig is optional; present only when actix.tls.* is set.
type TLSConfig struct {
	IP           string
	Port         int
	CertFilePath string
	KeyFilePath  string
}

// ActixConfig names the coordinator's listen address. The section name
// carries the predecessor project's naming for the HTTP/websocket server
// layer forward.
type ActixConfig struct {
	Workers int
	IP      string
	Port    int
	TLS     *TLSConfig
}

// StorageConfig configures the durable sink. Section name `mariadb` is kept
// from the predecessor project's configuration namespace even though the
// compiled driver is sqlite3; Host/Port/Username/Password are ignored
// by the sqlite3-backed sink and only Database (a filesystem path) and the
// two table-name pairs are consumed.
type StorageConfig struct {
	Host        string
	Port        int
	Username    string
	Password    string
	Database    string
	Options     string
	OutputTable string
	StatusTable string
}

func (s StorageConfig) outputTableName() string {
	if s.OutputTable != "" {
		return s.OutputTable
	}
	return "output"
}

func (s StorageConfig) statusTableName() string {
	if s.StatusTable != "" {
		return s.StatusTable
	}
	return "exit_status"
}

// OutputTableName returns the resolved "output"/"output_test" table name, a
// selection made once here rather than toggled at runtime.
func (s StorageConfig) OutputTableName() string { return s.outputTableName() }

// StatusTableName returns the resolved "exit_status"/"exit_status_test" table name.
func (s StorageConfig) StatusTableName() string { return s.statusTableName() }

// ScheduleConfig is one entry of schedules.<worker_name>.schedules[].
type ScheduleConfig struct {
	Name       string
	OnCalendar string
	Cmds       []string
	Parallel   bool
}

// WorkerSchedules groups the schedules configured for one worker name.
type WorkerSchedules struct {
	WorkerName string
	Schedules  []ScheduleConfig
}

// CoordinatorConfig is the coordinator's fully validated configuration.
type CoordinatorConfig struct {
	Actix     ActixConfig
	Storage   StorageConfig
	Schedules []WorkerSchedules
}

// Validate checks required fields and domain constraints. It is called once
// after decoding, never incrementally during construction.
func (c *CoordinatorConfig) Validate() error {
	if c.Actix.Port <= 0 || c.Actix.Port > 65535 {
		return fmt.Errorf("%w: actix.port must be in (0,65535], got %d", barrors.ConfigError, c.Actix.Port)
	}
	if c.Actix.Workers <= 0 {
		return fmt.Errorf("%w: actix.workers must be > 0", barrors.ConfigError)
	}
	if c.Actix.TLS != nil {
		if c.Actix.TLS.CertFilePath == "" || c.Actix.TLS.KeyFilePath == "" {
			return fmt.Errorf("%w: actix.tls requires cert_file_path and key_file_path", barrors.ConfigError)
		}
	}
	if c.Storage.Database == "" {
		return fmt.Errorf("%w: mariadb.database is required", barrors.ConfigError)
	}
	seen := map[string]bool{}
	for _, ws := range c.Schedules {
		if ws.WorkerName == "" {
			return fmt.Errorf("%w: schedules entry missing worker name", barrors.ConfigError)
		}
		for _, s := range ws.Schedules {
			if s.Name == "" {
				return fmt.Errorf("%w: schedule for worker %q missing name", barrors.ConfigError, ws.WorkerName)
			}
			key := ws.WorkerName + "/" + s.Name
			if seen[key] {
				return fmt.Errorf("%w: duplicate schedule %q", barrors.ConfigError, key)
			}
			seen[key] = true
			if s.OnCalendar == "" {
				return fmt.Errorf("%w: schedule %q missing on_calendar", barrors.ConfigError, key)
			}
			if len(s.Cmds) == 0 {
				return fmt.Errorf("%w: schedule %q has no cmds", barrors.ConfigError, key)
			}
		}
	}
	return nil
}

// BartosConfig is the websocket endpoint a worker or CLI dials.
type BartosConfig struct {
	Prefix string // "ws" or "wss"
	Host   string
	Port   int
}

func (b BartosConfig) URL(path string) string {
	return fmt.Sprintf("%s://%s:%d%s", b.Prefix, b.Host, b.Port, path)
}

// WorkerConfig is a worker agent's fully validated configuration.
type WorkerConfig struct {
	Name       string
	Bartos     BartosConfig
	RetryCount int // 0 means unlimited
}

func (c *WorkerConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", barrors.ConfigError)
	}
	if c.Bartos.Prefix != "ws" && c.Bartos.Prefix != "wss" {
		return fmt.Errorf("%w: bartos.prefix must be ws or wss, got %q", barrors.ConfigError, c.Bartos.Prefix)
	}
	if c.Bartos.Host == "" {
		return fmt.Errorf("%w: bartos.host is required", barrors.ConfigError)
	}
	if c.Bartos.Port <= 0 {
		return fmt.Errorf("%w: bartos.port must be > 0", barrors.ConfigError)
	}
	return nil
}

// CLIConfig is barto-cli's fully validated configuration.
type CLIConfig struct {
	Name   string
	Bartos BartosConfig
}

func (c *CLIConfig) Validate() error {
	if c.Bartos.Host == "" {
		return fmt.Errorf("%w: bartos.host is required", barrors.ConfigError)
	}
	if c.Bartos.Port <= 0 {
		return fmt.Errorf("%w: bartos.port must be > 0", barrors.ConfigError)
	}
	return nil
}
