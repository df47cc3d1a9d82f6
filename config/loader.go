package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/rustyhorde/barto/barrors"
)

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("barto")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/barto")
	}
	v.SetEnvPrefix("BARTO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: reading config: %v", barrors.ConfigError, err)
	}
	return v, nil
}

// LoadCoordinatorConfig reads the coordinator's TOML config from path
// (or viper's default search path if path is empty), applies BARTO_
// environment overrides, and validates the result.
func LoadCoordinatorConfig(path string) (*CoordinatorConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg := &CoordinatorConfig{
		Actix: ActixConfig{
			Workers: v.GetInt("actix.workers"),
			IP:      v.GetString("actix.ip"),
			Port:    v.GetInt("actix.port"),
		},
		Storage: StorageConfig{
			Host:        v.GetString("mariadb.host"),
			Port:        v.GetInt("mariadb.port"),
			Username:    v.GetString("mariadb.username"),
			Password:    v.GetString("mariadb.password"),
			Database:    v.GetString("mariadb.database"),
			Options:     v.GetString("mariadb.options"),
			OutputTable: v.GetString("mariadb.output_table"),
			StatusTable: v.GetString("mariadb.status_table"),
		},
	}
	if v.IsSet("actix.tls.cert_file_path") {
		cfg.Actix.TLS = &TLSConfig{
			IP:           v.GetString("actix.tls.ip"),
			Port:         v.GetInt("actix.tls.port"),
			CertFilePath: v.GetString("actix.tls.cert_file_path"),
			KeyFilePath:  v.GetString("actix.tls.key_file_path"),
		}
	}

	schedulesRaw, ok := v.Get("schedules").(map[string]any)
	if ok {
		for workerName := range schedulesRaw {
			sub := v.Sub("schedules." + workerName)
			if sub == nil {
				continue
			}
			var rawSchedules []map[string]any
			if err := sub.UnmarshalKey("schedules", &rawSchedules); err != nil {
				return nil, fmt.Errorf("%w: schedules.%s: %v", barrors.ConfigError, workerName, err)
			}
			ws := WorkerSchedules{WorkerName: workerName}
			for _, raw := range rawSchedules {
				sc := ScheduleConfig{
					Name:       toString(raw["name"]),
					OnCalendar: toString(raw["on_calendar"]),
					Parallel:   toBool(raw["parallel"]),
				}
				for _, c := range toSlice(raw["cmds"]) {
					sc.Cmds = append(sc.Cmds, toString(c))
				}
				ws.Schedules = append(ws.Schedules, sc)
			}
			cfg.Schedules = append(cfg.Schedules, ws)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WatchSchedules calls onReload with a freshly loaded and validated config
// whenever the coordinator's config file changes on disk. The caller is
// responsible for atomically swapping the scheduler's active schedule set.
func WatchSchedules(path string, onReload func(*CoordinatorConfig)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: fsnotify: %v", barrors.ConfigError, err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("%w: watching %s: %v", barrors.ConfigError, path, err)
	}
	go func() {
		for event := range watcher.Events {
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadCoordinatorConfig(path)
			if err != nil {
				continue
			}
			onReload(cfg)
		}
	}()
	return watcher, nil
}

// LoadWorkerConfig reads and validates a worker agent's TOML config.
func LoadWorkerConfig(path string) (*WorkerConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg := &WorkerConfig{
		Name: v.GetString("name"),
		Bartos: BartosConfig{
			Prefix: v.GetString("bartos.prefix"),
			Host:   v.GetString("bartos.host"),
			Port:   v.GetInt("bartos.port"),
		},
		RetryCount: v.GetInt("retry_count"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadCLIConfig reads and validates barto-cli's TOML config.
func LoadCLIConfig(path string) (*CLIConfig, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	cfg := &CLIConfig{
		Name: v.GetString("name"),
		Bartos: BartosConfig{
			Prefix: v.GetString("bartos.prefix"),
			Host:   v.GetString("bartos.host"),
			Port:   v.GetInt("bartos.port"),
		},
	}
	if cfg.Bartos.Prefix == "" {
		cfg.Bartos.Prefix = "ws"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func toString(v any) string {
	s, _ := v.(string)
	return s
}

func toBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func toSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
