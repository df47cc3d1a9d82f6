package config

import "testing"

func TestCoordinatorConfigValidate(t *testing.T) {
	cfg := &CoordinatorConfig{
		Actix:   ActixConfig{Workers: 4, IP: "0.0.0.0", Port: 8080},
		Storage: StorageConfig{Database: "barto.db"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestCoordinatorConfigRejectsBadPort(t *testing.T) {
	cfg := &CoordinatorConfig{
		Actix:   ActixConfig{Workers: 4, Port: 0},
		Storage: StorageConfig{Database: "barto.db"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port 0")
	}
}

func TestCoordinatorConfigRejectsMissingDatabase(t *testing.T) {
	cfg := &CoordinatorConfig{Actix: ActixConfig{Workers: 1, Port: 8080}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing database")
	}
}

func TestCoordinatorConfigRejectsDuplicateSchedule(t *testing.T) {
	cfg := &CoordinatorConfig{
		Actix:   ActixConfig{Workers: 1, Port: 8080},
		Storage: StorageConfig{Database: "barto.db"},
		Schedules: []WorkerSchedules{
			{
				WorkerName: "alpha",
				Schedules: []ScheduleConfig{
					{Name: "backup", OnCalendar: "daily", Cmds: []string{"echo hi"}},
					{Name: "backup", OnCalendar: "hourly", Cmds: []string{"echo bye"}},
				},
			},
		},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate schedule name")
	}
}

func TestStorageConfigTableNameDefaults(t *testing.T) {
	var s StorageConfig
	if got := s.OutputTableName(); got != "output" {
		t.Errorf("got %q, want output", got)
	}
	if got := s.StatusTableName(); got != "exit_status" {
		t.Errorf("got %q, want exit_status", got)
	}
	s.OutputTable = "output_test"
	s.StatusTable = "exit_status_test"
	if got := s.OutputTableName(); got != "output_test" {
		t.Errorf("got %q, want output_test", got)
	}
	if got := s.StatusTableName(); got != "exit_status_test" {
		t.Errorf("got %q, want exit_status_test", got)
	}
}

func TestWorkerConfigValidate(t *testing.T) {
	cfg := &WorkerConfig{
		Name:   "alpha",
		Bartos: BartosConfig{Prefix: "ws", Host: "coordinator.internal", Port: 8080},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	cfg.Bartos.Prefix = "http"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for bad bartos.prefix")
	}
}

func TestBartosURL(t *testing.T) {
	b := BartosConfig{Prefix: "wss", Host: "example.com", Port: 443}
	if got := b.URL("/ws"); got != "wss://example.com:443/ws" {
		t.Errorf("got %q", got)
	}
}
