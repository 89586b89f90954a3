package config

import (
	"testing"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CREDITS_STORE_PROVIDER", "redis")
	t.Setenv("CREDITS_REDIS_HOST", "localhost")
	t.Setenv("CREDITS_REDIS_PORT", "6379")
	t.Setenv("CREDITS_BUS_PROVIDER", "none")
	t.Setenv("CREDITS_DAILY_ALLOWANCE", "")
	t.Setenv("CREDITS_POSTGRES_HOST", "")
	t.Setenv("CREDITS_API_ENABLED", "")
}

func TestNew_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DailyAllowance != DefaultDailyAllowance {
		t.Errorf("expected allowance %d, got %d", DefaultDailyAllowance, cfg.DailyAllowance)
	}
	if cfg.RedisAddr() != "localhost:6379" {
		t.Errorf("unexpected redis addr %q", cfg.RedisAddr())
	}
	if cfg.AuditEnabled() {
		t.Error("audit should be disabled without CREDITS_POSTGRES_HOST")
	}
	if _, err := cfg.ApiAddr(); err == nil {
		t.Error("expected ApiAddr error when API is disabled")
	}
}

func TestNew_MissingRedis(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CREDITS_REDIS_HOST", "")

	if _, err := New(); err == nil {
		t.Fatal("expected error for missing redis host")
	}
}

func TestNew_MemoryStoreSkipsRedis(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CREDITS_STORE_PROVIDER", "memory")
	t.Setenv("CREDITS_REDIS_HOST", "")

	if _, err := New(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestNew_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"allowance", "CREDITS_DAILY_ALLOWANCE", "0"},
		{"store", "CREDITS_STORE_PROVIDER", "etcd"},
		{"bus", "CREDITS_BUS_PROVIDER", "kafka"},
		{"nats without host", "CREDITS_BUS_PROVIDER", "nats"},
		{"grpc without host", "CREDITS_BUS_PROVIDER", "grpc"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setBaseEnv(t)
			t.Setenv("CREDITS_NATS_HOST", "")
			t.Setenv("CREDITS_GRPC_HOST", "")
			t.Setenv(tc.key, tc.val)
			if _, err := New(); err == nil {
				t.Errorf("expected error for %s=%q", tc.key, tc.val)
			}
		})
	}
}

func TestApiAddr_Enabled(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("CREDITS_API_ENABLED", "true")
	t.Setenv("CREDITS_API_PORT", "8080")

	cfg, err := New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	addr, err := cfg.ApiAddr()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr != ":8080" {
		t.Errorf("expected :8080, got %q", addr)
	}
}

func TestDSN(t *testing.T) {
	cfg := &Config{DBUser: "u", DBPass: "p", DBHost: "h", DBPort: "5432", DBName: "credits", SSLMode: "disable"}
	want := "postgres://u:p@h:5432/credits?sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestInlineAudit(t *testing.T) {
	tests := []struct {
		name   string
		dbHost string
		bus    string
		worker bool
		want   bool
	}{
		{"no audit", "", "none", true, false},
		{"audit without bus", "db", "none", true, true},
		{"audit with nats worker", "db", "nats", true, false},
		{"audit with nats, worker off", "db", "nats", false, true},
		{"audit over grpc", "db", "grpc", true, false},
	}
	for _, tc := range tests {
		cfg := &Config{DBHost: tc.dbHost, BusProvider: tc.bus, WorkerEnabled: tc.worker}
		if got := cfg.InlineAudit(); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}
