package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
auth:
  admin_username: admin
  admin_password_hash: "$2a$10$abcdefghijklmnopqrstuv"
  jwt_secret: "0123456789abcdef0123456789abcdef"
  encryption_key: "0123456789abcdef0123456789abcdef"
  default_tenant_id: "00000000-0000-0000-0000-000000000001"
database:
  in_memory: true
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("server port = %d, want default 8080", cfg.Server.Port)
	}
	if cfg.Poller.Workers != 12 {
		t.Errorf("workers = %d, want default 12", cfg.Poller.Workers)
	}
	if cfg.Alerting.CPUThresholdPercent != 85 {
		t.Errorf("cpu threshold = %v, want default 85", cfg.Alerting.CPUThresholdPercent)
	}
	if got := cfg.Poller.GetPollTimeout().Milliseconds(); got != 4000 {
		t.Errorf("poll timeout = %dms, want 4000", got)
	}
}

func TestLoadRejectsMissingSecrets(t *testing.T) {
	_, err := Load(writeConfig(t, "database:\n  in_memory: true\n"))
	if err == nil {
		t.Fatal("config without auth secrets accepted")
	}
	if !strings.Contains(err.Error(), "validation") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadRejectsShortEncryptionKey(t *testing.T) {
	bad := strings.Replace(validConfig,
		`encryption_key: "0123456789abcdef0123456789abcdef"`,
		`encryption_key: "tooshort"`, 1)
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatal("short encryption key accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MIKRONOC_DATABASE_HOST", "db.internal")
	t.Setenv("MIKRONOC_LOGGING_LEVEL", "debug")

	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Host != "db.internal" {
		t.Errorf("database host = %q, want env override", cfg.Database.Host)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q, want env override", cfg.Logging.Level)
	}
}

func TestValidateRequiresDBUnlessInMemory(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Database.InMemory = false
	cfg.Database.Host = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing database host accepted without in_memory")
	}
}
