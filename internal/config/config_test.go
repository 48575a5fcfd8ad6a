package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"1gb", 1024 * 1024 * 1024, false},
		{"256mb", 256 * 1024 * 1024, false},
		{"64kb", 64 * 1024, false},
		{"128b", 128, false},
		{"1024", 1024, false},
		{"", 0, true},
		{"not-a-size", 0, true},
	}
	for _, c := range cases {
		got, err := ParseByteSize(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseByteSize(%q): expected error, got %d", c.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseByteSize(%q): unexpected error: %v", c.in, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

const validHubYAML = `
listen:
  address: "0.0.0.0:9847"
tls:
  ca_cert: /tmp/ca.pem
  server_cert: /tmp/server.pem
  server_key: /tmp/server-key.pem
storage:
  db_path: /tmp/hub.db
mns:
  registry_path: /tmp/mns.yaml
`

func TestLoadHubConfig_Defaults(t *testing.T) {
	cfgPath := writeTempConfig(t, validHubYAML)
	cfg, err := LoadHubConfig(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Storage.DefaultQuota != "4mb" {
		t.Errorf("expected default quota '4mb', got %q", cfg.Storage.DefaultQuota)
	}
	if cfg.Storage.DefaultQuotaRaw != 4*1024*1024 {
		t.Errorf("expected default quota raw %d, got %d", 4*1024*1024, cfg.Storage.DefaultQuotaRaw)
	}
	if cfg.Storage.DefaultLease != 240*time.Hour {
		t.Errorf("expected default lease 240h, got %s", cfg.Storage.DefaultLease)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected default logging level 'info', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected default logging format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9849" {
		t.Errorf("expected default metrics listen '127.0.0.1:9849', got %q", cfg.Metrics.Listen)
	}
	if cfg.GC.Schedule != "@every 1m" {
		t.Errorf("expected default GC schedule '@every 1m', got %q", cfg.GC.Schedule)
	}
}

func TestLoadHubConfig_MissingListen(t *testing.T) {
	content := `
tls:
  ca_cert: /tmp/ca.pem
  server_cert: /tmp/server.pem
  server_key: /tmp/server-key.pem
storage:
  db_path: /tmp/hub.db
mns:
  registry_path: /tmp/mns.yaml
`
	cfgPath := writeTempConfig(t, content)
	_, err := LoadHubConfig(cfgPath)
	if err == nil {
		t.Fatal("expected error for empty listen.address")
	}
}

func TestLoadHubConfig_MissingTLS(t *testing.T) {
	content := `
listen:
  address: "0.0.0.0:9847"
storage:
  db_path: /tmp/hub.db
mns:
  registry_path: /tmp/mns.yaml
`
	cfgPath := writeTempConfig(t, content)
	_, err := LoadHubConfig(cfgPath)
	if err == nil {
		t.Fatal("expected error for missing tls paths")
	}
}

func TestLoadHubConfig_ArchiveEnabledRequiresBucket(t *testing.T) {
	content := validHubYAML + `
archive:
  enabled: true
`
	cfgPath := writeTempConfig(t, content)
	_, err := LoadHubConfig(cfgPath)
	if err == nil {
		t.Fatal("expected error for archive.enabled without bucket")
	}
}

func TestLoadHubConfig_ArchiveEnabledWithBucket(t *testing.T) {
	content := validHubYAML + `
archive:
  enabled: true
  bucket: "dimsp-cold"
  region: "us-east-1"
`
	cfgPath := writeTempConfig(t, content)
	cfg, err := LoadHubConfig(cfgPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Archive.Bucket != "dimsp-cold" {
		t.Errorf("expected archive bucket 'dimsp-cold', got %q", cfg.Archive.Bucket)
	}
}

func TestLoadHubConfig_FileNotFound(t *testing.T) {
	_, err := LoadHubConfig("/nonexistent/path/hub.yaml")
	if err == nil {
		t.Fatal("expected error for non-existent file")
	}
}

func TestLoadHubConfig_InvalidYAML(t *testing.T) {
	cfgPath := writeTempConfig(t, "{{invalid yaml}}")
	_, err := LoadHubConfig(cfgPath)
	if err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}
