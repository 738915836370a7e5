package config

import (
	"os"
	"path/filepath"
	"testing"
)

func validConfig() Config {
	return Config{
		HTTP: HTTPConfig{Port: 8080},
		Database: DatabaseConfig{
			Addrs: []string{"localhost:6379"},
		},
		Clustering: ClusteringConfig{MaxClusterSize: 20},
	}
}

func TestValidate_InvalidDriver(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Driver = "postgres"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid driver")
	}

	expected := `database.driver must be "valkey" or "redis", got "postgres"`
	if err.Error() != expected {
		t.Errorf("unexpected error message:\ngot:  %q\nwant: %q", err.Error(), expected)
	}
}

func TestValidate_ValidDrivers(t *testing.T) {
	for _, driver := range []string{"", "valkey", "redis"} {
		t.Run("driver="+driver, func(t *testing.T) {
			cfg := validConfig()
			cfg.Database.Driver = driver
			if err := cfg.Validate(); err != nil {
				t.Fatalf("unexpected error for valid driver %q: %v", driver, err)
			}
		})
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := validConfig()
	cfg.HTTP.Port = 0

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for invalid port")
	}
}

func TestValidate_MissingValkeyAddrs(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Addrs = []string{}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing valkey addrs")
	}
}

func TestValidate_MaxClusterSize(t *testing.T) {
	cfg := validConfig()
	cfg.Clustering.MaxClusterSize = 1

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for max_cluster_size < 2")
	}
}

func TestValidate_LayerNames(t *testing.T) {
	tests := []struct {
		name    string
		layer   string
		wantErr bool
	}{
		{"simple", "pois", false},
		{"dashes", "city-bikes_2024", false},
		{"empty", "", true},
		{"leading dash", "-pois", true},
		{"colon", "a:b", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Layers = []string{tt.layer}
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("wantErr=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 10 {
		t.Errorf("expected ReadTimeoutSec=10, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 30 {
		t.Errorf("expected WriteTimeoutSec=30, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.HTTP.ShutdownSec != 10 {
		t.Errorf("expected ShutdownSec=10, got %d", cfg.HTTP.ShutdownSec)
	}
	if cfg.Database.Driver != "valkey" {
		t.Errorf("expected Driver=valkey, got %q", cfg.Database.Driver)
	}
	if cfg.Database.ReadinessTimeout != 10 {
		t.Errorf("expected ReadinessTimeout=10, got %d", cfg.Database.ReadinessTimeout)
	}
	if cfg.Clustering.MarkerPx != 20 {
		t.Errorf("expected MarkerPx=20, got %f", cfg.Clustering.MarkerPx)
	}
	if cfg.Clustering.MaxClusterSize != 20 {
		t.Errorf("expected MaxClusterSize=20, got %d", cfg.Clustering.MaxClusterSize)
	}
	if cfg.Clustering.MaxRestarts != 64 {
		t.Errorf("expected MaxRestarts=64, got %d", cfg.Clustering.MaxRestarts)
	}
	if cfg.Viewport.MaxSessions != 1000 {
		t.Errorf("expected MaxSessions=1000, got %d", cfg.Viewport.MaxSessions)
	}
	if cfg.Viewport.SessionTTLSec != 1800 {
		t.Errorf("expected SessionTTLSec=1800, got %d", cfg.Viewport.SessionTTLSec)
	}
	if cfg.Viewport.MaxBatchSize != 1000 {
		t.Errorf("expected MaxBatchSize=1000, got %d", cfg.Viewport.MaxBatchSize)
	}
	if cfg.Storage.KeyPrefix != "mapcluster:" {
		t.Errorf("expected KeyPrefix='mapcluster:', got %q", cfg.Storage.KeyPrefix)
	}
}

func TestApplyDefaults_NoOverride(t *testing.T) {
	cfg := Config{
		HTTP:       HTTPConfig{ReadTimeoutSec: 30, WriteTimeoutSec: 60, ShutdownSec: 5},
		Database:   DatabaseConfig{Driver: "redis", ReadinessTimeout: 15},
		Clustering: ClusteringConfig{MarkerPx: 32, MaxClusterSize: 10},
		Viewport:   ViewportConfig{MaxSessions: 5},
		Storage:    StorageConfig{KeyPrefix: "custom:"},
	}
	cfg.ApplyDefaults()

	if cfg.HTTP.ReadTimeoutSec != 30 {
		t.Errorf("expected ReadTimeoutSec=30, got %d", cfg.HTTP.ReadTimeoutSec)
	}
	if cfg.HTTP.WriteTimeoutSec != 60 {
		t.Errorf("expected WriteTimeoutSec=60, got %d", cfg.HTTP.WriteTimeoutSec)
	}
	if cfg.Database.Driver != "redis" {
		t.Errorf("expected Driver=redis, got %q", cfg.Database.Driver)
	}
	if cfg.Clustering.MarkerPx != 32 || cfg.Clustering.MaxClusterSize != 10 {
		t.Errorf("clustering overridden: %+v", cfg.Clustering)
	}
	if cfg.Viewport.MaxSessions != 5 {
		t.Errorf("expected MaxSessions=5, got %d", cfg.Viewport.MaxSessions)
	}
	if cfg.Storage.KeyPrefix != "custom:" {
		t.Errorf("expected KeyPrefix='custom:', got %q", cfg.Storage.KeyPrefix)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("MAPCLUSTER_TEST_PORT", "9191")

	got := string(expandEnvVars([]byte("port: ${MAPCLUSTER_TEST_PORT}\nhost: ${MAPCLUSTER_TEST_MISSING:-localhost}\nempty: ${MAPCLUSTER_TEST_MISSING}")))
	want := "port: 9191\nhost: localhost\nempty: "
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLoad_FromConfigDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "config"), 0o750); err != nil {
		t.Fatal(err)
	}
	yaml := `
http:
  port: ${MAPCLUSTER_TEST_HTTP_PORT:-8181}
database:
  driver: redis
  addrs: ["localhost:6379"]
clustering:
  seed: 7
layers: [pois, bikes]
`
	if err := os.WriteFile(filepath.Join(dir, "config", "unittest.yaml"), []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Chdir(dir)

	cfg, err := Load("unittest")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTP.Port != 8181 {
		t.Errorf("expected port 8181, got %d", cfg.HTTP.Port)
	}
	if cfg.Clustering.Seed != 7 || cfg.Clustering.MaxClusterSize != 20 {
		t.Errorf("unexpected clustering config %+v", cfg.Clustering)
	}
	if len(cfg.Layers) != 2 || cfg.Layers[1] != "bikes" {
		t.Errorf("unexpected layers %v", cfg.Layers)
	}
}
