package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	clearAMGEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.StorageBackend != "memory" {
		t.Errorf("expected default storage backend memory, got %s", cfg.StorageBackend)
	}
	if cfg.AuthDisabled {
		t.Errorf("expected AuthDisabled false by default")
	}
	if cfg.RedisCacheTTL != 30*time.Second {
		t.Errorf("expected default redis cache ttl 30s, got %v", cfg.RedisCacheTTL)
	}
}

func TestLoad_OverridesFromEnv(t *testing.T) {
	clearAMGEnv(t)
	os.Setenv("AMG_PORT", "9090")
	os.Setenv("AMG_STORAGE_BACKEND", "postgres")
	os.Setenv("AMG_AUTH_DISABLED", "true")
	defer clearAMGEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port 9090, got %s", cfg.Port)
	}
	if cfg.StorageBackend != "postgres" {
		t.Errorf("expected storage backend postgres, got %s", cfg.StorageBackend)
	}
	if !cfg.AuthDisabled {
		t.Errorf("expected AuthDisabled true")
	}
}

func TestParseAPIKeys(t *testing.T) {
	keys := parseAPIKeys("key1:agent1,key2:agent2")
	if keys["key1"] != "agent1" || keys["key2"] != "agent2" {
		t.Errorf("unexpected parsed keys: %+v", keys)
	}

	empty := parseAPIKeys("")
	if len(empty) != 0 {
		t.Errorf("expected empty map for empty input, got %+v", empty)
	}

	malformed := parseAPIKeys("key1,key2:agent2")
	if _, ok := malformed["key1"]; ok {
		t.Errorf("malformed entry without agent id should be skipped")
	}
	if malformed["key2"] != "agent2" {
		t.Errorf("well-formed entry should still parse")
	}
}

func clearAMGEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"AMG_PORT", "AMG_ENV", "AMG_AUTH_DISABLED", "AMG_API_KEYS", "AMG_JWT_SECRET",
		"AMG_STORAGE_BACKEND", "AMG_POSTGRES_URL", "AMG_REDIS_URL", "AMG_REDIS_PASSWORD",
		"AMG_REDIS_DB", "AMG_REDIS_CACHE_TTL", "AMG_POLICY_VERSION", "AMG_LOG_LEVEL",
	} {
		os.Unsetenv(key)
	}
}
