package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestValidateAcceptsPartialConfig(t *testing.T) {
	payload := []byte(`{"http-addr": ":9090", "nats-url": "nats://localhost:4222"}`)
	if err := Validate(bytes.NewReader(payload)); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateRejectsUnknownField(t *testing.T) {
	payload := []byte(`{"not-a-real-field": true}`)
	if err := Validate(bytes.NewReader(payload)); err == nil {
		t.Fatal("expected validation error for unknown field, got nil")
	}
}

func TestInitOverridesDefaultsFromFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgPath, []byte(`{"http-addr": ":9191", "db": "./var/custom.db"}`), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	Init(cfgPath)

	if Keys.HTTPAddr != ":9191" {
		t.Fatalf("expected http-addr overridden to :9191, got %q", Keys.HTTPAddr)
	}
	if Keys.DB != "./var/custom.db" {
		t.Fatalf("expected db overridden, got %q", Keys.DB)
	}
	if Keys.NatsURL != "nats://127.0.0.1:4222" {
		t.Fatalf("expected nats-url to keep its default, got %q", Keys.NatsURL)
	}
}

func TestInitToleratesMissingFile(t *testing.T) {
	Keys = ProgramConfig{HTTPAddr: ":8080", NatsURL: "nats://127.0.0.1:4222"}
	Init(filepath.Join(t.TempDir(), "does-not-exist.json"))

	if Keys.HTTPAddr != ":8080" {
		t.Fatalf("expected defaults preserved for missing file, got %q", Keys.HTTPAddr)
	}
}
