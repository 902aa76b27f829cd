package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetEnv_fallback(t *testing.T) {
	t.Setenv("REVIEW_TEST_STRING", "")
	if got := GetEnv("REVIEW_TEST_STRING", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %q", got)
	}
	t.Setenv("REVIEW_TEST_STRING", "set")
	if got := GetEnv("REVIEW_TEST_STRING", "fallback"); got != "set" {
		t.Errorf("expected set, got %q", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("REVIEW_TEST_INT", "12")
	if got := GetEnvInt("REVIEW_TEST_INT", 3); got != 12 {
		t.Errorf("expected 12, got %d", got)
	}
	t.Setenv("REVIEW_TEST_INT", "twelve")
	if got := GetEnvInt("REVIEW_TEST_INT", 3); got != 3 {
		t.Errorf("invalid int should fall back, got %d", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("REVIEW_TEST_DURATION", "250ms")
	if got := GetEnvDuration("REVIEW_TEST_DURATION", time.Second); got != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", got)
	}
	t.Setenv("REVIEW_TEST_DURATION", "soon")
	if got := GetEnvDuration("REVIEW_TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("invalid duration should fall back, got %v", got)
	}
}

func TestGetEnvLocation(t *testing.T) {
	t.Setenv("REVIEW_TEST_TZ", "UTC")
	if got := GetEnvLocation("REVIEW_TEST_TZ", time.Local); got != time.UTC {
		t.Errorf("expected UTC, got %v", got)
	}
	t.Setenv("REVIEW_TEST_TZ", "Nowhere/Special")
	if got := GetEnvLocation("REVIEW_TEST_TZ", time.Local); got != time.Local {
		t.Errorf("unknown zone should fall back, got %v", got)
	}
}

func TestLoad_dotenv_file(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("REVIEW_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("REVIEW_TEST_DOTENV", "")
	os.Unsetenv("REVIEW_TEST_DOTENV")

	if err := Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := GetEnv("REVIEW_TEST_DOTENV", ""); got != "from-file" {
		t.Errorf("expected value from .env, got %q", got)
	}
}

func TestLoad_missing_file(t *testing.T) {
	if err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
		t.Error("expected error for missing file")
	}
}
