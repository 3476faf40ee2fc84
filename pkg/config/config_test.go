package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

type sampleConfig struct {
	Model   string        `split_words:"true" required:"true"`
	Timeout time.Duration `split_words:"true" default:"15s"`
}

type validatedConfig struct {
	Zone string `split_words:"true" default:"Mars/Olympus"`
}

var errBadZone = errors.New("bad zone")

func (c validatedConfig) Validate() error {
	if c.Zone == "Mars/Olympus" {
		return errBadZone
	}
	return nil
}

func TestNewProcessesPrefix(t *testing.T) {
	t.Setenv("SAMPLE_MODEL", "gemini-flash")

	conf, err := New[sampleConfig]("SAMPLE")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.Model != "gemini-flash" {
		t.Fatalf("Model = %q, want gemini-flash", conf.Model)
	}
	if conf.Timeout != 15*time.Second {
		t.Fatalf("Timeout = %v, want 15s", conf.Timeout)
	}
}

func TestNewRequiredMissing(t *testing.T) {
	for _, key := range []string{"MISSING_MODEL", "MODEL"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	if _, err := New[sampleConfig]("MISSING"); err == nil {
		t.Fatal("expected error for missing required field")
	}
}

func TestNewRunsValidate(t *testing.T) {
	_, err := New[validatedConfig]("VALIDATED")
	if !errors.Is(err, errBadZone) {
		t.Fatalf("expected errBadZone, got %v", err)
	}

	t.Setenv("VALIDATED_ZONE", "Asia/Jerusalem")
	conf, err := New[validatedConfig]("VALIDATED")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.Zone != "Asia/Jerusalem" {
		t.Fatalf("Zone = %q", conf.Zone)
	}
}

func TestIsSet(t *testing.T) {
	t.Setenv("OPTIONAL_URL", "")
	if IsSet("OPTIONAL") {
		t.Fatal("expected IsSet false for empty values")
	}

	t.Setenv("OPTIONAL_URL", "https://qstash.upstash.io")
	if !IsSet("OPTIONAL") {
		t.Fatal("expected IsSet true")
	}
}

func TestExportEnvironmentKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	content := "EXPORT_TEST_KEEP=from-file\nEXPORT_TEST_NEW=fresh\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}

	t.Setenv("EXPORT_TEST_KEEP", "from-env")
	t.Setenv("EXPORT_TEST_NEW", "")
	os.Unsetenv("EXPORT_TEST_NEW")

	if err := exportEnvironment(path); err != nil {
		t.Fatalf("exportEnvironment() error = %v", err)
	}
	if got := os.Getenv("EXPORT_TEST_KEEP"); got != "from-env" {
		t.Fatalf("EXPORT_TEST_KEEP = %q, want from-env", got)
	}
	if got := os.Getenv("EXPORT_TEST_NEW"); got != "fresh" {
		t.Fatalf("EXPORT_TEST_NEW = %q, want fresh", got)
	}
}
