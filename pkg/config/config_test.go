package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

type envSample struct {
	Name    string        `split_words:"true" required:"true"`
	Retries int           `split_words:"true" default:"3"`
	Timeout time.Duration `split_words:"true" default:"5s"`
}

func TestNewReadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CFGTEST_NAME=harness\nCFGTEST_RETRIES=7\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	SetEnvFile(path)
	t.Cleanup(func() {
		SetEnvFile("")
		os.Unsetenv("CFGTEST_NAME")
		os.Unsetenv("CFGTEST_RETRIES")
	})

	conf, err := New[envSample]("CFGTEST")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.Name != "harness" {
		t.Fatalf("Name = %q, want harness", conf.Name)
	}
	if conf.Retries != 7 {
		t.Fatalf("Retries = %d, want 7", conf.Retries)
	}
	if conf.Timeout != 5*time.Second {
		t.Fatalf("Timeout = %s, want 5s", conf.Timeout)
	}
}

func TestNewEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	if err := os.WriteFile(path, []byte("CFGOVR_NAME=from-file\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	t.Setenv("CFGOVR_NAME", "from-env")

	SetEnvFile(path)
	t.Cleanup(func() { SetEnvFile("") })

	conf, err := New[envSample]("CFGOVR")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if conf.Name != "from-env" {
		t.Fatalf("Name = %q, want from-env", conf.Name)
	}
}

func TestNewMissingRequired(t *testing.T) {
	if _, err := New[envSample]("CFGMISSING"); err == nil {
		t.Fatal("New() error = nil, want required field error")
	}
}

type fileSample struct {
	Name     string        `mapstructure:"name"`
	Delay    time.Duration `mapstructure:"delay"`
	Personas []struct {
		Name string `mapstructure:"name"`
	} `mapstructure:"personas"`
}

func TestLoadFileYAML(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "experiment.yaml")
	doc := "name: sweep\ndelay: 250ms\npersonas:\n  - name: polite\n  - name: pushy\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	conf, err := LoadFile[fileSample](path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if conf.Name != "sweep" || conf.Delay != 250*time.Millisecond {
		t.Fatalf("conf = %+v", conf)
	}
	if len(conf.Personas) != 2 || conf.Personas[1].Name != "pushy" {
		t.Fatalf("personas = %+v", conf.Personas)
	}
}

func TestLoadFileMissing(t *testing.T) {
	t.Parallel()

	if _, err := LoadFile[fileSample](filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadFile() error = nil, want error")
	}
	if _, err := LoadFile[fileSample](" "); err == nil {
		t.Fatal("LoadFile() error = nil for empty path")
	}
}

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	type item struct {
		Name string   `mapstructure:"name"`
		Tags []string `mapstructure:"tags"`
	}
	type doc struct {
		Items []item `mapstructure:"items"`
	}

	got, err := Decode[doc]("yaml", []byte("items:\n  - name: a\n    tags: [x, y]\n  - name: b\n"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(got.Items) != 2 || got.Items[0].Name != "a" || len(got.Items[0].Tags) != 2 {
		t.Fatalf("Decode() = %+v", got)
	}

	if _, err := Decode[doc]("yaml", []byte("items: [unclosed")); err == nil {
		t.Fatal("Decode() error = nil for invalid yaml")
	}
}
