package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLoadModelConfigDecodesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	if err := os.WriteFile(path, []byte(`{"num_items": 40, "positional": "rope"}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := loadModelConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.NumItems != 40 || cfg.Positional != "rope" {
		t.Fatalf("unexpected decoded fields: %+v", cfg)
	}
	if cfg.Width != 64 || cfg.Blocks != 2 || cfg.RMax != 0.99 {
		t.Fatalf("expected defaults for unset fields: %+v", cfg)
	}

	if _, err := loadModelConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected error for missing config")
	}
	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`{"width": "wide"}`), 0o644); err != nil {
		t.Fatalf("write bad config: %v", err)
	}
	if _, err := loadModelConfig(bad); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs("[[0,1,2],[3,4,5]]", "", "sequences")
	if err != nil {
		t.Fatalf("parse inline: %v", err)
	}
	if len(ids) != 2 || ids[1][2] != 5 {
		t.Fatalf("unexpected ids: %+v", ids)
	}

	path := filepath.Join(t.TempDir(), "seqs.json")
	if err := os.WriteFile(path, []byte("[[7]]"), 0o644); err != nil {
		t.Fatalf("write sequences: %v", err)
	}
	ids, err = parseIDs("", path, "sequences")
	if err != nil {
		t.Fatalf("parse file: %v", err)
	}
	if len(ids) != 1 || ids[0][0] != 7 {
		t.Fatalf("unexpected ids from file: %+v", ids)
	}

	if _, err := parseIDs("", "", "sequences"); err == nil || !strings.Contains(err.Error(), "--sequences-file") {
		t.Fatalf("expected missing input error, got: %v", err)
	}
	if _, err := parseIDs("[]", "", "labels"); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestSetFlagsReportsOnlyExplicitFlags(t *testing.T) {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	fs.Int("width", 64, "")
	fs.Int("blocks", 2, "")
	if err := fs.Parse([]string{"--width", "8"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	set := setFlags(fs)
	if !set["width"] || set["blocks"] {
		t.Fatalf("unexpected set flags: %+v", set)
	}
}

func TestNewLoggerUsesJSONForNonTerminals(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger("debug", &buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if logger.GetLevel() != logrus.DebugLevel {
		t.Fatalf("unexpected level: %v", logger.GetLevel())
	}
	if _, ok := logger.Formatter.(*logrus.JSONFormatter); !ok {
		t.Fatalf("expected JSON formatter, got %T", logger.Formatter)
	}
	logger.WithField("checkpoint", "abc").Info("saved")
	if !strings.Contains(buf.String(), `"checkpoint":"abc"`) {
		t.Fatalf("unexpected log line: %q", buf.String())
	}

	if _, err := newLogger("loud", &buf); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestDefaultLogLevelReadsEnv(t *testing.T) {
	t.Setenv(logLevelEnv, "warn")
	if got := defaultLogLevel(); got != "warn" {
		t.Fatalf("expected warn, got %s", got)
	}
	t.Setenv(logLevelEnv, "")
	if got := defaultLogLevel(); got != "info" {
		t.Fatalf("expected info, got %s", got)
	}
}

func TestLoadEnvIgnoresMissingFile(t *testing.T) {
	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	workdir := t.TempDir()
	if err := os.Chdir(workdir); err != nil {
		t.Fatalf("chdir tempdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(origWD)
	})

	if err := loadEnv(); err != nil {
		t.Fatalf("load env without file: %v", err)
	}

	t.Setenv("LRUREC_STORE", "")
	if err := os.Unsetenv("LRUREC_STORE"); err != nil {
		t.Fatalf("unsetenv: %v", err)
	}
	if err := os.WriteFile(filepath.Join(workdir, ".env"), []byte("LRUREC_STORE=memory\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	if err := loadEnv(); err != nil {
		t.Fatalf("load env: %v", err)
	}
	if got := os.Getenv("LRUREC_STORE"); got != "memory" {
		t.Fatalf("expected LRUREC_STORE from .env, got %q", got)
	}
}
