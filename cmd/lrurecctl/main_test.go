package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lrurec/internal/head"
	"lrurec/internal/stats"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	origOut, origLog := out, logOutput
	out, logOutput = buf, io.Discard
	t.Cleanup(func() {
		out, logOutput = origOut, origLog
	})
	return buf
}

func runOK(t *testing.T, buf *bytes.Buffer, args ...string) string {
	t.Helper()
	buf.Reset()
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("%s: %v", args[0], err)
	}
	return buf.String()
}

func TestRunRequiresCommand(t *testing.T) {
	if err := run(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("expected usage error, got: %v", err)
	}
	if err := run(context.Background(), []string{"train"}); err == nil || !strings.Contains(err.Error(), "unknown command: train") {
		t.Fatalf("expected unknown command error, got: %v", err)
	}
}

func TestRunCommandLevelDBLifecycle(t *testing.T) {
	buf := captureOutput(t)
	workdir := t.TempDir()
	dbPath := filepath.Join(workdir, "ckpt.ldb")
	store := []string{"--store", "leveldb", "--db-path", dbPath}

	runOK(t, buf, append([]string{"init"}, store...)...)

	created := runOK(t, buf, append([]string{"create",
		"--num-items", "12",
		"--width", "6",
		"--blocks", "1",
		"--seed", "5",
		"--label", "cli",
	}, store...)...)
	if !strings.HasPrefix(created, "created checkpoint=") {
		t.Fatalf("unexpected create output: %q", created)
	}

	listed := runOK(t, buf, append([]string{"checkpoints"}, store...)...)
	if !strings.Contains(listed, "ID") || !strings.Contains(listed, "cli") {
		t.Fatalf("unexpected checkpoint listing: %q", listed)
	}

	recOut := runOK(t, buf, append([]string{"recommend",
		"--latest",
		"--sequences", "[[0,1,2,3]]",
		"--k", "4",
		"--exclude-seen",
		"--json",
	}, store...)...)
	var recs [][]head.Ranked
	if err := json.Unmarshal([]byte(recOut), &recs); err != nil {
		t.Fatalf("decode recommendations: %v", err)
	}
	if len(recs) != 1 || len(recs[0]) != 4 {
		t.Fatalf("unexpected recommendations: %+v", recs)
	}
	for _, r := range recs[0] {
		if r.Item < 4 || r.Item > 12 {
			t.Fatalf("recommended seen or invalid item %d", r.Item)
		}
	}

	inspected := runOK(t, buf, append([]string{"inspect", "--latest"}, store...)...)
	if !strings.Contains(inspected, "unstable=0") {
		t.Fatalf("unexpected inspect output: %q", inspected)
	}

	reprojected := runOK(t, buf, append([]string{"reproject", "--latest", "--max-modulus", "0.9"}, store...)...)
	if !strings.HasPrefix(reprojected, "reprojected checkpoint=") {
		t.Fatalf("unexpected reproject output: %q", reprojected)
	}
	inspected = runOK(t, buf, append([]string{"inspect", "--latest", "--json"}, store...)...)
	var report struct {
		Stability []struct {
			MaxModulus float64 `json:"max_modulus"`
		}
	}
	if err := json.Unmarshal([]byte(inspected), &report); err != nil {
		t.Fatalf("decode inspect: %v", err)
	}
	if len(report.Stability) != 1 || report.Stability[0].MaxModulus > 0.9+1e-12 {
		t.Fatalf("expected moduli clamped to 0.9: %+v", report)
	}

	exportDir := filepath.Join(workdir, "exports")
	exported := runOK(t, buf, append([]string{"export", "--latest", "--out", exportDir}, store...)...)
	dir := strings.TrimSpace(strings.TrimPrefix(exported, "exported checkpoint to="))
	rows, ok, err := stats.ReadStabilityCSV(dir)
	if err != nil || !ok {
		t.Fatalf("read exported stability: ok=%v err=%v", ok, err)
	}
	if len(rows) != 6 {
		t.Fatalf("expected one stability row per channel, got %d", len(rows))
	}

	runOK(t, buf, append([]string{"delete", "--latest"}, store...)...)
	listed = runOK(t, buf, append([]string{"checkpoints"}, store...)...)
	if !strings.Contains(listed, "no checkpoints found") {
		t.Fatalf("expected empty listing, got %q", listed)
	}
}

func TestRunCreateConfigWithFlagOverrides(t *testing.T) {
	buf := captureOutput(t)
	workdir := t.TempDir()
	configPath := filepath.Join(workdir, "model.json")
	payload := map[string]any{
		"num_items": 9,
		"width":     4,
		"blocks":    3,
		"head":      "sampled",
		"negatives": 3,
		"seed":      21,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	store := []string{"--store", "leveldb", "--db-path", filepath.Join(workdir, "ckpt.ldb")}

	runOK(t, buf, append([]string{"create", "--config", configPath, "--blocks", "1", "--eval-negatives", "5"}, store...)...)
	inspected := runOK(t, buf, append([]string{"inspect", "--latest", "--json"}, store...)...)
	var report struct {
		Config struct {
			NumItems      int    `json:"num_items"`
			Blocks        int    `json:"blocks"`
			Head          string `json:"head"`
			EvalNegatives int    `json:"eval_negatives"`
			Seed          int64  `json:"seed"`
		}
	}
	if err := json.Unmarshal([]byte(inspected), &report); err != nil {
		t.Fatalf("decode inspect: %v", err)
	}
	cfg := report.Config
	if cfg.NumItems != 9 || cfg.Blocks != 1 || cfg.Head != head.KindSampled || cfg.EvalNegatives != 5 || cfg.Seed != 21 {
		t.Fatalf("unexpected config after overrides: %+v", cfg)
	}

	scored := runOK(t, buf, append([]string{"score", "--latest", "--sequences", "[[1,2]]", "--labels", "[[4]]"}, store...)...)
	var rows []struct {
		Items  []int     `json:"items"`
		Scores []float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(scored), &rows); err != nil {
		t.Fatalf("decode scores: %v", err)
	}
	if len(rows) != 2 || len(rows[1].Items) != 6 || rows[1].Items[5] != 4 {
		t.Fatalf("unexpected sampled scores: %+v", rows)
	}
}

func TestRunVerifyScan(t *testing.T) {
	buf := captureOutput(t)
	got := runOK(t, buf, "verify-scan", "--batch", "2", "--length", "19", "--hidden", "3", "--trials", "2", "--hole-rate", "0.25", "--workers", "2")
	if !strings.HasPrefix(got, "trials=2 ") {
		t.Fatalf("unexpected verify-scan output: %q", got)
	}
}

func TestRunTargetRequired(t *testing.T) {
	captureOutput(t)
	err := run(context.Background(), []string{"inspect", "--store", "memory"})
	if err == nil || !strings.Contains(err.Error(), "--id or --latest") {
		t.Fatalf("expected target error, got: %v", err)
	}
}

func TestRunBuildSequencesFeedsScoring(t *testing.T) {
	buf := captureOutput(t)
	workdir := t.TempDir()
	csvPath := filepath.Join(workdir, "interactions.csv")
	log := "user,item,ts\nu1,a,1\nu1,b,2\nu1,c,3\nu2,c,1\nu2,d,2\nu3,a,9\n"
	if err := os.WriteFile(csvPath, []byte(log), 0o644); err != nil {
		t.Fatalf("write interactions: %v", err)
	}
	seqPath := filepath.Join(workdir, "seqs.json")
	built := runOK(t, buf, "build-sequences", "--in", csvPath, "--out", seqPath, "--min-len", "2")
	if !strings.Contains(built, "users=2 items=4 max_len=3 dropped=1") {
		t.Fatalf("unexpected build output: %q", built)
	}

	dbPath := filepath.Join(workdir, "ckpt.ldb")
	ldb := []string{"--store", "leveldb", "--db-path", dbPath}
	runOK(t, buf, append([]string{"create", "--num-items", "4", "--width", "4", "--blocks", "1"}, ldb...)...)

	scored := runOK(t, buf, append([]string{"score", "--latest", "--sequences-file", seqPath, "--leave-one-out"}, ldb...)...)
	var rows []struct {
		Sequence int       `json:"sequence"`
		Step     int       `json:"step"`
		Scores   []float64 `json:"scores"`
	}
	if err := json.Unmarshal([]byte(scored), &rows); err != nil {
		t.Fatalf("decode scores: %v", err)
	}
	// Two users, histories of length two, five candidates (padding included).
	if len(rows) != 4 || len(rows[0].Scores) != 5 {
		t.Fatalf("unexpected score rows: %+v", rows)
	}

	if err := run(context.Background(), append([]string{"score", "--latest", "--sequences", "[[1,2]]", "--labels", "[[1]]", "--leave-one-out"}, ldb...)); err == nil {
		t.Fatal("expected exclusive flag error")
	}
}
