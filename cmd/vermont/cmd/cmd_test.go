package cmd

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"vermont/core/config"
	"vermont/core/errors"
	"vermont/modules/dbwriter"
)

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "flows.db")
	cfg := config.GenerateMinimalConfig()
	cfg.Modules[dbwriter.Name]["dbname"] = dbPath
	cfg.Modules[dbwriter.Name]["buffer_records"] = 2
	cfg.Modules[dbwriter.Name]["poll_interval"] = "5ms"
	cfg.Modules[dbwriter.Name]["columns"] = []string{"source_address", "octets"}
	return cfg, dbPath
}

func TestConfigGenerateMinimal(t *testing.T) {
	out := filepath.Join(t.TempDir(), "config.yaml")
	if err := configGenerateCmd.Flags().Set("minimal", "true"); err != nil {
		t.Fatalf("set minimal flag: %v", err)
	}
	if err := configGenerateCmd.Flags().Set("output", out); err != nil {
		t.Fatalf("set output flag: %v", err)
	}

	var buf bytes.Buffer
	configGenerateCmd.SetOut(&buf)
	if err := configGenerateCmd.RunE(configGenerateCmd, nil); err != nil {
		t.Fatalf("run generate: %v", err)
	}
	if !strings.Contains(buf.String(), out) {
		t.Errorf("unexpected output: %q", buf.String())
	}

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read generated config: %v", err)
	}
	if !strings.Contains(string(b), "max_concurrent: 16") || !strings.Contains(string(b), "dbwriter:") {
		t.Errorf("generated config missing sections:\n%s", b)
	}

	// The generated file passes validation.
	configPaths = []string{filepath.Dir(out)}
	defer func() { configPaths = nil }()
	buf.Reset()
	configValidateCmd.SetOut(&buf)
	if err := configValidateCmd.RunE(configValidateCmd, nil); err != nil {
		t.Fatalf("validate generated config: %v", err)
	}
	if !strings.Contains(buf.String(), "Configuration is valid.") {
		t.Errorf("unexpected validate output: %q", buf.String())
	}
}

func TestRunCollectorIngestsUntilEOF(t *testing.T) {
	cfg, dbPath := testConfig(t)
	input := strings.NewReader(`{"source_address": "192.0.2.1", "octets": 10}
{"source_address": "192.0.2.2", "octets": 20}
{"source_address": "192.0.2.3", "octets": 30}
`)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stats, err := runCollector(ctx, cfg, input)
	if err != nil {
		t.Fatalf("runCollector: %v", err)
	}
	if stats.Received != 3 || stats.Written != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	var total float64
	if err := db.QueryRow(`SELECT SUM(octets) FROM "flows"`).Scan(&total); err != nil {
		t.Fatalf("sum: %v", err)
	}
	if total != 60 {
		t.Errorf("expected 60 octets, got %v", total)
	}
}

func TestRunCollectorStopsOnCancel(t *testing.T) {
	cfg, _ := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := runCollector(ctx, cfg, nil)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("runCollector: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("collector did not stop after cancel")
	}
}

func TestRunCollectorNeedsSlotForIngest(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Threads.MaxConcurrent = 1

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	start := time.Now()
	_, err := runCollector(ctx, cfg, strings.NewReader("{\"octets\": 1}\n"))
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("collector should refuse immediately, took %s", elapsed)
	}

	// Without input the writer alone fits in one slot.
	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	if _, err := runCollector(ctx, cfg, nil); err != nil {
		t.Fatalf("runCollector without input: %v", err)
	}
}

func TestRunCollectorRejectsZeroJoinTimeout(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Threads.JoinTimeoutSeconds = 0

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := runCollector(ctx, cfg, strings.NewReader("")); !errors.Is(err, errors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestStopIngestDetachesBlockedReader(t *testing.T) {
	cfg, _ := testConfig(t)
	writer := dbwriter.New()
	if err := writer.Configure(cfg.Module(dbwriter.Name)); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if err := writer.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer writer.Stop(context.Background())

	// A pipe with no writer blocks the decoder until it is closed.
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	defer pr.Close()

	exhausted := make(chan struct{})
	ingest := newIngestThread(context.Background(), writer, exhausted)
	if err := ingest.Start(pr); err != nil {
		t.Fatalf("Start ingest: %v", err)
	}

	stopIngest(context.Background(), ingest)
	if ingest.Started() {
		t.Fatal("blocked ingest thread should have been detached")
	}

	pw.Close()
	select {
	case <-exhausted:
	case <-time.After(5 * time.Second):
		t.Fatal("detached ingest thread did not finish after input closed")
	}
}
