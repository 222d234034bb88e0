package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"devplay/internal/config"
)

func TestConsoleHandlerFormatsComponentAndFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl, false, false))

	NewComponentLogger(logger, "installer").Info("install started",
		ItemID("app1"),
		String("name", "Star Runner"),
		Float64("progress", 12.5),
	)

	line := buf.String()
	for _, want := range []string{" INFO installer: install started", "item_id=app1", `name="Star Runner"`, "progress=12.5"} {
		if !strings.Contains(line, want) {
			t.Fatalf("expected %q in %q", want, line)
		}
	}
	if strings.Contains(line, "component=") {
		t.Fatalf("component should be rendered as prefix, got %q", line)
	}
}

func TestConsoleHandlerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelWarn)
	logger := slog.New(newConsoleHandler(&buf, lvl, false, false))

	logger.Info("hidden")
	logger.Warn("shown", Alert("registry_unreachable"))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered, got %q", out)
	}
	if !strings.Contains(out, "alert=registry_unreachable") {
		t.Fatalf("expected alert field, got %q", out)
	}
}

func TestJSONHandlerUsesShortKeys(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newJSONHandler(&buf, lvl, false))
	logger.Warn("reconcile failed", Identity("alice"))

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("decode json log: %v", err)
	}
	if decoded["level"] != "warn" {
		t.Fatalf("expected lowercase level, got %v", decoded["level"])
	}
	if _, ok := decoded["ts"]; !ok {
		t.Fatalf("expected ts key, got %v", decoded)
	}
	if decoded[FieldIdentity] != "alice" {
		t.Fatalf("expected identity field, got %v", decoded)
	}
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	base := slog.New(newConsoleHandler(&buf, lvl, false, false))

	ctx := WithRequestID(WithIdentity(WithItemID(context.Background(), "app9"), "bob"), "req-1")
	WithContext(ctx, base).Info("hello")

	out := buf.String()
	for _, want := range []string{"item_id=app9", "identity=bob", "correlation_id=req-1"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in %q", want, out)
		}
	}
}

func TestNewFromConfigWritesLogFile(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.LogDir = t.TempDir()
	cfg.Logging.Format = "json"
	logger, err := NewFromConfig(&cfg)
	if err != nil {
		t.Fatalf("NewFromConfig: %v", err)
	}
	logger.Info("written to file")
	data, err := os.ReadFile(filepath.Join(cfg.Paths.LogDir, "devplay.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "written to file") {
		t.Fatalf("expected message in log file, got %q", data)
	}
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestProgressSamplerBuckets(t *testing.T) {
	s := NewProgressSampler(25)
	emitted := 0
	for p := 0.0; p <= 100; p += 100.0 / 240 {
		if s.ShouldLog(p, "app1") {
			emitted++
		}
	}
	if s.ShouldLog(100, "app1") {
		emitted++
	}
	// buckets 0,1,2,3 plus the 100% bucket
	if emitted != 5 {
		t.Fatalf("expected 5 sampled events, got %d", emitted)
	}
	if !s.ShouldLog(0, "app2") {
		t.Fatal("expected key change to emit")
	}
}
