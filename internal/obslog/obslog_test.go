package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_TO_CONSOLE", "false")
	t.Setenv("LOG_TO_FILE", "true")
	t.Setenv("LOG_FILE", "x/y.log")
	t.Setenv("LOG_FORMAT", "JSON")

	cfg := ConfigFromEnv()
	if cfg.Level != zapcore.DebugLevel || cfg.Console || cfg.File != "x/y.log" || cfg.Format != "json" {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "arboard.log")
	logger, err := New(Config{Level: zapcore.InfoLevel, File: path, Format: "json"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("remote_fetch_error", zap.Int("game_id", 7))
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(raw)
	if !strings.Contains(out, `"msg":"remote_fetch_error"`) || !strings.Contains(out, `"game_id":7`) {
		t.Fatalf("unexpected log output: %s", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written at info level")
	}
}

func TestNoSinksIsNop(t *testing.T) {
	logger, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("expected nop logger")
	}
	if L() == nil {
		t.Fatalf("global logger must never be nil")
	}
}
