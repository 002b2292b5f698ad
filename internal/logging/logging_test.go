package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLevelFallsBackToInfo(t *testing.T) {
	for _, bad := range []string{"", "verbose"} {
		if logger := New(Config{Level: bad}); logger.GetLevel() != zerolog.InfoLevel {
			t.Fatalf("level %q should fall back to info, got %s", bad, logger.GetLevel())
		}
	}
	if logger := New(Config{Level: "Debug"}); logger.GetLevel() != zerolog.DebugLevel {
		t.Fatalf("expected debug level, got %s", logger.GetLevel())
	}
}

func TestWithLevelOverride(t *testing.T) {
	cfg := Config{Level: "info"}
	if got := cfg.WithLevel("debug").Level; got != "debug" {
		t.Fatalf("override not applied: %s", got)
	}
	if got := cfg.WithLevel("").Level; got != "info" {
		t.Fatalf("empty override must keep the configured level: %s", got)
	}
}

func TestComponentTagsDerivedLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(zerolog.New(&buf), "fetcher")
	logger.Info().Msg("ready")

	if !strings.Contains(buf.String(), `"component":"fetcher"`) {
		t.Fatalf("component field missing: %s", buf.String())
	}
}
