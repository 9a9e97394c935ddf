package util

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func TestInitLogger_ConsoleOnly(t *testing.T) {
	var buf bytes.Buffer
	if err := InitLogger(LogConfig{Level: "debug", Console: true, Out: &buf}); err != nil {
		t.Fatalf("InitLogger() unexpected error: %v", err)
	}
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	l := ComponentLogger("relay")
	l.Info().Msg("hello relay")
	if !strings.Contains(buf.String(), "hello relay") {
		t.Errorf("console output missing message: %q", buf.String())
	}
	if !strings.Contains(buf.String(), "relay") {
		t.Errorf("console output missing component: %q", buf.String())
	}
}

func TestInitLogger_WritesFile(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	if err := InitLogger(LogConfig{Level: "info", Directory: dir, Out: &buf}); err != nil {
		t.Fatalf("InitLogger() unexpected error: %v", err)
	}
	log.Info().Str("k", "v").Msg("to file")

	matches, _ := filepath.Glob(filepath.Join(dir, "spacerelay_*.log"))
	if len(matches) != 1 {
		t.Fatalf("want one log file, got %v", matches)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"message":"to file"`) {
		t.Errorf("log file missing JSON line: %q", string(data))
	}
	if buf.Len() != 0 {
		t.Errorf("console disabled but got output %q", buf.String())
	}
}

func TestCleanOldLogs_KeepsNewest(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"spacerelay_2026-01-01.log", "spacerelay_2026-01-02.log", "spacerelay_2026-01-03.log", "keep.txt"} {
		os.WriteFile(filepath.Join(dir, name), nil, 0644)
	}

	cleanOldLogs(dir, 1)

	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if strings.Join(names, ",") != "keep.txt,spacerelay_2026-01-03.log" {
		t.Errorf("cleanOldLogs() left %v", names)
	}
}
