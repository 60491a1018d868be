package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "warn", true)

	log.Info().Msg("Hidden message")
	log.Warn().Str("target", "255.255.255.255:17710").Msg("Visible message")

	out := buf.String()
	if strings.Contains(out, "Hidden message") {
		t.Errorf("info message written at warn level: %q", out)
	}
	if !strings.Contains(out, "Visible message") {
		t.Errorf("warn message missing: %q", out)
	}
	if !strings.Contains(out, "target=") {
		t.Errorf("structured field missing: %q", out)
	}
}
