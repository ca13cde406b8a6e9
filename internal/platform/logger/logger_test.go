package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

// Init is once-per-process, so the buffer-backed assertions share one test
func TestInitAndNamed(t *testing.T) {
	var buf bytes.Buffer
	Init(Options{Level: "debug", Format: "json", Service: "pkgsearch-test", Writer: &buf})

	Get().Info().Str("k", "v").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line not json: %v\n%s", err, buf.String())
	}
	if line["service"] != "pkgsearch-test" {
		t.Fatalf("service = %v", line["service"])
	}
	if line["k"] != "v" || line["message"] != "hello" {
		t.Fatalf("line = %v", line)
	}

	buf.Reset()
	Named("watch").Debug().Msg("component line")
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("named line not json: %v", err)
	}
	if line["component"] != "watch" {
		t.Fatalf("component = %v", line["component"])
	}

	// Named("") returns the root
	if Named("") != Get() {
		t.Fatal("empty component should return the root logger")
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"debug":   zerolog.DebugLevel,
		"":        zerolog.InfoLevel,
		"info":    zerolog.InfoLevel,
		"WARN":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
