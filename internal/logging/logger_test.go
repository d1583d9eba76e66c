package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf})

	log.With(String("component", "controller")).Warn(context.Background(), "context clamped",
		Int("raw", 200), Float("angle", 110.2), Err(errors.New("out of range")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "context clamped" || rec["level"] != "WARN" {
		t.Fatalf("unexpected record %v", rec)
	}
	if rec["component"] != "controller" || rec["raw"] != float64(200) || rec["error"] != "out of range" {
		t.Fatalf("missing fields in %v", rec)
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})

	log.Info(context.Background(), "dropped")
	log.Error(context.Background(), "kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestNoop(t *testing.T) {
	log := Noop().With(String("a", "b"))
	log.Error(context.Background(), "nothing")
}
