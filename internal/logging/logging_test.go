package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/zulandar/lifeline/internal/config"
)

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LogConfig{Level: "info", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.WithField("session_id", "abc").Info("session created")

	out := buf.String()
	if !strings.Contains(out, "session created") {
		t.Errorf("output missing message: %s", out)
	}
	if !strings.Contains(out, "session_id=abc") {
		t.Errorf("output missing field: %s", out)
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LogConfig{Level: "debug", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("hello")

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if line["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", line["msg"])
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(config.LogConfig{Level: "warn", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Errorf("info logged at warn level: %s", buf.String())
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New(config.LogConfig{Level: "shouty"}, &bytes.Buffer{}); err == nil {
		t.Fatal("expected error for bad level")
	}
}

func TestOrDiscard(t *testing.T) {
	if OrDiscard(nil) == nil {
		t.Fatal("OrDiscard(nil) returned nil")
	}
	logger, _ := test.NewNullLogger()
	if OrDiscard(logger) != logrus.FieldLogger(logger) {
		t.Error("OrDiscard should return the given logger")
	}
}

func TestWithStack(t *testing.T) {
	logger, hook := test.NewNullLogger()
	WithStack(logger).Error("boom")

	entry := hook.LastEntry()
	if entry == nil {
		t.Fatal("no entry logged")
	}
	stack, ok := entry.Data["stack"].(string)
	if !ok || !strings.Contains(stack, "goroutine") {
		t.Errorf("stack field = %v, want goroutine trace", entry.Data["stack"])
	}
}
