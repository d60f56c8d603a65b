package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saraphina-project/selfmod/pkg/logging"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logging.LevelDebug, logging.ParseLevel("debug"))
	assert.Equal(t, logging.LevelWarn, logging.ParseLevel("WARNING"))
	assert.Equal(t, logging.LevelError, logging.ParseLevel(" error "))
	// Misconfiguration degrades to info, never to silence.
	assert.Equal(t, logging.LevelInfo, logging.ParseLevel(""))
	assert.Equal(t, logging.LevelInfo, logging.ParseLevel("loud"))
}

func TestLogger_LevelGate(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, logging.LevelWarn, logging.FormatText)

	log.Debug("hidden")
	log.Info("hidden")
	log.Warn("kept")
	log.Error("kept too")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "WARN kept")
	assert.Contains(t, out, "ERROR kept too")
	assert.Equal(t, 2, strings.Count(out, "\n"))
}

func TestLogger_TextFieldsAreOrdered(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, logging.LevelInfo, logging.FormatText).
		WithFields(map[string]any{"component": "applier"})

	log.Info("restored backup", map[string]any{"file": "a.py", "attempt": 2})

	line := strings.TrimSuffix(buf.String(), "\n")
	// Base fields come first; per-call fields follow in sorted key order.
	assert.True(t, strings.HasSuffix(line, "restored backup component=applier attempt=2 file=a.py"), line)
}

func TestLogger_JSONRecordsParse(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(&buf, logging.LevelInfo, logging.FormatJSON).
		WithFields(map[string]any{"component": "controller"})

	log.Error("audit apply failure", map[string]any{"patch_id": "p1", "score": 42.5})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "error", rec["level"])
	assert.Equal(t, "audit apply failure", rec["msg"])
	assert.Equal(t, "controller", rec["component"])
	assert.Equal(t, "p1", rec["patch_id"])
	assert.Equal(t, 42.5, rec["score"])
	assert.NotEmpty(t, rec["ts"])
}

func TestLogger_DerivedLoggersShareWriter(t *testing.T) {
	var buf bytes.Buffer
	root := logging.New(&buf, logging.LevelInfo, logging.FormatText)
	a := root.WithFields(map[string]any{"component": "a"})
	b := root.WithFields(map[string]any{"component": "b"})

	a.Info("one")
	b.Info("two")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "component=a")
	assert.Contains(t, lines[1], "component=b")
}

func TestParseFormat(t *testing.T) {
	assert.Equal(t, logging.FormatJSON, logging.ParseFormat("json"))
	assert.Equal(t, logging.FormatJSON, logging.ParseFormat("JSON"))
	assert.Equal(t, logging.FormatText, logging.ParseFormat("text"))
	assert.Equal(t, logging.FormatText, logging.ParseFormat(""))
}
