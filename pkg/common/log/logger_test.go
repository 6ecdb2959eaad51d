package log

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelDebug))

	cases := []struct {
		log   func(string, ...interface{})
		level string
	}{
		{logger.Debug, "[DEBUG]"},
		{logger.Info, "[INFO]"},
		{logger.Warn, "[WARN]"},
		{logger.Error, "[ERROR]"},
	}
	for _, tc := range cases {
		tc.log("block %d allocated", 7)
		out := buf.String()
		assert.Contains(t, out, tc.level)
		assert.Contains(t, out, "block 7 allocated")
		buf.Reset()
	}
}

func TestStandardLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewStandardLogger(WithOutput(&buf), WithLevel(LevelError))

	logger.Debug("hidden")
	logger.Info("hidden")
	logger.Warn("hidden")
	logger.Error("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Equal(t, LevelError, logger.GetLevel())

	logger.SetLevel(LevelInfo)
	logger.Info("now visible")
	assert.Contains(t, buf.String(), "now visible")
}

func TestFieldsAreSortedAndInherited(t *testing.T) {
	var buf bytes.Buffer
	base := NewStandardLogger(
		WithOutput(&buf),
		WithInitialFields(map[string]interface{}{"store": "t.db"}),
	)

	child := base.WithFields(map[string]interface{}{"op": "insert", "block": 3})
	child.Info("placed record")

	line := strings.TrimSpace(buf.String())
	assert.Contains(t, line, "block=3 op=insert store=t.db placed record")
	buf.Reset()

	// the parent is unchanged
	base.Info("plain")
	assert.NotContains(t, buf.String(), "op=insert")
	assert.Contains(t, buf.String(), "store=t.db")
	buf.Reset()

	base.WithField("index", "b").Warn("dropped")
	assert.Contains(t, buf.String(), "index=b store=t.db dropped")
}

func TestParseLevel(t *testing.T) {
	for _, l := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal} {
		got, err := ParseLevel(strings.ToLower(l.String()))
		require.NoError(t, err)
		assert.Equal(t, l, got)
	}

	got, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, LevelInfo, got)

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
	assert.Equal(t, "LEVEL(42)", Level(42).String())
}

func TestDefaultLogger(t *testing.T) {
	original := defaultLogger
	defer SetDefaultLogger(original)

	var buf bytes.Buffer
	SetDefaultLogger(NewStandardLogger(WithOutput(&buf)))
	assert.NotSame(t, original, GetDefaultLogger())

	Info("opened %s", "t.db")
	assert.Contains(t, buf.String(), "[INFO] opened t.db")
	buf.Reset()

	WithField("global", true).Error("failed")
	assert.Contains(t, buf.String(), "global=true failed")
	buf.Reset()

	Debug("not shown")
	assert.Empty(t, buf.String())

	Warn("careful")
	assert.Contains(t, buf.String(), "[WARN] careful")
}

func TestDiscard(t *testing.T) {
	l := Discard()
	assert.Equal(t, LevelFatal, l.GetLevel())
	l.Error("nothing happens")
}
