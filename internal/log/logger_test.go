package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := New(LoggerConfig{Level: WarnLevel, Output: &buf, NoTimestamp: true})

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown", "block", "entry")
	l.Error("also shown")

	assert.Equal(t, "WARN: shown block=entry\nERROR: also shown\n", buf.String())
}

func TestJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	l := New(LoggerConfig{Level: DebugLevel, Output: &buf, NoTimestamp: true})
	l.SetJSONOutput(true)

	l.Debug("built entry mask", "block", "C", "kind", "phi")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "built entry mask", entry["message"])
	assert.Equal(t, "C", entry["block"])
	assert.Equal(t, "phi", entry["kind"])
	assert.NotContains(t, entry, "timestamp")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    Level
		wantErr bool
	}{
		{"debug", DebugLevel, false},
		{"INFO", InfoLevel, false},
		{"", InfoLevel, false},
		{"warning", WarnLevel, false},
		{"error", ErrorLevel, false},
		{"loud", InfoLevel, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLevel(tt.name)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatMessage(t *testing.T) {
	assert.Equal(t, "msg", formatMessage("msg"))
	assert.Equal(t, "msg odd a=1", formatMessage("msg", "odd", "a", 1))
	assert.Equal(t, "msg", formatMessage("msg", 3, "skipped"))
}

func TestDiscard(t *testing.T) {
	l := Discard()
	l.Error("nothing")
	assert.Equal(t, ErrorLevel+1, l.level)
}
