package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/arkikgo/internal/config"
)

func TestLogError_WritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(config.LogConfig{Level: "debug", Format: "json"}, &buf)

	LogError(logger, "duplicates", "Detect", "lookup existing", map[string]string{"plant": "P1"}, errors.New("boom"))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "boom", entry["msg"])
	assert.Equal(t, "duplicates", entry["module"])
	assert.Equal(t, "Detect", entry["funcName"])
	assert.Equal(t, "lookup existing", entry["context"])
	assert.NotNil(t, entry["data"])
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	logger := NewWithWriter(config.LogConfig{Level: "loud"}, &bytes.Buffer{})
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
