package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/l0p7/journalgate/internal/config"
	"github.com/stretchr/testify/require"
)

func TestNewAcceptsKnownLevelsAndFormats(t *testing.T) {
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json", CorrelationHeader: "X-Request-ID"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	logger, err = New(config.LoggingConfig{Level: "warning", Format: "text"})
	require.NoError(t, err)
	require.NotNil(t, logger)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "verbose"})
	require.Error(t, err)
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	_, err := New(config.LoggingConfig{Format: "binary"})
	require.Error(t, err)
}

func TestNewWithWriterTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LoggingConfig{Level: "debug"}, &buf)
	require.NoError(t, err)

	logger.Debug("probe")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	require.Equal(t, "journalgate", record["component"])
	require.Equal(t, "probe", record["msg"])
}

func TestNewWithWriterFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewWithWriter(config.LoggingConfig{Level: "error"}, &buf)
	require.NoError(t, err)

	logger.Info("ignored")
	require.Zero(t, buf.Len())
}
