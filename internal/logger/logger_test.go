package logger

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLoggerTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetSilentMode(true)

	log := GetLogger("communicator")
	log.Info().Str("peer", "B2").Msg("Connected peer channel")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "communicator", line["component"])
	assert.Equal(t, "B2", line["peer"])
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "Connected peer channel", line["message"])
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetSilentMode(true)

	log := New()
	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	SetLevel(LOG_DEBUG)
	log.Debug().Msg("shown")
	assert.Contains(t, buf.String(), "shown")

	SetLevel("bogus")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestConfigure(t *testing.T) {
	defer SetSilentMode(true)

	require.NoError(t, Configure(Config{Format: FormatJSON, Level: "WARN"}))
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	require.NoError(t, Configure(Config{}))
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	assert.ErrorContains(t, Configure(Config{Format: "xml"}), "unknown log format")
	assert.ErrorContains(t, Configure(Config{Level: "loud"}), "unknown log level")
}
