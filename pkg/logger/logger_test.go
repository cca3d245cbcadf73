package logx

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLevel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, zerolog.InfoLevel, Config{}.ResolveLevel())
	assert.Equal(t, zerolog.DebugLevel, Config{Debug: true}.ResolveLevel())
	assert.Equal(t, zerolog.WarnLevel, Config{Debug: true, Level: "WARN"}.ResolveLevel())
	assert.Equal(t, zerolog.InfoLevel, Config{Level: "loud"}.ResolveLevel())
}

func TestInitWriterAddsServiceAndFiltersLevel(t *testing.T) {
	prev := log.Logger
	t.Cleanup(func() { log.Logger = prev })

	var buf bytes.Buffer
	InitWriter(&buf, Config{Service: "coordinator-test", Level: "info"})

	log.Debug().Msg("hidden")
	log.Info().Str("unit", "sales").Msg("routed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "coordinator-test", line["service"])
	assert.Equal(t, "sales", line["unit"])
	assert.Equal(t, "routed", line["message"])
}
