package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, "warn", "api-server")

	log.Info().Msg("dropped")
	log.Warn().Int64("provider_id", 7).Msg("kept")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["message"])
	assert.Equal(t, "api-server", line["service"])
	assert.Equal(t, float64(7), line["provider_id"])
	assert.Contains(t, line, "time")
}

func TestBuildFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, "loud", "seed")

	log.Debug().Msg("dropped")
	assert.Zero(t, buf.Len())

	log.Info().Msg("kept")
	assert.Contains(t, buf.String(), `"level":"info"`)
}
