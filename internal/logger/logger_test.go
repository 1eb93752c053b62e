package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONOutputCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithConfig("Orchestrator", Config{AppEnv: "production", JSON: true, Out: &buf})

	l.Info().Int64("business_id", 7).Msg("batch started")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "Orchestrator", line["component"])
	assert.Equal(t, "batch started", line["message"])
	assert.EqualValues(t, 7, line["business_id"])
}

func TestLevelOverride(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, resolveLevel(Config{AppEnv: "production"}))
	assert.Equal(t, zerolog.ErrorLevel, resolveLevel(Config{AppEnv: "production", Level: "ERROR"}))
	assert.Equal(t, zerolog.DebugLevel, resolveLevel(Config{AppEnv: "unknown", Level: "bogus"}))
}

func TestProductionSuppressesDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithConfig("Sweep", Config{AppEnv: "production", JSON: true, Out: &buf})
	l.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
}

func TestNopDiscards(t *testing.T) {
	l := Nop()
	l.Error().Msg("nothing happens")
	l.LogInfof("still %s", "nothing")
}
