package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "api-gateway", "info", "json")

	log.Info().Str("auction_id", "a1").Msg("bid accepted")

	var line map[string]any
	assert.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	check.Equal(t, "api-gateway", line["service"])
	check.Equal(t, "a1", line["auction_id"])
	check.Equal(t, "bid accepted", line["message"])
}

func TestNewWithWriter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "api-gateway", "warn", "json")

	log.Info().Msg("hidden")
	check.Equal(t, 0, buf.Len())

	log.Warn().Msg("shown")
	check.True(t, strings.Contains(buf.String(), "shown"))
}

func TestNewWithWriter_UnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "archival-worker", "loud", "json")

	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	check.False(t, strings.Contains(buf.String(), "hidden"))
	check.True(t, strings.Contains(buf.String(), "shown"))
}
