package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestGetForComponentTagsComponent(t *testing.T) {
	var buf bytes.Buffer
	InitializeWithWriter(&buf, "debug")
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	l := GetForComponent("vault_core")
	l.Info().Msg("hello")

	assert.Contains(t, buf.String(), `"component":"vault_core"`)
	assert.Contains(t, buf.String(), `"message":"hello"`)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("bogus"))
	assert.Equal(t, zerolog.Disabled, parseLevel("disabled"))
}

func TestComponentLoggerFollowsInitialize(t *testing.T) {
	early := GetForComponent("early")

	var buf bytes.Buffer
	InitializeWithWriter(&buf, "info")
	early.Info().Msg("after init")

	assert.Contains(t, buf.String(), `"component":"early"`)
}
