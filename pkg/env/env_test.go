package env

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessDefaults(t *testing.T) {
	require.NoError(t, Process())
	assert.Equal(t, "info", Variables().LogLevel)
	assert.Equal(t, 8080, Variables().Port)
	assert.Equal(t, 4, Variables().WorkerCount)
}

func TestProcessInvalidTypeFailure(t *testing.T) {
	os.Setenv("CAESIUM_PORT", "not_a_port")
	defer os.Unsetenv("CAESIUM_PORT")

	assert.Error(t, Process())
}

func TestProcessInvalidLogLevelFailure(t *testing.T) {
	os.Setenv("CAESIUM_LOGLEVEL", "bogus")
	defer os.Unsetenv("CAESIUM_LOGLEVEL")

	assert.Error(t, Process())
}
