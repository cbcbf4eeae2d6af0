package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetLevelFromString(t *testing.T) {
	assert.NoError(t, SetLevelFromString("debug"))
	assert.Equal(t, DEBUG, logLevel)

	assert.NoError(t, SetLevelFromString("ERROR"))
	assert.Equal(t, ERROR, logLevel)

	assert.Error(t, SetLevelFromString("bogus"))
}

func TestLogFunctionsDoNotPanic(t *testing.T) {
	assert.NoError(t, SetLevelFromString("debug"))

	assert.NotPanics(t, func() {
		Debug("debug msg", "key", "value")
		Info("info msg", "key", "value")
		Warn("warn msg", "key", "value")
		Error("error msg", "key", "value")
	})
}
