package notify_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/caesium-cloud/pipeline/internal/notify"
)

func TestRunChannelIsAValidPostgresIdentifierShape(t *testing.T) {
	id := uuid.New()
	channel := notify.RunChannel(id)

	assert.True(t, strings.HasPrefix(channel, "pipeline_run_"))
	assert.False(t, strings.Contains(channel, "-"))
}

func TestRunChannelIsStableForTheSameRun(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, notify.RunChannel(id), notify.RunChannel(id))
}

func TestRunChannelDiffersAcrossRuns(t *testing.T) {
	assert.NotEqual(t, notify.RunChannel(uuid.New()), notify.RunChannel(uuid.New()))
}
