package tasks

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAnalyzeTask(t *testing.T) {
	task, err := NewAnalyzeTask("app-1", 3, "corr-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, TypeAnalyzeApplication, task.Type())

	var p AnalyzePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, AnalyzePayload{ApplicationID: "app-1", Epoch: 3, CorrelationID: "corr-1"}, p)
}

func TestNewExpireTask(t *testing.T) {
	task, err := NewExpireTask(10 * time.Minute)
	require.NoError(t, err)
	assert.Equal(t, TypeExpireAnalyses, task.Type())

	var p ExpirePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &p))
	assert.Equal(t, 10*time.Minute, p.MaxAge())
}
