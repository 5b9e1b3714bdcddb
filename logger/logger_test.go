package logger

import (
	"strings"
	"testing"

	"github.com/mhsanaei/xray-daemon/config"
	"github.com/op/go-logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogsFiltersByLevel(t *testing.T) {
	Debug("debug line")
	Warningf("warning %d", 1)
	Errorf("error %s", "line")

	logs := GetLogs(10, "WARNING")
	require.NotEmpty(t, logs)
	assert.True(t, strings.HasSuffix(logs[0], "error line"))
	for _, l := range logs {
		assert.NotContains(t, l, "debug line")
	}

	assert.Len(t, GetLogs(1, "DEBUG"), 1)
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel(config.Warning)
	require.NoError(t, err)
	assert.Equal(t, logging.WARNING, level)

	_, err = ParseLevel(config.LogLevel("verbose"))
	assert.Error(t, err)
}

func TestBufferJoinsArgsWithSpaces(t *testing.T) {
	Warning("reconcile pass failed:", assert.AnError)

	logs := GetLogs(1, "WARNING")
	require.Len(t, logs, 1)
	assert.True(t, strings.HasSuffix(logs[0], "reconcile pass failed: "+assert.AnError.Error()), logs[0])
}
