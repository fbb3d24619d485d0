package rtpslog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewBuildsUsableLogger(t *testing.T) {
	log, err := New(true)
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.NotPanics(t, func() { log.Infow("hello") })
}

func TestNopDiscardsOutput(t *testing.T) {
	log := Nop()
	require.NotNil(t, log)
	assert.NotPanics(t, func() { log.Infow("discarded") })
}

func TestSectionLogsMarkedLine(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core).Sugar()

	Section(log, "starting discovery")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "starting discovery", entries[0].Message)
	assert.Equal(t, true, entries[0].ContextMap()["section"])
}

func TestBannerLogsIdentity(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core).Sugar()

	Banner(log, "rtpsd", "0.1.0")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "rtpsd", fields["component"])
	assert.Equal(t, "0.1.0", fields["version"])
}
