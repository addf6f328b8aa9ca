package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocalTime(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("EST", -5*3600)

	got, err := parseLocalTime("2025-03-01 09:30", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 1, 14, 30, 0, 0, time.UTC)))

	got, err = parseLocalTime("2025-03-01T09:30:00Z", loc)
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)))

	_, err = parseLocalTime("next tuesday", loc)
	assert.Error(t, err)
}

func TestCycleRequestRejectsUnknownMode(t *testing.T) {
	t.Parallel()

	cmd := triggerCmd()
	require.NoError(t, cmd.Flags().Set("mode", "sometimes"))
	_, err := cycleRequest(cmd)
	assert.Error(t, err)

	cmd = triggerCmd()
	require.NoError(t, cmd.Flags().Set("mode", "immediate"))
	require.NoError(t, cmd.Flags().Set("record-id", " rec1 "))
	req, err := cycleRequest(cmd)
	require.NoError(t, err)
	assert.Equal(t, "rec1", req.RecordID)
}
