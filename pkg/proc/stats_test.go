package proc

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadStats_Self(t *testing.T) {
	tracker := NewCPUTracker()

	stats, err := ReadStats(os.Getpid(), tracker)
	require.NoError(t, err)
	require.Equal(t, os.Getpid(), stats.PID)
	require.Greater(t, stats.MemoryRSS, int64(0))
	require.Greater(t, stats.Threads, 0)
	// First sample has no baseline for a CPU percentage.
	require.Equal(t, 0.0, stats.CPUPercent)

	time.Sleep(50 * time.Millisecond)
	stats, err = ReadStats(os.Getpid(), tracker)
	require.NoError(t, err)
	require.GreaterOrEqual(t, stats.CPUPercent, 0.0)
}

func TestReadStats_InvalidPID(t *testing.T) {
	_, err := ReadStats(0, nil)
	require.Error(t, err)
	_, err = ReadStats(-5, nil)
	require.Error(t, err)
}

func TestStartTime_Self(t *testing.T) {
	started, err := StartTime(os.Getpid())
	require.NoError(t, err)
	require.False(t, started.IsZero())
	require.True(t, started.Before(time.Now().Add(time.Minute)))
}
