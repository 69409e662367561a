package tui

import (
	"time"

	"github.com/go-go-golems/otelrun/pkg/events"
)

type SnapshotMsg struct {
	Snapshot events.RunSnapshot
}

type EventLogEntry struct {
	At   time.Time
	Text string
}

type EventAppendMsg struct {
	Entry EventLogEntry
}
