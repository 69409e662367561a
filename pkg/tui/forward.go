package tui

import (
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"github.com/go-go-golems/otelrun/pkg/events"
)

// RegisterForwarder turns run events from the bus into bubbletea messages.
// Snapshots refresh the dashboard; everything else is appended to the
// event log.
func RegisterForwarder(bus *events.Bus, p *tea.Program) {
	bus.AddHandler("otelrun-ui-forward", events.TopicRunEvents, func(msg *message.Message) error {
		defer msg.Ack()

		// The snapshot is the only payload the dashboard consumes whole;
		// decoding into it is harmless for the other event types because
		// their fields don't overlap.
		typ, snap, err := events.DecodePayload[events.RunSnapshot](msg)
		if err != nil {
			return errors.Wrap(err, "decode run event")
		}
		if typ == events.TypeRunSnapshot {
			p.Send(SnapshotMsg{Snapshot: snap})
			return nil
		}

		if text, ok := describeEvent(typ, msg); ok {
			p.Send(EventAppendMsg{Entry: EventLogEntry{At: time.Now(), Text: text}})
		}
		return nil
	})
}

func describeEvent(typ string, msg *message.Message) (string, bool) {
	switch typ {
	case events.TypeStateChanged:
		if _, ev, err := events.DecodePayload[events.StateChanged](msg); err == nil {
			return fmt.Sprintf("state: %s -> %s", ev.From, ev.To), true
		}
	case events.TypeProbeAttempt:
		if _, ev, err := events.DecodePayload[events.ProbeAttempt](msg); err == nil {
			status := "down"
			if ev.Reachable {
				status = "up"
			}
			return fmt.Sprintf("probe %s [%d/%d] %s", ev.Target, ev.Attempt, ev.Max, status), true
		}
	case events.TypeProbeReady:
		if _, ev, err := events.DecodePayload[events.ProbeReady](msg); err == nil {
			return fmt.Sprintf("ready: %s", ev.Target), true
		}
	case events.TypeStackEnsure:
		if _, ev, err := events.DecodePayload[events.StackEnsure](msg); err == nil {
			if ev.AlreadyRunning {
				return "stack: already running", true
			}
			return "stack: started", true
		}
	case events.TypeServiceLaunch:
		if _, ev, err := events.DecodePayload[events.ServiceLaunched](msg); err == nil {
			return fmt.Sprintf("launched %s pid=%d", ev.Name, ev.PID), true
		}
	case events.TypeServiceExited:
		if _, ev, err := events.DecodePayload[events.ServiceExited](msg); err == nil {
			if ev.Signal != "" {
				return fmt.Sprintf("%s exited on signal %s", ev.Name, ev.Signal), true
			}
			return fmt.Sprintf("%s exited code=%d", ev.Name, ev.Code), true
		}
	case events.TypeShutdownResult:
		if _, ev, err := events.DecodePayload[events.ShutdownResult](msg); err == nil {
			if ev.StackStopped {
				return "shutdown complete, stack stopped", true
			}
			return "shutdown complete", true
		}
	}
	return "", false
}
