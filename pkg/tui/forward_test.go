package tui

import (
	"encoding/json"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/otelrun/pkg/events"
)

func eventMsg(t *testing.T, typ string, payload any) *message.Message {
	t.Helper()
	env, err := events.NewEnvelope(typ, payload)
	require.NoError(t, err)
	b, err := json.Marshal(env)
	require.NoError(t, err)
	return message.NewMessage("test", b)
}

func TestDescribeEvent(t *testing.T) {
	cases := []struct {
		typ     string
		payload any
		want    string
	}{
		{events.TypeStateChanged, events.StateChanged{From: "Idle", To: "Launching"}, "state: Idle -> Launching"},
		{events.TypeProbeAttempt, events.ProbeAttempt{Target: "http://localhost:3301", Attempt: 2, Max: 5, Reachable: true}, "probe http://localhost:3301 [2/5] up"},
		{events.TypeProbeReady, events.ProbeReady{Target: "http://localhost:3301"}, "ready: http://localhost:3301"},
		{events.TypeStackEnsure, events.StackEnsure{AlreadyRunning: true}, "stack: already running"},
		{events.TypeServiceLaunch, events.ServiceLaunched{Name: "api", PID: 99}, "launched api pid=99"},
		{events.TypeServiceExited, events.ServiceExited{Name: "api", Signal: "terminated"}, "api exited on signal terminated"},
		{events.TypeServiceExited, events.ServiceExited{Name: "api", Code: 7}, "api exited code=7"},
		{events.TypeShutdownResult, events.ShutdownResult{StackStopped: true}, "shutdown complete, stack stopped"},
	}
	for _, tc := range cases {
		text, ok := describeEvent(tc.typ, eventMsg(t, tc.typ, tc.payload))
		require.True(t, ok, tc.typ)
		require.Equal(t, tc.want, text)
	}
}

func TestDescribeEvent_UnknownTypeIsSilent(t *testing.T) {
	_, ok := describeEvent("no.such.event", eventMsg(t, "no.such.event", nil))
	require.False(t, ok)
}

func TestDecodeSnapshotFromRunEvent(t *testing.T) {
	msg := eventMsg(t, events.TypeRunSnapshot, events.RunSnapshot{WorkDir: "/tmp/x", Exists: true, Alive: true})
	typ, snap, err := events.DecodePayload[events.RunSnapshot](msg)
	require.NoError(t, err)
	require.Equal(t, events.TypeRunSnapshot, typ)
	require.True(t, snap.Exists)
	require.True(t, snap.Alive)
	require.Equal(t, "/tmp/x", snap.WorkDir)
}
