package events

import (
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/otelrun/pkg/state"
)

type capturePub struct {
	mu   sync.Mutex
	envs []Envelope
}

func (c *capturePub) Publish(_ string, msgs ...*message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		var env Envelope
		if err := json.Unmarshal(m.Payload, &env); err != nil {
			return err
		}
		c.envs = append(c.envs, env)
	}
	return nil
}

func (c *capturePub) Close() error { return nil }

func (c *capturePub) seen() []Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Envelope{}, c.envs...)
}

func TestPublish_RoundTrip(t *testing.T) {
	pub := &capturePub{}
	require.NoError(t, Publish(pub, TopicRunEvents, TypeServiceLaunch, ServiceLaunched{Name: "svc", PID: 42}))

	envs := pub.seen()
	require.Len(t, envs, 1)
	require.Equal(t, TypeServiceLaunch, envs[0].Type)

	var ev ServiceLaunched
	require.NoError(t, json.Unmarshal(envs[0].Payload, &ev))
	require.Equal(t, "svc", ev.Name)
	require.Equal(t, 42, ev.PID)
}

func TestPublish_NilPublisherDrops(t *testing.T) {
	require.NoError(t, Publish(nil, TopicRunEvents, TypeProbeReady, ProbeReady{Target: "x"}))
}

func TestStateWatcher_EmitsSnapshots(t *testing.T) {
	dir, err := os.MkdirTemp("", "otelrun-watcher-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	pub := &capturePub{}
	w := &StateWatcher{WorkDir: dir, Interval: 10 * time.Millisecond, Pub: pub}

	// No state file yet.
	require.NoError(t, w.emitSnapshot())

	// A run whose child is this test process (always alive).
	require.NoError(t, state.Save(dir, &state.Run{
		WorkDir: dir,
		Service: state.ServiceRecord{Name: "svc", PID: os.Getpid()},
	}))
	require.NoError(t, w.emitSnapshot())

	envs := pub.seen()
	require.Len(t, envs, 2)

	var first, second RunSnapshot
	require.NoError(t, json.Unmarshal(envs[0].Payload, &first))
	require.NoError(t, json.Unmarshal(envs[1].Payload, &second))
	require.False(t, first.Exists)
	require.True(t, second.Exists)
	require.True(t, second.Alive)
	require.Equal(t, "svc", second.Run.Service.Name)
}

func TestStateWatcher_EmitsServiceExitedOnDeathEdge(t *testing.T) {
	dir, err := os.MkdirTemp("", "otelrun-watcher-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })

	pub := &capturePub{}
	w := &StateWatcher{WorkDir: dir, Interval: 10 * time.Millisecond, Pub: pub}

	require.NoError(t, state.Save(dir, &state.Run{
		WorkDir: dir,
		Service: state.ServiceRecord{Name: "svc", PID: os.Getpid()},
	}))
	require.NoError(t, w.emitSnapshot())

	// Swap in a PID that cannot exist; the watcher should notice the edge.
	require.NoError(t, state.Save(dir, &state.Run{
		WorkDir: dir,
		Service: state.ServiceRecord{Name: "svc", PID: 1 << 30},
	}))
	require.NoError(t, w.emitSnapshot())

	var exited bool
	for _, env := range pub.seen() {
		if env.Type == TypeServiceExited {
			exited = true
		}
	}
	require.True(t, exited)
}
