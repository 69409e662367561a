package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/otelrun/pkg/events"
	"github.com/go-go-golems/otelrun/pkg/launch"
	"github.com/go-go-golems/otelrun/pkg/probe"
	"github.com/go-go-golems/otelrun/pkg/state"
)

type fakeStack struct {
	mu        sync.Mutex
	ensures   int
	stops     int
	started   bool
	ensureErr error
}

func (f *fakeStack) Ensure(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures++
	return f.started, f.ensureErr
}

func (f *fakeStack) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeStack) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ensures, f.stops
}

// capturePub records published envelope types in order.
type capturePub struct {
	mu    sync.Mutex
	types []string
}

func (c *capturePub) Publish(_ string, msgs ...*message.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range msgs {
		var env events.Envelope
		if err := json.Unmarshal(m.Payload, &env); err != nil {
			return err
		}
		c.types = append(c.types, env.Type)
	}
	return nil
}

func (c *capturePub) Close() error { return nil }

func (c *capturePub) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.types...)
}

func testOptions(t *testing.T, endpoint string, command []string) Options {
	t.Helper()
	dir, err := os.MkdirTemp("", "otelrun-orch-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return Options{
		Endpoint: endpoint,
		WorkDir:  dir,
		Grace:    2 * time.Second,
		Spec:     launch.Spec{Name: "svc", Command: command},
	}
}

func testLauncher(workDir, endpoint string) *launch.Launcher {
	return &launch.Launcher{
		WorkDir: workDir,
		OTel:    launch.OTelEnv{Endpoint: endpoint, ServiceName: "svc", ServiceVersion: "test"},
	}
}

func TestRun_LocalEndpointEnsuresStack(t *testing.T) {
	opts := testOptions(t, "http://localhost:4317", []string{"bash", "-c", "exit 0"})
	stk := &fakeStack{}

	o := New(opts, stk, testLauncher(opts.WorkDir, opts.Endpoint), nil)
	require.NoError(t, o.Run(context.Background()))

	ensures, _ := stk.counts()
	require.Equal(t, 1, ensures)
	require.Equal(t, StateStopped, o.State())
}

func TestRun_RemoteEndpointSkipsStack(t *testing.T) {
	opts := testOptions(t, "https://remote.example:443", []string{"bash", "-c", "exit 0"})
	stk := &fakeStack{}

	o := New(opts, stk, testLauncher(opts.WorkDir, opts.Endpoint), nil)
	require.NoError(t, o.Run(context.Background()))

	ensures, stops := stk.counts()
	require.Equal(t, 0, ensures)
	require.Equal(t, 0, stops)
}

func TestRun_ProbeExhaustionIsFatalBeforeLaunch(t *testing.T) {
	opts := testOptions(t, "http://localhost:4317", []string{"bash", "-c", "sleep 10"})
	stk := &fakeStack{started: true, ensureErr: errors.Wrap(probe.ErrExhausted, "dashboard")}

	o := New(opts, stk, testLauncher(opts.WorkDir, opts.Endpoint), nil)
	err := o.Run(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, probe.ErrExhausted))

	// The stack this run started gets stopped again; the service was never
	// launched so no state file exists.
	_, stops := stk.counts()
	require.Equal(t, 1, stops)
	require.False(t, state.Exists(opts.WorkDir))
}

func TestRun_SignalTerminatesChildThenStopsOwnedStack(t *testing.T) {
	opts := testOptions(t, "http://localhost:4317", []string{"bash", "-c", "sleep 30"})
	stk := &fakeStack{started: true}
	pub := &capturePub{}

	o := New(opts, stk, testLauncher(opts.WorkDir, opts.Endpoint), pub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	// Wait for the run to reach Running (state file written).
	deadline := time.Now().Add(5 * time.Second)
	for !state.Exists(opts.WorkDir) && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	require.True(t, state.Exists(opts.WorkDir))

	run, err := state.Load(opts.WorkDir)
	require.NoError(t, err)
	require.True(t, run.Stack.StartedByUs)
	pid := run.Service.PID
	require.True(t, state.ProcessAlive(pid))

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not finish after cancellation")
	}

	require.False(t, state.ProcessAlive(pid))
	_, stops := stk.counts()
	require.Equal(t, 1, stops)
	require.False(t, state.Exists(opts.WorkDir))
}

func TestRun_UnownedStackIsLeftRunning(t *testing.T) {
	opts := testOptions(t, "http://localhost:4317", []string{"bash", "-c", "exit 0"})
	stk := &fakeStack{started: false}

	o := New(opts, stk, testLauncher(opts.WorkDir, opts.Endpoint), nil)
	require.NoError(t, o.Run(context.Background()))

	_, stops := stk.counts()
	require.Equal(t, 0, stops)
}

func TestRun_NonZeroChildExitSurfaces(t *testing.T) {
	opts := testOptions(t, "https://remote.example:443", []string{"bash", "-c", "exit 7"})

	o := New(opts, nil, testLauncher(opts.WorkDir, opts.Endpoint), nil)
	err := o.Run(context.Background())
	require.Error(t, err)

	var cee *ChildExitError
	require.True(t, errors.As(err, &cee))
	require.Equal(t, 7, cee.Code)
	require.False(t, state.Exists(opts.WorkDir))
}

func TestRun_TransitionOrder(t *testing.T) {
	opts := testOptions(t, "http://localhost:4317", []string{"bash", "-c", "exit 0"})
	stk := &fakeStack{started: true}
	pub := &capturePub{}

	o := New(opts, stk, testLauncher(opts.WorkDir, opts.Endpoint), pub)
	require.NoError(t, o.Run(context.Background()))

	var transitions []string
	for _, typ := range pub.seen() {
		if typ == events.TypeStateChanged {
			transitions = append(transitions, typ)
		}
	}
	// idle->ensuring, ->launching, ->running, ->shutting-down, ->stopped.
	require.Len(t, transitions, 5)

	// The stack ensure event comes before the launch event, and the
	// shutdown result is last.
	seen := pub.seen()
	idx := func(typ string) int {
		for i, s := range seen {
			if s == typ {
				return i
			}
		}
		return -1
	}
	require.Greater(t, idx(events.TypeServiceLaunch), idx(events.TypeStackEnsure))
	require.Equal(t, len(seen)-2, idx(events.TypeShutdownResult))
}
