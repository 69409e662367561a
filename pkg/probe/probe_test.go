package probe

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func deadAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestWait_DeadTargetExhaustsExactBudget(t *testing.T) {
	addr := deadAddr(t)

	var attempts int32
	p := Prober{
		Attempts: 3,
		Delay:    20 * time.Millisecond,
		Timeout:  100 * time.Millisecond,
		OnAttempt: func(_ string, _, _ int, reachable bool) {
			atomic.AddInt32(&attempts, 1)
			require.False(t, reachable)
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	err := p.Wait(ctx, "http://"+addr+"/")
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrExhausted))
	require.Equal(t, int32(3), atomic.LoadInt32(&attempts))
	// Two inter-attempt delays for three attempts.
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestWait_SucceedsOnKthAttempt(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// Fail twice at the transport level, then let the request through.
	p := Prober{Attempts: 10, Delay: 10 * time.Millisecond, Timeout: 200 * time.Millisecond}
	p.OnAttempt = func(_ string, _, _ int, _ bool) { atomic.AddInt32(&hits, 1) }

	dead := deadAddr(t)
	urls := []string{"http://" + dead + "/", "http://" + dead + "/", srv.URL}
	i := 0
	err := p.wait(context.Background(), "mixed", func(ctx context.Context) bool {
		url := urls[i]
		i++
		client := &http.Client{Timeout: 200 * time.Millisecond}
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	})
	require.NoError(t, err)
	require.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestWait_AnyStatusCountsAsReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := Prober{Attempts: 1, Delay: 10 * time.Millisecond, Timeout: 500 * time.Millisecond}
	require.NoError(t, p.Wait(context.Background(), srv.URL))
}

func TestWait_ContextCancelAbortsBetweenAttempts(t *testing.T) {
	addr := deadAddr(t)

	ctx, cancel := context.WithCancel(context.Background())
	p := Prober{Attempts: 100, Delay: 50 * time.Millisecond, Timeout: 100 * time.Millisecond}
	p.OnAttempt = func(_ string, attempt, _ int, _ bool) {
		if attempt == 2 {
			cancel()
		}
	}

	err := p.Wait(ctx, "http://"+addr+"/")
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrExhausted))
	require.True(t, errors.Is(err, context.Canceled))
}

func TestWaitTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()

	p := Prober{Attempts: 3, Delay: 10 * time.Millisecond, Timeout: 200 * time.Millisecond}
	require.NoError(t, p.WaitTCP(context.Background(), ln.Addr().String()))

	dead := deadAddr(t)
	err = p.WaitTCP(context.Background(), dead)
	require.True(t, errors.Is(err, ErrExhausted))
}

func TestCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	require.True(t, Check(context.Background(), srv.URL, 500*time.Millisecond))

	dead := deadAddr(t)
	require.False(t, Check(context.Background(), "http://"+dead+"/", 200*time.Millisecond))
}
