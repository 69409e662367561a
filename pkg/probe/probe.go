package probe

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrExhausted is returned when the attempt budget runs out before the
// target ever answers.
var ErrExhausted = errors.New("probe: attempt budget exhausted")

// Prober polls a target with a fixed inter-attempt delay. Any response at
// all counts as reachable; only transport errors count as "down". There is
// no backoff: readiness of a freshly started stack is expected within a
// bounded, predictable window.
type Prober struct {
	Attempts int
	Delay    time.Duration
	Timeout  time.Duration

	// OnAttempt, when set, observes every attempt outcome.
	OnAttempt func(target string, attempt, max int, reachable bool)
}

func New(attempts int, delay, timeout time.Duration) Prober {
	if attempts <= 0 {
		attempts = 30
	}
	if delay <= 0 {
		delay = 2 * time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return Prober{Attempts: attempts, Delay: delay, Timeout: timeout}
}

// Wait polls url until it answers or the budget is gone. Every HTTP status
// code counts as up: the question is network reachability, not application
// health.
func (p Prober) Wait(ctx context.Context, url string) error {
	client := &http.Client{Timeout: p.Timeout}
	return p.wait(ctx, url, func(attemptCtx context.Context) bool {
		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return true
	})
}

// WaitTCP is Wait for raw TCP ports (the OTLP gRPC collector port does not
// speak plain HTTP).
func (p Prober) WaitTCP(ctx context.Context, address string) error {
	d := net.Dialer{Timeout: p.Timeout}
	return p.wait(ctx, address, func(attemptCtx context.Context) bool {
		conn, err := d.DialContext(attemptCtx, "tcp", address)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	})
}

// Check is a single-shot reachability test.
func Check(ctx context.Context, url string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

func (p Prober) wait(ctx context.Context, target string, attempt func(context.Context) bool) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	for i := 1; i <= attempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, p.Timeout)
		up := attempt(attemptCtx)
		cancel()

		log.Debug().Str("target", target).Int("attempt", i).Int("max", attempts).Bool("reachable", up).Msg("probe attempt")
		if p.OnAttempt != nil {
			p.OnAttempt(target, i, attempts, up)
		}
		if up {
			log.Info().Str("target", target).Int("attempt", i).Msg("target reachable")
			return nil
		}

		if i == attempts {
			break
		}

		t := time.NewTimer(p.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return errors.Wrap(ctx.Err(), "probe cancelled")
		case <-t.C:
		}
	}

	return errors.Wrapf(ErrExhausted, "target %s not reachable after %d attempts", target, attempts)
}
