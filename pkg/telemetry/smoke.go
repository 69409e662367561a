package telemetry

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// SmokeOptions bounds a metrics smoke run.
type SmokeOptions struct {
	Duration time.Duration
	Interval time.Duration
}

// SmokeReport summarizes what a smoke run sent.
type SmokeReport struct {
	Batches  int           `json:"batches"`
	Elapsed  time.Duration `json:"elapsed"`
	Endpoint string        `json:"endpoint"`
}

// RunSmoke emits a fixed traffic pattern against the configured endpoint
// for a bounded duration: a couple of request samples, a cart update, an
// order and a login per batch. Enough to light up every instrument on the
// dashboard.
func RunSmoke(ctx context.Context, cfg Config, opts SmokeOptions) (*SmokeReport, error) {
	if opts.Duration <= 0 {
		opts.Duration = 30 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}

	insts, shutdown, err := Setup(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			log.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	start := time.Now()
	deadline := start.Add(opts.Duration)
	t := time.NewTicker(opts.Interval)
	defer t.Stop()

	batches := 0
	for {
		emitBatch(ctx, insts, batches)
		batches++
		log.Info().Int("batch", batches).Msg("metrics batch emitted")

		if time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return &SmokeReport{Batches: batches, Elapsed: time.Since(start), Endpoint: cfg.Endpoint}, ctx.Err()
		case <-t.C:
		}
	}

	return &SmokeReport{Batches: batches, Elapsed: time.Since(start), Endpoint: cfg.Endpoint}, nil
}

func emitBatch(ctx context.Context, insts *Instruments, n int) {
	user := "smoke-user"

	insts.TrackRequest(ctx, "GET", "/products", 200, 20+rand.Float64()*80) // #nosec G404 -- sample jitter only
	insts.TrackRequest(ctx, "POST", "/cart/items", 200, 30+rand.Float64()*120)
	if n%3 == 2 {
		insts.TrackRequest(ctx, "GET", "/orders/unknown", 404, 5+rand.Float64()*10)
	}

	insts.TrackCartUpdate(ctx, user, 5)
	insts.TrackOrder(ctx, user, 99.99)
	insts.TrackUserActivity(ctx, user, true)
}
