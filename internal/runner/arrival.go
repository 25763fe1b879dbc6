package runner

import (
	"context"
	"math"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces probe starts.
type pacer interface {
	Wait(ctx context.Context) error
}

func newPacer(cfg SessionConfig) pacer {
	if cfg.RatePerSecond <= 0 {
		return noPacing{}
	}
	switch cfg.ArrivalModel {
	case ArrivalModelPoisson:
		sampler := cfg.PoissonSampler
		if sampler == nil {
			sampler = rand.New(rand.NewSource(time.Now().UnixNano())).ExpFloat64
		}
		return &poissonArrival{rate: float64(cfg.RatePerSecond), sample: sampler}
	default:
		return &uniformArrival{limiter: cfg.LimiterFactory(cfg.RatePerSecond)}
	}
}

type noPacing struct{}

func (noPacing) Wait(ctx context.Context) error {
	return ctx.Err()
}

// uniformArrival delegates pacing to a rate.Limiter (uniform spacing).
type uniformArrival struct {
	limiter *rate.Limiter
}

func (u *uniformArrival) Wait(ctx context.Context) error {
	if u.limiter == nil {
		return ctx.Err()
	}
	return u.limiter.Wait(ctx)
}

// poissonArrival samples exponential inter-arrival times to approximate a Poisson process.
type poissonArrival struct {
	rate   float64
	sample func() float64
}

func (p *poissonArrival) Wait(ctx context.Context) error {
	delay := p.nextDelay()
	if delay <= 0 {
		return ctx.Err()
	}
	return sleep(ctx, delay)
}

func (p *poissonArrival) nextDelay() time.Duration {
	if p.rate <= 0 || p.sample == nil {
		return 0
	}
	delay := float64(time.Second) * p.sample() / p.rate
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	return time.Duration(delay)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
