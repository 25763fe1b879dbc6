package runner

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPoissonGapScalesWithRate(t *testing.T) {
	tests := []struct {
		rate   float64
		sample float64
		want   time.Duration
	}{
		{rate: 200, sample: 1, want: 5 * time.Millisecond},
		{rate: 1000, sample: 2, want: 2 * time.Millisecond},
		{rate: 10, sample: 0.5, want: 50 * time.Millisecond},
		{rate: 0, sample: 1, want: 0},
	}
	for _, tt := range tests {
		sample := tt.sample
		p := &poissonArrival{rate: tt.rate, sample: func() float64 { return sample }}
		if got := p.nextDelay(); got != tt.want {
			t.Errorf("rate %v sample %v: gap %s, want %s", tt.rate, tt.sample, got, tt.want)
		}
	}
}

func TestPacersHonourCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	slow := &poissonArrival{rate: 0.000001, sample: func() float64 { return 1 }}
	if err := slow.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("poisson pacer: expected context.Canceled, got %v", err)
	}
	if err := (noPacing{}).Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("unpaced: expected context.Canceled, got %v", err)
	}
	if err := sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("sleep: expected context.Canceled, got %v", err)
	}
}

func TestNewPacerSelectsModel(t *testing.T) {
	cfg := SessionConfig{}
	cfg.normalize()
	if _, ok := newPacer(cfg).(noPacing); !ok {
		t.Fatal("no rate must disable pacing")
	}

	cfg.RatePerSecond = 10
	if _, ok := newPacer(cfg).(*uniformArrival); !ok {
		t.Fatal("uniform must be the default model")
	}

	cfg.ArrivalModel = ArrivalModelPoisson
	if _, ok := newPacer(cfg).(*poissonArrival); !ok {
		t.Fatal("poisson model not selected")
	}
}
