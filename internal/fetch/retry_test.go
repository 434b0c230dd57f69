package fetch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestRetryer(attempts int) (*Retryer, *[]time.Duration) {
	var slept []time.Duration
	r := NewRetryer(attempts)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	r.jitter = func() float64 { return 0 }
	return r, &slept
}

func TestRetryerStopsAtMaxAttempts(t *testing.T) {
	r, _ := newTestRetryer(3)

	calls := 0
	result := r.Do(context.Background(), func(ctx context.Context) ([]Record, error) {
		calls++
		return nil, errors.New("boom")
	})

	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if result.Status != StatusError {
		t.Fatalf("expected error result, got %s", result.Status)
	}
}

func TestRetryerDelaysNonDecreasing(t *testing.T) {
	r := NewRetryer(5)
	r.jitter = func() float64 { return 0 }
	r.BaseDelay = 2 * time.Second
	r.MaxDelay = 30 * time.Second

	var prev time.Duration
	for attempt := 0; attempt < 6; attempt++ {
		d := r.Delay(attempt)
		if d < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, d, prev)
		}
		if d > r.MaxDelay+r.MaxDelay/10 {
			t.Fatalf("delay %v exceeds cap with jitter at attempt %d", d, attempt)
		}
		prev = d
	}
}

func TestRetryerDelayCapped(t *testing.T) {
	r := NewRetryer(3)
	r.jitter = func() float64 { return 0 }
	r.BaseDelay = 2 * time.Second
	r.MaxDelay = 30 * time.Second

	if d := r.Delay(10); d != 30*time.Second {
		t.Fatalf("expected capped delay 30s, got %v", d)
	}
}

func TestRetryerRetriesEmptyResults(t *testing.T) {
	r, slept := newTestRetryer(3)

	calls := 0
	result := r.Do(context.Background(), func(ctx context.Context) ([]Record, error) {
		calls++
		if calls < 3 {
			return nil, nil
		}
		return []Record{{Title: "hit", URL: "https://example.com"}}, nil
	})

	if calls != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", calls)
	}
	if !result.IsOK() || len(result.Records) != 1 {
		t.Fatalf("expected ok result with 1 record, got %+v", result)
	}
	if len(*slept) != 2 {
		t.Fatalf("expected 2 sleeps between 3 attempts, got %d", len(*slept))
	}
}

func TestRetryerExhaustedEmptyReturnsEmpty(t *testing.T) {
	r, _ := newTestRetryer(3)

	result := r.Do(context.Background(), func(ctx context.Context) ([]Record, error) {
		return nil, nil
	})

	if result.Status != StatusEmpty {
		t.Fatalf("expected empty result, got %s", result.Status)
	}
}

func TestRetryerPermanentErrorShortCircuits(t *testing.T) {
	r, slept := newTestRetryer(3)

	calls := 0
	result := r.Do(context.Background(), func(ctx context.Context) ([]Record, error) {
		calls++
		return nil, Permanent(errors.New("not found"))
	})

	if calls != 1 {
		t.Fatalf("expected 1 call for permanent error, got %d", calls)
	}
	if result.Status != StatusError {
		t.Fatalf("expected error result, got %s", result.Status)
	}
	if len(*slept) != 0 {
		t.Fatalf("expected no sleeps, got %d", len(*slept))
	}
}

func TestRetryerContextCancellation(t *testing.T) {
	r := NewRetryer(3)
	r.jitter = func() float64 { return 0 }
	ctx, cancel := context.WithCancel(context.Background())
	r.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	calls := 0
	result := r.Do(ctx, func(ctx context.Context) ([]Record, error) {
		calls++
		return nil, errors.New("boom")
	})

	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
	if result.Status != StatusError {
		t.Fatalf("expected error result, got %s", result.Status)
	}
}
