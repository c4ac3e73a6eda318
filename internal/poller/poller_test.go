package poller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/provider"
)

func fastConfig(maxAttempts int) Config {
	return Config{Floor: time.Millisecond, Ceiling: 3 * time.Millisecond, MaxAttempts: maxAttempts}
}

func TestIntervalScheduleBoundedAndNonDecreasing(t *testing.T) {
	p := New(Config{Floor: time.Second, Ceiling: 3 * time.Second, MaxAttempts: 10}, nil)

	elapsed := []time.Duration{
		0, 5 * time.Second, 19 * time.Second,
		20 * time.Second, 45 * time.Second,
		time.Minute, 5 * time.Minute,
	}

	var prev time.Duration
	for _, e := range elapsed {
		got := p.intervalFor(e, prev)
		if got < time.Second || got > 3*time.Second {
			t.Errorf("interval at elapsed %v is %v, outside [1s, 3s]", e, got)
		}
		if got < prev {
			t.Errorf("interval decreased at elapsed %v: %v < %v", e, got, prev)
		}
		prev = got
	}
}

func TestWaitSucceeds(t *testing.T) {
	checks := 0
	check := func(ctx context.Context, jobID string) (provider.JobStatus, error) {
		checks++
		if checks < 3 {
			return provider.JobStatus{State: provider.StatePending, Fraction: 0.4}, nil
		}
		return provider.JobStatus{State: provider.StateSucceeded, ResultURL: "https://cdn/out.png"}, nil
	}

	var fractions []float64
	st, err := New(fastConfig(10), nil).Wait(context.Background(), "job-1", check, func(f float64) {
		fractions = append(fractions, f)
	})
	if err != nil {
		t.Fatalf("Wait error: %v", err)
	}
	if st.ResultURL != "https://cdn/out.png" {
		t.Errorf("result url = %q", st.ResultURL)
	}
	if checks != 3 {
		t.Errorf("checks = %d, want 3", checks)
	}
	if len(fractions) == 0 || fractions[len(fractions)-1] != 1 {
		t.Errorf("final advisory fraction must be 1, got %v", fractions)
	}
}

func TestWaitFailsImmediatelyOnFailedStatus(t *testing.T) {
	checks := 0
	check := func(ctx context.Context, jobID string) (provider.JobStatus, error) {
		checks++
		return provider.JobStatus{State: provider.StateFailed, Code: "6", Message: "graph failed"}, nil
	}

	_, err := New(fastConfig(50), nil).Wait(context.Background(), "job-1", check, nil)
	if err == nil {
		t.Fatal("expected error for failed job")
	}
	if checks != 1 {
		t.Errorf("failed job polled %d times, want 1", checks)
	}

	var pe *provider.Error
	if !errors.As(err, &pe) || pe.Code != "6" || pe.Message != "graph failed" {
		t.Errorf("error must carry provider code and message: %v", err)
	}
}

func TestWaitPropagatesClassifiedRejection(t *testing.T) {
	checks := 0
	check := func(ctx context.Context, jobID string) (provider.JobStatus, error) {
		checks++
		return provider.JobStatus{}, &provider.Error{
			Kind:    provider.KindModerationUser,
			Code:    "100031",
			Message: "content check failed: 19.inputs.image",
		}
	}

	_, err := New(fastConfig(5), nil).Wait(context.Background(), "job-1", check, nil)
	if err == nil {
		t.Fatal("expected error for rejected job")
	}
	if errors.Is(err, ErrTimeout) {
		t.Error("a classified rejection must not decay into a timeout")
	}
	if provider.KindOf(err) != provider.KindModerationUser {
		t.Errorf("rejection lost its classification: %v", err)
	}
	if checks != 1 {
		t.Errorf("rejected job polled %d times, want 1", checks)
	}
}

func TestWaitPropagatesFailedStateError(t *testing.T) {
	checks := 0
	check := func(ctx context.Context, jobID string) (provider.JobStatus, error) {
		checks++
		return provider.JobStatus{State: provider.StateFailed, Code: "6", Message: "graph execution failed"},
			&provider.Error{Kind: provider.KindTransient, Code: "6", Message: "graph execution failed"}
	}

	st, err := New(fastConfig(5), nil).Wait(context.Background(), "job-1", check, nil)
	if err == nil {
		t.Fatal("expected error for failed job")
	}
	if checks != 1 {
		t.Errorf("failed job polled %d times, want 1", checks)
	}
	if st.State != provider.StateFailed {
		t.Errorf("terminal observation lost: %+v", st)
	}
}

func TestWaitTimesOut(t *testing.T) {
	check := func(ctx context.Context, jobID string) (provider.JobStatus, error) {
		return provider.JobStatus{State: provider.StatePending}, nil
	}

	_, err := New(fastConfig(4), nil).Wait(context.Background(), "job-1", check, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestWaitToleratesFlakyChecks(t *testing.T) {
	checks := 0
	check := func(ctx context.Context, jobID string) (provider.JobStatus, error) {
		checks++
		if checks == 1 {
			return provider.JobStatus{}, errors.New("connection reset")
		}
		return provider.JobStatus{State: provider.StateSucceeded, ResultURL: "u"}, nil
	}

	if _, err := New(fastConfig(5), nil).Wait(context.Background(), "job-1", check, nil); err != nil {
		t.Fatalf("Wait must survive one flaky check: %v", err)
	}
}

func TestWaitObservesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	check := func(ctx context.Context, jobID string) (provider.JobStatus, error) {
		return provider.JobStatus{State: provider.StatePending}, nil
	}
	if _, err := New(fastConfig(5), nil).Wait(ctx, "job-1", check, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
