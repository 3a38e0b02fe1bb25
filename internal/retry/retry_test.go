package retry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

var errDial = errors.New("dial tcp: connection refused")

func okResponse(status int) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader("")),
	}
}

func TestPolicySchedule(t *testing.T) {
	p := Policy{Retries: 5, BaseDelay: time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	got := p.Schedule()
	if len(got) != len(want) {
		t.Fatalf("Schedule() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Schedule()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if got := p.WorstCaseWait(); got != 31*time.Second {
		t.Fatalf("WorstCaseWait() = %v, want 31s", got)
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	if p.Retries != 5 || p.BaseDelay != time.Second {
		t.Fatalf("DefaultPolicy() = %+v", p)
	}
	if p.IsZero() || !(Policy{}).IsZero() {
		t.Fatal("IsZero() does not tell the zero Policy from DefaultPolicy")
	}
	if (Policy{Retries: 0, BaseDelay: time.Millisecond}).IsZero() {
		t.Fatal("IsZero() = true for an explicit no-retry policy")
	}
}

func TestPolicySchedule_LargeBudgetSaturates(t *testing.T) {
	p := Policy{Retries: 40, BaseDelay: time.Second}
	got := p.Schedule()
	if len(got) != MaxRetries {
		t.Fatalf("Schedule() len = %d, want %d", len(got), MaxRetries)
	}
	for i, d := range got {
		if d <= 0 {
			t.Fatalf("Schedule()[%d] = %v, want positive", i, d)
		}
		if i > 0 && d < got[i-1] {
			t.Fatalf("Schedule()[%d] = %v shorter than previous %v", i, d, got[i-1])
		}
	}
	if got := p.WorstCaseWait(); got <= 0 {
		t.Fatalf("WorstCaseWait() = %v, want positive", got)
	}
	if b := (Policy{Retries: 70, BaseDelay: time.Hour}).normalized().backOff(); b.MaxInterval <= 0 {
		t.Fatalf("MaxInterval = %v, want positive", b.MaxInterval)
	}
}

func TestDo_PersistentTransportFailureExhaustsBudget(t *testing.T) {
	const retries = 3
	base := 2 * time.Millisecond

	var waits []time.Duration
	p := Policy{
		Retries:   retries,
		BaseDelay: base,
		Notify: func(_ int, _ error, next time.Duration) {
			waits = append(waits, next)
		},
	}

	attempts := 0
	start := time.Now()
	_, err := p.Do(context.Background(), "GET /records", func(context.Context) (*http.Response, error) {
		attempts++
		return nil, errDial
	})
	elapsed := time.Since(start)

	if attempts != retries+1 {
		t.Fatalf("attempts = %d, want %d", attempts, retries+1)
	}
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("Do() error = %T %v, want *TransportError", err, err)
	}
	if transportErr.Attempts != retries+1 || !errors.Is(err, errDial) {
		t.Fatalf("TransportError = %+v", transportErr)
	}

	wantTotal := base * (1<<retries - 1)
	var total time.Duration
	for _, w := range waits {
		total += w
	}
	if len(waits) != retries || total != wantTotal {
		t.Fatalf("waits = %v (total %v), want %d waits totalling %v", waits, total, retries, wantTotal)
	}
	if elapsed < wantTotal {
		t.Fatalf("elapsed = %v, want >= %v", elapsed, wantTotal)
	}
}

func TestDo_HTTPErrorStatusIsNotRetried(t *testing.T) {
	p := Policy{Retries: 4, BaseDelay: time.Millisecond}
	attempts := 0
	resp, err := p.Do(context.Background(), "POST /records", func(context.Context) (*http.Response, error) {
		attempts++
		return okResponse(http.StatusInternalServerError), nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}
}

func TestDo_RecoversAfterTransientFailures(t *testing.T) {
	p := Policy{Retries: 5, BaseDelay: time.Millisecond}
	attempts := 0
	resp, err := p.Do(context.Background(), "GET /health", func(context.Context) (*http.Response, error) {
		attempts++
		if attempts < 3 {
			return nil, errDial
		}
		return okResponse(http.StatusOK), nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if attempts != 3 || resp.StatusCode != http.StatusOK {
		t.Fatalf("attempts = %d status = %d, want 3 and 200", attempts, resp.StatusCode)
	}
}

func TestDo_ZeroRetriesMakesOneAttempt(t *testing.T) {
	p := Policy{Retries: 0, BaseDelay: time.Millisecond}
	attempts := 0
	_, err := p.Do(context.Background(), "GET /x", func(context.Context) (*http.Response, error) {
		attempts++
		return nil, errDial
	})
	if attempts != 1 || err == nil {
		t.Fatalf("attempts = %d err = %v, want 1 attempt and an error", attempts, err)
	}
}

func TestDo_ContextCancelAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{
		Retries:   5,
		BaseDelay: time.Hour,
		Notify: func(int, error, time.Duration) {
			cancel()
		},
	}
	start := time.Now()
	_, err := p.Do(ctx, "GET /x", func(context.Context) (*http.Response, error) {
		return nil, errDial
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Fatalf("cancel did not abort the backoff wait")
	}
}
