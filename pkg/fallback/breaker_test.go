package fallback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestBreaker() (*CircuitBreaker, *time.Time) {
	now := time.Unix(1700000000, 0)
	b := NewCircuitBreaker("test")
	b.now = func() time.Time { return now }
	return b, &now
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	b, now := newTestBreaker()

	for i := 0; i < 4; i++ {
		b.RecordFailure()
		if !b.Allow() {
			t.Fatalf("breaker open after %d failures", i+1)
		}
	}
	b.RecordFailure()
	if b.Allow() {
		t.Fatal("breaker still closed after 5 failures")
	}
	if b.State() != "open" {
		t.Fatalf("state = %s, want open", b.State())
	}

	// After the recovery timeout a probe gets through.
	*now = now.Add(30 * time.Second)
	if !b.Allow() {
		t.Fatal("no probe allowed after recovery timeout")
	}
	if b.State() != "half_open" {
		t.Fatalf("state = %s, want half_open", b.State())
	}

	b.RecordSuccess()
	b.Allow()
	b.RecordSuccess()
	b.Allow()
	b.RecordSuccess()
	if b.State() != "closed" {
		t.Fatalf("state = %s, want closed after 3 probe successes", b.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	b, now := newTestBreaker()

	for i := 0; i < 5; i++ {
		b.RecordFailure()
	}
	*now = now.Add(30 * time.Second)
	if !b.Allow() {
		t.Fatal("no probe allowed")
	}

	b.RecordFailure()
	if b.State() != "open" {
		t.Fatalf("state = %s, want open after failed probe", b.State())
	}
	if b.Allow() {
		t.Fatal("call allowed right after reopening")
	}
}

func TestCircuitBreakerSuccessResetsStreak(t *testing.T) {
	b, _ := newTestBreaker()

	for i := 0; i < 4; i++ {
		b.RecordFailure()
	}
	b.RecordSuccess()
	b.RecordFailure()
	if !b.Allow() {
		t.Fatal("breaker opened despite success resetting the streak")
	}
}

func TestRetryWithBackoff(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := retryWithBackoff(context.Background(), 3, time.Millisecond, 10*time.Millisecond, func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("retry: %v", err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("exhausts retries", func(t *testing.T) {
		calls := 0
		wantErr := errors.New("down")
		err := retryWithBackoff(context.Background(), 2, time.Millisecond, 10*time.Millisecond, func() error {
			calls++
			return wantErr
		})
		if !errors.Is(err, wantErr) {
			t.Fatalf("err = %v, want %v", err, wantErr)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := retryWithBackoff(ctx, 5, time.Millisecond, 10*time.Millisecond, func() error {
			calls++
			return errors.New("down")
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if calls != 1 {
			t.Errorf("calls = %d, want 1", calls)
		}
	})
}

func TestLLMClassifyRetriesTransientError(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"role": "assistant", "content": `{"category": "safe", "severity": "none", "confidence": 0.9, "reason": "ok"}`}},
			},
			"usage": map[string]int{"total_tokens": 10},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	d := NewLLMDetector(LLMConfig{Provider: ProviderOpenRouter, APIKey: "k", BaseURL: srv.URL})
	d.retryBase = time.Millisecond

	v, err := d.Classify(context.Background(), "text")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if v.Flagged {
		t.Error("safe verdict flagged")
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("upstream called %d times, want 2", got)
	}
	if d.breaker.State() != "closed" {
		t.Errorf("breaker state = %s, want closed after recovered call", d.breaker.State())
	}
}

func TestLLMClassifyCircuitOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("upstream called while breaker open")
	}))
	defer srv.Close()

	d := NewLLMDetector(LLMConfig{Provider: ProviderOpenRouter, APIKey: "k", BaseURL: srv.URL})
	for i := 0; i < 5; i++ {
		d.breaker.RecordFailure()
	}

	if _, err := d.Classify(context.Background(), "text"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
}
