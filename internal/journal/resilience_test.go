package journal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"github.com/aristath/jobqueue/internal/logging"
)

// scriptedWrite returns the configured errors in order, then nil.
type scriptedWrite struct {
	mu        sync.Mutex
	errs      []error
	callCount int
}

func (w *scriptedWrite) write(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.callCount++
	if w.callCount <= len(w.errs) {
		return w.errs[w.callCount-1]
	}
	return nil
}

func (w *scriptedWrite) CallCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.callCount
}

func quickRetry(maxRetries uint64) RetryConfig {
	return RetryConfig{
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		MaxRetries:      maxRetries,
		Multiplier:      2.0,
	}
}

func TestWriteWithRetry_TransientThenSuccess(t *testing.T) {
	w := &scriptedWrite{errs: []error{
		fmt.Errorf("database is locked"),
		fmt.Errorf("database is locked"),
	}}
	cb := newBreaker("test", DefaultBreakerConfig(), logging.Discard())

	if err := writeWithRetry(context.Background(), cb, quickRetry(3), w.write); err != nil {
		t.Fatalf("expected success after retries, got error: %v", err)
	}
	if w.CallCount() != 3 {
		t.Errorf("expected 3 calls (2 failures + 1 success), got %d", w.CallCount())
	}
}

func TestWriteWithRetry_GivesUpAfterMaxRetries(t *testing.T) {
	errs := make([]error, 10)
	for i := range errs {
		errs[i] = fmt.Errorf("disk I/O error %d", i+1)
	}
	w := &scriptedWrite{errs: errs}
	cb := newBreaker("test", BreakerConfig{ConsecutiveFailures: 100}, logging.Discard())

	if err := writeWithRetry(context.Background(), cb, quickRetry(2), w.write); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if w.CallCount() != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", w.CallCount())
	}
}

// TestWriteWithRetry_CircuitOpens verifies an open breaker short-circuits
// writes without calling the store.
func TestWriteWithRetry_CircuitOpens(t *testing.T) {
	errs := make([]error, 20)
	for i := range errs {
		errs[i] = fmt.Errorf("persistent error %d", i+1)
	}
	w := &scriptedWrite{errs: errs}
	cb := newBreaker("test", BreakerConfig{ConsecutiveFailures: 3, Timeout: time.Minute}, logging.Discard())

	// Three failed attempts trip the breaker.
	if err := writeWithRetry(context.Background(), cb, quickRetry(2), w.write); err == nil {
		t.Fatal("expected error")
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("expected circuit open, got %v", cb.State())
	}

	calls := w.CallCount()
	err := writeWithRetry(context.Background(), cb, quickRetry(2), w.write)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
	if w.CallCount() != calls {
		t.Errorf("open breaker still called the store (%d -> %d)", calls, w.CallCount())
	}
}

func TestWriteWithRetry_ContextCancelled_StopsRetry(t *testing.T) {
	errs := make([]error, 100)
	for i := range errs {
		errs[i] = fmt.Errorf("error %d", i+1)
	}
	w := &scriptedWrite{errs: errs}
	cb := newBreaker("test", BreakerConfig{ConsecutiveFailures: 1000}, logging.Discard())
	retry := RetryConfig{
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
		MaxRetries:      1000,
		Multiplier:      2.0,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := writeWithRetry(ctx, cb, retry, w.write)
	elapsed := time.Since(start)

	if err == nil {
		t.Fatal("expected error due to context cancellation")
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("writeWithRetry took %v, expected < 500ms (context should stop retries)", elapsed)
	}
}

// TestBreaker_CancellationNotCounted verifies shutdown does not trip the
// breaker.
func TestBreaker_CancellationNotCounted(t *testing.T) {
	cb := newBreaker("test", BreakerConfig{ConsecutiveFailures: 2}, logging.Discard())

	for i := 0; i < 5; i++ {
		_, _ = cb.Execute(func() (interface{}, error) {
			return nil, context.Canceled
		})
	}

	if cb.State() != gobreaker.StateClosed {
		t.Errorf("expected circuit to remain closed after cancellations, got state: %v", cb.State())
	}
}

func TestNewBreakerDefaultsThreshold(t *testing.T) {
	cb := newBreaker("journal", BreakerConfig{Timeout: time.Minute}, logging.Discard())
	if cb.Name() != "journal" {
		t.Errorf("expected breaker name 'journal', got %q", cb.Name())
	}

	fail := func() (interface{}, error) { return nil, errors.New("fail") }
	for i := uint32(0); i < DefaultBreakerConfig().ConsecutiveFailures-1; i++ {
		_, _ = cb.Execute(fail)
	}
	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("breaker opened before the default threshold")
	}
	_, _ = cb.Execute(fail)
	if cb.State() != gobreaker.StateOpen {
		t.Errorf("expected open after %d failures, got %v", DefaultBreakerConfig().ConsecutiveFailures, cb.State())
	}
}
