package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sral/selfrefine/core"
)

func newTestConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		ErrorThreshold:   0.5,
		VolumeThreshold:  5,
		SleepWindow:      100 * time.Millisecond,
		HalfOpenRequests: 2,
		SuccessThreshold: 0.5,
		WindowSize:       1 * time.Second,
		BucketCount:      10,
		ErrorClassifier:  DefaultErrorClassifier,
		Logger:           &core.NoOpLogger{},
		Metrics:          &noopMetrics{},
	}
}

func TestCircuitBreakerOpensAfterErrorThresholdAndRecovers(t *testing.T) {
	config := newTestConfig("test")
	cb, err := NewCircuitBreaker(config)
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	for i := 0; i < 6; i++ {
		err := cb.Execute(context.Background(), func() error {
			return errors.New("test error")
		})
		if err == nil {
			t.Error("expected error from Execute")
		}
	}

	// Circuit should now be open and reject immediately.
	err = cb.Execute(context.Background(), func() error {
		return nil
	})
	if !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Errorf("expected ErrCircuitBreakerOpen once threshold exceeded, got %v", err)
	}

	time.Sleep(250 * time.Millisecond)

	// Half-open: enough successes should close the circuit again.
	for i := 0; i < config.HalfOpenRequests; i++ {
		err := cb.Execute(context.Background(), func() error {
			return nil
		})
		if err != nil {
			t.Errorf("expected success in half-open state, got %v", err)
		}
	}

	if err := cb.Execute(context.Background(), func() error { return errors.New("x") }); errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Error("expected circuit to have recovered to closed, still rejecting")
	}
}

func TestCircuitBreakerIgnoresUserErrors(t *testing.T) {
	config := newTestConfig("test")
	config.VolumeThreshold = 3
	cb, err := NewCircuitBreaker(config)
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	// Not-found errors shouldn't count toward the threshold.
	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return core.ErrAgentNotFound
		})
	}

	if err := cb.Execute(context.Background(), func() error { return errors.New("infra") }); errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Error("circuit should still be closed after only user errors")
	}

	// Infrastructure errors should count.
	for i := 0; i < 4; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return core.ErrConnectionFailed
		})
	}

	err = cb.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Errorf("expected circuit open after infrastructure errors, got %v", err)
	}
}

func TestCircuitBreakerRespectsVolumeThreshold(t *testing.T) {
	config := newTestConfig("test")
	config.VolumeThreshold = 10
	cb, err := NewCircuitBreaker(config)
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return errors.New("test error")
		})
	}

	if err := cb.Execute(context.Background(), func() error { return errors.New("y") }); errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Error("expected circuit to stay closed below volume threshold")
	}
}

func TestCircuitBreakerPropagatesPanicAsError(t *testing.T) {
	cb, err := NewCircuitBreaker(newTestConfig("test"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	err = cb.Execute(context.Background(), func() error {
		panic("boom")
	})
	if err == nil {
		t.Error("expected panic to surface as an error")
	}
}

func TestCircuitBreakerExecuteReturnsOnContextCancel(t *testing.T) {
	cb, err := NewCircuitBreaker(newTestConfig("test"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = cb.Execute(ctx, func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	cancel()

	done := make(chan struct{})
	go func() {
		_ = cb.Execute(context.Background(), func() error { return nil })
		close(done)
	}()
	close(release)
	<-done
}

func TestCircuitBreakerConcurrentExecuteIsSafe(t *testing.T) {
	cb, err := NewCircuitBreaker(newTestConfig("test"))
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	var wg sync.WaitGroup
	var successCount, failureCount int32

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := cb.Execute(context.Background(), func() error {
					if (id+j)%2 == 0 {
						return nil
					}
					return errors.New("test error")
				})
				if err == nil {
					atomic.AddInt32(&successCount, 1)
				} else if !errors.Is(err, core.ErrCircuitBreakerOpen) {
					atomic.AddInt32(&failureCount, 1)
				}
			}
		}(i)
	}

	wg.Wait()

	if successCount+failureCount == 0 {
		t.Error("no operations completed")
	}
}

func TestNewCircuitBreakerRejectsInvalidConfig(t *testing.T) {
	config := newTestConfig("")
	_, err := NewCircuitBreaker(config)
	if err == nil {
		t.Error("expected error for missing name")
	}
}

func TestSlidingWindowTracksCountsAndErrorRate(t *testing.T) {
	window := NewSlidingWindowWithLogger(1*time.Second, 10, true, &core.NoOpLogger{}, "test")

	for i := 0; i < 3; i++ {
		window.RecordSuccess()
	}
	for i := 0; i < 2; i++ {
		window.RecordFailure()
	}

	success, failure := window.GetCounts()
	if success != 3 || failure != 2 {
		t.Errorf("expected 3 successes and 2 failures, got %d and %d", success, failure)
	}

	if rate := window.GetErrorRate(); rate != 0.4 {
		t.Errorf("expected error rate 0.4, got %f", rate)
	}

	if total := window.GetTotal(); total != 5 {
		t.Errorf("expected total 5, got %d", total)
	}
}

func TestSlidingWindowExpiresOldBuckets(t *testing.T) {
	window := NewSlidingWindowWithLogger(200*time.Millisecond, 4, true, &core.NoOpLogger{}, "test")

	window.RecordSuccess()
	window.RecordSuccess()
	time.Sleep(150 * time.Millisecond)
	window.RecordFailure()

	success, failure := window.GetCounts()
	if success != 2 || failure != 1 {
		t.Errorf("expected 2 successes and 1 failure, got %d and %d", success, failure)
	}

	time.Sleep(400 * time.Millisecond)

	success, failure = window.GetCounts()
	if success != 0 || failure != 0 {
		t.Errorf("expected counts to expire, got %d successes and %d failures", success, failure)
	}
}

func TestErrorClassifierCustomOverridesDefault(t *testing.T) {
	customClassifier := func(err error) bool {
		return err != nil && err.Error() == "critical"
	}

	config := newTestConfig("test")
	config.VolumeThreshold = 2
	config.ErrorClassifier = customClassifier
	cb, err := NewCircuitBreaker(config)
	if err != nil {
		t.Fatalf("NewCircuitBreaker: %v", err)
	}

	for i := 0; i < 5; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return errors.New("minor")
		})
	}
	if err := cb.Execute(context.Background(), func() error { return errors.New("minor") }); errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Error("non-critical errors should not open the circuit")
	}

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func() error {
			return errors.New("critical")
		})
	}
	err = cb.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, core.ErrCircuitBreakerOpen) {
		t.Errorf("expected circuit open after critical errors, got %v", err)
	}
}
