package directory

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        50 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func classifyAs(class ErrorClass) func(error) ErrorClass {
	return func(error) ErrorClass { return class }
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", config.MaxAttempts)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryConfig_ForClass(t *testing.T) {
	base := DefaultRetryConfig()

	rl := base.forClass(ErrorClassRateLimit)
	if rl.InitialBackoff != 5*time.Second {
		t.Errorf("rate limit InitialBackoff = %v, want 5s", rl.InitialBackoff)
	}
	if rl.MaxBackoff != 60*time.Second {
		t.Errorf("rate limit MaxBackoff = %v, want 60s", rl.MaxBackoff)
	}

	if srv := base.forClass(ErrorClassServer); srv != base {
		t.Errorf("server config = %+v, want %+v", srv, base)
	}
}

func TestRetryWithBackoff_Success(t *testing.T) {
	callCount := 0
	fn := func() error {
		callCount++
		return nil
	}

	err := retryWithBackoff(context.Background(), fastRetryConfig(), fn, classifyAs(ErrorClassServer))

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call, got %d", callCount)
	}
}

func TestRetryWithBackoff_SuccessAfterRetry(t *testing.T) {
	callCount := 0
	fn := func() error {
		callCount++
		if callCount < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	start := time.Now()
	err := retryWithBackoff(context.Background(), fastRetryConfig(), fn, classifyAs(ErrorClassServer))
	duration := time.Since(start)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls, got %d", callCount)
	}

	// ~10ms + ~20ms with ±20% jitter
	if duration < 20*time.Millisecond {
		t.Errorf("Expected some backoff delay, got %v", duration)
	}
}

func TestRetryWithBackoff_MaxAttemptsExhausted(t *testing.T) {
	callCount := 0
	testErr := &APIError{StatusCode: 503, Message: "unavailable"}
	fn := func() error {
		callCount++
		return testErr
	}

	err := retryWithBackoff(context.Background(), fastRetryConfig(), fn, classifyError)

	if !errors.Is(err, ErrRetryExhausted) {
		t.Errorf("Expected ErrRetryExhausted, got %v", err)
	}
	if StatusCode(err) != 503 {
		t.Errorf("Expected last APIError to stay reachable, got %v", err)
	}
	if callCount != 3 {
		t.Errorf("Expected 3 calls (MaxAttempts), got %d", callCount)
	}
}

func TestRetryWithBackoff_ClientErrorNoRetry(t *testing.T) {
	callCount := 0
	testErr := &APIError{StatusCode: 409, Reason: "duplicate", Message: "Member already exists."}
	fn := func() error {
		callCount++
		return testErr
	}

	err := retryWithBackoff(context.Background(), fastRetryConfig(), fn, classifyError)

	if callCount != 1 {
		t.Errorf("Expected 1 call (no retry for client errors), got %d", callCount)
	}
	if err != testErr {
		t.Errorf("Expected underlying error unwrapped, got %v", err)
	}
}

func TestRetryWithBackoff_SingleAttemptReturnsRawError(t *testing.T) {
	testErr := errors.New("connection reset")
	config := fastRetryConfig()
	config.MaxAttempts = 1

	err := retryWithBackoff(context.Background(), config, func() error { return testErr }, classifyAs(ErrorClassNetwork))
	if err != testErr {
		t.Errorf("Expected raw error, got %v", err)
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	fn := func() error {
		callCount++
		if callCount == 1 {
			cancel()
		}
		return errors.New("error")
	}

	config := fastRetryConfig()
	config.InitialBackoff = time.Second

	err := retryWithBackoff(ctx, config, fn, classifyAs(ErrorClassServer))

	if !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Expected ErrContextCancelled, got %v", err)
	}
	if callCount != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", callCount)
	}
}

func TestRetryWithBackoff_ExponentialBackoff(t *testing.T) {
	timestamps := []time.Time{}
	fn := func() error {
		timestamps = append(timestamps, time.Now())
		return errors.New("error")
	}

	config := RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}

	_ = retryWithBackoff(context.Background(), config, fn, classifyAs(ErrorClassServer))

	if len(timestamps) != 3 {
		t.Fatalf("Expected 3 timestamps, got %d", len(timestamps))
	}

	firstDelay := timestamps[1].Sub(timestamps[0])
	secondDelay := timestamps[2].Sub(timestamps[1])

	// With jitter (±20%), expect first delay roughly in range [40ms, 60ms]
	if firstDelay < 35*time.Millisecond {
		t.Errorf("First retry delay %v shorter than expected", firstDelay)
	}

	// Second delay should be roughly double
	if secondDelay < 75*time.Millisecond {
		t.Errorf("Second retry delay %v shorter than expected", secondDelay)
	}
}
