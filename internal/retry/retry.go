package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

var (
	ErrMaxRetriesExceeded    = errors.New("maximum retries exceeded")
	ErrRetryContextCancelled = errors.New("retry context cancelled")
)

// Policy 重试策略接口
type Policy interface {
	// ShouldRetry 判断是否应该重试
	ShouldRetry(attempt int, err error) bool
	// NextDelay 计算下次重试的延迟
	NextDelay(attempt int) time.Duration
	// MaxAttempts 返回最大尝试次数
	MaxAttempts() int
}

// ExponentialBackoffPolicy 指数退避重试策略
type ExponentialBackoffPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	BackoffRate float64
	Attempts    int
	Jitter      bool
	Retryable   func(error) bool
}

func (p *ExponentialBackoffPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.Attempts {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

func (p *ExponentialBackoffPolicy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * p.BackoffRate)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
			break
		}
	}

	if p.Jitter {
		delay += time.Duration(float64(delay) * 0.1 * (0.5 - rand.Float64())) // ±5%
	}
	return delay
}

func (p *ExponentialBackoffPolicy) MaxAttempts() int {
	return p.Attempts
}

// FixedIntervalPolicy 固定间隔重试策略
type FixedIntervalPolicy struct {
	Interval  time.Duration
	Attempts  int
	Retryable func(error) bool
}

func (p *FixedIntervalPolicy) ShouldRetry(attempt int, err error) bool {
	if attempt >= p.Attempts {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

func (p *FixedIntervalPolicy) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return p.Interval
}

func (p *FixedIntervalPolicy) MaxAttempts() int {
	return p.Attempts
}

// Retrier 重试器
type Retrier struct {
	policy  Policy
	onRetry func(attempt int, err error)
}

func New(policy Policy) *Retrier {
	return &Retrier{policy: policy}
}

func (r *Retrier) WithRetryCallback(callback func(attempt int, err error)) *Retrier {
	r.onRetry = callback
	return r
}

// Execute runs operation until it succeeds, the policy refuses another
// attempt, or ctx ends. The attempt number passed to operation starts at 1.
//
// An error the policy does not consider retryable is returned unchanged.
// Once ctx ends the result wraps ErrRetryContextCancelled and ctx.Err(), never
// the last operation error.
// When attempts run out the last error is wrapped with ErrMaxRetriesExceeded,
// so errors.Is / errors.As still reach it.
func (r *Retrier) Execute(ctx context.Context, operation func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", ErrRetryContextCancelled, err)
		}

		lastErr = operation(attempt)
		if lastErr == nil {
			return nil
		}

		if !r.policy.ShouldRetry(attempt, lastErr) {
			if attempt >= r.policy.MaxAttempts() {
				break
			}
			return lastErr
		}

		if r.onRetry != nil {
			r.onRetry(attempt, lastErr)
		}

		if delay := r.policy.NextDelay(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %w", ErrRetryContextCancelled, ctx.Err())
			case <-time.After(delay):
			}
		}
	}

	return fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
}
