package reservation

import (
	"context"
	"time"
)

// RetryConfig конфигурация повторов при конфликте версий остатка.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  10 * time.Millisecond,
		MaxDelay:      200 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

// NoRetry — одна попытка без повторов.
func NoRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 1}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	if c.MaxDelay < c.InitialDelay {
		c.MaxDelay = c.InitialDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = 1
	}
	return c
}

// next — экспоненциальная задержка с ограничением.
func (c RetryConfig) next(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * c.BackoffFactor)
	if delay > c.MaxDelay {
		delay = c.MaxDelay
	}
	return delay
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
