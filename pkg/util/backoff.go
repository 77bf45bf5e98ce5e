package util

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spf13/viper"
)

const (
	ParamRetries      = "retries"
	ParamRetryBackoff = "retry-backoff"
	ParamRetryPolicy  = "retry-policy"

	DefaultRetries      = 2
	DefaultRetryBackoff = 1 * time.Second
	defaultRetryPolicy  = PolicyExponential

	PolicyConstant    = "constant"
	PolicyDisabled    = "disabled"
	PolicyExponential = "exponential"

	// maxRetryInterval caps a single wait, it only matters for very long retry chains.
	maxRetryInterval = 1 * time.Hour
)

// BackoffFactory creates a fresh backoff.BackOff for each delivery.
type BackoffFactory func() backoff.BackOff

// NewBackoffFactory creates a new BackoffFactory based on a backoff.ExponentialBackOff without
// jitter, so the n-th retry (zero-indexed) waits exactly interval * multiplier^n.  Retrying stops
// after maxRetries retries; the first attempt is not a retry.
//
// backoff.ConstantBackOff has no retry cap of its own, so a multiplier of 1.0 is used instead.
func NewBackoffFactory(multiplier float64, interval time.Duration, maxRetries uint64) BackoffFactory {
	return func() backoff.BackOff {
		if maxRetries == 0 {
			return &backoff.StopBackOff{}
		}
		bo := &backoff.ExponentialBackOff{
			InitialInterval:     interval,
			RandomizationFactor: 0,
			Multiplier:          multiplier,
			MaxInterval:         maxRetryInterval,
			MaxElapsedTime:      0, // bounded by maxRetries only
			Clock:               backoff.SystemClock,
		}
		bo.Reset() // Reset is required to make the InitialInterval take effect.
		return backoff.WithMaxRetries(bo, maxRetries)
	}
}

// NewRetryBackoffFactory returns the default policy: up to retries retries, waiting
// retryBackoff * 2^n before the n-th one.
func NewRetryBackoffFactory(retries int, retryBackoff time.Duration) BackoffFactory {
	if retries < 0 {
		retries = 0
	}
	return NewBackoffFactory(2.0, retryBackoff, uint64(retries))
}

// GetRetryFromViper reads the retry policy from the provided viper.
func GetRetryFromViper(v *viper.Viper) (BackoffFactory, error) {
	v.SetDefault(ParamRetries, DefaultRetries)
	v.SetDefault(ParamRetryBackoff, DefaultRetryBackoff)
	v.SetDefault(ParamRetryPolicy, defaultRetryPolicy)

	retries := v.GetInt64(ParamRetries)
	retryBackoff := v.GetDuration(ParamRetryBackoff)
	retryPolicy := v.GetString(ParamRetryPolicy)

	if retries < 0 {
		return nil, errors.New(ParamRetries + " must be zero or positive")
	}
	if retryBackoff < 0 {
		return nil, errors.New(ParamRetryBackoff + " must not be negative")
	}

	switch retryPolicy {
	case PolicyDisabled:
		return func() backoff.BackOff { return &backoff.StopBackOff{} }, nil
	case PolicyExponential:
		return NewBackoffFactory(2.0, retryBackoff, uint64(retries)), nil
	case PolicyConstant:
		return NewBackoffFactory(1.0, retryBackoff, uint64(retries)), nil
	default:
		return nil, fmt.Errorf("%s (%s) not one of %s, %s, or %s", ParamRetryPolicy, retryPolicy, PolicyDisabled, PolicyConstant, PolicyExponential)
	}
}

// SecondsToDuration converts a floating point number of seconds into a time.Duration.
func SecondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(math.Round(seconds * float64(time.Second)))
}
