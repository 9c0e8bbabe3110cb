// Package retry implements exponential backoff with jitter for the
// bus's call_op admission loop (spec.md §4.3: "retrying on
// full/no_route/closed with exponential backoff ... until accepted or
// deadline").
package retry

import (
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"time"
)

func cryptoRandFloat64() float64 {
	var b [8]byte
	if _, err := cryptorand.Read(b[:]); err != nil {
		return 0.5
	}
	n := binary.BigEndian.Uint64(b[:]) >> 11 // 53 bits
	return float64(n) / float64(uint64(1)<<53)
}

// Backoff describes an exponential backoff-with-jitter schedule.
type Backoff struct {
	// Base is the initial delay before the first retry.
	Base time.Duration
	// Max caps the delay between retries.
	Max time.Duration
	// Multiplier is the exponential growth factor per retry (typically 2.0).
	Multiplier float64
}

// Attempt is one try of the retried operation. It returns done=true on
// success, or an error the caller classifies via retriable.
type Attempt func() (done bool, err error)

// Run calls attempt repeatedly, backing off with jitter between tries,
// until attempt reports done, retriable reports the error is not worth
// retrying, the deadline passes, or ctx is cancelled.
//
// Run never retries past deadline: the very last attempt may still be
// in flight when the deadline arrives, but no new attempt starts after it.
func (b Backoff) Run(ctx context.Context, deadline time.Time, retriable func(error) bool, attempt Attempt) error {
	delay := b.Base

	for {
		done, err := attempt()
		if done {
			return nil
		}
		if err != nil && !retriable(err) {
			return err
		}

		if !time.Now().Before(deadline) {
			return err
		}

		jitterFactor := 0.75 + cryptoRandFloat64()*0.5
		wait := time.Duration(float64(delay) * jitterFactor)
		if remaining := time.Until(deadline); wait > remaining {
			wait = remaining
		}
		if wait < 0 {
			return err
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}

		delay = time.Duration(float64(delay) * b.Multiplier)
		if delay > b.Max {
			delay = b.Max
		}
	}
}
