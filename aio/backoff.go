package aio

import "time"

// Backoff wraps a Timer with the exponential-backoff interval formula
// from original_source's nanomsg-1.1.5/src/transports/utils/backoff.h:
// elapsed = min(maxIvl, (2^n - 1) * minIvl), n incrementing on every
// Start not preceded by a Reset.
type Backoff struct {
	timer *Timer
	min   time.Duration
	max   time.Duration
	n     uint
}

// NewBackoff wraps timer with backoff bounds [minIvl, maxIvl].
func NewBackoff(timer *Timer, minIvl, maxIvl time.Duration) *Backoff {
	return &Backoff{timer: timer, min: minIvl, max: maxIvl}
}

// Start arms the underlying Timer at the current backoff interval and
// advances n for the next call. Matches spec.md §4.B's backoff_start.
func (b *Backoff) Start() {
	b.timer.Start(b.interval())
	b.n++
}

// Reset zeroes n, so the next Start uses the minimum interval again.
// Matches spec.md §4.B's backoff_reset — called on a successful
// connect.
func (b *Backoff) Reset() {
	b.n = 0
}

// Stop cancels the underlying Timer; see Timer.Stop for the
// Timeout/Stopped race guarantee.
func (b *Backoff) Stop() {
	b.timer.Stop()
}

// interval computes (2^n - 1) * min, saturating at max. The shift is
// capped well below 63 bits so a very long run of failed reconnects
// cannot overflow into a negative duration — the original C saturates
// for the same reason, guarding against unbounded left-shift of n.
func (b *Backoff) interval() time.Duration {
	const maxShift = 32 // (1<<32)-1 multiplied by any realistic minIvl still overflows past maxIvl long before this.
	var shift = b.n
	if shift > maxShift {
		shift = maxShift
	}
	var factor = (uint64(1) << shift) - 1
	var ivl = time.Duration(factor) * b.min
	if ivl > b.max || ivl < 0 {
		ivl = b.max
	}
	return ivl
}
