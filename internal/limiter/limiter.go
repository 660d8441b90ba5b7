package limiter

import (
	"sync/atomic"
	"time"
)

// TokenBucket implements a rate limiter using integer nanosecond arithmetic.
// Avoids float64 accumulation drift over long scans. Not safe for concurrent
// use; each send loop owns its bucket.
type TokenBucket struct {
	rateNsPerToken int64 // Nanoseconds per token (1e9 / rate)
	bucketSize     int64 // Maximum tokens
	tokens         int64
	lastCheck      int64 // UnixNano
}

// NewTokenBucket creates a limiter with the given rate (pps) and burst size.
func NewTokenBucket(rate float64, burst float64) *TokenBucket {
	nsPerToken := int64(1e9 / rate)
	if nsPerToken < 1 {
		nsPerToken = 1
	}
	burstInt := int64(burst)
	if burstInt < 1 {
		burstInt = 1
	}
	return &TokenBucket{
		rateNsPerToken: nsPerToken,
		bucketSize:     burstInt,
		tokens:         burstInt,
		lastCheck:      time.Now().UnixNano(),
	}
}

func (tb *TokenBucket) refill() {
	now := time.Now().UnixNano()
	elapsed := now - tb.lastCheck
	gained := elapsed / tb.rateNsPerToken
	if gained == 0 {
		return
	}
	// Keep the remainder so slow callers do not lose fractional tokens.
	tb.lastCheck += gained * tb.rateNsPerToken
	tb.tokens += gained
	if tb.tokens > tb.bucketSize {
		tb.tokens = tb.bucketSize
		tb.lastCheck = now
	}
}

// Wait blocks until n tokens are available.
func (tb *TokenBucket) Wait(n int) {
	needed := int64(n)
	tb.refill()
	if tb.tokens >= needed {
		tb.tokens -= needed
		return
	}

	// Sleep for exactly the deficit, then consume everything.
	missing := needed - tb.tokens
	time.Sleep(time.Duration(missing * tb.rateNsPerToken))
	tb.tokens = 0
	tb.lastCheck = time.Now().UnixNano()
}

// TryTake consumes n tokens if they are available and never blocks.
func (tb *TokenBucket) TryTake(n int) bool {
	tb.refill()
	if tb.tokens >= int64(n) {
		tb.tokens -= int64(n)
		return true
	}
	return false
}

// Pacer spaces probes by a packets-per-second rate, a fixed inter-probe
// delay, or both. The zero Pacer never waits.
type Pacer struct {
	bucket *TokenBucket
	delay  time.Duration
	next   time.Time
}

// NewPacer builds a pacer. rate <= 0 disables the rate limit and delay <= 0
// disables the fixed delay.
func NewPacer(rate int, delay time.Duration) *Pacer {
	p := &Pacer{delay: delay}
	if rate > 0 {
		burst := float64(rate) / 100
		p.bucket = NewTokenBucket(float64(rate), burst)
	}
	return p
}

// Wait blocks until the next probe may be sent or any stop flag is set. It
// returns false when stopped.
func (p *Pacer) Wait(stop ...*atomic.Bool) bool {
	if p.delay > 0 && !p.next.IsZero() {
		for {
			remaining := time.Until(p.next)
			if remaining <= 0 {
				break
			}
			if Stopped(stop...) {
				return false
			}
			// Sleep in short slices so a stop request is seen promptly.
			time.Sleep(min(remaining, 50*time.Millisecond))
		}
	}
	if p.bucket != nil {
		p.bucket.Wait(1)
	}
	if p.delay > 0 {
		p.next = time.Now().Add(p.delay)
	}
	return !Stopped(stop...)
}

// Stopped reports whether any non-nil flag is set.
func Stopped(flags ...*atomic.Bool) bool {
	for _, f := range flags {
		if f != nil && f.Load() {
			return true
		}
	}
	return false
}

// Ready reports, without blocking, whether a probe may be sent now, and
// consumes the slot if so.
func (p *Pacer) Ready() bool {
	if p.delay > 0 && !p.next.IsZero() && time.Now().Before(p.next) {
		return false
	}
	if p.bucket != nil && !p.bucket.TryTake(1) {
		return false
	}
	if p.delay > 0 {
		p.next = time.Now().Add(p.delay)
	}
	return true
}
