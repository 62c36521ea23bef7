package agent

import (
	"context"
	"sync"
	"time"

	"github.com/PradeepLoganathan/AgenticAI-Triage-System/internal/core"
)

// RateLimit configures per-agent throttling of outbound calls. A zero
// PerSecond disables throttling.
type RateLimit struct {
	PerSecond float64
	Burst     int
}

// tokenBucket is a token bucket limiter that halves its refill rate when the
// remote side pushes back and recovers slowly on success.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	minRate    float64
	maxRate    float64
	okStreak   int
	lastRefill time.Time
	now        func() time.Time
}

func newTokenBucket(cfg RateLimit, now func() time.Time) *tokenBucket {
	burst := float64(cfg.Burst)
	if burst < 1 {
		burst = 1
	}
	return &tokenBucket{
		tokens:     burst,
		maxTokens:  burst,
		refillRate: cfg.PerSecond,
		minRate:    cfg.PerSecond * 0.1,
		maxRate:    cfg.PerSecond,
		lastRefill: now(),
		now:        now,
	}
}

// acquire blocks until a token is available or ctx is done.
func (b *tokenBucket) acquire(ctx context.Context) error {
	for {
		b.mu.Lock()
		b.refill()
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		wait := time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
		b.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (b *tokenBucket) refill() {
	now := b.now()
	elapsed := now.Sub(b.lastRefill)
	b.lastRefill = now
	b.tokens = min(b.maxTokens, b.tokens+elapsed.Seconds()*b.refillRate)
}

// recordSuccess raises the rate by 10% after five consecutive successes.
func (b *tokenBucket) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.okStreak++
	if b.okStreak >= 5 {
		b.refillRate = min(b.maxRate, b.refillRate*1.1)
		b.okStreak = 0
	}
}

// recordThrottled halves the rate, bounded below by a tenth of the base.
func (b *tokenBucket) recordThrottled() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.okStreak = 0
	b.refillRate = max(b.minRate, b.refillRate*0.5)
}

func (b *tokenBucket) rate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refillRate
}

// limiters holds one bucket per agent, created on first use.
type limiters struct {
	cfg     RateLimit
	now     func() time.Time
	mu      sync.Mutex
	buckets map[core.AgentName]*tokenBucket
}

func newLimiters(cfg RateLimit) *limiters {
	if cfg.PerSecond <= 0 {
		return nil
	}
	return &limiters{cfg: cfg, now: time.Now, buckets: make(map[core.AgentName]*tokenBucket)}
}

func (l *limiters) get(agent core.AgentName) *tokenBucket {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[agent]
	if !ok {
		b = newTokenBucket(l.cfg, l.now)
		l.buckets[agent] = b
	}
	return b
}
