package terminal

import (
	"sync"
	"time"
)

const (
	// MaxInputMessageSize is the maximum size in bytes for a single input
	// message sent over the WebSocket. Larger messages are dropped.
	MaxInputMessageSize = 64 * 1024

	// MaxTermCols is the maximum allowed terminal width.
	MaxTermCols = 500
	// MaxTermRows is the maximum allowed terminal height.
	MaxTermRows = 200

	// MessageRateLimit is the maximum number of messages per second from a client.
	MessageRateLimit = 100
	// MessageRateBurst is the burst allowance for the rate limiter.
	MessageRateBurst = 200
)

// RateLimiter is a token bucket limiting WebSocket message throughput.
type RateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		tokens:     float64(burst),
		maxTokens:  float64(burst),
		refillRate: rate,
		lastRefill: time.Now(),
	}
}

// Allow consumes one token, returning false when the limit is exceeded.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.lastRefill = now

	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}

// ClampSize bounds resize requests to sane terminal dimensions.
func ClampSize(cols, rows uint16) (uint16, uint16) {
	if cols > MaxTermCols {
		cols = MaxTermCols
	}
	if rows > MaxTermRows {
		rows = MaxTermRows
	}
	return cols, rows
}
