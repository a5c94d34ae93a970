// Package ratelimit implements the message-level token buckets and the
// upgrade-time connection limiter.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"

	"github.com/hazzaldo/social-streamy-sub000/internal/v1/logging"
	"github.com/hazzaldo/social-streamy-sub000/internal/v1/metrics"
	"go.uber.org/zap"
)

// ConnLimiter throttles WebSocket upgrade attempts per client IP. State is a
// process-local memory store; the server is single-process by design.
type ConnLimiter struct {
	wsIP  *limiter.Limiter
	store limiter.Store
}

// NewConnLimiter parses a rate in ulule's formatted notation (e.g. "100-M")
// and builds the upgrade limiter.
func NewConnLimiter(wsIPRate string) (*ConnLimiter, error) {
	ipRate, err := limiter.NewRateFromFormatted(wsIPRate)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	store := memory.NewStore()
	return &ConnLimiter{
		wsIP:  limiter.New(store, ipRate),
		store: store,
	}, nil
}

// CheckWebSocket reports whether an upgrade attempt from this client should
// proceed. On rejection the 429 response is already written. Store failures
// fail open: availability beats strictness for a limiter.
func (rl *ConnLimiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipContext, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "WS rate limiter store failed", zap.Error(err))
		return true
	}

	if ipContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	return true
}
