package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/terminal-bench/poolledger/internal/auth"
	"github.com/terminal-bench/poolledger/shared/events"
)

const (
	ctxAccount       = "account"
	ctxCorrelationID = "correlation_id"
)

func (g *Gateway) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("Authorization")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		claims, err := g.auth.Verify(token)
		if errors.Is(err, auth.ErrTokenExpired) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ctxAccount, claims.Account)
		c.Next()
	}
}

func (g *Gateway) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.limiter == nil {
			c.Next()
			return
		}
		allowed, err := g.limiter.Allow(c.Request.Context(), c.ClientIP())
		if err != nil {
			// fail open: the limiter protects capacity, not balances
			g.logger.Warn("rate limiter unavailable", zap.Error(err))
		} else if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func (g *Gateway) tracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		c.Set(ctxCorrelationID, correlationID)
		c.Header("X-Correlation-ID", correlationID)
		c.Request = c.Request.WithContext(events.WithCorrelationID(c.Request.Context(), correlationID))
		c.Next()
	}
}

// leaderOnly rejects mutations on nodes that do not hold leadership
func (g *Gateway) leaderOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.leader.IsLeader() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "not leader"})
			return
		}
		c.Next()
	}
}
