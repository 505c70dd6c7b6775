package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/invoicedesk/internal/observability/context"
	"go.uber.org/zap"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// ActorContext copies the operator identity set by the fronting gateway into
// the request context, where audit and logging pick it up.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole)))
		id := strings.TrimSpace(c.GetHeader(HeaderActorID))

		ctx := obscontext.WithActor(c.Request.Context(), role, id)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// SendRateLimit throttles dispatch per operator. Limiter errors let the request through.
func (s *Server) SendRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		role, id := obscontext.ActorFromContext(c.Request.Context())
		actor := id
		if actor == "" {
			actor = "role:" + role
		}

		res, err := s.limiter.Allow(c.Request.Context(), actor)
		if err != nil {
			s.log.Warn("send rate limiter unavailable", zap.Error(err))
			c.Next()
			return
		}
		if !res.Allowed {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
			AbortWithError(c, ErrRateLimited)
			return
		}
		c.Next()
	}
}
