package server

import (
	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/invoicedesk/internal/observability/context"
)

func (s *Server) authorize(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

// authorizeWithContext is used directly by handlers whose required action
// depends on the request body, such as override edits.
func (s *Server) authorizeWithContext(c *gin.Context, object string, action string) error {
	role, _ := obscontext.ActorFromContext(c.Request.Context())
	if role == "" {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), role, object, action)
}
