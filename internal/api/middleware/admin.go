package middleware

import (
	"net/http"

	"github.com/certamo/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const SessionCookie = "admin_session"

// AdminMiddleware gates administrative routes behind the session cookie
// and, when configured, an IP allow-list.
type AdminMiddleware struct {
	sessions   *services.SessionService
	allowedIPs map[string]struct{}
	logger     *zap.Logger
}

func NewAdminMiddleware(sessions *services.SessionService, allowedIPs []string, logger *zap.Logger) *AdminMiddleware {
	ips := make(map[string]struct{}, len(allowedIPs))
	for _, ip := range allowedIPs {
		if ip != "" {
			ips[ip] = struct{}{}
		}
	}
	return &AdminMiddleware{
		sessions:   sessions,
		allowedIPs: ips,
		logger:     logger.With(zap.String("middleware", "admin")),
	}
}

func (am *AdminMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()

		if len(am.allowedIPs) > 0 {
			if _, ok := am.allowedIPs[clientIP]; !ok {
				am.logger.Warn("Admin access denied for unlisted IP",
					zap.String("client_ip", clientIP),
					zap.String("path", c.Request.URL.Path))
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
					"error": "Access denied",
				})
				return
			}
		}

		token, err := c.Cookie(SessionCookie)
		if err != nil || !am.sessions.Valid(token) {
			am.logger.Warn("Admin access denied without valid session",
				zap.String("client_ip", clientIP),
				zap.String("path", c.Request.URL.Path))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Not authorized",
			})
			return
		}

		c.Next()
	}
}
