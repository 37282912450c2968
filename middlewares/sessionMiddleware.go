package middlewares

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/mmdatafocus/eventchain/utils"
)

const (
	HeaderBusinessProfileId = "X-Business-Profile-Id"
	HeaderUserId            = "X-User-Id"
	HeaderUserName          = "X-User-Name"
	HeaderCorrelationId     = "X-Correlation-Id"
)

// SessionMiddleware copies the caller identity headers into the request context. The
// correlation id is generated when absent and echoed back on the response.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if profileId := strings.TrimSpace(c.GetHeader(HeaderBusinessProfileId)); profileId != "" {
			ctx = utils.SetBusinessProfileIdInContext(ctx, profileId)
		}
		if userId := strings.TrimSpace(c.GetHeader(HeaderUserId)); userId != "" {
			ctx = utils.SetUserIdInContext(ctx, userId)
		}
		if userName := strings.TrimSpace(c.GetHeader(HeaderUserName)); userName != "" {
			ctx = utils.SetUserNameInContext(ctx, userName)
		}
		correlationId := strings.TrimSpace(c.GetHeader(HeaderCorrelationId))
		if correlationId == "" {
			correlationId = uuid.NewString()
		}
		ctx = utils.SetCorrelationIdInContext(ctx, correlationId)
		c.Header(HeaderCorrelationId, correlationId)

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// RequireBusinessProfile rejects requests that did not name a business profile.
func RequireBusinessProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		if profileId, _ := utils.GetBusinessProfileIdFromContext(c.Request.Context()); profileId == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "VALIDATION",
				"message": HeaderBusinessProfileId + " header is required",
			})
			return
		}
		c.Next()
	}
}
