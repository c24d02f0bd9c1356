package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/techmajster/time8-product-sub008/pkg/errors"
	"github.com/techmajster/time8-product-sub008/pkg/httputil"
)

// CronAuth admits requests bearing the cron secret. An empty secret rejects
// everything.
func CronAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			httputil.RespondWithError(c, errors.Unauthorized(nil))
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			httputil.RespondWithError(c, errors.Unauthorized(nil))
			return
		}

		if secret == "" || subtle.ConstantTimeCompare([]byte(parts[1]), []byte(secret)) != 1 {
			httputil.RespondWithError(c, errors.Unauthorized(nil))
			return
		}
		c.Next()
	}
}
