package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/techmajster/time8-product-sub008/pkg/correlation"
)

const (
	HeaderXRequestID = "X-Request-ID"
	ContextRequestID = "request_id"
)

// RequestID takes the caller's X-Request-ID or generates one, and carries it
// as the correlation id of everything the request triggers.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(HeaderXRequestID)
		if rid == "" {
			rid = correlation.New()
		}

		c.Set(ContextRequestID, rid)
		c.Request = c.Request.WithContext(correlation.WithID(c.Request.Context(), rid))
		c.Header(HeaderXRequestID, rid)
		c.Next()
	}
}
