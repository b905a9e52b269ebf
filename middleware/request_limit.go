package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pharma-docs-platform/utils"
)

// RequestSizeLimit rejects request bodies larger than maxSize bytes before
// any handler reads them. Uploads are additionally capped per file by the
// extractor.
func RequestSizeLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge,
				"request_too_large",
				"Request body exceeds maximum size",
				gin.H{
					"max_size": maxSize,
					"received": c.Request.ContentLength,
				})
			c.Abort()
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
