// Package httpx is the JSON response vocabulary shared by the HTTP
// handlers.
package httpx

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func OK(c *gin.Context, v any) {
	c.JSON(http.StatusOK, v)
}

func Err(c *gin.Context, code int, msg any) {
	c.JSON(code, gin.H{"error": msg})
}

// Retry signals a transient failure the client may reissue as-is.
func Retry(c *gin.Context, msg any) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": msg, "retryable": true})
}
