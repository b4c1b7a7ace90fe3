package http

import (
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	headerAuthToken = "X-Auth-Token"
	headerDest      = "X-Dest"
	headerTo        = "X-To"
	headerValue     = "X-Value"
	headerCalldata  = "X-Calldata"
)

// extractToken reads the ID token from X-Auth-Token, falling back to an
// Authorization bearer header. A missing token yields "" and is rejected by
// the verifier.
func extractToken(c *gin.Context) string {
	if token := strings.TrimSpace(c.GetHeader(headerAuthToken)); token != "" {
		return token
	}
	return extractBearerToken(c.GetHeader("Authorization"))
}

func extractBearerToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return ""
	}
	return strings.TrimSpace(value[len("bearer "):])
}

func destinationHeader(c *gin.Context) string {
	if dest := strings.TrimSpace(c.GetHeader(headerDest)); dest != "" {
		return dest
	}
	return strings.TrimSpace(c.GetHeader(headerTo))
}
