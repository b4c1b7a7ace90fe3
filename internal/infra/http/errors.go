package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"bonsaipay/internal/domain"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

var statusByCode = map[string]int{
	"empty_token":       http.StatusUnauthorized,
	"invalid_token":     http.StatusUnauthorized,
	"policy_denied":     http.StatusForbidden,
	"claim_mismatch":    http.StatusForbidden,
	"invalid_request":   http.StatusBadRequest,
	"account_not_found": http.StatusNotFound,
	"overloaded":        http.StatusServiceUnavailable,
	"timeout":           http.StatusGatewayTimeout,
	"abandoned":         http.StatusInternalServerError,
	"journal_malformed": http.StatusBadGateway,
	"proof_failed":      http.StatusBadGateway,
	"deploy_failed":     http.StatusBadGateway,
	"chain_rejected":    http.StatusBadGateway,
}

func writeError(c *gin.Context, err error) {
	code := domain.ErrorCode(err)
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	message := err.Error()
	switch status {
	case http.StatusUnauthorized:
		// Verifier causes can echo token contents.
		message = "invalid or missing identity token"
	case http.StatusInternalServerError:
		message = "internal error"
	}
	_ = c.Error(err)
	if code == "overloaded" {
		c.Header("Retry-After", "5")
	}
	writeErrorCode(c, status, strings.ToUpper(code), message)
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
