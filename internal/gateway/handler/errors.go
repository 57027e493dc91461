package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/skylink-aero/skylink/internal/pipeline"
)

// errorBody is the error envelope shared by every gateway endpoint.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// respondError writes the standard error envelope.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorEnvelope{Error: errorBody{Code: code, Message: message}})
}

// respondDecision writes a rejecting pipeline decision as an error envelope.
// Rate-limit denials additionally carry a Retry-After header.
func respondDecision(c *gin.Context, d *pipeline.Decision) {
	if d.Code == pipeline.CodeRateLimitExceeded {
		secs := int(d.RetryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
	}
	msg := d.Message
	if msg == "" {
		msg = "request rejected"
	}
	respondError(c, d.Status(), string(d.Code), msg)
}
