package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	x402 "github.com/x402-foundation/x402-multiversx"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) supported(c *gin.Context) {
	c.JSON(http.StatusOK, s.facilitator.GetSupported())
}

func (s *Server) verify(c *gin.Context) {
	var req x402.VerifyRequest
	if !s.bind(c, &req.Payload, &req.Requirements) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.verifyTimeout)
	defer cancel()

	result, err := s.facilitator.Verify(ctx, req.Payload, req.Requirements)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) settle(c *gin.Context) {
	var req x402.SettleRequest
	if !s.bind(c, &req.Payload, &req.Requirements) {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.settleTimeout)
	defer cancel()

	result, err := s.facilitator.Settle(ctx, req.Payload, req.Requirements)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// bind validates the raw body against the request schema and decodes it
func (s *Server) bind(c *gin.Context, payload *x402.PaymentPayload, requirements *x402.PaymentRequirements) bool {
	body, err := c.GetRawData()
	if err != nil {
		s.reject(c, x402.ErrCodeInvalidRequest, "failed to read request body")
		return false
	}
	if err := ValidateRequestBody(body); err != nil {
		s.reject(c, x402.ErrCodeInvalidRequest, err.Error())
		return false
	}

	var req struct {
		Payload      *x402.PaymentPayload      `json:"payload"`
		Requirements *x402.PaymentRequirements `json:"requirements"`
	}
	req.Payload, req.Requirements = payload, requirements
	if err := json.Unmarshal(body, &req); err != nil {
		s.reject(c, x402.ErrCodeInvalidRequest, "invalid request body: "+err.Error())
		return false
	}

	if err := x402.ValidatePaymentPayload(*payload); err != nil {
		s.reject(c, x402.ErrCodeInvalidRequest, err.Error())
		return false
	}
	if err := x402.ValidatePaymentRequirements(*requirements); err != nil {
		s.reject(c, x402.ErrCodeInvalidRequest, err.Error())
		return false
	}
	return true
}

// fail maps a verify or settle error onto a 400 response
func (s *Server) fail(c *gin.Context, err error) {
	var (
		verifyErr *x402.VerifyError
		settleErr *x402.SettleError
	)
	switch {
	case errors.As(err, &verifyErr):
		s.reject(c, verifyErr.Reason, messageOr(verifyErr.Message, verifyErr.Reason))
	case errors.As(err, &settleErr):
		s.reject(c, settleErr.Reason, messageOr(settleErr.Message, settleErr.Reason))
	default:
		s.logger.Error("request failed",
			zap.String("requestId", c.GetString(requestIDKey)),
			zap.Error(err),
		)
		s.reject(c, x402.ErrCodeInternal, err.Error())
	}
}

func (s *Server) reject(c *gin.Context, reason, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, x402.ErrorResponse{Error: message, Reason: reason})
}

func messageOr(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}
