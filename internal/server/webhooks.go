package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

// PaymentWebhook verifies and routes a payment processor delivery. The
// body is handed to verification as raw bytes so the signature covers
// exactly what was sent.
func (s *Server) PaymentWebhook(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	outcome, err := s.paymentSvc.HandleDelivery(c.Request.Context(), raw, c.GetHeader("Meterline-Signature"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"duplicate": outcome.Duplicate,
		"processed": outcome.Processed,
	})
}
