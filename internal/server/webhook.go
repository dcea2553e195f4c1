package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	headerMetaSignature = "X-Hub-Signature-256"
	maxWebhookBody      = 1 << 20
)

// VerifyMetaWebhook answers Meta's subscription handshake with the raw
// challenge.
func (s *Server) VerifyMetaWebhook(c *gin.Context) {
	challenge, err := s.webhooks.Verify(
		c.Query("hub.mode"),
		c.Query("hub.verify_token"),
		c.Query("hub.challenge"),
	)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.String(http.StatusOK, challenge)
}

// ReceiveMetaWebhook always acknowledges a correctly signed delivery with
// 200 so Meta does not retry; forwarding to tenants happens afterwards.
func (s *Server) ReceiveMetaWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	receipt, err := s.webhooks.Receive(c.Request.Context(), body, c.GetHeader(headerMetaSignature))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, receipt)
}
