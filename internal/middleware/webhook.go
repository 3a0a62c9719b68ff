package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stackclass/backend/internal/platform/logger"
)

const signatureHeader = "X-Hub-Signature-256"

// WebhookMiddleware rejects push notifications whose body was not signed
// with the shared webhook secret.
type WebhookMiddleware struct {
	log    *logger.Logger
	secret []byte
}

func NewWebhookMiddleware(baseLog *logger.Logger, secret string) *WebhookMiddleware {
	return &WebhookMiddleware{
		log:    baseLog.With("middleware", "WebhookMiddleware"),
		secret: []byte(secret),
	}
}

func (wm *WebhookMiddleware) RequireSignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(wm.secret) == 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "webhook intake disabled"})
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		// Hand the body back for binding downstream.
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		if !wm.verify(body, c.GetHeader(signatureHeader)) {
			wm.log.Warn("webhook signature rejected", "remote", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}

// verify checks a GitHub-style hex HMAC-SHA256 signature with an
// optional sha256= prefix, in constant time.
func (wm *WebhookMiddleware) verify(body []byte, header string) bool {
	header = strings.TrimPrefix(header, "sha256=")
	got, err := hex.DecodeString(header)
	if err != nil || len(got) == 0 {
		return false
	}

	mac := hmac.New(sha256.New, wm.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// SignBody computes the signature header value for a payload. The
// gateway uses it when forwarding push notifications to the intake
// endpoint of another instance, and tests use it to build requests.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
