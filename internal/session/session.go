// Package session implements the opaque client-tag scheme that stands
// in for authentication: the server never validates a session id, it
// only learns one and tags records with it.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/invoice-imposer/internal/apperr"
)

// HeaderName is where the client presents its session tag.
const HeaderName = "X-Session-ID"

// QueryParam is the fallback carrier for download links, which may be
// framed inline by the browser without custom headers.
const QueryParam = "session"

// ContextKey is where RequireSession stores the resolved id.
const ContextKey = "session.id"

// DefaultLifetimeHours is the advisory expiry reported at bootstrap;
// the server enforces nothing from it, tasks age out independently.
const DefaultLifetimeHours = 24 * 7

// New generates a cryptographically random opaque session id, 32 hex
// characters wide.
func New() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// BootstrapResponse is the body of POST /api/session.
type BootstrapResponse struct {
	SessionID      string    `json:"session_id"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresInHours int       `json:"expires_in_hours"`
}

// Bootstrap accepts an optional client-supplied session id (honored
// verbatim, since the server treats it as opaque) or mints a new one.
func Bootstrap(c *gin.Context) {
	var body struct {
		SessionID string `json:"session_id"`
	}
	_ = c.ShouldBindJSON(&body)

	id := body.SessionID
	if id == "" {
		generated, err := New()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": true, "code": "INTERNAL", "message": "セッションの生成に失敗しました。"})
			return
		}
		id = generated
	}

	c.JSON(http.StatusOK, BootstrapResponse{
		SessionID:      id,
		CreatedAt:      time.Now().UTC(),
		ExpiresInHours: DefaultLifetimeHours,
	})
}

// RequireSession extracts the session id from the header (or the query
// parameter, for download links) and aborts with MissingSession if
// neither is present. It never validates the value: any non-empty tag
// is accepted, matching the design note on client-owned session
// strings.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderName)
		if id == "" {
			id = c.Query(QueryParam)
		}
		if id == "" {
			err := apperr.New(apperr.CodeMissingSession, "X-Session-ID ヘッダーが必要です。", nil)
			c.AbortWithStatusJSON(err.HTTPStatus(), gin.H{"error": true, "code": string(err.Code), "message": err.Message})
			return
		}
		c.Set(ContextKey, id)
		c.Next()
	}
}

// FromContext returns the session id set by RequireSession. Panics if
// called from a handler not behind that middleware.
func FromContext(c *gin.Context) string {
	return c.MustGet(ContextKey).(string)
}
