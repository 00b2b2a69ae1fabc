package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/blobworks/mediavault/internal/identity"
	"github.com/blobworks/mediavault/pkg/errors"
	"github.com/blobworks/mediavault/pkg/response"
)

const ctxIdentityKey = "identity"

// Auth verifies the bearer token and injects the caller identity into the
// request context. Browsers cannot set headers on websocket dials, so a
// `token` query parameter is accepted as a fallback for the channel route.
func Auth(verifier identity.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		id, err := verifier.Verify(token)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(ctxIdentityKey, id)
		c.Next()
	}
}

// RequireAdmin gates a route to privileged callers. It must run after Auth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !id.Role.Privileged() {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// IdentityFrom returns the authenticated identity placed by Auth.
func IdentityFrom(c *gin.Context) (identity.Identity, bool) {
	v, ok := c.Get(ctxIdentityKey)
	if !ok {
		return identity.Identity{}, false
	}
	id, ok := v.(identity.Identity)
	return id, ok
}

// SetIdentity injects an identity directly, bypassing token verification.
// Test helper for handler-level tests.
func SetIdentity(c *gin.Context, id identity.Identity) {
	c.Set(ctxIdentityKey, id)
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) >= 8 && strings.EqualFold(authz[:7], "Bearer ") {
		return strings.TrimSpace(authz[7:])
	}
	return strings.TrimSpace(c.Query("token"))
}
