package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// IdentityKey is the gin context key holding the authenticated public key.
const IdentityKey = "identity"

type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

func Auth(tokens TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearer(c.GetHeader("Authorization"))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "jwt missing", "code": "unauthorized"})
			return
		}
		publicKey, err := tokens.ValidateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error(), "code": "unauthorized"})
			return
		}
		c.Set(IdentityKey, publicKey)
		c.Next()
	}
}

// Identity returns the public key set by Auth.
func Identity(c *gin.Context) string {
	return c.GetString(IdentityKey)
}

// bearer accepts both "Bearer <token>" and a bare token, as older clients send the latter.
func bearer(header string) string {
	header = strings.TrimSpace(header)
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}
