package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/jcoop32/applied/cmd/flags"
)

// OwnerIDKey is the gin context key holding the authenticated owner id.
const OwnerIDKey = "owner_id"

// AuthMiddleware verifies the bearer token issued by the auth layer and
// scopes the request to its owner. Tokens are HS256 JWTs whose subject is
// the owner id.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			RespondError(c, http.StatusUnauthorized, "Missing bearer token")
			c.Abort()
			return
		}
		ownerID, err := ParseOwnerToken(token)
		if err != nil {
			RespondError(c, http.StatusUnauthorized, "Invalid or expired token")
			c.Abort()
			return
		}
		c.Set(OwnerIDKey, ownerID)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// Websocket clients cannot set headers from the browser.
	return c.Query("token")
}

// ParseOwnerToken validates a token and extracts the owner id.
func ParseOwnerToken(raw string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(flags.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return sub, nil
}

// OwnerID returns the authenticated owner id set by AuthMiddleware.
func OwnerID(c *gin.Context) string {
	v, _ := c.Get(OwnerIDKey)
	id, _ := v.(string)
	return id
}
