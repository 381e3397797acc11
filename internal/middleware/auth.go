package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// SubjectKey is the gin context key holding the authenticated token subject.
const SubjectKey = "auth_subject"

// AuthMiddleware checks HS256 bearer tokens. With an empty secret it is
// disabled and every request passes.
type AuthMiddleware struct {
	secret []byte
}

// NewAuthMiddleware creates an AuthMiddleware for the given shared secret.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

// Enabled reports whether a secret is configured.
func (a *AuthMiddleware) Enabled() bool {
	return a != nil && len(a.secret) > 0
}

// GenerateToken signs a token for subject valid for ttl.
func (a *AuthMiddleware) GenerateToken(subject string, ttl time.Duration) (string, error) {
	if !a.Enabled() {
		return "", errors.New("auth is disabled: no jwt secret configured")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// RequireAuth rejects requests without a valid bearer token.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.Enabled() {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  "missing bearer token",
			})
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(strings.TrimSpace(raw), claims, func(*jwt.Token) (any, error) {
			return a.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"status": "error",
				"error":  "invalid token",
			})
			return
		}

		c.Set(SubjectKey, claims.Subject)
		c.Next()
	}
}
