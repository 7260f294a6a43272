// Package server implements the relay's Gin-based HTTP surface: the
// API-key-protected ingestion endpoints nodes push to, and the JWT-protected
// operator endpoints the presentation layer reads from.
package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// ─── JWT operator auth ───────────────────────────────────────────────────────

// Claims is the payload embedded in every JWT issued by /api/login.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// generateJWT creates a signed HS256 JWT valid for 24 hours.
func (s *Server) generateJWT(username string) (string, error) {
	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "airguard",
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// parseJWT validates a token string and returns the claims.
func (s *Server) parseJWT(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, err
	}
	return claims, nil
}

// jwtAuth validates operator tokens. Expects: Authorization: Bearer <jwt>.
// On success the username lands in the Gin context as "username".
func (s *Server) jwtAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.GetHeader("Authorization")
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing Authorization header",
			})
			return
		}

		parts := strings.SplitN(raw, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid Authorization format, expected: Bearer <token>",
			})
			return
		}

		claims, err := s.parseJWT(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid or expired token",
			})
			return
		}

		c.Set("username", claims.Username)
		c.Next()
	}
}

// checkAdminPassword verifies the login password: against the bcrypt hash
// when one is configured, otherwise against the plaintext admin_pass.
func (s *Server) checkAdminPassword(password string) bool {
	if s.cfg.AdminPassHash != "" {
		return bcrypt.CompareHashAndPassword([]byte(s.cfg.AdminPassHash), []byte(password)) == nil
	}
	return password == s.cfg.AdminPass
}

// ─── API-key ingestion auth ──────────────────────────────────────────────────

// contextKeyAPIKey is the Gin context key the resolved credential is stored
// under for downstream node resolution.
const contextKeyAPIKey = "api_key"

// extractAPIKey pulls the credential from X-API-Key, falling back to an
// Authorization header with the Bearer prefix stripped. The key header takes
// precedence.
func extractAPIKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader("X-API-Key")); key != "" {
		return key
	}
	raw := strings.TrimSpace(c.GetHeader("Authorization"))
	return strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
}

// apiKeyAuth guards the ingestion endpoints. A missing credential is always
// rejected. When relay_api_key is configured it must match exactly; when it
// is empty the relay runs in open mode and any non-empty credential is
// accepted, serving purely as the per-node identity key.
func (s *Server) apiKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := extractAPIKey(c)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing X-API-Key"})
			return
		}
		if s.cfg.RelayAPIKey != "" && key != s.cfg.RelayAPIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		c.Set(contextKeyAPIKey, key)
		c.Next()
	}
}
