package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/turtacn/taskgate/internal/config"
	"github.com/turtacn/taskgate/pkg/constants"
	"github.com/turtacn/taskgate/pkg/errors"
	"github.com/turtacn/taskgate/pkg/logger"
)

// ContextKeyAdminSubject holds the sub claim of an authenticated admin token.
const ContextKeyAdminSubject = "admin_subject"

// AdminClaims is the claim set accepted on admin routes.
type AdminClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// HasScope reports whether the space separated scope claim contains s.
func (c *AdminClaims) HasScope(s string) bool {
	for _, v := range strings.Fields(c.Scope) {
		if v == s {
			return true
		}
	}
	return false
}

// extractBearer extracts the token from the Authorization header.
func extractBearer(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}

// RequireAdmin protects the admin routes with an HS256 bearer token carrying the admin scope.
func RequireAdmin(cfg *config.AdminConfig, log logger.Logger) gin.HandlerFunc {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)
	secret := []byte(cfg.JWTSecret)

	return func(c *gin.Context) {
		tokenStr := extractBearer(c.GetHeader(constants.HeaderAuthorization))
		if tokenStr == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		claims := &AdminClaims{}
		_, err := parser.ParseWithClaims(tokenStr, claims, func(*jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil {
			log.Warn(c.Request.Context(), "admin token rejected", logger.String("reason", err.Error()))
			abortUnauthorized(c, "invalid token")
			return
		}
		if !claims.HasScope(constants.AdminScope) {
			log.Warn(c.Request.Context(), "admin token lacks scope", logger.String("sub", claims.Subject))
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient scope"})
			return
		}

		c.Set(ContextKeyAdminSubject, claims.Subject)
		c.Next()
	}
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="taskgate-admin"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, errors.ToErrorResponse(errors.ErrUnauthorized(msg)))
}
