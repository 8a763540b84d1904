package middleware

import (
	"net/http"
	"strings"

	"spacecast/internal/core/services"
	apperrors "spacecast/pkg/errors"

	"github.com/gin-gonic/gin"
)

const claimsKey = "operator_claims"

// AuthMiddleware requires a valid operator bearer token.
func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWith(c, apperrors.NewUnauthorizedError("authorization header required"))
			return
		}

		scheme, token, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			abortWith(c, apperrors.NewUnauthorizedError("invalid authorization header format"))
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			abortWith(c, apperrors.NewUnauthorizedError(err.Error()))
			return
		}

		c.Set(claimsKey, claims)
		c.Set("operator", claims.Operator)
		c.Next()
	}
}

// RequireRole rejects operators below role. It must run after
// AuthMiddleware.
func RequireRole(authService services.AuthService, role services.OperatorRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, _ := Claims(c)
		if err := authService.CheckPermission(claims, role); err != nil {
			abortWith(c, apperrors.NewAppError(apperrors.ErrCodeUnauthorized,
				"role "+string(role)+" required", http.StatusForbidden))
			return
		}
		c.Next()
	}
}

// Claims returns the operator claims set by AuthMiddleware.
func Claims(c *gin.Context) (*services.Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*services.Claims)
	return claims, ok
}

func abortWith(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus, gin.H{
		"error":   string(appErr.Code),
		"message": appErr.Message,
	})
}
