// internal/middleware/auth.go
package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/emprendedores-unidos/marketplace/internal/i18n"
	"github.com/emprendedores-unidos/marketplace/internal/models"
	"github.com/emprendedores-unidos/marketplace/internal/utils"
)

// TokenAuthenticator resolves a bearer token to an active user.
type TokenAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, error)
}

// AuthRequired checks the token and that the user is still active, so a
// deactivated account loses access before its token expires.
func AuthRequired(auth TokenAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		lang := utils.GetLangFromContext(c)

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthRequired))
			c.Abort()
			return
		}

		// Extract token from "Bearer <token>"
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidToken))
			c.Abort()
			return
		}

		user, err := auth.Authenticate(c.Request.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			if utils.IsKind(err, utils.KindAuthentication) {
				utils.UnauthorizedResponse(c, i18n.T(lang, i18n.KeyAuthInvalidToken))
			} else {
				utils.HandleServiceError(c, err)
			}
			c.Abort()
			return
		}

		c.Set("user_id", user.ID.String())
		c.Set("user_email", user.Email)
		c.Set("user_role", string(user.Role))
		c.Next()
	}
}

func SellerRequired() gin.HandlerFunc {
	return requireRole(func(role models.UserRole) bool { return role.CanSell() }, i18n.KeySellerRequired)
}

func AdminRequired() gin.HandlerFunc {
	return requireRole(func(role models.UserRole) bool { return role == models.RoleAdmin }, i18n.KeyAccessDenied)
}

func requireRole(allowed func(models.UserRole) bool, key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := utils.GetUserRoleFromContext(c)
		if !exists || !allowed(models.UserRole(role)) {
			utils.ForbiddenResponse(c, i18n.T(utils.GetLangFromContext(c), key))
			c.Abort()
			return
		}
		c.Next()
	}
}
