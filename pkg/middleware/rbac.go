package middleware

import (
	"strings"

	"actionit/backend/pkg/errors"
	"actionit/backend/pkg/jwt"
	"actionit/backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// ClaimsFrom returns the claims stored by JWTAuthMiddleware
func ClaimsFrom(c *gin.Context) (*jwt.JWTClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*jwt.JWTClaims)
	return claims, ok
}

// bearerToken reads "Authorization: Bearer <token>". WebSocket upgrades from
// browsers cannot set headers, so /ws may pass the token as ?access_token=.
func bearerToken(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(token)
	}
	if websocketUpgrade(c) {
		return c.Query("access_token")
	}
	return ""
}

func websocketUpgrade(c *gin.Context) bool {
	return strings.EqualFold(c.GetHeader("Upgrade"), "websocket")
}

// JWTAuthMiddleware rejects requests without a valid token and stores the
// caller's claims and user id on the context.
func JWTAuthMiddleware(jwtService *jwt.Service, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			_ = c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "A bearer token is required"))
			c.Abort()
			return
		}

		claims, err := jwtService.ValidateToken(token)
		if err != nil {
			log.Warn("Rejected token", "error", err.Error(), "route", c.FullPath())
			_ = c.Error(errors.NewUnauthorizedError(errors.CodeInvalidToken, "Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(claimsKey, claims)
		c.Set("userID", claims.UserID)
		c.Next()
	}
}

// RequirePermission lets the request through when the caller's role grants p
func RequirePermission(p jwt.Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			_ = c.Error(errors.NewUnauthorizedError(errors.CodeUnauthorized, "Authentication required"))
			c.Abort()
			return
		}
		if !claims.HasPermission(p) {
			_ = c.Error(errors.NewForbiddenError(errors.CodeForbidden, "Role "+string(claims.Role)+" may not "+permissionVerb(p)+" messages").
				WithDetails(gin.H{"permission": string(p)}))
			c.Abort()
			return
		}
		c.Next()
	}
}

func permissionVerb(p jwt.Permission) string {
	_, verb, _ := strings.Cut(string(p), ":")
	return verb
}
