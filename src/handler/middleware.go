package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/terraforum/backend/src/domain"
)

const principalKey = "principal"

func SetMiddlewares(ctx context.Context, ginRouter *gin.Engine) {
	ginRouter.Use(LoggerMiddleware(ctx))
}

func LoggerMiddleware(ctx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {

		zlog := zerolog.Ctx(ctx).With().
			Str("path", c.FullPath()).
			Str("method", c.Request.Method).
			Logger()
		ctx = zlog.WithContext(ctx)
		c.Request = c.Request.WithContext(zlog.WithContext(ctx))
		c.Next()
	}
}

// AuthMiddleware verifies the bearer token once and stores a typed Principal
// in the request context. Handlers read it back with CurrentPrincipal; no
// downstream code re-derives identity from raw claims.
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			respondWithError(c, domain.NewError(
				domain.ErrorCodeAuthNotAuthenticated,
				errors.New("missing bearer token"),
				domain.WithMsg("Missing bearer token"),
			))
			return
		}

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			respondWithError(c, domain.NewError(
				domain.ErrorCodeAuthNotAuthenticated,
				fmt.Errorf("invalid token: %w", err),
				domain.WithMsg("Invalid token"),
			))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			respondWithError(c, domain.NewError(
				domain.ErrorCodeAuthNotAuthenticated,
				errors.New("unexpected token claims"),
				domain.WithMsg("Invalid token"),
			))
			return
		}

		subject, err := claims.GetSubject()
		if err != nil {
			respondWithError(c, domain.NewError(
				domain.ErrorCodeAuthNotAuthenticated,
				fmt.Errorf("token has no subject: %w", err),
				domain.WithMsg("Invalid token"),
			))
			return
		}
		userID, err := uuid.Parse(subject)
		if err != nil {
			respondWithError(c, domain.NewError(
				domain.ErrorCodeAuthNotAuthenticated,
				fmt.Errorf("token subject is not a user id: %w", err),
				domain.WithMsg("Invalid token"),
			))
			return
		}

		role, _ := claims["role"].(string)
		if role == "" {
			role = domain.RoleMember
		}

		c.Set(principalKey, domain.Principal{UserID: userID, Role: role})
		c.Next()
	}
}

// CurrentPrincipal returns the authenticated principal set by AuthMiddleware.
func CurrentPrincipal(c *gin.Context) (domain.Principal, error) {
	value, exists := c.Get(principalKey)
	if !exists {
		return domain.Principal{}, domain.NewError(
			domain.ErrorCodeAuthNotAuthenticated,
			errors.New("no principal in request context"),
			domain.WithMsg("Not authenticated"),
		)
	}
	principal, ok := value.(domain.Principal)
	if !ok {
		return domain.Principal{}, domain.NewError(
			domain.ErrorCodeAuthNotAuthenticated,
			errors.New("unexpected principal type in request context"),
			domain.WithMsg("Not authenticated"),
		)
	}
	return principal, nil
}

// StewardOnly gates a route group to steward principals.
func StewardOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := CurrentPrincipal(c)
		if err != nil {
			respondWithError(c, err)
			return
		}
		if !principal.IsSteward() {
			respondWithError(c, domain.NewError(
				domain.ErrorCodeAuthPermissionDenied,
				errors.New("steward role required"),
				domain.WithMsg("Steward role required"),
			))
			return
		}
		c.Next()
	}
}
