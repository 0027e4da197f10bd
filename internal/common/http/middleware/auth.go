package middleware

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	pkgerrors "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/contextkey"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// RoleAdmin marks users allowed to view any submission.
	RoleAdmin = "admin"

	ctxUserIDKey   = "user_id"
	ctxUserRoleKey = "user_role"
)

// Identity describes the authenticated caller.
type Identity struct {
	UserID int64
	Role   string
}

// IsAdmin reports whether the identity carries the admin role.
func (i Identity) IsAdmin() bool {
	return strings.EqualFold(i.Role, RoleAdmin)
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthMiddleware enforces HS256 JWT validation for protected routes.
// On success it stores the caller identity in both the gin context and
// the request context so downstream logs pick up user_id.
func AuthMiddleware(secret string) gin.HandlerFunc {
	secretBytes := []byte(secret)
	return func(c *gin.Context) {
		token := extractBearerToken(c.GetHeader("Authorization"))
		if token == "" {
			response.AbortWithErrorCode(c, pkgerrors.Unauthorized, "missing bearer token")
			return
		}

		identity, err := parseToken(secretBytes, token)
		if err != nil {
			response.AbortWithError(c, err)
			return
		}

		c.Set(ctxUserIDKey, identity.UserID)
		c.Set(ctxUserRoleKey, identity.Role)
		ctx := context.WithValue(c.Request.Context(), contextkey.UserID, identity.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CurrentUser returns the identity stored by AuthMiddleware.
func CurrentUser(c *gin.Context) (Identity, bool) {
	rawID, ok := c.Get(ctxUserIDKey)
	if !ok {
		return Identity{}, false
	}
	userID, ok := rawID.(int64)
	if !ok {
		return Identity{}, false
	}
	role, _ := c.Get(ctxUserRoleKey)
	roleStr, _ := role.(string)
	return Identity{UserID: userID, Role: roleStr}, true
}

func parseToken(secret []byte, raw string) (Identity, error) {
	if len(secret) == 0 {
		return Identity{}, pkgerrors.New(pkgerrors.Unauthorized)
	}
	parsed, err := jwt.ParseWithClaims(raw, &tokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, pkgerrors.New(pkgerrors.Unauthorized).WithMessage("token expired")
		}
		return Identity{}, pkgerrors.Wrap(err, pkgerrors.Unauthorized)
	}
	claims, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return Identity{}, pkgerrors.New(pkgerrors.Unauthorized)
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, pkgerrors.New(pkgerrors.Unauthorized).WithMessage("invalid subject")
	}
	return Identity{UserID: userID, Role: claims.Role}, nil
}

func extractBearerToken(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
