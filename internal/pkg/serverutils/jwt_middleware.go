package serverutils

import (
	"fmt"
	"strings"

	"section-collab-be/internal/entity"
	"section-collab-be/pkg/collaberr"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// NewJwtMiddleware accepts "Authorization: Bearer <token>" or, for WebSocket
// handshakes that cannot set headers, a "token" query parameter.
func NewJwtMiddleware(secret string) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		tokenStr := ""
		authHeader := ctx.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer ") {
			tokenStr = authHeader[7:]
		} else {
			tokenStr = ctx.Query("token")
		}
		if tokenStr == "" {
			return fmt.Errorf("%w: missing token", collaberr.ErrUnauthorized)
		}

		userId, err := ParseUserID(tokenStr, secret)
		if err != nil {
			return err
		}

		ctx.Locals("user_id", userId.String())
		ctx.Locals("session", entity.Session{UserId: userId, ConnectionId: uuid.NewString()})
		return ctx.Next()
	}
}

// ParseUserID validates an HS256 token and returns its user_id claim.
func ParseUserID(tokenStr, secret string) (uuid.UUID, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return uuid.Nil, fmt.Errorf("%w: invalid token", collaberr.ErrUnauthorized)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: invalid claims", collaberr.ErrUnauthorized)
	}
	raw, _ := claims["user_id"].(string)
	userId, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid user_id claim", collaberr.ErrUnauthorized)
	}
	return userId, nil
}

// SessionFrom returns the session stored by the JWT middleware.
func SessionFrom(ctx *fiber.Ctx) entity.Session {
	sess, _ := ctx.Locals("session").(entity.Session)
	return sess
}

// SignToken issues an HS256 token carrying user_id. Used by tests and collabctl.
func SignToken(userId uuid.UUID, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": userId.String()}).SignedString([]byte(secret))
}
