package serverutils

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"section-collab-be/pkg/collaberr"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserID(t *testing.T) {
	userId := uuid.New()
	tok, err := SignToken(userId, "s3cret")
	require.NoError(t, err)

	got, err := ParseUserID(tok, "s3cret")
	require.NoError(t, err)
	assert.Equal(t, userId, got)

	_, err = ParseUserID(tok, "other")
	assert.ErrorIs(t, err, collaberr.ErrUnauthorized)

	noClaim, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x"}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = ParseUserID(noClaim, "s3cret")
	assert.ErrorIs(t, err, collaberr.ErrUnauthorized)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userId.String(),
		"exp":     time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = ParseUserID(expired, "s3cret")
	assert.ErrorIs(t, err, collaberr.ErrUnauthorized)
}

func TestJwtMiddlewareAcceptsQueryToken(t *testing.T) {
	userId := uuid.New()
	tok, err := SignToken(userId, "s3cret")
	require.NoError(t, err)

	app := fiber.New()
	app.Use(ErrorHandlerMiddleware())
	app.Get("/me", NewJwtMiddleware("s3cret"), func(ctx *fiber.Ctx) error {
		return ctx.SendString(SessionFrom(ctx).UserId.String())
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/me?token="+tok, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestErrorHandlerStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"not found", collaberr.NotFound("document", "x"), http.StatusNotFound},
		{"stale", collaberr.ErrStaleCommit, http.StatusConflict},
		{"not editable", collaberr.ErrNotEditable, http.StatusForbidden},
		{"validation", collaberr.Invalid("bad"), http.StatusBadRequest},
		{"fiber error", fiber.ErrUpgradeRequired, http.StatusUpgradeRequired},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Use(ErrorHandlerMiddleware())
			app.Get("/", func(ctx *fiber.Ctx) error { return tt.err })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestValidateRequest(t *testing.T) {
	type payload struct {
		Name string `validate:"required"`
	}
	assert.NoError(t, ValidateRequest(payload{Name: "ok"}))
	assert.ErrorIs(t, ValidateRequest(payload{}), collaberr.ErrValidation)
}
