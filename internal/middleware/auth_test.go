package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-autograder-api/internal/middleware"
)

const testSecret = "grading-secret"

func signToken(t *testing.T, method jwt.SigningMethod, secret string, claims middleware.Claims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

// whoami echoes what the auth middleware stored for the request.
func whoami(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"user_id": middleware.UserID(c), "role": middleware.TokenRole(c)})
}

func call(t *testing.T, app *fiber.App, token string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestJWTProtectedReadsUserAndRole(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.JWTProtected(testSecret), whoami)

	cases := []struct {
		name   string
		claims middleware.Claims
		user   uint
		role   string
	}{
		{name: "numeric subject", claims: middleware.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "42"}}, user: 42},
		{name: "user id claim wins", claims: middleware.Claims{UserID: 7, RegisteredClaims: jwt.RegisteredClaims{Subject: "42"}}, user: 7},
		{name: "grader token", claims: middleware.Claims{Role: " System "}, role: middleware.TokenRoleSystem},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := call(t, app, signToken(t, jwt.SigningMethodHS256, testSecret, tc.claims))
			require.Equal(t, fiber.StatusOK, resp.StatusCode)

			var body struct {
				UserID uint   `json:"user_id"`
				Role   string `json:"role"`
			}
			require.NoError(t, decode(resp, &body))
			require.Equal(t, tc.user, body.UserID)
			require.Equal(t, tc.role, body.Role)
		})
	}
}

func TestJWTProtectedRejectsBadTokens(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.JWTProtected(testSecret), whoami)

	expired := middleware.Claims{
		UserID:           3,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour))},
	}

	for name, token := range map[string]string{
		"missing header":  "",
		"wrong secret":    signToken(t, jwt.SigningMethodHS256, "other", middleware.Claims{UserID: 3}),
		"expired":         signToken(t, jwt.SigningMethodHS256, testSecret, expired),
		"not a jwt":       "definitely-not-a-token",
		"unsigned header": "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0.eyJ1c2VyX2lkIjozfQ.",
	} {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, fiber.StatusUnauthorized, call(t, app, token).StatusCode)
		})
	}

	t.Run("basic scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(fiber.HeaderAuthorization, "Basic dXNlcjpwYXNz")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})
}

func TestRequireUserRejectsServiceTokens(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.JWTProtected(testSecret), middleware.RequireUser(), whoami)

	require.Equal(t, fiber.StatusUnauthorized, call(t, app, signToken(t, jwt.SigningMethodHS256, testSecret, middleware.Claims{Role: middleware.TokenRoleSystem})).StatusCode)
	require.Equal(t, fiber.StatusOK, call(t, app, signToken(t, jwt.SigningMethodHS256, testSecret, middleware.Claims{UserID: 9})).StatusCode)
}

func TestRequireRole(t *testing.T) {
	app := fiber.New()
	app.Get("/", middleware.JWTProtected(testSecret), middleware.RequireRole(middleware.TokenRoleSystem), whoami)

	cases := map[string]struct {
		claims middleware.Claims
		status int
	}{
		"system":  {claims: middleware.Claims{Role: "system"}, status: fiber.StatusOK},
		"user":    {claims: middleware.Claims{UserID: 4, Role: middleware.TokenRoleUser}, status: fiber.StatusForbidden},
		"no role": {claims: middleware.Claims{UserID: 4}, status: fiber.StatusForbidden},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			resp := call(t, app, signToken(t, jwt.SigningMethodHS512, testSecret, tc.claims))
			require.Equal(t, tc.status, resp.StatusCode, strconv.Itoa(resp.StatusCode))
		})
	}
}
