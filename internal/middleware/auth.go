package middleware

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-autograder-api/internal/utils"
)

const (
	localUserID   = "user_id"
	localUserRole = "user_role"
)

// Token roles. Course roles live in the database and are resolved per
// request, so tokens only tell people apart from services such as the grader.
const (
	TokenRoleUser   = "user"
	TokenRoleSystem = "system"
)

var errMissingBearer = errors.New("authorization header missing")

// Claims is the token payload the API understands. The user is read from
// user_id, falling back to a numeric sub.
type Claims struct {
	UserID uint   `json:"user_id,omitempty"`
	Role   string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) userID() uint {
	if c.UserID != 0 {
		return c.UserID
	}
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0
	}
	return uint(id)
}

// JWTProtected verifies HMAC signed bearer tokens and stores the caller's
// user id and token role in the request locals.
func JWTProtected(secret string) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithLeeway(30*time.Second),
	)
	key := func(*jwt.Token) (interface{}, error) { return []byte(secret), nil }

	return func(c *fiber.Ctx) error {
		raw, err := bearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		var claims Claims
		if _, err := parser.ParseWithClaims(raw, &claims, key); err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		if id := claims.userID(); id != 0 {
			c.Locals(localUserID, id)
		}
		if role := normalizeRole(claims.Role); role != "" {
			c.Locals(localUserRole, role)
		}

		return c.Next()
	}
}

func bearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingBearer
	}

	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", errors.New("invalid authorization header")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("invalid token")
	}
	return token, nil
}

// RequireUser rejects requests whose token does not name a user.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if UserID(c) == 0 {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}
		return c.Next()
	}
}

// RequireRole admits only tokens carrying one of roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		if role = normalizeRole(role); role != "" {
			allowed[role] = struct{}{}
		}
	}

	return func(c *fiber.Ctx) error {
		if _, ok := allowed[TokenRole(c)]; !ok {
			return utils.SendError(c, fiber.StatusForbidden, "insufficient permissions")
		}
		return c.Next()
	}
}

// UserID returns the authenticated user, or zero for anonymous and service
// callers.
func UserID(c *fiber.Ctx) uint {
	switch id := c.Locals(localUserID).(type) {
	case uint:
		return id
	case int:
		if id > 0 {
			return uint(id)
		}
	}
	return 0
}

// TokenRole returns the normalized role claim of the caller.
func TokenRole(c *fiber.Ctx) string {
	role, _ := c.Locals(localUserRole).(string)
	return normalizeRole(role)
}

func normalizeRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
