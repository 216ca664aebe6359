package auth

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/campus-delivery/pkg/util"
)

// ContextAdminIDKey is the fiber.Locals key holding the authenticated admin id.
const ContextAdminIDKey = "admin_id"

// RequireAdmin validates the bearer token and ensures the subject is still in
// the configured administrator list.
func RequireAdmin(tm *TokenManager, isAdmin func(int64) bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)
		if header == "" {
			return util.NewUnauthorized("missing authorization header")
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return util.NewUnauthorized("malformed authorization header")
		}

		claims, err := tm.ParseToken(strings.TrimSpace(parts[1]))
		if err != nil {
			return util.NewUnauthorized("invalid or expired token")
		}
		if !isAdmin(claims.AdminID) {
			return util.NewForbidden("administrator access revoked")
		}

		c.Locals(ContextAdminIDKey, claims.AdminID)
		return c.Next()
	}
}

// AdminIDFromContext returns the authenticated admin id, or zero when absent.
func AdminIDFromContext(c *fiber.Ctx) int64 {
	id, _ := c.Locals(ContextAdminIDKey).(int64)
	return id
}
