package v1

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/wp-statistics/wp-statistics-sub019/internal/analytics"
	"github.com/wp-statistics/wp-statistics-sub019/internal/auth"
	"github.com/wp-statistics/wp-statistics-sub019/internal/queryerr"
)

const grantKey = "api_grant"

// BearerAuth resolves "Authorization: Bearer <key>" to a grant stored on the request.
// With no keys configured every caller is a viewer.
func BearerAuth(verifier *auth.Verifier, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := ""
		if header := c.Get(fiber.HeaderAuthorization); header != "" {
			if !strings.HasPrefix(header, "Bearer ") {
				return unauthorized(c, "invalid Authorization header format, expected: Bearer <api_key>")
			}
			key = strings.TrimPrefix(header, "Bearer ")
		}

		grant, err := verifier.Verify(key)
		if err != nil {
			logger.Debug("Rejected API key", slog.String("path", c.Path()), slog.String("ip", c.IP()))
			return unauthorized(c, "missing or invalid API key")
		}
		c.Locals(grantKey, grant)
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(http.StatusUnauthorized).JSON(analytics.NewErrorResponse(queryerr.New(queryerr.Forbidden, "%s", msg)))
}

// grantFrom returns the grant BearerAuth stored, or no access.
func grantFrom(c *fiber.Ctx) auth.Grant {
	if g, ok := c.Locals(grantKey).(auth.Grant); ok {
		return g
	}
	return auth.Grant(auth.LevelNone)
}
