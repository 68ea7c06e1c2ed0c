package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"beast/internal/models"
)

// userLocal is the fiber.Ctx locals key of the authenticated user.
const userLocal = "user"

// LoginKeyAuthenticator resolves login keys to accounts.
type LoginKeyAuthenticator interface {
	AuthenticateByLoginKey(ctx context.Context, key string) (*models.User, error)
	Touch(ctx context.Context, userID uint64) error
}

// LoginKeyRequired is a Fiber middleware that requires an "Authorization: Token <key>"
// header carrying an unexpired login key. The account's last-seen time is refreshed
// on every authenticated request.
func LoginKeyRequired(auth LoginKeyAuthenticator, logger *slog.Logger) fiber.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *fiber.Ctx) error {
		authHeader := c.Get(fiber.HeaderAuthorization)
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Authorization header is required",
			})
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Token" || strings.TrimSpace(parts[1]) == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"message": "Authorization header format must be 'Token <login key>'",
			})
		}

		ctx := c.UserContext()
		user, err := auth.AuthenticateByLoginKey(ctx, strings.TrimSpace(parts[1]))
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
					"message": "Invalid or expired login key",
				})
			}
			logger.ErrorContext(ctx, "login key lookup failed", "error", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"message": "Could not authenticate request",
			})
		}

		if err := auth.Touch(ctx, user.ID); err != nil {
			logger.WarnContext(ctx, "failed to record activity", "user_id", user.ID, "error", err)
		}

		c.Locals(userLocal, user)
		return c.Next()
	}
}

// CurrentUser returns the account authenticated by LoginKeyRequired, or nil.
func CurrentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals(userLocal).(*models.User)
	return user
}
