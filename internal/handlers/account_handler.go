package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"beast/internal/middleware"
	"beast/internal/models"
	"beast/internal/repositories"
	"beast/internal/services"
)

// AccountHandler handles HTTP requests for forum accounts and sessions.
type AccountHandler struct {
	service  *services.AccountService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(service *services.AccountService, logger *slog.Logger) *AccountHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountHandler{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}
}

// RegisterRoutes registers the account routes. Routes that act on an account require a login key.
func (h *AccountHandler) RegisterRoutes(router fiber.Router) {
	router.Post("/session", h.HandleCreateSession)

	users := router.Group("/users")
	users.Post("/", h.HandleCreateAccount)
	users.Get("/", h.HandleSearch)
	users.Get("/online", h.HandleOnline)
	users.Get("/:id", h.HandleGetUser)

	auth := middleware.LoginKeyRequired(h.service, h.logger)
	users.Put("/:id", auth, h.HandleUpdateAccount)
	users.Post("/:id/login_key", auth, h.HandleResetLoginKey)
	users.Post("/:id/posts_count", auth, h.HandleUpdatePostsCount)
}

// CreateAccountRequest represents the request body for account creation.
type CreateAccountRequest struct {
	Email                string `json:"email" validate:"max=255"`
	DisplayName          string `json:"display_name" validate:"max=255"`
	OpenIDURL            string `json:"openid_url" validate:"max=1024"`
	Password             string `json:"password" validate:"max=1024"`
	PasswordConfirmation string `json:"password_confirmation" validate:"max=1024"`
	Mode                 string `json:"mode" validate:"omitempty,oneof=password openid"`
}

// UpdateAccountRequest represents the request body for account updates.
// Omitted fields are left unchanged.
type UpdateAccountRequest struct {
	Email                *string `json:"email" validate:"omitempty,max=255"`
	DisplayName          *string `json:"display_name" validate:"omitempty,max=255"`
	OpenIDURL            *string `json:"openid_url" validate:"omitempty,max=1024"`
	Password             *string `json:"password" validate:"omitempty,max=1024"`
	PasswordConfirmation *string `json:"password_confirmation" validate:"omitempty,max=1024"`
}

// LoginRequest represents the request body for login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

// parseBody decodes and validates the request body into req. It writes the error
// response itself and reports whether the handler should continue.
func (h *AccountHandler) parseBody(c *fiber.Ctx, req any) (bool, error) {
	if err := c.BodyParser(req); err != nil {
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Invalid request body",
			"error":   err.Error(),
		})
	}
	if err := h.validate.Struct(req); err != nil {
		var validationErrors validator.ValidationErrors
		if !errors.As(err, &validationErrors) {
			return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Invalid request body",
				"error":   err.Error(),
			})
		}
		errorMessages := make(map[string]string)
		for _, e := range validationErrors {
			errorMessages[e.Field()] = fmt.Sprintf("Field '%s' failed on the '%s' tag", e.Field(), e.Tag())
		}
		return false, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "Validation failed",
			"errors":  errorMessages,
		})
	}
	return true, nil
}

// respondError maps service errors onto HTTP statuses.
func (h *AccountHandler) respondError(c *fiber.Ctx, action string, err error) error {
	var (
		verr *models.ValidationError
		uv   *models.UniquenessViolation
	)
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"message": "Validation failed",
			"errors":  verr.Violations,
		})
	case errors.As(err, &uv):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"message": fmt.Sprintf("Could not %s", action),
			"errors":  []models.Violation{uv.AsViolation()},
		})
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"message": "User not found",
		})
	}
	h.logger.ErrorContext(c.UserContext(), "request failed", "action", action, "error", err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"message": fmt.Sprintf("Could not %s", action),
	})
}

func userID(c *fiber.Ctx) (uint64, bool) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	return id, err == nil
}

func badID(c *fiber.Ctx) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"message": "Invalid user ID",
	})
}

// HandleCreateAccount handles account registration with a password or an OpenID URL.
func (h *AccountHandler) HandleCreateAccount(c *fiber.Ctx) error {
	var req CreateAccountRequest
	if ok, err := h.parseBody(c, &req); !ok {
		return err
	}

	user, err := h.service.CreateAccount(c.UserContext(), models.Candidate{
		Email:                req.Email,
		DisplayName:          req.DisplayName,
		OpenIDURL:            req.OpenIDURL,
		Password:             req.Password,
		PasswordConfirmation: req.PasswordConfirmation,
		Mode:                 models.Mode(req.Mode),
	})
	if err != nil {
		return h.respondError(c, "create account", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":   "User registered successfully",
		"user":      user.Public(),
		"activated": user.Activated,
	})
}

// HandleCreateSession authenticates by email and password and issues a login key.
func (h *AccountHandler) HandleCreateSession(c *fiber.Ctx) error {
	var req LoginRequest
	if ok, err := h.parseBody(c, &req); !ok {
		return err
	}

	ctx := c.UserContext()
	user, err := h.service.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			return h.respondError(c, "log in", err)
		}
		if _, inactiveErr := h.service.AuthenticateWithActivation(ctx, req.Email, req.Password, false); inactiveErr == nil {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"message": "Account is not activated",
			})
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"message": "Authentication failed",
		})
	}

	if err := h.service.RecordLogin(ctx, user.ID); err != nil {
		return h.respondError(c, "log in", err)
	}
	key, err := h.service.EnsureActiveKey(ctx, user.ID)
	if err != nil {
		return h.respondError(c, "log in", err)
	}

	return c.JSON(fiber.Map{
		"message":   "Login successful",
		"login_key": key,
		"user":      user.Public(),
	})
}

// HandleSearch lists accounts whose display name or email contains the q parameter.
func (h *AccountHandler) HandleSearch(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", repositories.PerPage)
	if limit <= 0 || limit > repositories.PerPage {
		limit = repositories.PerPage
	}

	users := make([]models.PublicUser, 0, limit)
	for user, err := range h.service.Search(c.UserContext(), c.Query("q")) {
		if err != nil {
			return h.respondError(c, "search users", err)
		}
		users = append(users, user.Public())
		if len(users) == limit {
			break
		}
	}
	return c.JSON(users)
}

// HandleOnline lists accounts seen recently. The optional within parameter is a duration.
func (h *AccountHandler) HandleOnline(c *fiber.Ctx) error {
	var within time.Duration
	if raw := c.Query("within"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"message": "Invalid duration",
				"error":   err.Error(),
			})
		}
		within = d
	}

	online, err := h.service.CurrentlyOnline(c.UserContext(), within)
	if err != nil {
		return h.respondError(c, "list online users", err)
	}
	users := make([]models.PublicUser, 0, len(online))
	for i := range online {
		users = append(users, online[i].Public())
	}
	return c.JSON(users)
}

// HandleGetUser returns the public view of an account.
func (h *AccountHandler) HandleGetUser(c *fiber.Ctx) error {
	id, ok := userID(c)
	if !ok {
		return badID(c)
	}
	user, err := h.service.GetUser(c.UserContext(), id)
	if err != nil {
		return h.respondError(c, "get user", err)
	}
	return c.JSON(user.Public())
}

// authorize allows the account owner, or an administrator when adminAllowed is set.
func authorize(c *fiber.Ctx, id uint64, adminAllowed bool) bool {
	current := middleware.CurrentUser(c)
	return current != nil && (current.ID == id || (adminAllowed && current.Admin))
}

func forbidden(c *fiber.Ctx) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"message": "Not allowed to modify this account",
	})
}

// HandleUpdateAccount updates an account. Owners and administrators may update it.
func (h *AccountHandler) HandleUpdateAccount(c *fiber.Ctx) error {
	id, ok := userID(c)
	if !ok {
		return badID(c)
	}
	if !authorize(c, id, true) {
		return forbidden(c)
	}

	var req UpdateAccountRequest
	if ok, err := h.parseBody(c, &req); !ok {
		return err
	}

	user, err := h.service.UpdateAccount(c.UserContext(), id, models.AccountUpdate{
		Email:                req.Email,
		DisplayName:          req.DisplayName,
		OpenIDURL:            req.OpenIDURL,
		Password:             req.Password,
		PasswordConfirmation: req.PasswordConfirmation,
	})
	if err != nil {
		return h.respondError(c, "update account", err)
	}
	return c.JSON(fiber.Map{
		"message": "User updated successfully",
		"user":    user.Public(),
	})
}

// HandleResetLoginKey replaces the caller's login key, invalidating the old one.
func (h *AccountHandler) HandleResetLoginKey(c *fiber.Ctx) error {
	id, ok := userID(c)
	if !ok {
		return badID(c)
	}
	if !authorize(c, id, false) {
		return forbidden(c)
	}

	key, err := h.service.ResetLoginKey(c.UserContext(), id, true)
	if err != nil {
		return h.respondError(c, "reset login key", err)
	}
	return c.JSON(fiber.Map{
		"message":   "Login key reset",
		"login_key": key,
	})
}

// HandleUpdatePostsCount recounts an account's posts. Administrators only.
func (h *AccountHandler) HandleUpdatePostsCount(c *fiber.Ctx) error {
	id, ok := userID(c)
	if !ok {
		return badID(c)
	}
	current := middleware.CurrentUser(c)
	if current == nil || !current.Admin {
		return forbidden(c)
	}

	count, err := h.service.UpdatePostsCount(c.UserContext(), id)
	if err != nil {
		return h.respondError(c, "update posts count", err)
	}
	return c.JSON(fiber.Map{
		"id":          id,
		"posts_count": count,
	})
}
