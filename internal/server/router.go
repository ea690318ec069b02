package server

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Halocrypt/core/internal/logging"
)

// AppOptions controls how the Fiber application should behave.
type AppOptions struct {
	Logger *logrus.Logger
	// AdminKey guards /admin routes; empty disables them.
	AdminKey string
}

const (
	contextKeyRequestID = "_hunt_request_id"

	// HeaderUser carries the username resolved by the upstream auth gateway.
	HeaderUser = "X-Hunt-User"
	// HeaderAdminKey must match AdminKey for admin routes.
	HeaderAdminKey = "X-Admin-Key"
	// HeaderCachedResponse marks responses served from the disk cache.
	HeaderCachedResponse = "X-Cached-Response"
)

// NewApp builds a Fiber application with request IDs, access logging and the
// JSON error envelope. Callers attach routes afterwards.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		ErrorHandler:  errorHandler(opts.Logger),
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware(opts.Logger))

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID，并在请求结束后输出访问日志。
func requestContextMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)

		started := time.Now()
		err := c.Next()
		if err != nil {
			// 先渲染错误，日志里才能拿到最终状态码。
			if handlerErr := c.App().Config().ErrorHandler(c, err); handlerErr != nil {
				return handlerErr
			}
		}

		cached := string(c.Response().Header.Peek(HeaderCachedResponse)) == "1"
		fields := logging.RequestFields(reqID, c.Method(), c.Path(), c.Response().StatusCode(), cached)
		fields["action"] = "request"
		fields["elapsed_ms"] = time.Since(started).Milliseconds()
		if user := CurrentUser(c); user != "" {
			fields["user"] = user
		}
		logger.WithFields(fields).Info("request handled")
		return nil
	}
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

// CurrentUser returns the lower-cased username forwarded by the auth gateway.
func CurrentUser(c fiber.Ctx) string {
	return strings.ToLower(strings.TrimSpace(c.Get(HeaderUser)))
}

// IsAdmin reports whether the request carries the configured admin key.
func IsAdmin(c fiber.Ctx, adminKey string) bool {
	if adminKey == "" {
		return false
	}
	provided := c.Get(HeaderAdminKey)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(adminKey)) == 1
}

// RequireUser rejects requests without an authenticated user.
func RequireUser() fiber.Handler {
	return func(c fiber.Ctx) error {
		if CurrentUser(c) == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "Not Authenticated")
		}
		return c.Next()
	}
}

// RequireAdmin rejects requests without the admin key.
func RequireAdmin(adminKey string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if !IsAdmin(c, adminKey) {
			return fiber.NewError(fiber.StatusForbidden, "No")
		}
		return c.Next()
	}
}
