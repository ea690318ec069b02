package server

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/Halocrypt/core/internal/cache"
	"github.com/Halocrypt/core/internal/hunt"
)

// UnknownErrorMessage is returned for errors that are not meant for users.
const UnknownErrorMessage = "An unknown error occured"

// JSON writes the success envelope {"data": value}.
func JSON(c fiber.Ctx, value any) error {
	return c.JSON(cache.Envelope{Data: value})
}

// StatusFor maps domain errors to HTTP status codes; 0 means unknown.
func StatusFor(err error) int {
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.Is(err, hunt.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, hunt.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, hunt.ErrForbidden):
		return fiber.StatusForbidden
	case errors.Is(err, hunt.ErrInvalid):
		return fiber.StatusBadRequest
	}
	return 0
}

// errorHandler 渲染 {"error": msg}；未知错误返回 500 并附带 tb 字段。
func errorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c fiber.Ctx, err error) error {
		fields := logrus.Fields{
			"action":     "request_error",
			"request_id": RequestID(c),
			"path":       c.Path(),
		}

		if status := StatusFor(err); status != 0 {
			logger.WithFields(fields).WithError(err).Debug("request rejected")
			return c.Status(status).JSON(fiber.Map{"error": err.Error()})
		}

		logger.WithFields(fields).WithError(err).Error("request failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": UnknownErrorMessage,
			"tb":    err.Error(),
		})
	}
}
