package routes

import (
	"github.com/gofiber/fiber/v3"

	"github.com/Halocrypt/core/internal/hunt"
	"github.com/Halocrypt/core/internal/server"
	"github.com/Halocrypt/core/internal/views"
)

func registerUserRoutes(app *fiber.App, h *handlers) {
	accounts := app.Group("/accounts")

	accounts.Post("/register", h.register)
	accounts.Get("/:user", h.userDetails)
	accounts.Patch("/:user", server.RequireUser(), h.editUser)
}

func (h *handlers) register(c fiber.Ctx) error {
	var req hunt.NewUser
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	user, err := h.repo.CreateUser(c.Context(), req)
	if err != nil {
		return err
	}
	h.invalidate(c, views.LeaderboardKey(user.Event), views.UserCountKey(user.Event))
	return server.JSON(c, user.JSON(true))
}

// targetUser 解析路径中的用户名，"me" 表示当前用户。
func targetUser(c fiber.Ctx) (string, error) {
	target := c.Params("user")
	if target == "me" {
		target = server.CurrentUser(c)
		if target == "" {
			return "", fiber.NewError(fiber.StatusUnauthorized, "Not Authenticated")
		}
	}
	return target, nil
}

func (h *handlers) userDetails(c fiber.Ctx) error {
	target, err := targetUser(c)
	if err != nil {
		return err
	}
	user, err := h.repo.GetUser(c.Context(), target)
	if err != nil {
		return err
	}
	withSecure := server.CurrentUser(c) == user.User || server.IsAdmin(c, h.adminKey)
	return server.JSON(c, user.JSON(withSecure))
}

func (h *handlers) editUser(c fiber.Ctx) error {
	target, err := targetUser(c)
	if err != nil {
		return err
	}
	if server.CurrentUser(c) != target && !server.IsAdmin(c, h.adminKey) {
		return fiber.NewError(fiber.StatusForbidden, "Cannot edit another account")
	}

	var patch hunt.UserPatch
	if err := decodeBody(c, &patch); err != nil {
		return err
	}
	user, err := h.repo.UpdateUser(c.Context(), target, patch)
	if err != nil {
		return err
	}
	h.invalidate(c, views.LeaderboardKey(user.Event))
	return server.JSON(c, user.JSON(true))
}
