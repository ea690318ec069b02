package routes

import (
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/Halocrypt/core/internal/hunt"
	"github.com/Halocrypt/core/internal/server"
	"github.com/Halocrypt/core/internal/views"
)

type disqualifyRequest struct {
	Reason string `json:"reason"`
	Points int    `json:"points"`
}

type invalidateRequest struct {
	Keys []string `json:"keys"`
}

var success = fiber.Map{"success": true}

func registerAdminRoutes(app *fiber.App, h *handlers) {
	admin := app.Group("/admin", server.RequireAdmin(h.adminKey))

	// 固定前缀的路由先注册，避免被 /:event 吞掉。
	admin.Post("/-/invalidate", h.flushKeys)
	admin.Patch("/accounts/:user/disqualify", h.disqualify)
	admin.Patch("/accounts/:user/requalify", h.requalify)
	admin.Delete("/accounts/:user", h.deleteUser)
	admin.Patch("/events/:event", h.editEvent)

	admin.Get("/:event/users", h.eventUsers)
	admin.Get("/:event/user-count", h.requireEvent, func(c fiber.Ctx) error {
		return h.userCount.Serve(c, c.Params("event"))
	})
	admin.Get("/:event/questions", h.requireEvent, func(c fiber.Ctx) error {
		return h.questionsList.Serve(c, c.Params("event"))
	})
	admin.Post("/:event/questions", h.addQuestion)
	admin.Patch("/:event/questions/:number", h.editQuestion)
	admin.Post("/:event/notifications", h.addNotification)
	admin.Delete("/:event/notifications/:ts", h.deleteNotification)
}

func (h *handlers) eventUsers(c fiber.Ctx) error {
	users, err := h.repo.ListUsers(c.Context(), c.Params("event"))
	if err != nil {
		return err
	}
	out := make([]hunt.UserJSON, len(users))
	for i := range users {
		out[i] = users[i].JSON(true)
	}
	return server.JSON(c, out)
}

func (h *handlers) disqualify(c fiber.Ctx) error {
	var req disqualifyRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	user, err := h.repo.Disqualify(c.Context(), c.Params("user"), req.Reason, req.Points)
	if err != nil {
		return err
	}
	h.invalidate(c, views.LeaderboardKey(user.Event))
	return server.JSON(c, user.JSON(true))
}

func (h *handlers) requalify(c fiber.Ctx) error {
	user, err := h.repo.Requalify(c.Context(), c.Params("user"))
	if err != nil {
		return err
	}
	h.invalidate(c, views.LeaderboardKey(user.Event))
	return server.JSON(c, user.JSON(true))
}

func (h *handlers) deleteUser(c fiber.Ctx) error {
	user, err := h.repo.DeleteUser(c.Context(), c.Params("user"))
	if err != nil {
		return err
	}
	h.invalidate(c, views.LeaderboardKey(user.Event), views.UserCountKey(user.Event))
	return server.JSON(c, success)
}

func (h *handlers) addQuestion(c fiber.Ctx) error {
	var req hunt.QuestionInput
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	event := c.Params("event")
	q, err := h.repo.AddQuestion(c.Context(), event, req)
	if err != nil {
		return err
	}
	h.invalidate(c, views.QuestionKey(event, q.Number), views.QuestionsListKey(event))
	return server.JSON(c, q.JSON(true))
}

func (h *handlers) editQuestion(c fiber.Ctx) error {
	number, err := strconv.Atoi(c.Params("number"))
	if err != nil || number < 0 {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid question number")
	}
	var patch hunt.QuestionPatch
	if err := decodeBody(c, &patch); err != nil {
		return err
	}
	event := c.Params("event")
	q, err := h.repo.EditQuestion(c.Context(), event, number, patch)
	if err != nil {
		return err
	}
	h.invalidate(c, views.QuestionKey(event, number), views.QuestionsListKey(event))
	return server.JSON(c, q.JSON(true))
}

func (h *handlers) editEvent(c fiber.Ctx) error {
	var patch hunt.EventPatch
	if err := decodeBody(c, &patch); err != nil {
		return err
	}
	event := c.Params("event")
	if _, err := h.repo.UpdateEvent(c.Context(), event, patch); err != nil {
		return err
	}
	h.invalidate(c, views.EventsListKey, views.EventDetailsKey(event))
	return server.JSON(c, success)
}

func (h *handlers) addNotification(c fiber.Ctx) error {
	var req hunt.NotificationInput
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	event := c.Params("event")
	if _, err := h.repo.AddNotification(c.Context(), event, req); err != nil {
		return err
	}
	h.invalidate(c, views.NotificationsKey(event))
	return server.JSON(c, success)
}

func (h *handlers) deleteNotification(c fiber.Ctx) error {
	ts, err := strconv.ParseInt(c.Params("ts"), 10, 64)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid notification ts")
	}
	event := c.Params("event")
	if err := h.repo.DeleteNotification(c.Context(), event, ts); err != nil {
		return err
	}
	h.invalidate(c, views.NotificationsKey(event))
	return server.JSON(c, success)
}

// flushKeys 供其它 worker 进程在变更后通知本机失效指定 key。
func (h *handlers) flushKeys(c fiber.Ctx) error {
	var req invalidateRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	if len(req.Keys) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "keys required")
	}
	if err := h.cache.Flush(c.Context(), req.Keys); err != nil {
		return err
	}
	return server.JSON(c, success)
}
