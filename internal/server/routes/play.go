package routes

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"github.com/Halocrypt/core/internal/hunt"
	"github.com/Halocrypt/core/internal/server"
	"github.com/Halocrypt/core/internal/views"
)

// maxAnswerLen 之外的答案直接判错，不查库。
const maxAnswerLen = 50

type answerRequest struct {
	Answer string `json:"answer"`
}

func registerPlayRoutes(app *fiber.App, h *handlers) {
	play := app.Group("/play")

	play.Get("/events", func(c fiber.Ctx) error {
		return h.eventsList.Serve(c, struct{}{})
	})
	play.Get("/:event/leaderboard", h.requireEvent, func(c fiber.Ctx) error {
		return h.leaderboard.Serve(c, c.Params("event"))
	})
	play.Get("/:event/notifications", h.requireEvent, func(c fiber.Ctx) error {
		return h.notifications.Serve(c, c.Params("event"))
	})
	play.Get("/:event/details", func(c fiber.Ctx) error {
		ev, err := h.eventDetails.Get(c.Context(), c.Params("event"))
		if err != nil {
			return err
		}
		return server.JSON(c, ev)
	})
	play.Get("/:event/question", server.RequireUser(), h.currentQuestion)
	play.Post("/:event/answer", server.RequireUser(), h.submitAnswer)
}

// requireEvent 拒绝未知赛事，避免任意路径参数在缓存目录里留下条目。
// 赛事详情本身走缓存，未知赛事的查询错误不会被写入。
func (h *handlers) requireEvent(c fiber.Ctx) error {
	if _, err := h.eventDetails.Get(c.Context(), c.Params("event")); err != nil {
		return err
	}
	return c.Next()
}

// runningEvent 通过缓存的赛事详情判断比赛是否进行中。
func (h *handlers) runningEvent(c fiber.Ctx, event string) error {
	ev, err := h.eventDetails.Get(c.Context(), event)
	if err != nil {
		return err
	}
	return ev.CheckRunning(h.repo.Now())
}

// playerState 返回当前选手；被取消资格时第二个返回值为非 nil 的响应体。
func (h *handlers) playerState(c fiber.Ctx, event string) (*hunt.User, fiber.Map, error) {
	user, err := h.repo.GetUser(c.Context(), server.CurrentUser(c))
	if err != nil {
		return nil, nil, err
	}
	if user.Event != event {
		return nil, nil, fiber.NewError(fiber.StatusForbidden, "User is not registered for this event")
	}
	if user.IsDisqualified {
		return user, fiber.Map{"disqualified": true, "reason": user.DisqualificationReason}, nil
	}
	return user, nil, nil
}

func (h *handlers) currentQuestion(c fiber.Ctx) error {
	event := c.Params("event")
	if err := h.runningEvent(c, event); err != nil {
		return err
	}
	user, blocked, err := h.playerState(c, event)
	if err != nil {
		return err
	}
	if blocked != nil {
		return server.JSON(c, blocked)
	}

	q, err := h.question.Get(c.Context(), views.QuestionRef{Event: event, Number: user.Level})
	if err != nil {
		if errors.Is(err, hunt.ErrNotFound) {
			return server.JSON(c, fiber.Map{"game_over": true})
		}
		return err
	}
	q.Secure = nil
	return server.JSON(c, q)
}

func (h *handlers) submitAnswer(c fiber.Ctx) error {
	event := c.Params("event")
	if err := h.runningEvent(c, event); err != nil {
		return err
	}

	var req answerRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	answer := hunt.Sanitize(req.Answer)
	if answer == "" || len(answer) > maxAnswerLen {
		return server.JSON(c, fiber.Map{"is_correct": false})
	}

	user, blocked, err := h.playerState(c, event)
	if err != nil {
		return err
	}
	if blocked != nil {
		return server.JSON(c, blocked)
	}

	q, err := h.question.Get(c.Context(), views.QuestionRef{Event: event, Number: user.Level})
	if err != nil {
		if errors.Is(err, hunt.ErrNotFound) {
			return server.JSON(c, fiber.Map{"game_over": true})
		}
		return err
	}
	if q.Secure == nil || hunt.Sanitize(q.Secure.Answer) != answer {
		return server.JSON(c, fiber.Map{"is_correct": false})
	}

	if _, err := h.repo.AdvanceLevel(c.Context(), user.User, user.Level, q.Points); err != nil {
		// 同一关的并发提交已经有一次生效。
		if errors.Is(err, hunt.ErrConflict) {
			return server.JSON(c, fiber.Map{"is_correct": true})
		}
		return err
	}
	h.logger.WithField("action", "answer_accepted").
		WithField("user", user.User).
		WithField("question", q.Number).
		Info("level advanced")

	h.invalidate(c, views.LeaderboardKey(event))
	return server.JSON(c, fiber.Map{"is_correct": true})
}
