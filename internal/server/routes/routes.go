// Package routes attaches the play, account, admin and diagnostics handlers to
// the Fiber app. Read handlers go through cached views; write handlers commit
// to the repository and then invalidate the keys whose views they changed.
package routes

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/Halocrypt/core/internal/cache"
	"github.com/Halocrypt/core/internal/hunt"
	"github.com/Halocrypt/core/internal/views"
)

// Deps 是路由层依赖。
type Deps struct {
	Repo      *hunt.Repository
	Cache     *cache.Client
	Overrides map[string]views.Override
	AdminKey  string
	Logger    logrus.FieldLogger
}

// UserCount 是 user-count 视图的返回值。
type UserCount struct {
	Count int `json:"count"`
}

type handlers struct {
	repo     *hunt.Repository
	cache    *cache.Client
	adminKey string
	logger   logrus.FieldLogger

	eventsList    *cache.View[struct{}, []hunt.Event]
	leaderboard   *cache.View[string, []hunt.LeaderboardRow]
	notifications *cache.View[string, []hunt.Notification]
	eventDetails  *cache.View[string, hunt.Event]
	question      *cache.View[views.QuestionRef, hunt.QuestionJSON]
	questionsList *cache.View[string, []hunt.QuestionJSON]
	userCount     *cache.View[string, UserCount]
}

// Register 构建所有缓存视图并挂载路由。
func Register(app *fiber.App, deps Deps) error {
	if app == nil {
		return errors.New("app is required")
	}
	if deps.Repo == nil {
		return errors.New("repository is required")
	}
	h := newHandlers(deps)

	registerPlayRoutes(app, h)
	registerUserRoutes(app, h)
	registerAdminRoutes(app, h)
	registerViewRoutes(app, deps)
	return nil
}

func newHandlers(deps Deps) *handlers {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	repo := deps.Repo
	opts := func(name string) cache.ViewOptions {
		return views.Options(name, deps.Overrides)
	}

	h := &handlers{
		repo:     repo,
		cache:    deps.Cache,
		adminKey: deps.AdminKey,
		logger:   logger,
	}

	h.eventsList = cache.NewView(deps.Cache, cache.StaticKey[struct{}](views.EventsListKey),
		func(ctx context.Context, _ struct{}) ([]hunt.Event, error) {
			return repo.ListEvents(ctx)
		}, opts(views.EventsList))

	h.leaderboard = cache.NewView(deps.Cache, cache.DerivedKey(views.LeaderboardKey),
		repo.Leaderboard, opts(views.Leaderboard))

	h.notifications = cache.NewView(deps.Cache, cache.DerivedKey(views.NotificationsKey),
		repo.ListNotifications, opts(views.Notifications))

	h.eventDetails = cache.NewView(deps.Cache, cache.DerivedKey(views.EventDetailsKey),
		func(ctx context.Context, event string) (hunt.Event, error) {
			ev, err := repo.GetEvent(ctx, event)
			if err != nil {
				return hunt.Event{}, err
			}
			return *ev, nil
		}, opts(views.EventDetails))

	h.question = cache.NewView(deps.Cache, cache.DerivedKey(views.QuestionRef.Key),
		func(ctx context.Context, ref views.QuestionRef) (hunt.QuestionJSON, error) {
			q, err := repo.GetQuestion(ctx, ref.Event, ref.Number)
			if err != nil {
				return hunt.QuestionJSON{}, err
			}
			return q.JSON(true), nil
		}, opts(views.Question))

	h.questionsList = cache.NewView(deps.Cache, cache.DerivedKey(views.QuestionsListKey),
		func(ctx context.Context, event string) ([]hunt.QuestionJSON, error) {
			questions, err := repo.ListQuestions(ctx, event)
			if err != nil {
				return nil, err
			}
			out := make([]hunt.QuestionJSON, len(questions))
			for i := range questions {
				out[i] = questions[i].JSON(true)
			}
			return out, nil
		}, opts(views.QuestionsList))

	h.userCount = cache.NewView(deps.Cache, cache.DerivedKey(views.UserCountKey),
		func(ctx context.Context, event string) (UserCount, error) {
			count, err := repo.CountUsers(ctx, event)
			return UserCount{Count: count}, err
		}, opts(views.UserCount))

	return h
}

// invalidate 在写入成功后失效相关 key，失败只记日志。
func (h *handlers) invalidate(c fiber.Ctx, keys ...string) {
	cache.Invalidate(c.Context(), h.cache, struct{}{}, keys...)
}

func decodeBody(c fiber.Ctx, out any) error {
	body := c.Body()
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fiber.NewError(fiber.StatusUnprocessableEntity, "Invalid JSON body")
	}
	return nil
}
