package views

import (
	"time"

	"github.com/Halocrypt/core/internal/cache"
)

// 内置视图名称。
const (
	Leaderboard   = "leaderboard"
	Notifications = "notifications"
	EventsList    = "events-list"
	EventDetails  = "event-details"
	Question      = "question"
	QuestionsList = "questions-list"
	UserCount     = "user-count"
)

func init() {
	MustRegister(Metadata{
		Name:        Leaderboard,
		Description: "ranked players of an event",
		KeyTemplate: LeaderboardKey("{event}"),
		DefaultTTL:  time.Hour,
	})
	MustRegister(Metadata{
		Name:        Notifications,
		Description: "announcements of an event, newest first",
		KeyTemplate: NotificationsKey("{event}"),
		DefaultTTL:  5 * time.Hour,
	})
	MustRegister(Metadata{
		Name:        EventsList,
		Description: "all events with their public details",
		KeyTemplate: EventsListKey,
		DefaultTTL:  cache.NoExpiry,
	})
	MustRegister(Metadata{
		Name:        EventDetails,
		Description: "timing and state of a single event",
		KeyTemplate: EventDetailsKey("{event}"),
	})
	MustRegister(Metadata{
		Name:        Question,
		Description: "a single question as shown to players",
		KeyTemplate: "question-{event}-{number}",
	})
	MustRegister(Metadata{
		Name:        QuestionsList,
		Description: "all questions of an event including answers",
		KeyTemplate: QuestionsListKey("{event}"),
		Scope:       ScopeAdmin,
	})
	MustRegister(Metadata{
		Name:        UserCount,
		Description: "number of registered players of an event",
		KeyTemplate: UserCountKey("{event}"),
		DefaultTTL:  20 * time.Second,
		Scope:       ScopeAdmin,
	})
}
