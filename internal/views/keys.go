package views

import "fmt"

// EventsListKey 是赛事列表的固定 key。
const EventsListKey = "events-list"

func LeaderboardKey(event string) string {
	return event + "-leaderboard"
}

func NotificationsKey(event string) string {
	return event + "-notifications"
}

func EventDetailsKey(event string) string {
	return event + "-event-details"
}

func QuestionsListKey(event string) string {
	return event + "-questions-list"
}

func UserCountKey(event string) string {
	return event + "-user-count"
}

// QuestionKey 返回单道题目的 key，例如 question-main-3。
func QuestionKey(event string, number int) string {
	return fmt.Sprintf("question-%s-%d", event, number)
}

// QuestionRef 是题目视图的调用参数。
type QuestionRef struct {
	Event  string
	Number int
}

// Key 使 QuestionRef 可以直接作为推导函数使用。
func (q QuestionRef) Key() string {
	return QuestionKey(q.Event, q.Number)
}
