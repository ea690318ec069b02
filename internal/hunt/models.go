package hunt

import (
	"time"

	"github.com/uptrace/bun"
)

// User 是选手账号。时间字段均为 Unix 毫秒。
type User struct {
	bun.BaseModel `bun:"table:users"`

	ID                     string `bun:"id,pk"`
	User                   string `bun:"user,notnull,unique"`
	Name                   string `bun:"name,notnull"`
	Email                  string `bun:"email,nullzero,unique"`
	Institution            string `bun:"institution,nullzero"`
	PasswordHash           string `bun:"password_hash,notnull"`
	CreatedAt              int64  `bun:"created_at,notnull"`
	IsDisqualified         bool   `bun:"is_disqualified,notnull"`
	DisqualificationReason string `bun:"disqualification_reason,nullzero"`
	LastQuestionAnsweredAt int64  `bun:"last_question_answered_at,notnull"`
	IsAdmin                bool   `bun:"is_admin,notnull"`
	Level                  int    `bun:"level,notnull"`
	Points                 int    `bun:"points,notnull"`
	HasVerifiedEmail       bool   `bun:"has_verified_email,notnull"`
	Event                  string `bun:"event,notnull"`
}

// UserSecure 是只有本人或管理员可见的字段。
type UserSecure struct {
	Email            string `json:"email"`
	Institution      string `json:"institution"`
	HasVerifiedEmail bool   `json:"has_verified_email"`
}

// UserJSON 是 API 返回的用户结构。
type UserJSON struct {
	ID                     string      `json:"_id"`
	User                   string      `json:"user"`
	Name                   string      `json:"name"`
	CreatedAt              int64       `json:"created_at"`
	IsAdmin                bool        `json:"is_admin"`
	IsDisqualified         bool        `json:"is_disqualified"`
	DisqualificationReason *string     `json:"disqualification_reason"`
	Level                  int         `json:"level"`
	Points                 int         `json:"points"`
	LastQuestionAnsweredAt int64       `json:"last_question_answered_at"`
	Event                  string      `json:"event"`
	Secure                 *UserSecure `json:"_secure_,omitempty"`
}

// JSON 转换为 API 结构，withSecure 控制是否包含私密字段。
func (u *User) JSON(withSecure bool) UserJSON {
	out := UserJSON{
		ID:                     u.ID,
		User:                   u.User,
		Name:                   u.Name,
		CreatedAt:              u.CreatedAt,
		IsAdmin:                u.IsAdmin,
		IsDisqualified:         u.IsDisqualified,
		Level:                  u.Level,
		Points:                 u.Points,
		LastQuestionAnsweredAt: u.LastQuestionAnsweredAt,
		Event:                  u.Event,
	}
	if u.DisqualificationReason != "" {
		reason := u.DisqualificationReason
		out.DisqualificationReason = &reason
	}
	if withSecure {
		out.Secure = &UserSecure{
			Email:            u.Email,
			Institution:      u.Institution,
			HasVerifiedEmail: u.HasVerifiedEmail,
		}
	}
	return out
}

// LeaderboardRow 是排行榜的一行。
type LeaderboardRow struct {
	User           string `bun:"user" json:"user"`
	Name           string `bun:"name" json:"name"`
	Points         int    `bun:"points" json:"points"`
	Level          int    `bun:"level" json:"level"`
	IsAdmin        bool   `bun:"is_admin" json:"is_admin"`
	IsDisqualified bool   `bun:"is_disqualified" json:"is_disqualified"`
}

// Event 描述一场比赛的时间窗口。时间为 Unix 秒，0 表示未设置。
type Event struct {
	bun.BaseModel `bun:"table:events"`

	Name           string `bun:"name,pk" json:"name"`
	EventStartTime int64  `bun:"event_start_time,notnull" json:"event_start_time"`
	EventEndTime   int64  `bun:"event_end_time,notnull" json:"event_end_time"`
	IsOver         bool   `bun:"is_over,notnull" json:"is_over"`
}

// CheckRunning 在比赛未开始或已结束时返回 ErrForbidden。
func (e *Event) CheckRunning(now time.Time) error {
	ts := now.Unix()
	if e.IsOver || (e.EventEndTime > 0 && e.EventEndTime < ts) {
		return forbiddenf("Hunt is over")
	}
	if e.EventStartTime > ts {
		return forbiddenf("Hunt hasn't started yet..")
	}
	return nil
}

// Question 是一道题目，Number 从 0 开始，与选手 level 对应。
type Question struct {
	bun.BaseModel `bun:"table:questions"`

	ID     string   `bun:"id,pk"`
	Number int      `bun:"question_number,notnull"`
	Points int      `bun:"question_points,notnull"`
	Event  string   `bun:"event,notnull"`
	Text   string   `bun:"question_text,notnull"`
	Hints  []string `bun:"question_hints,type:json"`
	Answer string   `bun:"answer,notnull"`
}

// QuestionSecure 只对管理员可见。
type QuestionSecure struct {
	Answer string `json:"answer"`
}

// QuestionJSON 是 API 返回的题目结构。
type QuestionJSON struct {
	ID     string          `json:"_id"`
	Number int             `json:"question_number"`
	Points int             `json:"question_points"`
	Event  string          `json:"event"`
	Text   string          `json:"question_text"`
	Hints  []string        `json:"question_hints"`
	Secure *QuestionSecure `json:"_secure_,omitempty"`
}

// JSON 转换为 API 结构，withSecure 控制是否包含答案。
func (q *Question) JSON(withSecure bool) QuestionJSON {
	out := QuestionJSON{
		ID:     q.ID,
		Number: q.Number,
		Points: q.Points,
		Event:  q.Event,
		Text:   q.Text,
		Hints:  q.Hints,
	}
	if out.Hints == nil {
		out.Hints = []string{}
	}
	if withSecure {
		out.Secure = &QuestionSecure{Answer: q.Answer}
	}
	return out
}

// Notification 是赛事公告，TS 为 Unix 毫秒。
type Notification struct {
	bun.BaseModel `bun:"table:notifications"`

	Event    string `bun:"event,pk" json:"-"`
	TS       int64  `bun:"ts,pk" json:"ts"`
	Title    string `bun:"title,notnull" json:"title"`
	Content  string `bun:"content,notnull" json:"content"`
	IssuedBy string `bun:"issued_by,nullzero" json:"issuedBy"`
}

var models = []any{
	(*User)(nil),
	(*Event)(nil),
	(*Question)(nil),
	(*Notification)(nil),
}
