package hunt

import (
	"context"
	"fmt"
	"strings"
)

// NotificationInput 是发布公告的请求。
type NotificationInput struct {
	Title    string `json:"title"`
	Content  string `json:"content"`
	IssuedBy string `json:"issuedBy"`
}

// AddNotification 以当前时间为 ts 发布公告。
func (r *Repository) AddNotification(ctx context.Context, event string, in NotificationInput) (*Notification, error) {
	if _, err := r.GetEvent(ctx, event); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(in.Title)
	content := strings.TrimSpace(in.Content)
	if title == "" && content == "" {
		return nil, invalidf("Notification cannot be empty")
	}

	n := &Notification{
		Event:    event,
		TS:       r.nowMillis(),
		Title:    title,
		Content:  content,
		IssuedBy: strings.TrimSpace(in.IssuedBy),
	}
	err := withRetry(ctx, func() error {
		_, err := r.db.NewInsert().Model(n).Exec(ctx)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, conflictf("Notification already exists")
		}
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return n, nil
}

// DeleteNotification 删除指定 ts 的公告，不存在时不报错。
func (r *Repository) DeleteNotification(ctx context.Context, event string, ts int64) error {
	err := withRetry(ctx, func() error {
		_, err := r.db.NewDelete().
			Model((*Notification)(nil)).
			Where("event = ?", event).
			Where("ts = ?", ts).
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}
	return nil
}

// ListNotifications 返回公告，最新的在前。
func (r *Repository) ListNotifications(ctx context.Context, event string) ([]Notification, error) {
	notifications := make([]Notification, 0)
	err := r.db.NewSelect().
		Model(&notifications).
		Where("event = ?", event).
		Order("ts DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return notifications, nil
}
