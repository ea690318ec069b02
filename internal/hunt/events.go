package hunt

import (
	"context"
	"fmt"
	"strings"
)

// EventPatch 是管理员可修改的赛事字段，nil 表示不修改。
type EventPatch struct {
	EventStartTime *int64 `json:"event_start_time"`
	EventEndTime   *int64 `json:"event_end_time"`
	IsOver         *bool  `json:"is_over"`
}

// EnsureEvents 确保配置中的赛事存在，已存在的赛事保持不变。
func (r *Repository) EnsureEvents(ctx context.Context, names []string) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		err := withRetry(ctx, func() error {
			_, err := r.db.NewInsert().
				Model(&Event{Name: name}).
				On("CONFLICT (name) DO NOTHING").
				Exec(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("ensure event %s: %w", name, err)
		}
	}
	return nil
}

// ListEvents 返回全部赛事。
func (r *Repository) ListEvents(ctx context.Context) ([]Event, error) {
	events := make([]Event, 0)
	if err := r.db.NewSelect().Model(&events).Order("name ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return events, nil
}

// GetEvent 按名称查询赛事。
func (r *Repository) GetEvent(ctx context.Context, name string) (*Event, error) {
	event := new(Event)
	err := r.db.NewSelect().Model(event).Where("name = ?", name).Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notFoundf("Event not found")
		}
		return nil, err
	}
	return event, nil
}

// RunningEvent 返回正在进行中的赛事，否则返回 ErrForbidden。
func (r *Repository) RunningEvent(ctx context.Context, name string) (*Event, error) {
	event, err := r.GetEvent(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := event.CheckRunning(r.now()); err != nil {
		return nil, err
	}
	return event, nil
}

// UpdateEvent 修改赛事时间窗口或结束标记。
func (r *Repository) UpdateEvent(ctx context.Context, name string, patch EventPatch) (*Event, error) {
	event, err := r.GetEvent(ctx, name)
	if err != nil {
		return nil, err
	}
	if patch.EventStartTime != nil {
		event.EventStartTime = *patch.EventStartTime
	}
	if patch.EventEndTime != nil {
		event.EventEndTime = *patch.EventEndTime
	}
	if patch.IsOver != nil {
		event.IsOver = *patch.IsOver
	}
	if event.EventStartTime > 0 && event.EventEndTime > 0 && event.EventEndTime < event.EventStartTime {
		return nil, invalidf("Event cannot end before it starts")
	}

	err = withRetry(ctx, func() error {
		_, err := r.db.NewUpdate().
			Model(event).
			Column("event_start_time", "event_end_time", "is_over").
			WherePK().
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update event: %w", err)
	}
	return event, nil
}
