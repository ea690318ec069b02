package hunt

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 30
	minPasswordLen = 4
)

// NewUser 是注册请求。
type NewUser struct {
	User        string `json:"user"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Institution string `json:"institution"`
	Password    string `json:"password"`
	Event       string `json:"event"`
}

// UserPatch 是用户可修改的字段，nil 表示不修改。
type UserPatch struct {
	Name        *string `json:"name"`
	Email       *string `json:"email"`
	Institution *string `json:"institution"`
	Password    *string `json:"password"`
}

func normalizeUsername(raw string) (string, error) {
	user := strings.TrimSpace(raw)
	if user == "" {
		return "", invalidf("Username cannot be blank")
	}
	if len(user) > maxUsernameLen {
		return "", invalidf("Username cannot be longer than %d characters", maxUsernameLen)
	}
	if len(user) < minUsernameLen {
		return "", invalidf("Username cannot be shorter than %d characters", minUsernameLen)
	}
	user = strings.ToLower(user)
	if Sanitize(user) != user {
		return "", invalidf("Username cannot have special characters or whitespace")
	}
	return user, nil
}

func normalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", invalidf("name cannot be blank")
	}
	return name, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || !strings.Contains(addr.Address, "@") {
		return "", invalidf("Invalid Email")
	}
	return addr.Address, nil
}

func hashPassword(password string) (string, error) {
	if len(password) < minPasswordLen {
		return "", invalidf("Password cannot be shorter than %d characters", minPasswordLen)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CreateUser 校验并写入新选手，用户名或邮箱重复时返回 ErrConflict。
func (r *Repository) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	username, err := normalizeUsername(in.User)
	if err != nil {
		return nil, err
	}
	name, err := normalizeName(in.Name)
	if err != nil {
		return nil, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if _, err := r.GetEvent(ctx, in.Event); err != nil {
		return nil, invalidf("Invalid event")
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := r.nowMillis()
	user := &User{
		ID:                     uuid.NewString(),
		User:                   username,
		Name:                   name,
		Email:                  email,
		Institution:            strings.TrimSpace(in.Institution),
		PasswordHash:           hash,
		CreatedAt:              now,
		LastQuestionAnsweredAt: now,
		Event:                  in.Event,
	}

	err = withRetry(ctx, func() error {
		_, err := r.db.NewInsert().Model(user).Exec(ctx)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			column := uniqueColumn(err)
			value := user.User
			if column == "email" {
				value = user.Email
			}
			return nil, conflictf("Another account exists with the %s %q", column, value)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

// GetUser 按用户名查询，大小写不敏感。
func (r *Repository) GetUser(ctx context.Context, username string) (*User, error) {
	user := new(User)
	err := r.db.NewSelect().
		Model(user).
		Where("user = ?", strings.ToLower(strings.TrimSpace(username))).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, notFoundf("User not found")
		}
		return nil, err
	}
	return user, nil
}

// UpdateUser 修改本人资料。
func (r *Repository) UpdateUser(ctx context.Context, username string, patch UserPatch) (*User, error) {
	user, err := r.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}

	columns := make([]string, 0, 4)
	if patch.Name != nil {
		name, err := normalizeName(*patch.Name)
		if err != nil {
			return nil, err
		}
		user.Name = name
		columns = append(columns, "name")
	}
	if patch.Email != nil {
		email, err := normalizeEmail(*patch.Email)
		if err != nil {
			return nil, err
		}
		if email != user.Email {
			user.HasVerifiedEmail = false
			columns = append(columns, "has_verified_email")
		}
		user.Email = email
		columns = append(columns, "email")
	}
	if patch.Institution != nil {
		user.Institution = strings.TrimSpace(*patch.Institution)
		columns = append(columns, "institution")
	}
	if patch.Password != nil {
		hash, err := hashPassword(*patch.Password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
		columns = append(columns, "password_hash")
	}
	if len(columns) == 0 {
		return user, nil
	}

	err = withRetry(ctx, func() error {
		_, err := r.db.NewUpdate().Model(user).Column(columns...).WherePK().Exec(ctx)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, conflictf("Another account exists with the email %q", user.Email)
		}
		return nil, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// DeleteUser 删除选手并返回被删除的记录；管理员账号不可删除。
func (r *Repository) DeleteUser(ctx context.Context, username string) (*User, error) {
	user, err := r.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if user.IsAdmin {
		return nil, invalidf("Cannot delete an admin account!")
	}
	err = withRetry(ctx, func() error {
		_, err := r.db.NewDelete().Model(user).WherePK().Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("delete user: %w", err)
	}
	return user, nil
}

// Disqualify 取消选手资格并扣除 deduct 分。
func (r *Repository) Disqualify(ctx context.Context, username, reason string, deduct int) (*User, error) {
	if deduct < 0 {
		return nil, invalidf("You're adding points! Don't use negative symbol")
	}
	user, err := r.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	if user.IsAdmin {
		return nil, invalidf("Cannot disqualify an admin!")
	}
	user.IsDisqualified = true
	user.DisqualificationReason = strings.TrimSpace(reason)
	user.Points -= deduct

	err = withRetry(ctx, func() error {
		_, err := r.db.NewUpdate().
			Model(user).
			Column("is_disqualified", "disqualification_reason", "points").
			WherePK().
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("disqualify user: %w", err)
	}
	return user, nil
}

// Requalify 恢复选手资格，扣除的分数不会返还。
func (r *Repository) Requalify(ctx context.Context, username string) (*User, error) {
	user, err := r.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	user.IsDisqualified = false
	user.DisqualificationReason = ""

	err = withRetry(ctx, func() error {
		_, err := r.db.NewUpdate().
			Model(user).
			Column("is_disqualified", "disqualification_reason").
			WherePK().
			Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("requalify user: %w", err)
	}
	return user, nil
}

// SetAdmin 修改管理员标记，供 CLI 的 user set-admin 使用。
func (r *Repository) SetAdmin(ctx context.Context, username string, admin bool) (*User, error) {
	user, err := r.GetUser(ctx, username)
	if err != nil {
		return nil, err
	}
	user.IsAdmin = admin
	err = withRetry(ctx, func() error {
		_, err := r.db.NewUpdate().Model(user).Column("is_admin").WherePK().Exec(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("set admin: %w", err)
	}
	return user, nil
}

// ListUsers 返回某赛事的全部选手，按注册时间排序。
func (r *Repository) ListUsers(ctx context.Context, event string) ([]User, error) {
	var users []User
	err := r.db.NewSelect().
		Model(&users).
		Where("event = ?", event).
		Order("created_at ASC", "user ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return users, nil
}

// CountUsers 返回某赛事的选手数量。
func (r *Repository) CountUsers(ctx context.Context, event string) (int, error) {
	return r.db.NewSelect().Model((*User)(nil)).Where("event = ?", event).Count(ctx)
}

// Leaderboard 返回排行榜：合格选手在前，非管理员在前，其后按分数、关卡降序，
// 同分时先答对者在前。
func (r *Repository) Leaderboard(ctx context.Context, event string) ([]LeaderboardRow, error) {
	rows := make([]LeaderboardRow, 0)
	err := r.db.NewSelect().
		Model((*User)(nil)).
		Column("user", "name", "points", "level", "is_admin", "is_disqualified").
		Where("event = ?", event).
		OrderExpr("is_disqualified ASC, is_admin ASC, points DESC, level DESC, last_question_answered_at ASC").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// AdvanceLevel 在选手答对 level 关后加分并进入下一关。
// level 作为乐观锁：同一关的重复提交只有一次生效，其余返回 ErrConflict。
func (r *Repository) AdvanceLevel(ctx context.Context, username string, level, points int) (*User, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	now := r.nowMillis()

	var affected int64
	err := withRetry(ctx, func() error {
		res, err := r.db.NewUpdate().
			Model((*User)(nil)).
			Set("level = level + 1").
			Set("points = points + ?", points).
			Set("last_question_answered_at = ?", now).
			Where("user = ?", username).
			Where("level = ?", level).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("advance level: %w", err)
	}
	if affected == 0 {
		return nil, conflictf("Answer already recorded")
	}
	return r.GetUser(ctx, username)
}
