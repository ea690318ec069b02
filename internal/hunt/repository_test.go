package hunt

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRepo(t *testing.T) (*Repository, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)}
	repo, err := Open(context.Background(), filepath.Join(t.TempDir(), "hunt.db"), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.EnsureEvents(context.Background(), []string{"main", "intra"}))
	return repo, clock
}

func register(t *testing.T, repo *Repository, user string) *User {
	t.Helper()
	u, err := repo.CreateUser(context.Background(), NewUser{
		User:     user,
		Name:     "Player " + user,
		Password: "hunter2",
		Event:    "main",
	})
	require.NoError(t, err)
	return u
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "helloworld", Sanitize(" Hello, World! "))
	assert.Equal(t, "a_b1", Sanitize("a_b-1"))
	assert.Equal(t, "", Sanitize("?!"))
}

func TestEnsureEventsIsIdempotent(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	end := int64(100)
	_, err := repo.UpdateEvent(ctx, "main", EventPatch{EventEndTime: &end})
	require.NoError(t, err)

	require.NoError(t, repo.EnsureEvents(ctx, []string{"main", " ", "finals"}))
	events, err := repo.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 3)

	ev, err := repo.GetEvent(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, int64(100), ev.EventEndTime, "existing event must be kept")
}

func TestCreateUserValidation(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	cases := []NewUser{
		{User: "", Name: "n", Password: "pass", Event: "main"},
		{User: "ab", Name: "n", Password: "pass", Event: "main"},
		{User: "bad name", Name: "n", Password: "pass", Event: "main"},
		{User: "good", Name: " ", Password: "pass", Event: "main"},
		{User: "good", Name: "n", Password: "abc", Event: "main"},
		{User: "good", Name: "n", Password: "pass", Event: "nope"},
		{User: "good", Name: "n", Password: "pass", Event: "main", Email: "not-an-email"},
	}
	for _, in := range cases {
		_, err := repo.CreateUser(ctx, in)
		assert.ErrorIs(t, err, ErrInvalid, "input %+v", in)
	}
}

func TestCreateUserConflictAndLookup(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	u := register(t, repo, "Alice")
	assert.Equal(t, "alice", u.User)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("hunter2")))
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("wrong")))

	_, err := repo.CreateUser(ctx, NewUser{User: "alice", Name: "x", Password: "pass", Event: "main"})
	require.ErrorIs(t, err, ErrConflict)
	var herr *Error
	require.True(t, errors.As(err, &herr))
	assert.Contains(t, herr.Message, "user")

	got, err := repo.GetUser(ctx, "ALICE")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = repo.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateUser(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	register(t, repo, "alice")

	name := "Alice A."
	email := "alice@example.com"
	updated, err := repo.UpdateUser(ctx, "alice", UserPatch{Name: &name, Email: &email})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)

	got, err := repo.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, email, got.Email)
	assert.Equal(t, name, got.Name)

	short := "abc"
	_, err = repo.UpdateUser(ctx, "alice", UserPatch{Password: &short})
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestDisqualifyRequalifyDelete(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	register(t, repo, "mallory")
	register(t, repo, "root")
	_, err := repo.SetAdmin(ctx, "root", true)
	require.NoError(t, err)

	_, err = repo.Disqualify(ctx, "mallory", "sharing answers", -1)
	assert.ErrorIs(t, err, ErrInvalid)

	u, err := repo.Disqualify(ctx, "mallory", "sharing answers", 5)
	require.NoError(t, err)
	assert.True(t, u.IsDisqualified)
	assert.Equal(t, -5, u.Points)

	_, err = repo.Disqualify(ctx, "root", "", 0)
	assert.ErrorIs(t, err, ErrInvalid)

	u, err = repo.Requalify(ctx, "mallory")
	require.NoError(t, err)
	assert.False(t, u.IsDisqualified)
	assert.Nil(t, u.JSON(false).DisqualificationReason)

	_, err = repo.DeleteUser(ctx, "root")
	assert.ErrorIs(t, err, ErrInvalid)

	deleted, err := repo.DeleteUser(ctx, "mallory")
	require.NoError(t, err)
	assert.Equal(t, "main", deleted.Event)
	_, err = repo.GetUser(ctx, "mallory")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLeaderboardOrdering(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	for _, name := range []string{"alice", "bob", "carol", "dave", "admin"} {
		register(t, repo, name)
	}
	_, err := repo.SetAdmin(ctx, "admin", true)
	require.NoError(t, err)

	// bob 先答对，alice 后答对：同分时 bob 在前。
	clock.Advance(time.Second)
	_, err = repo.AdvanceLevel(ctx, "bob", 0, 10)
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = repo.AdvanceLevel(ctx, "alice", 0, 10)
	require.NoError(t, err)
	_, err = repo.AdvanceLevel(ctx, "carol", 0, 30)
	require.NoError(t, err)
	_, err = repo.AdvanceLevel(ctx, "admin", 0, 100)
	require.NoError(t, err)
	_, err = repo.Disqualify(ctx, "carol", "cheating", 0)
	require.NoError(t, err)

	rows, err := repo.Leaderboard(ctx, "main")
	require.NoError(t, err)
	order := make([]string, len(rows))
	for i, row := range rows {
		order[i] = row.User
	}
	assert.Equal(t, []string{"bob", "alice", "dave", "admin", "carol"}, order)

	other, err := repo.Leaderboard(ctx, "intra")
	require.NoError(t, err)
	assert.Empty(t, other)
	assert.NotNil(t, other)
}

func TestAdvanceLevelIsGuardedByLevel(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	register(t, repo, "alice")

	u, err := repo.AdvanceLevel(ctx, "alice", 0, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, u.Level)
	assert.Equal(t, 10, u.Points)

	_, err = repo.AdvanceLevel(ctx, "alice", 0, 10)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCountAndListUsers(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	register(t, repo, "alice")
	register(t, repo, "bob")

	count, err := repo.CountUsers(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	users, err := repo.ListUsers(ctx, "main")
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.NotNil(t, users[0].JSON(true).Secure)
	assert.Nil(t, users[0].JSON(false).Secure)
}

func TestEventRunningWindow(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	now := clock.Now().Unix()
	start, end := now+60, now+3600
	_, err := repo.UpdateEvent(ctx, "main", EventPatch{EventStartTime: &start, EventEndTime: &end})
	require.NoError(t, err)

	_, err = repo.RunningEvent(ctx, "main")
	assert.ErrorIs(t, err, ErrForbidden)

	clock.Advance(2 * time.Minute)
	_, err = repo.RunningEvent(ctx, "main")
	assert.NoError(t, err)

	over := true
	_, err = repo.UpdateEvent(ctx, "main", EventPatch{IsOver: &over})
	require.NoError(t, err)
	_, err = repo.RunningEvent(ctx, "main")
	assert.ErrorIs(t, err, ErrForbidden)

	bad := start - 10
	_, err = repo.UpdateEvent(ctx, "main", EventPatch{EventEndTime: &bad})
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = repo.UpdateEvent(ctx, "missing", EventPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQuestions(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	next, err := repo.NextQuestionNumber(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, 0, next)

	q0, err := repo.AddQuestion(ctx, "main", QuestionInput{Points: 10, Text: "first?", Hints: []string{"look up"}, Answer: "Sky"})
	require.NoError(t, err)
	assert.Equal(t, 0, q0.Number)
	q1, err := repo.AddQuestion(ctx, "main", QuestionInput{Points: 20, Text: "second?", Answer: "sea"})
	require.NoError(t, err)
	assert.Equal(t, 1, q1.Number)
	assert.Equal(t, "main:1", q1.ID)

	_, err = repo.AddQuestion(ctx, "main", QuestionInput{Points: 0, Text: "x", Answer: "y"})
	assert.ErrorIs(t, err, ErrInvalid)
	_, err = repo.AddQuestion(ctx, "nope", QuestionInput{Points: 1, Text: "x", Answer: "y"})
	assert.ErrorIs(t, err, ErrInvalid)

	text := "first, edited?"
	hints := []string{"look up", "blue"}
	edited, err := repo.EditQuestion(ctx, "main", 0, QuestionPatch{Text: &text, Hints: &hints})
	require.NoError(t, err)
	assert.Equal(t, 10, edited.Points)
	assert.Equal(t, "Sky", edited.Answer)

	got, err := repo.GetQuestion(ctx, "main", 0)
	require.NoError(t, err)
	assert.Equal(t, text, got.Text)
	assert.Equal(t, hints, got.Hints)

	public := got.JSON(false)
	assert.Nil(t, public.Secure)
	assert.Equal(t, "Sky", got.JSON(true).Secure.Answer)

	list, err := repo.ListQuestions(ctx, "main")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 0, list[0].Number)

	_, err = repo.GetQuestion(ctx, "main", 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotifications(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.AddNotification(ctx, "main", NotificationInput{Title: "Welcome", Content: "good luck", IssuedBy: "admin"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := repo.AddNotification(ctx, "main", NotificationInput{Title: "Hint", Content: "q1 is easy"})
	require.NoError(t, err)

	_, err = repo.AddNotification(ctx, "main", NotificationInput{})
	assert.ErrorIs(t, err, ErrInvalid)

	list, err := repo.ListNotifications(ctx, "main")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.TS, list[0].TS)
	assert.Equal(t, first.TS, list[1].TS)

	require.NoError(t, repo.DeleteNotification(ctx, "main", first.TS))
	require.NoError(t, repo.DeleteNotification(ctx, "main", 12345))
	list, err = repo.ListNotifications(ctx, "main")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Hint", list[0].Title)
}

func TestUniqueColumn(t *testing.T) {
	err := errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)")
	assert.Equal(t, "email", uniqueColumn(err))
	assert.True(t, isUniqueViolation(err))
	assert.True(t, isDatabaseLocked(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, isDatabaseLocked(nil))
}
