package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Halocrypt/core/internal/cache"
	"github.com/Halocrypt/core/internal/hunt"
	"github.com/Halocrypt/core/internal/lockfile"
	"github.com/Halocrypt/core/internal/server"
	"github.com/Halocrypt/core/internal/views"
)

const testAdminKey = "admin-secret"

type testEnv struct {
	app      *fiber.App
	repo     *hunt.Repository
	store    cache.Store
	cacheDir string
}

func newTestEnv(t *testing.T, overrides map[string]views.Override) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ctx := context.Background()
	repo, err := hunt.Open(ctx, filepath.Join(t.TempDir(), "hunt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	require.NoError(t, repo.EnsureEvents(ctx, []string{"main", "intra"}))

	dir := t.TempDir()
	store, err := cache.NewStore(dir, cache.StoreOptions{Locker: lockfile.New(dir, 0)})
	require.NoError(t, err)
	client := cache.NewClient(store, cache.ClientOptions{Enabled: true, DefaultTTL: time.Hour, Logger: logger})

	app, err := server.NewApp(server.AppOptions{Logger: logger, AdminKey: testAdminKey})
	require.NoError(t, err)
	require.NoError(t, Register(app, Deps{
		Repo:      repo,
		Cache:     client,
		Overrides: overrides,
		AdminKey:  testAdminKey,
		Logger:    logger,
	}))
	return &testEnv{app: app, repo: repo, store: store, cacheDir: dir}
}

type result struct {
	status int
	header http.Header
	body   map[string]any
}

func (e *testEnv) do(t *testing.T, method, path string, payload any, headers map[string]string) result {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	out := result{status: resp.StatusCode, header: resp.Header}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.body), "body: %s", raw)
	}
	return out
}

func asUser(name string) map[string]string {
	return map[string]string{server.HeaderUser: name}
}

func asAdmin() map[string]string {
	return map[string]string{server.HeaderAdminKey: testAdminKey}
}

func registerPlayer(t *testing.T, env *testEnv, user string) {
	t.Helper()
	res := env.do(t, fiber.MethodPost, "/accounts/register", map[string]string{
		"user":     user,
		"name":     "Player " + user,
		"password": "hunter2",
		"event":    "main",
	}, nil)
	require.Equal(t, fiber.StatusOK, res.status, "%v", res.body)
}

func leaderboardUsers(t *testing.T, res result) []string {
	t.Helper()
	rows, ok := res.body["data"].([]any)
	require.True(t, ok, "unexpected body %v", res.body)
	users := make([]string, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.(map[string]any)["user"].(string))
	}
	return users
}

func TestLeaderboardServedFromCacheAndInvalidatedOnRegister(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPlayer(t, env, "alice")

	first := env.do(t, fiber.MethodGet, "/play/main/leaderboard", nil, nil)
	require.Equal(t, fiber.StatusOK, first.status)
	assert.Empty(t, first.header.Get(server.HeaderCachedResponse))
	assert.Equal(t, []string{"alice"}, leaderboardUsers(t, first))

	second := env.do(t, fiber.MethodGet, "/play/main/leaderboard", nil, nil)
	require.Equal(t, fiber.StatusOK, second.status)
	assert.Equal(t, "1", second.header.Get(server.HeaderCachedResponse))
	assert.Equal(t, cache.NoStoreCacheControl, second.header.Get(fiber.HeaderCacheControl))
	assert.Equal(t, first.body, second.body)

	registerPlayer(t, env, "bob")

	third := env.do(t, fiber.MethodGet, "/play/main/leaderboard", nil, nil)
	assert.Empty(t, third.header.Get(server.HeaderCachedResponse))
	assert.ElementsMatch(t, []string{"alice", "bob"}, leaderboardUsers(t, third))
}

func TestUnknownEventIsRejectedWithoutCaching(t *testing.T) {
	env := newTestEnv(t, nil)

	paths := []struct {
		path    string
		headers map[string]string
	}{
		{"/play/bogus/leaderboard", nil},
		{"/play/bogus/notifications", nil},
		{"/admin/bogus/user-count", asAdmin()},
		{"/admin/bogus/questions", asAdmin()},
	}
	for _, tc := range paths {
		for i := 0; i < 2; i++ {
			res := env.do(t, fiber.MethodGet, tc.path, nil, tc.headers)
			assert.Equal(t, fiber.StatusNotFound, res.status, tc.path)
			assert.Empty(t, res.header.Get(server.HeaderCachedResponse), tc.path)
		}
	}

	ctx := context.Background()
	for _, key := range []string{
		views.LeaderboardKey("bogus"),
		views.NotificationsKey("bogus"),
		views.UserCountKey("bogus"),
		views.QuestionsListKey("bogus"),
		views.EventDetailsKey("bogus"),
	} {
		_, err := env.store.Get(ctx, key, cache.NoExpiry)
		assert.ErrorIs(t, err, cache.ErrNotFound, key)
	}
	entries, err := os.ReadDir(env.cacheDir)
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), "bogus")
	}

	res := env.do(t, fiber.MethodGet, "/play/main/leaderboard", nil, nil)
	assert.Equal(t, fiber.StatusOK, res.status)
}

func TestDisabledViewIsNeverCached(t *testing.T) {
	env := newTestEnv(t, map[string]views.Override{views.Leaderboard: {Disabled: true}})

	for i := 0; i < 2; i++ {
		res := env.do(t, fiber.MethodGet, "/play/main/leaderboard", nil, nil)
		require.Equal(t, fiber.StatusOK, res.status)
		assert.Empty(t, res.header.Get(server.HeaderCachedResponse))
	}
	_, err := env.store.Get(context.Background(), views.LeaderboardKey("main"), cache.NoExpiry)
	assert.ErrorIs(t, err, cache.ErrNotFound)
}

func TestAnswerFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPlayer(t, env, "alice")

	res := env.do(t, fiber.MethodPost, "/admin/main/questions", map[string]any{
		"question_points": 10,
		"question_text":   "What opens the cave?",
		"question_hints":  []string{"forty thieves"},
		"answer":          "Open Sesame",
	}, asAdmin())
	require.Equal(t, fiber.StatusOK, res.status, "%v", res.body)

	res = env.do(t, fiber.MethodGet, "/play/main/question", nil, asUser("alice"))
	require.Equal(t, fiber.StatusOK, res.status, "%v", res.body)
	q := res.body["data"].(map[string]any)
	assert.Equal(t, "What opens the cave?", q["question_text"])
	assert.NotContains(t, q, "_secure_")

	// 预热排行榜缓存，答对后应被失效。
	env.do(t, fiber.MethodGet, "/play/main/leaderboard", nil, nil)

	res = env.do(t, fiber.MethodPost, "/play/main/answer", map[string]string{"answer": "wrong"}, asUser("alice"))
	assert.Equal(t, map[string]any{"data": map[string]any{"is_correct": false}}, res.body)

	res = env.do(t, fiber.MethodPost, "/play/main/answer", map[string]string{"answer": " open sesame! "}, asUser("alice"))
	assert.Equal(t, map[string]any{"data": map[string]any{"is_correct": true}}, res.body)

	res = env.do(t, fiber.MethodGet, "/play/main/question", nil, asUser("alice"))
	assert.Equal(t, map[string]any{"data": map[string]any{"game_over": true}}, res.body)

	res = env.do(t, fiber.MethodGet, "/play/main/leaderboard", nil, nil)
	assert.Empty(t, res.header.Get(server.HeaderCachedResponse))
	row := res.body["data"].([]any)[0].(map[string]any)
	assert.EqualValues(t, 10, row["points"])
	assert.EqualValues(t, 1, row["level"])
}

func TestAnswerRequiresUserAndEvent(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPlayer(t, env, "alice")

	res := env.do(t, fiber.MethodPost, "/play/main/answer", map[string]string{"answer": "x"}, nil)
	assert.Equal(t, fiber.StatusUnauthorized, res.status)

	res = env.do(t, fiber.MethodGet, "/play/intra/question", nil, asUser("alice"))
	assert.Equal(t, fiber.StatusForbidden, res.status)

	res = env.do(t, fiber.MethodGet, "/play/nope/question", nil, asUser("alice"))
	assert.Equal(t, fiber.StatusNotFound, res.status)
}

func TestFinishedEventRejectsPlay(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPlayer(t, env, "alice")

	over := true
	res := env.do(t, fiber.MethodPatch, "/admin/events/main", hunt.EventPatch{IsOver: &over}, asAdmin())
	require.Equal(t, fiber.StatusOK, res.status, "%v", res.body)

	res = env.do(t, fiber.MethodGet, "/play/main/question", nil, asUser("alice"))
	assert.Equal(t, fiber.StatusForbidden, res.status)
	assert.Equal(t, "Hunt is over", res.body["error"])
}

func TestDisqualifiedPlayerIsBlocked(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPlayer(t, env, "alice")

	res := env.do(t, fiber.MethodPatch, "/admin/accounts/alice/disqualify", map[string]any{"reason": "sharing answers"}, asAdmin())
	require.Equal(t, fiber.StatusOK, res.status, "%v", res.body)

	res = env.do(t, fiber.MethodGet, "/play/main/question", nil, asUser("alice"))
	data := res.body["data"].(map[string]any)
	assert.Equal(t, true, data["disqualified"])
	assert.Equal(t, "sharing answers", data["reason"])

	res = env.do(t, fiber.MethodPatch, "/admin/accounts/alice/requalify", nil, asAdmin())
	require.Equal(t, fiber.StatusOK, res.status)
	res = env.do(t, fiber.MethodGet, "/play/main/question", nil, asUser("alice"))
	assert.Equal(t, map[string]any{"data": map[string]any{"game_over": true}}, res.body)
}

func TestAccountsVisibility(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPlayer(t, env, "alice")
	registerPlayer(t, env, "bob")

	res := env.do(t, fiber.MethodGet, "/accounts/me", nil, asUser("alice"))
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Contains(t, res.body["data"], "_secure_")

	res = env.do(t, fiber.MethodGet, "/accounts/alice", nil, asUser("bob"))
	assert.NotContains(t, res.body["data"], "_secure_")

	res = env.do(t, fiber.MethodGet, "/accounts/me", nil, nil)
	assert.Equal(t, fiber.StatusUnauthorized, res.status)

	res = env.do(t, fiber.MethodPatch, "/accounts/alice", map[string]string{"name": "Mallory"}, asUser("bob"))
	assert.Equal(t, fiber.StatusForbidden, res.status)

	res = env.do(t, fiber.MethodPatch, "/accounts/me", map[string]string{"name": "Alice A."}, asUser("alice"))
	require.Equal(t, fiber.StatusOK, res.status, "%v", res.body)
	assert.Equal(t, "Alice A.", res.body["data"].(map[string]any)["name"])

	res = env.do(t, fiber.MethodPost, "/accounts/register", map[string]string{
		"user": "alice", "name": "Again", "password": "hunter2", "event": "main",
	}, nil)
	assert.Equal(t, fiber.StatusConflict, res.status)
}

func TestAdminGuard(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.do(t, fiber.MethodGet, "/admin/main/users", nil, nil)
	assert.Equal(t, fiber.StatusForbidden, res.status)

	res = env.do(t, fiber.MethodGet, "/admin/main/users", nil, map[string]string{server.HeaderAdminKey: "guess"})
	assert.Equal(t, fiber.StatusForbidden, res.status)

	res = env.do(t, fiber.MethodGet, "/admin/main/users", nil, asAdmin())
	assert.Equal(t, fiber.StatusOK, res.status)
}

func TestUserCountAndDeleteInvalidate(t *testing.T) {
	env := newTestEnv(t, nil)
	registerPlayer(t, env, "alice")
	registerPlayer(t, env, "bob")

	res := env.do(t, fiber.MethodGet, "/admin/main/user-count", nil, asAdmin())
	assert.Equal(t, map[string]any{"data": map[string]any{"count": float64(2)}}, res.body)

	res = env.do(t, fiber.MethodGet, "/admin/main/user-count", nil, asAdmin())
	assert.Equal(t, "1", res.header.Get(server.HeaderCachedResponse))

	res = env.do(t, fiber.MethodDelete, "/admin/accounts/bob", nil, asAdmin())
	require.Equal(t, fiber.StatusOK, res.status)

	res = env.do(t, fiber.MethodGet, "/admin/main/user-count", nil, asAdmin())
	assert.Empty(t, res.header.Get(server.HeaderCachedResponse))
	assert.Equal(t, map[string]any{"data": map[string]any{"count": float64(1)}}, res.body)
}

func TestNotificationsInvalidateOnChange(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.do(t, fiber.MethodGet, "/play/main/notifications", nil, nil)
	assert.Equal(t, map[string]any{"data": []any{}}, res.body)

	res = env.do(t, fiber.MethodPost, "/admin/main/notifications", map[string]string{
		"title": "Hint", "content": "Look closer", "issuedBy": "admin",
	}, asAdmin())
	require.Equal(t, fiber.StatusOK, res.status, "%v", res.body)

	res = env.do(t, fiber.MethodGet, "/play/main/notifications", nil, nil)
	assert.Empty(t, res.header.Get(server.HeaderCachedResponse))
	list := res.body["data"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "Hint", list[0].(map[string]any)["title"])
}

func TestInvalidateEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, fiber.MethodGet, "/play/events", nil, nil)

	res := env.do(t, fiber.MethodGet, "/play/events", nil, nil)
	assert.Equal(t, "1", res.header.Get(server.HeaderCachedResponse))

	res = env.do(t, fiber.MethodPost, "/admin/-/invalidate", map[string]any{"keys": []string{views.EventsListKey}}, asAdmin())
	assert.Equal(t, map[string]any{"data": map[string]any{"success": true}}, res.body)

	res = env.do(t, fiber.MethodGet, "/play/events", nil, nil)
	assert.Empty(t, res.header.Get(server.HeaderCachedResponse))

	res = env.do(t, fiber.MethodPost, "/admin/-/invalidate", map[string]any{"keys": []string{}}, asAdmin())
	assert.Equal(t, fiber.StatusBadRequest, res.status)
}

func TestViewDiagnostics(t *testing.T) {
	env := newTestEnv(t, map[string]views.Override{views.UserCount: {Disabled: true}})

	res := env.do(t, fiber.MethodGet, "/-/views", nil, nil)
	require.Equal(t, fiber.StatusOK, res.status)
	assert.Equal(t, true, res.body["cache_enabled"])
	assert.EqualValues(t, 3600, res.body["default_ttl"])

	byName := map[string]map[string]any{}
	for _, item := range res.body["views"].([]any) {
		entry := item.(map[string]any)
		byName[entry["name"].(string)] = entry
	}
	assert.EqualValues(t, 18000, byName[views.Notifications]["ttl_seconds"])
	assert.EqualValues(t, -1, byName[views.EventsList]["ttl_seconds"])
	assert.EqualValues(t, 3600, byName[views.EventDetails]["ttl_seconds"])
	assert.Equal(t, false, byName[views.UserCount]["enabled"])

	res = env.do(t, fiber.MethodGet, "/-/views/Leaderboard", nil, nil)
	assert.Equal(t, views.Leaderboard, res.body["name"])
	assert.EqualValues(t, 3600, res.body["ttl_seconds"])

	res = env.do(t, fiber.MethodGet, "/-/views/unknown", nil, nil)
	assert.Equal(t, fiber.StatusNotFound, res.status)
}
