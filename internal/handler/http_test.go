package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowpledge/internal/auth"
	"github.com/rowpledge/internal/domain"
	"github.com/rowpledge/internal/sqlite"
	"github.com/rowpledge/internal/webhook"
)

var testAuth = auth.Config{Secret: "test-secret", Issuer: "rowpledge-test"}

type stubLeaderboard struct {
	lb     *domain.Leaderboard
	err    error
	window domain.Window
}

func (s *stubLeaderboard) Current(context.Context) (*domain.Leaderboard, error) { return s.lb, s.err }
func (s *stubLeaderboard) Window() domain.Window                                { return s.window }

type stubInstaller struct {
	account *domain.Account
	err     error
	state   string
	code    string
}

func (s *stubInstaller) Install(_ context.Context, state, code string) (*domain.Account, error) {
	s.state, s.code = state, code
	return s.account, s.err
}

type stubSync struct {
	processed int
	calls     int
	ctxErr    error
	deadline  bool
}

func (s *stubSync) RunOnce(ctx context.Context) (int, error) {
	s.calls++
	s.ctxErr = ctx.Err()
	_, s.deadline = ctx.Deadline()
	return s.processed, nil
}

type stubVerifier struct {
	activity *domain.Activity
	err      error
	chatID   string
	meters   int64
}

func (s *stubVerifier) VerifyClaim(_ context.Context, chatID string, meters int64) (*domain.Activity, error) {
	s.chatID, s.meters = chatID, meters
	return s.activity, s.err
}

type stubNotifier struct {
	connected []*domain.Account
}

func (s *stubNotifier) AccountConnected(_ context.Context, acct *domain.Account) {
	s.connected = append(s.connected, acct)
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type testEnv struct {
	router    http.Handler
	store     *sqlite.Store
	account   *domain.Account
	installer *stubInstaller
	sync      *stubSync
	verifier  *stubVerifier
	notifier  *stubNotifier
	board     *stubLeaderboard
}

func newTestEnv(t *testing.T, mutate func(*Options)) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "handler.sqlite"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	window, err := domain.NewWindow("2024-01-01", "2024-01-14", time.UTC)
	require.NoError(t, err)

	acct, err := st.UpsertByChatID(ctx, "chat-x", "X")
	require.NoError(t, err)
	require.NoError(t, st.BindExternalAccount(ctx, acct.ID, "c2-1", domain.TokenPair{AccessToken: "a", RefreshToken: "r"}))

	env := &testEnv{
		store:     st,
		account:   acct,
		installer: &stubInstaller{account: acct},
		sync:      &stubSync{processed: 3},
		verifier:  &stubVerifier{},
		notifier:  &stubNotifier{},
		board: &stubLeaderboard{
			window: window,
			lb:     &domain.Leaderboard{Start: "2024-01-01", End: "2024-01-14", ClubTotalMeters: 42},
		},
	}

	opts := Options{
		Leaderboard:  env.board,
		Events:       webhook.NewIngestor(st, st, window, logger),
		Credentials:  env.installer,
		Sync:         env.sync,
		Verifier:     env.verifier,
		Notifier:     env.notifier,
		Store:        st,
		Auth:         testAuth,
		WebhookPath:  "/webhooks/concept2",
		CampaignName: "Erg-A-Thon",
	}
	if mutate != nil {
		mutate(&opts)
	}
	env.router = NewHandler(opts, logger).Router()
	return env
}

func (e *testEnv) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp APIResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func adminRequest(t *testing.T, method, path string, body []byte) *http.Request {
	t.Helper()
	token, err := auth.Issue(testAuth, "ops", []string{auth.ScopeAdmin}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, _ = env.do(t, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://club.example")
	rec, _ = env.do(t, req)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	withCache := newTestEnv(t, func(o *Options) { o.Cache = stubPinger{} })
	rec, resp = withCache.do(t, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"status": "ready", "cache": "ok"}, resp.Data)

	cacheDown := newTestEnv(t, func(o *Options) { o.Cache = stubPinger{err: errors.New("connection refused")} })
	rec, resp = cacheDown.do(t, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"status": "ready", "cache": "unavailable"}, resp.Data)

	down := newTestEnv(t, func(o *Options) { o.Store = stubPinger{err: errors.New("down")} })
	rec, resp = down.do(t, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, resp.Success)
}

func TestGetLeaderboard(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.do(t, httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "2024-01-01", data["start"])
	assert.EqualValues(t, 42, data["club_total_meters"])

	env.board.err = errors.New("boom")
	rec, resp = env.do(t, httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, domain.ErrInternalError.Error(), resp.Error)
}

func TestGetConfig(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.do(t, httptest.NewRequest(http.MethodGet, "/api/config", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "Erg-A-Thon", data["name"])
	assert.Equal(t, "2024-01-01T00:00:00Z", data["start"])
	assert.Equal(t, "2024-01-14", data["end"])
	assert.Equal(t, "UTC", data["timezone"])
}

func TestOAuthCallback(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/callback?error=access_denied", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, env.installer.code)
	})

	t.Run("missing params", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/callback?code=abc", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid state", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.installer.err = domain.ErrInvalidState
		rec, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/callback?code=abc&state=forged", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, env.notifier.connected)
	})

	t.Run("exchange failure", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.installer.err = errors.New("token endpoint unreachable")
		rec, _ := env.do(t, httptest.NewRequest(http.MethodGet, "/callback?code=abc&state=s", nil))
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("success notifies participant", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec, resp := env.do(t, httptest.NewRequest(http.MethodGet, "/callback?code=abc&state=s", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, resp.Success)
		assert.Equal(t, "s", env.installer.state)
		assert.Equal(t, "abc", env.installer.code)
		require.Len(t, env.notifier.connected, 1)
		assert.Equal(t, env.account.ID, env.notifier.connected[0].ID)
	})
}

func TestReceiveWebhook(t *testing.T) {
	ctx := context.Background()
	payload := `{"type":"result-added","result":{"id":"w1","user_id":"c2-1","distance":5000,"date":"2024-01-05","time":12000,"verified":true}}`

	t.Run("stores result", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec, resp := env.do(t, httptest.NewRequest(http.MethodPost, "/webhooks/concept2", strings.NewReader(payload)))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]interface{}{"outcome": "stored"}, resp.Data)

		acts, err := env.store.ListActivities(ctx, env.account.ID, env.board.window)
		require.NoError(t, err)
		require.Len(t, acts, 1)
		assert.EqualValues(t, 5000, acts[0].Meters)
	})

	t.Run("unknown account is acknowledged", func(t *testing.T) {
		env := newTestEnv(t, nil)
		body := strings.Replace(payload, `"c2-1"`, `"c2-unknown"`, 1)
		rec, resp := env.do(t, httptest.NewRequest(http.MethodPost, "/webhooks/concept2", strings.NewReader(body)))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, map[string]interface{}{"outcome": "unknown_account"}, resp.Data)
	})

	t.Run("bad payloads", func(t *testing.T) {
		env := newTestEnv(t, nil)
		for _, body := range []string{
			`not json`,
			`{"type":"result-added"}`,
			`{"type":"result-added","result":{"id":"w2","user_id":"c2-1","date":"2024-01-05","time":12000}}`,
			`{"type":"mystery"}`,
		} {
			rec, resp := env.do(t, httptest.NewRequest(http.MethodPost, "/webhooks/concept2", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
			assert.False(t, resp.Success, body)
		}

		acts, err := env.store.ListActivities(ctx, env.account.ID, env.board.window)
		require.NoError(t, err)
		assert.Empty(t, acts)
	})

	t.Run("shared secret", func(t *testing.T) {
		env := newTestEnv(t, func(o *Options) { o.WebhookSecret = "s3cret" })

		rec, _ := env.do(t, httptest.NewRequest(http.MethodPost, "/webhooks/concept2", strings.NewReader(payload)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		req := httptest.NewRequest(http.MethodPost, "/webhooks/concept2", strings.NewReader(payload))
		req.Header.Set("X-Webhook-Secret", "s3cre")
		rec, _ = env.do(t, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		req = httptest.NewRequest(http.MethodPost, "/webhooks/concept2", strings.NewReader(payload))
		req.Header.Set("X-Webhook-Secret", "s3cret")
		rec, _ = env.do(t, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAdminRoutesRequireScope(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/admin/sync", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := auth.Issue(testAuth, "viewer", []string{"read"}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/sync", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, env.sync.calls)
}

func TestTriggerSync(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, resp := env.do(t, adminRequest(t, http.MethodPost, "/api/admin/sync", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"processed": float64(3)}, resp.Data)
	assert.Equal(t, 1, env.sync.calls)
	assert.True(t, env.sync.deadline)
}

func TestTriggerSyncOutlivesRequestContext(t *testing.T) {
	env := newTestEnv(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := adminRequest(t, http.MethodPost, "/api/admin/sync", nil).WithContext(ctx)

	rec, _ := env.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, env.sync.ctxErr)
	assert.True(t, env.sync.deadline)
}

func TestVerifyClaim(t *testing.T) {
	t.Run("verifies", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.verifier.activity = &domain.Activity{ID: 7, Meters: 5000, Verified: true}

		rec, resp := env.do(t, adminRequest(t, http.MethodPost, "/api/admin/verify", []byte(`{"chat_id":"chat-x","meters":5000}`)))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, resp.Success)
		assert.Equal(t, "chat-x", env.verifier.chatID)
		assert.EqualValues(t, 5000, env.verifier.meters)
	})

	t.Run("rejects invalid body", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec, _ := env.do(t, adminRequest(t, http.MethodPost, "/api/admin/verify", []byte(`{"chat_id":"chat-x","meters":0}`)))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Empty(t, env.verifier.chatID)
	})

	t.Run("no matching activity", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.verifier.err = domain.ErrActivityNotFound
		rec, _ := env.do(t, adminRequest(t, http.MethodPost, "/api/admin/verify", []byte(`{"chat_id":"chat-x","meters":5000}`)))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
