package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emrantusho/the-final-studio/cmd/studio/internal/middleware"
	"github.com/emrantusho/the-final-studio/cmd/studio/internal/service"
	"github.com/emrantusho/the-final-studio/config"
	"github.com/emrantusho/the-final-studio/infra/database"
	"github.com/emrantusho/the-final-studio/infra/storage"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const testSecret = "test-operator-secret"

type testEnv struct {
	router *gin.Engine
	db     *database.PostgresDB
	users  *storage.UserRepository
}

// upstream is a fake inference provider recording what reaches it.
type upstream struct {
	srv      *httptest.Server
	hits     int32
	lastAuth atomic.Value
	lastReq  atomic.Value
}

func newUpstream(t *testing.T, frames []string) *upstream {
	t.Helper()
	u := &upstream{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&u.hits, 1)
		u.lastAuth.Store(r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		u.lastReq.Store(string(body))
		flusher := w.(http.Flusher)
		for _, frame := range frames {
			_, _ = w.Write([]byte(frame))
			flusher.Flush()
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func newTestEnv(t *testing.T, llmBaseURL string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	gdb, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	db := &database.PostgresDB{DB: gdb}
	require.NoError(t, db.CreateTables(&storage.User{}, &storage.Session{}, &storage.Setting{}, &storage.APIKey{}))

	userRepo := storage.NewUserRepository(db)
	sessionRepo := storage.NewSessionRepository(db)
	settingRepo := storage.NewSettingRepository(db)
	keyRepo := storage.NewAPIKeyRepository(db)

	authService := service.NewAuthService(config.SessionConfig{
		CookieName: "auth_session",
		TTL:        7 * 24 * time.Hour,
		Secret:     testSecret,
	}, userRepo, sessionRepo, zerolog.Nop())
	credService := service.NewCredentialService(testSecret, keyRepo)
	llmClient := service.NewLLMClient(config.LLMConfig{
		Provider: "WORKERS_AI",
		BaseURL:  llmBaseURL,
		Model:    "test-model",
		Timeout:  5 * time.Second,
	}, zerolog.Nop())

	authHandler := NewAuthHandler(authService)
	adminHandler := NewAdminHandler(settingRepo, credService)
	chatHandler := NewChatHandler(llmClient, credService, settingRepo, "WORKERS_AI", zerolog.Nop())

	r := gin.New()
	sessionAuth := middleware.SessionAuth(authService)

	auth := r.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/session", authHandler.Session)

	admin := r.Group("/admin")
	admin.Use(sessionAuth)
	admin.GET("/settings", adminHandler.GetSettings)
	admin.PUT("/settings", adminHandler.UpdateSetting)
	admin.GET("/keys", adminHandler.GetKeys)
	admin.PUT("/keys", adminHandler.UpdateKey)

	chat := r.Group("/chat")
	chat.Use(sessionAuth)
	chat.POST("/message", chatHandler.Message)
	chat.POST("/stream", chatHandler.Stream)

	return &testEnv{router: r, db: db, users: userRepo}
}

func (e *testEnv) do(t *testing.T, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://app.example.pages.dev")
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T) *http.Cookie {
	t.Helper()
	_, err := e.users.CreateUser("alice", "s3cret")
	require.NoError(t, err)

	w := e.do(t, http.MethodPost, "/auth/login", `{"username":"alice","password":"s3cret"}`, nil)
	require.Equal(t, http.StatusOK, w.Code)

	for _, c := range w.Result().Cookies() {
		if c.Name == "auth_session" {
			return c
		}
	}
	t.Fatal("login response carried no session cookie")
	return nil
}

func TestLogin_SetsCookieAndReturnsIdentity(t *testing.T) {
	env := newTestEnv(t, "http://invalid.test")

	cookie := env.login(t)
	assert.NotEmpty(t, cookie.Value)
	assert.Equal(t, "example.pages.dev", cookie.Domain)
	assert.True(t, cookie.HttpOnly)
	assert.True(t, cookie.Secure)

	w := env.do(t, http.MethodGet, "/auth/session", "", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		User *storage.Identity `json:"user"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.User)
	assert.Equal(t, "alice", resp.User.Username)
}

func TestLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t, "http://invalid.test")
	_, err := env.users.CreateUser("alice", "s3cret")
	require.NoError(t, err)

	w := env.do(t, http.MethodPost, "/auth/login", `{"username":"alice","password":"nope"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_credentials")
}

func TestLogin_MalformedBody(t *testing.T) {
	env := newTestEnv(t, "http://invalid.test")
	w := env.do(t, http.MethodPost, "/auth/login", `{"username":"alice"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")
}

func TestLogout_RevokesSessionAndClearsCookie(t *testing.T) {
	env := newTestEnv(t, "http://invalid.test")
	cookie := env.login(t)

	w := env.do(t, http.MethodPost, "/auth/logout", "", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	cleared := w.Result().Cookies()
	require.NotEmpty(t, cleared)
	assert.Equal(t, "example.pages.dev", cleared[0].Domain)
	assert.Less(t, cleared[0].MaxAge, 0)

	// The revoked token no longer authenticates anything.
	w = env.do(t, http.MethodGet, "/admin/settings", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/auth/session", "", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":null}`, w.Body.String())
}

func TestSession_WithoutCookie(t *testing.T) {
	env := newTestEnv(t, "http://invalid.test")
	w := env.do(t, http.MethodGet, "/auth/session", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":null}`, w.Body.String())
}

func TestAdmin_RequiresSession(t *testing.T) {
	env := newTestEnv(t, "http://invalid.test")
	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/admin/settings"},
		{http.MethodPut, "/admin/settings"},
		{http.MethodGet, "/admin/keys"},
		{http.MethodPut, "/admin/keys"},
	} {
		w := env.do(t, route.method, route.path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, "%s %s", route.method, route.path)
	}
}

func TestAdmin_SettingsRoundTrip(t *testing.T) {
	env := newTestEnv(t, "http://invalid.test")
	cookie := env.login(t)

	w := env.do(t, http.MethodPut, "/admin/settings", `{"key":"chat_enabled","value":"true"}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/admin/settings", "", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	var settings map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &settings))
	assert.Equal(t, "true", settings["chat_enabled"])
}

func TestAdmin_KeyLifecycle(t *testing.T) {
	env := newTestEnv(t, "http://invalid.test")
	cookie := env.login(t)

	w := env.do(t, http.MethodPut, "/admin/keys", `{"provider_id":"OPENAI_API_KEY","api_key":"sk-live-123"}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/admin/keys", "", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	var providers []string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &providers))
	assert.Equal(t, []string{"OPENAI_API_KEY"}, providers)

	// The plaintext key never touches the table.
	var stored storage.APIKey
	require.NoError(t, env.db.First(&stored).Error)
	assert.NotContains(t, stored.Ciphertext, "sk-live-123")
	assert.NotEmpty(t, stored.IV)

	// Empty api_key deletes the stored credential.
	w = env.do(t, http.MethodPut, "/admin/keys", `{"provider_id":"OPENAI_API_KEY","api_key":""}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/admin/keys", "", cookie)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &providers))
	assert.Empty(t, providers)
}

func TestChatStream_UnauthorizedMakesNoUpstreamCall(t *testing.T) {
	provider := newUpstream(t, []string{"data: [DONE]\n"})
	env := newTestEnv(t, provider.srv.URL)

	w := env.do(t, http.MethodPost, "/chat/stream", `{"messages":[{"role":"user","content":"hi"}]}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(&provider.hits))
}

func TestChatStream_RelaysFragments(t *testing.T) {
	provider := newUpstream(t, []string{
		"data: {\"response\":\"Hel\"}\n",
		"data: {\"response\":\"lo\"}\n",
		"data: [DONE]\n",
	})
	env := newTestEnv(t, provider.srv.URL)
	cookie := env.login(t)

	w := env.do(t, http.MethodPost, "/chat/stream", `{"messages":[{"role":"user","content":"hi"}]}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Hello", w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
}

func TestChatStream_InvalidRole(t *testing.T) {
	provider := newUpstream(t, []string{"data: [DONE]\n"})
	env := newTestEnv(t, provider.srv.URL)
	cookie := env.login(t)

	w := env.do(t, http.MethodPost, "/chat/stream", `{"messages":[{"role":"robot","content":"hi"}]}`, cookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(&provider.hits))
}

func TestChatStream_UpstreamDown(t *testing.T) {
	provider := newUpstream(t, nil)
	provider.srv.Close()
	env := newTestEnv(t, provider.srv.URL)
	cookie := env.login(t)

	w := env.do(t, http.MethodPost, "/chat/stream", `{"messages":[{"role":"user","content":"hi"}]}`, cookie)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "upstream_unavailable")
}

func TestChatStream_UsesStoredProviderKey(t *testing.T) {
	provider := newUpstream(t, []string{"data: [DONE]\n"})
	env := newTestEnv(t, provider.srv.URL)
	cookie := env.login(t)

	w := env.do(t, http.MethodPut, "/admin/keys", `{"provider_id":"WORKERS_AI","api_key":"sk-workers-1"}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/chat/stream", `{"messages":[{"role":"user","content":"hi"}]}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Bearer sk-workers-1", provider.lastAuth.Load())
}

func TestChatMessage_ReturnsCompleteReply(t *testing.T) {
	provider := newUpstream(t, []string{
		"data: {\"response\":\"Hel\"}\n",
		"data: {\"response\":\"lo\"}\n",
		"data: [DONE]\n",
	})
	env := newTestEnv(t, provider.srv.URL)
	cookie := env.login(t)

	w := env.do(t, http.MethodPost, "/chat/message", `{"content":"hi"}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"response":"Hello"}`, w.Body.String())

	// The configured system prompt leads the forwarded conversation.
	sent, _ := provider.lastReq.Load().(string)
	var forwarded struct {
		Messages []service.Turn `json:"messages"`
	}
	require.NoError(t, json.Unmarshal([]byte(sent), &forwarded))
	require.Len(t, forwarded.Messages, 2)
	assert.Equal(t, service.RoleSystem, forwarded.Messages[0].Role)
	assert.Equal(t, "hi", forwarded.Messages[1].Content)
}

func TestChatMessage_HonorsSystemPromptSetting(t *testing.T) {
	provider := newUpstream(t, []string{"data: [DONE]\n"})
	env := newTestEnv(t, provider.srv.URL)
	cookie := env.login(t)

	w := env.do(t, http.MethodPut, "/admin/settings", `{"key":"system_prompt","value":"You are terse."}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/chat/message", `{"content":"hi"}`, cookie)
	require.Equal(t, http.StatusOK, w.Code)

	sent, _ := provider.lastReq.Load().(string)
	assert.Contains(t, sent, "You are terse.")
}

func TestExpiredSession_ClearedOnProtectedRoute(t *testing.T) {
	env := newTestEnv(t, "http://invalid.test")
	user, err := env.users.CreateUser("bob", "pw")
	require.NoError(t, err)
	_, err = storage.NewSessionRepository(env.db).CreateSession("expired-token", user.ID, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	cookie := &http.Cookie{Name: "auth_session", Value: "expired-token"}
	w := env.do(t, http.MethodGet, "/admin/settings", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Defensive cleanup: the stale cookie is expired on the client too.
	cleared := w.Result().Cookies()
	require.NotEmpty(t, cleared)
	assert.Less(t, cleared[0].MaxAge, 0)
	assert.NotContains(t, w.Body.String(), "bob")
}
