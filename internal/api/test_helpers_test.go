package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/goatkit/controlroom/internal/auth"
	"github.com/goatkit/controlroom/internal/config"
	"github.com/goatkit/controlroom/internal/dispatcher"
	"github.com/goatkit/controlroom/internal/models"
	"github.com/goatkit/controlroom/internal/realtime"
	"github.com/goatkit/controlroom/internal/repository"
	"github.com/goatkit/controlroom/internal/service"
	"github.com/goatkit/controlroom/internal/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	engine    *gin.Engine
	cfg       *config.Config
	sessions  *repository.MemorySessionRepository
	hub       *realtime.Hub
	authority *auth.Authority
	d         *dispatcher.Dispatcher
	authSvc   *service.AuthService

	agent      *models.StaffUser
	agentToken string
	otherToken string
	adminToken string
}

func newTestEnv(t *testing.T, configure ...func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.Default()
	cfg.KYC.URL = "https://kyc.example.test/start"
	for _, fn := range configure {
		fn(cfg)
	}

	env := &testEnv{
		cfg:      cfg,
		sessions: repository.NewMemorySessionRepository(),
		hub:      realtime.NewHub(256),
	}
	var err error
	env.authority, err = auth.NewAuthority(auth.Options{Secret: []byte("api-test-secret-0123456789abcdefghij")})
	require.NoError(t, err)

	caseIDs := service.NewCaseIDGenerator(env.sessions)
	env.d, err = dispatcher.New(dispatcher.Options{
		Sessions:  env.sessions,
		Logs:      env.sessions,
		Publisher: env.hub,
		CaseIDs:   caseIDs,
		Tokens:    env.authority,
		Validator: validation.MustNewValidator(),
	})
	require.NoError(t, err)

	authSvc := service.NewAuthService(repository.NewMemoryStaffRepository(), env.authority)
	env.authSvc = authSvc
	env.agent, env.agentToken = createStaff(t, authSvc, "agent", models.RoleStaff)
	_, env.otherToken = createStaff(t, authSvc, "other", models.RoleStaff)
	_, env.adminToken = createStaff(t, authSvc, "admin", models.RoleAdmin)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	env.engine, err = NewRouter(Deps{
		Dispatcher: env.d,
		Auth:       authSvc,
		Authority:  env.authority,
		Hub:        env.hub,
		CaseIDs:    caseIDs,
		Config:     cfg,
		Context:    ctx,
	})
	require.NoError(t, err)
	return env
}

func createStaff(t *testing.T, svc *service.AuthService, username, role string) (*models.StaffUser, string) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.CreateUser(ctx, username, "password-"+username, role)
	require.NoError(t, err)
	user, pair, err := svc.Login(ctx, username, "password-"+username)
	require.NoError(t, err)
	return user, pair.AccessToken
}

// do sends a JSON request. A non-empty token is sent as a bearer token.
func (env *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	env.engine.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, w)
	e, _ := body["error"].(map[string]any)
	code, _ := e["code"].(string)
	return code
}

// createSession opens a session owned by the agent and returns its uuid.
func (env *testEnv) createSession(t *testing.T, caseID string) string {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/sessions", gin.H{"case_id": caseID}, env.agentToken)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	session := decodeBody(t, w)["session"].(map[string]any)
	return session["uuid"].(string)
}

// verify runs verify-case and returns the guest token.
func (env *testEnv) verify(t *testing.T, caseID string) string {
	t.Helper()
	w := env.do(t, http.MethodPost, "/api/verify-case", gin.H{"case_id": caseID}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decodeBody(t, w)["guest_token"].(string)
}

func (env *testEnv) session(t *testing.T, id string) *models.Session {
	t.Helper()
	s, err := env.sessions.GetByID(context.Background(), id)
	require.NoError(t, err)
	return s
}

func startServer(t *testing.T, env *testEnv) string {
	t.Helper()
	srv := httptest.NewServer(env.engine)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dialSocket(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) realtime.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg realtime.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// readUntil skips frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(realtime.Message) bool) realtime.Message {
	t.Helper()
	for i := 0; i < 50; i++ {
		if msg := readFrame(t, conn); match(msg) {
			return msg
		}
	}
	t.Fatal("expected frame never arrived")
	return realtime.Message{}
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
	require.Equal(t, code, ce.Code)
}
