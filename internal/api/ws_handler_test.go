package api

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"talentflex/internal/analysis"
	"talentflex/internal/application"
	"talentflex/internal/auth"
	"talentflex/internal/database/dbtest"
	"talentflex/internal/events"
	"talentflex/internal/lifecycle"
)

type wsEnv struct {
	server *httptest.Server
	svc    *lifecycle.Service
	auth   *auth.AuthService
}

func newWsEnv(t *testing.T) *wsEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := lifecycle.NewService(dbtest.New(t), analysis.NewStaticEngine(0), lifecycle.Options{Logger: logger})
	authService := auth.NewTestService(t)
	// 未监听的地址：订阅会在后台重连，测试只关心鉴权与快照。
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = rdb.Close() })

	router := gin.New()
	ws := NewWsHandler(rdb, svc, authService, logger, nil)
	router.GET("/v1/applications/:token/stream", ws.HandleConnection)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return &wsEnv{server: server, svc: svc, auth: authService}
}

func (e *wsEnv) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/v1/applications/" + token + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, code), "unexpected error: %v", err)
}

func TestWsRejectsInvalidAuth(t *testing.T) {
	env := newWsEnv(t)
	app, err := env.svc.Create(context.Background(), lifecycle.Posting{JobTitle: "PM", CompanyName: "Acme"})
	require.NoError(t, err)

	conn := env.dial(t, app.Token)
	require.NoError(t, conn.WriteJSON(wsAuthMessage{Type: "hello"}))
	expectClose(t, conn, websocket.ClosePolicyViolation)

	conn = env.dial(t, app.Token)
	require.NoError(t, conn.WriteJSON(wsAuthMessage{Type: "auth", Token: "not-a-jwt"}))
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestWsHidesApplicationsFromOtherCandidates(t *testing.T) {
	env := newWsEnv(t)
	ctx := context.Background()
	app, err := env.svc.Create(ctx, lifecycle.Posting{JobTitle: "PM", CompanyName: "Acme"})
	require.NoError(t, err)
	_, err = env.svc.Claim(ctx, app.ID, "alice")
	require.NoError(t, err)

	token, err := env.auth.GenerateToken("bob", application.RoleCandidate)
	require.NoError(t, err)

	conn := env.dial(t, app.Token)
	require.NoError(t, conn.WriteJSON(wsAuthMessage{Type: "auth", Token: token}))
	expectClose(t, conn, websocket.ClosePolicyViolation)
}

func TestWsSendsSnapshotAfterAuth(t *testing.T) {
	env := newWsEnv(t)
	app, err := env.svc.Create(context.Background(), lifecycle.Posting{JobTitle: "PM", CompanyName: "Acme"})
	require.NoError(t, err)

	token, err := env.auth.GenerateToken("staff-1", application.RoleInternal)
	require.NoError(t, err)

	conn := env.dial(t, app.Token)
	require.NoError(t, conn.WriteJSON(wsAuthMessage{Type: "auth", Token: token}))

	var snapshot events.Event
	require.NoError(t, conn.ReadJSON(&snapshot))
	assert.Equal(t, app.ID, snapshot.ApplicationID)
	assert.Equal(t, "snapshot", snapshot.Operation)
	assert.Equal(t, string(application.StatusUnclaimed), snapshot.Status)
}
