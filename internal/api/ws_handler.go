package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"talentflex/internal/auth"
	"talentflex/internal/database"
	"talentflex/internal/events"
	"talentflex/internal/lifecycle"
)

type eventSubscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

type applicationResolver interface {
	GetByToken(ctx context.Context, token string) (*database.JobApplication, error)
}

// WsHandler 将某个申请的生命周期事件转发给 WebSocket 客户端。
type WsHandler struct {
	subscriber     eventSubscriber
	apps           applicationResolver
	authService    *auth.AuthService
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins []string
}

// NewWsHandler 构造 WebSocket 处理器。
func NewWsHandler(subscriber eventSubscriber, apps applicationResolver, authService *auth.AuthService, logger *slog.Logger, allowedOrigins []string) *WsHandler {
	h := &WsHandler{
		subscriber:     subscriber,
		apps:           apps,
		authService:    authService,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if len(h.allowedOrigins) == 0 {
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			return false
		},
	}
	return h
}

type wsAuthMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// HandleConnection 升级连接，首条消息必须是 {"type":"auth","token":...}，通过后开始转发事件。
func (h *WsHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("upgrade websocket failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	baseLog := h.logger.With(
		slog.String("client_ip", c.ClientIP()),
	)

	callerCh := make(chan caller, 1)
	errCh := make(chan error, 1)

	go h.readLoop(ctx, conn, callerCh, errCh, cancel, baseLog)

	var who caller
	select {
	case <-ctx.Done():
		return
	case err := <-errCh:
		if err != nil {
			baseLog.Warn("websocket authentication failed", slog.Any("error", err))
		}
		return
	case who = <-callerCh:
	}

	app, err := h.apps.GetByToken(ctx, c.Param("token"))
	if err == nil && !canView(who, app) {
		err = lifecycle.ErrNotFound
	}
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			writeClose(conn, websocket.ClosePolicyViolation, "application not found")
		} else {
			writeClose(conn, websocket.CloseInternalServerErr, "internal error")
		}
		baseLog.Warn("websocket application lookup failed", slog.Any("error", err))
		return
	}

	appLog := baseLog.With(slog.String("user_id", who.ID), slog.String("application_id", app.ID))
	snapshot := events.Event{
		ApplicationID:  app.ID,
		Operation:      "snapshot",
		Status:         string(app.Status),
		AnalysisStatus: string(app.AnalysisStatus),
		AnalysisCount:  app.AnalysisCount,
		At:             time.Now(),
	}
	if err := conn.WriteJSON(snapshot); err != nil {
		appLog.Info("websocket connection closed", slog.Any("error", err))
		return
	}

	go h.subscribeLoop(ctx, conn, app.ID, errCh, cancel, appLog)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			appLog.Info("websocket connection closed", slog.Any("error", err))
		} else {
			appLog.Info("websocket connection closed")
		}
	}
}

func (h *WsHandler) readLoop(
	ctx context.Context,
	conn *websocket.Conn,
	callerCh chan<- caller,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	authenticated := false

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			writeClose(conn, websocket.CloseAbnormalClosure, "read error")
			sendErr(errCh, fmt.Errorf("read message: %w", err))
			cancel()
			return
		}

		if !authenticated {
			var authMsg wsAuthMessage
			if err := json.Unmarshal(message, &authMsg); err != nil {
				writeClose(conn, websocket.ClosePolicyViolation, "invalid auth payload")
				sendErr(errCh, fmt.Errorf("decode auth payload: %w", err))
				cancel()
				return
			}
			if authMsg.Type != "auth" || authMsg.Token == "" {
				writeClose(conn, websocket.ClosePolicyViolation, "auth required")
				sendErr(errCh, fmt.Errorf("invalid auth message"))
				cancel()
				return
			}

			claims, err := h.authService.ValidateToken(authMsg.Token)
			if err != nil {
				writeClose(conn, websocket.ClosePolicyViolation, "unauthorized")
				sendErr(errCh, fmt.Errorf("validate token: %w", err))
				cancel()
				return
			}

			authenticated = true
			callerCh <- caller{ID: claims.UserID, Role: claims.Role}
			log.Info("websocket authenticated", slog.String("user_id", claims.UserID))
			continue
		}

		// 客户端不会发送其他消息，保持循环以检测断开。
	}
}

// sendErr 不阻塞：连接关闭时只需要第一个错误。
func sendErr(errCh chan<- error, err error) {
	select {
	case errCh <- err:
	default:
	}
}

func writeClose(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(5 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
}

func (h *WsHandler) subscribeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	applicationID string,
	errCh chan<- error,
	cancel context.CancelFunc,
	log *slog.Logger,
) {
	channel := events.Channel(applicationID)
	pubsub := h.subscriber.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Info("subscribed to redis channel", slog.String("channel", channel))

	ch := pubsub.Channel()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				sendErr(errCh, fmt.Errorf("pubsub channel closed"))
				cancel()
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg.Payload)); err != nil {
				sendErr(errCh, fmt.Errorf("write message: %w", err))
				cancel()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				sendErr(errCh, fmt.Errorf("write ping: %w", err))
				cancel()
				return
			}
		}
	}
}
