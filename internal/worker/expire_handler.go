package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"talentflex/internal/tasks"
)

type analysisExpirer interface {
	ExpireStaleAnalyses(ctx context.Context, maxAge time.Duration) (int, error)
}

// ExpireTaskHandler 周期性地把卡在 processing 的申请标记为超时。
type ExpireTaskHandler struct {
	expirer       analysisExpirer
	defaultMaxAge time.Duration
	logger        *slog.Logger
}

// NewExpireTaskHandler 创建过期清理处理器。payload 未指定阈值时使用 defaultMaxAge。
func NewExpireTaskHandler(expirer analysisExpirer, defaultMaxAge time.Duration, logger *slog.Logger) *ExpireTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpireTaskHandler{expirer: expirer, defaultMaxAge: defaultMaxAge, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *ExpireTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload tasks.ExpirePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			h.logger.Warn("unmarshal expire payload failed, using default", slog.Any("error", err))
		}
	}
	maxAge := payload.MaxAge()
	if maxAge <= 0 {
		maxAge = h.defaultMaxAge
	}

	n, err := h.expirer.ExpireStaleAnalyses(ctx, maxAge)
	if err != nil {
		h.logger.Error("expire stale analyses failed", slog.Int("expired", n), slog.Any("error", err))
		return err
	}
	if n > 0 {
		h.logger.Info("expired stale analyses", slog.Int("expired", n), slog.Duration("max_age", maxAge))
	}
	return nil
}
