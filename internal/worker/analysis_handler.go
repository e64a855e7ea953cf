package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"talentflex/internal/database"
	"talentflex/internal/events"
	"talentflex/internal/lifecycle"
	"talentflex/internal/tasks"
)

type analysisRunner interface {
	RunAnalysis(ctx context.Context, id string, epoch uint64) (*database.ApplicationAnalysis, error)
	FailAnalysis(ctx context.Context, id string, epoch uint64, cause error) error
}

// AnalysisTaskHandler 负责消费分析任务。
type AnalysisTaskHandler struct {
	runner analysisRunner
	logger *slog.Logger
}

// NewAnalysisTaskHandler 创建任务处理器。
func NewAnalysisTaskHandler(runner analysisRunner, logger *slog.Logger) *AnalysisTaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisTaskHandler{runner: runner, logger: logger}
}

// ProcessTask 实现 asynq.Handler。
func (h *AnalysisTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	var payload tasks.AnalyzePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		h.logger.Error("unmarshal task payload failed", slog.Any("error", err))
		return fmt.Errorf("decode analyze payload: %w: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.String("application_id", payload.ApplicationID),
		slog.Uint64("epoch", payload.Epoch),
	)
	ctx = events.WithCorrelationID(ctx, payload.CorrelationID)
	log.Info("analysis task started")

	defer func() {
		if retErr == nil || errors.Is(retErr, asynq.SkipRetry) || !isFinalAsynqAttempt(ctx) {
			return
		}
		// 最后一次重试也失败，释放 processing 状态，候选人可以重新发起。
		failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := h.runner.FailAnalysis(failCtx, payload.ApplicationID, payload.Epoch, retErr); err != nil && !errors.Is(err, lifecycle.ErrStaleAnalysis) {
			log.Error("mark analysis failed after final attempt", slog.Any("error", err))
		}
	}()

	result, err := h.runner.RunAnalysis(ctx, payload.ApplicationID, payload.Epoch)
	switch {
	case err == nil:
		log.Info("analysis task completed",
			slog.Int("analysis_count", result.AnalysisCount),
			slog.Float64("overall_score", result.OverallScore),
		)
		return nil
	case errors.Is(err, lifecycle.ErrStaleAnalysis), errors.Is(err, lifecycle.ErrNotFound):
		log.Info("analysis task skipped", slog.Any("reason", err))
		return nil
	case errors.Is(err, lifecycle.ErrAnalysisEngineFailure):
		// 失败已落库，由候选人决定是否重新分析。
		log.Warn("analysis engine failed", slog.Any("error", err))
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		log.Error("analysis task failed", slog.Any("error", err))
		return err
	}
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
