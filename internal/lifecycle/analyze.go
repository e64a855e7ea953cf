package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"talentflex/internal/analysis"
	"talentflex/internal/application"
	"talentflex/internal/database"
	"talentflex/internal/metrics"
)

// Analysis outcomes reported to metrics.
const (
	outcomeCompleted = "completed"
	outcomeFailed    = "failed"
	outcomeTimeout   = "timeout"
	outcomeStale     = "stale"
)

// BeginAnalysis 校验申请可以分析并将其置为 processing，返回本次分析的 epoch。
// 结果必须带着该 epoch 交给 RunAnalysis，epoch 变化后的结果会被丢弃。
func (s *Service) BeginAnalysis(ctx context.Context, id string) (uint64, error) {
	var epoch uint64
	_, err := s.mutate(ctx, id, OpRequestAnalysis, func(tx *gorm.DB, app *database.JobApplication, ch *change) error {
		switch app.Status {
		case application.StatusAnalyzed, application.StatusSubmitted:
			return fmt.Errorf("%w: application is %s; replace files to analyze again", ErrInvalidTransition, app.Status)
		case application.StatusUnclaimed:
			return fmt.Errorf("%w: application has not been claimed", ErrInvalidTransition)
		case application.StatusDraft:
		default:
			return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, app.Status)
		}
		if app.AnalysisStatus == application.AnalysisProcessing {
			return ErrAnalysisInProgress
		}

		present, err := presentSlots(tx, app.ID)
		if err != nil {
			return err
		}
		if missing := app.RequirementFlags().Missing(present); len(missing) > 0 {
			return &IncompleteSubmissionError{Missing: missing}
		}

		app.AnalysisStatus = application.AnalysisProcessing
		app.AnalysisError = ""
		app.AnalysisEpoch++
		epoch = app.AnalysisEpoch
		ch.detail = fmt.Sprintf("epoch %d", epoch)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return epoch, nil
}

func presentSlots(tx *gorm.DB, applicationID string) (map[application.FileType]bool, error) {
	var types []application.FileType
	if err := tx.Model(&database.ApplicationFile{}).
		Where("application_id = ?", applicationID).
		Pluck("file_type", &types).Error; err != nil {
		return nil, fmt.Errorf("load file slots: %w", err)
	}
	present := make(map[application.FileType]bool, len(types))
	for _, t := range types {
		present[t] = true
	}
	return present, nil
}

// RunAnalysis 调用分析引擎并在锁内落库结果。引擎错误返回 ErrAnalysisEngineFailure，
// 超时返回 ErrAnalysisTimeout，epoch 已变化时返回 ErrStaleAnalysis 且不修改任何数据。
func (s *Service) RunAnalysis(ctx context.Context, id string, epoch uint64) (*database.ApplicationAnalysis, error) {
	var app database.JobApplication
	if err := s.db.WithContext(ctx).Preload("Files").Where("id = ?", id).First(&app).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load application %s: %w", id, err)
	}
	if app.AnalysisEpoch != epoch || app.AnalysisStatus != application.AnalysisProcessing {
		metrics.ObserveAnalysis(outcomeStale, 0)
		return nil, ErrStaleAnalysis
	}

	log := s.logger.With(slog.String("application_id", id), slog.Uint64("epoch", epoch))

	runCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	report, err := s.engine.Analyze(runCtx, buildRequest(&app))
	elapsed := time.Since(start)
	timedOut := errors.Is(runCtx.Err(), context.DeadlineExceeded)
	cancel()

	if err != nil && ctx.Err() != nil {
		// 调用方已放弃（例如 worker 关闭），保持 processing 等待重试或过期清理。
		return nil, fmt.Errorf("run analysis: %w", ctx.Err())
	}

	var runErr error
	outcome := outcomeCompleted
	switch {
	case err != nil && timedOut:
		runErr = fmt.Errorf("%w: %w", ErrAnalysisTimeout, err)
		outcome = outcomeTimeout
	case err != nil:
		runErr = fmt.Errorf("%w: %w", ErrAnalysisEngineFailure, err)
		outcome = outcomeFailed
	default:
		if verr := report.Validate(); verr != nil {
			runErr = fmt.Errorf("%w: %w", ErrAnalysisEngineFailure, verr)
			outcome = outcomeFailed
		}
	}

	result, err := s.settle(ctx, id, epoch, report, runErr, elapsed)
	if errors.Is(err, ErrStaleAnalysis) {
		outcome = outcomeStale
	}
	metrics.ObserveAnalysis(outcome, elapsed)
	if err != nil {
		log.Warn("analysis result discarded", slog.Any("error", err))
		return nil, err
	}
	if runErr != nil {
		log.Warn("analysis failed", slog.Any("error", runErr), slog.Duration("elapsed", elapsed))
		return nil, runErr
	}
	log.Info("analysis completed", slog.Duration("elapsed", elapsed), slog.Float64("overall_score", result.OverallScore))
	return result, nil
}

func buildRequest(app *database.JobApplication) analysis.Request {
	req := analysis.Request{
		ApplicationID:         app.ID,
		JobTitle:              app.JobTitle,
		CompanyName:           app.CompanyName,
		JobDescription:        app.JobDescription,
		Requirements:          app.Requirements,
		CaseStudyInstructions: app.CaseStudyInstructions,
	}
	for _, f := range app.Files {
		req.Files = append(req.Files, analysis.File{Slot: f.FileType, FileRef: f.Ref()})
	}
	return req
}

// settle 在锁内写入分析结果或失败原因。
func (s *Service) settle(ctx context.Context, id string, epoch uint64, report *analysis.Report, runErr error, elapsed time.Duration) (*database.ApplicationAnalysis, error) {
	op := OpAnalysisCompleted
	if runErr != nil {
		op = OpAnalysisFailed
	}

	var row database.ApplicationAnalysis
	_, err := s.mutate(ctx, id, op, func(tx *gorm.DB, app *database.JobApplication, ch *change) error {
		if app.AnalysisEpoch != epoch || app.AnalysisStatus != application.AnalysisProcessing {
			return ErrStaleAnalysis
		}
		if runErr != nil {
			app.AnalysisStatus = application.AnalysisFailed
			app.AnalysisError = truncate(runErr.Error(), 512)
			ch.detail = app.AnalysisError
			return nil
		}

		if err := tx.Where("application_id = ?", app.ID).Delete(&database.ApplicationAnalysis{}).Error; err != nil {
			return fmt.Errorf("delete previous analysis: %w", err)
		}
		app.AnalysisCount++
		row = database.ApplicationAnalysis{
			ID:               uuid.NewString(),
			ApplicationID:    app.ID,
			Scores:           datatypes.NewJSONType(report.Scores),
			OverallScore:     report.OverallScore,
			AISummary:        report.Summary,
			KeyStrengths:     datatypes.NewJSONSlice(report.KeyStrengths),
			AreasOfConcern:   datatypes.NewJSONSlice(report.AreasOfConcern),
			AnalysisCount:    app.AnalysisCount,
			ProcessingTimeMs: elapsed.Milliseconds(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("save analysis: %w", err)
		}

		app.Status = application.StatusAnalyzed
		app.AnalysisStatus = application.AnalysisCompleted
		app.AnalysisError = ""
		ch.detail = fmt.Sprintf("overall %.1f", report.OverallScore)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// RequestAnalysis 同步执行一次完整分析。
func (s *Service) RequestAnalysis(ctx context.Context, id string) (*database.ApplicationAnalysis, error) {
	epoch, err := s.BeginAnalysis(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.RunAnalysis(ctx, id, epoch)
}

// FailAnalysis 将仍处于 epoch 的进行中分析标记为失败，用于任务无法投递等情况。
func (s *Service) FailAnalysis(ctx context.Context, id string, epoch uint64, cause error) error {
	if cause == nil {
		cause = ErrAnalysisEngineFailure
	}
	_, err := s.mutate(ctx, id, OpAnalysisFailed, func(_ *gorm.DB, app *database.JobApplication, ch *change) error {
		if app.AnalysisEpoch != epoch || app.AnalysisStatus != application.AnalysisProcessing {
			return ErrStaleAnalysis
		}
		app.AnalysisStatus = application.AnalysisFailed
		app.AnalysisError = truncate(cause.Error(), 512)
		ch.detail = app.AnalysisError
		return nil
	})
	return err
}

// ExpireStaleAnalyses 将停留在 processing 超过 maxAge 的申请标记为超时失败，返回处理数量。
func (s *Service) ExpireStaleAnalyses(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)

	var ids []string
	if err := s.db.WithContext(ctx).Model(&database.JobApplication{}).
		Where("analysis_status = ? AND updated_at < ?", application.AnalysisProcessing, cutoff).
		Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("find stuck analyses: %w", err)
	}

	expired := 0
	for _, id := range ids {
		applied := false
		_, err := s.mutate(ctx, id, OpAnalysisExpired, func(_ *gorm.DB, app *database.JobApplication, ch *change) error {
			if app.AnalysisStatus != application.AnalysisProcessing || !app.UpdatedAt.Before(cutoff) {
				ch.skip = true
				return nil
			}
			app.AnalysisEpoch++
			app.AnalysisStatus = application.AnalysisFailed
			app.AnalysisError = ErrAnalysisTimeout.Error()
			ch.detail = app.AnalysisError
			applied = true
			return nil
		})
		switch {
		case err == nil && applied:
			expired++
			s.logger.Warn("analysis expired", slog.String("application_id", id))
		case err == nil:
		case errors.Is(err, ErrNotFound):
		default:
			return expired, err
		}
	}
	return expired, nil
}
