// Package lifecycle 实现申请的状态机：unclaimed → draft → analyzed → submitted。
//
// 所有会修改申请的操作都经过 mutate：先取进程内按申请 ID 的互斥锁，再在事务内对申请行加
// 行锁，因此同一申请上的操作线性执行。事件与对象删除在提交之后进行。
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"talentflex/internal/analysis"
	"talentflex/internal/database"
	"talentflex/internal/events"
	"talentflex/internal/metrics"
)

// Operation names recorded in the transition log and on published events.
const (
	OpCreate            = "create"
	OpClaim             = "claim"
	OpUploadFile        = "upload_file"
	OpRequestAnalysis   = "request_analysis"
	OpAnalysisCompleted = "analysis_completed"
	OpAnalysisFailed    = "analysis_failed"
	OpAnalysisExpired   = "analysis_expired"
	OpSubmit            = "submit"
	OpReplaceFile       = "replace_file"
	OpReplaceAll        = "replace_all"
	OpRecordDecision    = "record_decision"
)

const defaultAnalysisTimeout = 2 * time.Minute

// EventPublisher 接收提交后的状态变化。
type EventPublisher interface {
	Publish(ctx context.Context, evt events.Event) error
}

// ObjectRemover deletes objects that are no longer referenced by any file row.
type ObjectRemover interface {
	DeleteObject(ctx context.Context, objectKey string) error
}

// Options carries the optional collaborators of Service.
type Options struct {
	Publisher       EventPublisher
	Objects         ObjectRemover
	AnalysisTimeout time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

// Service 是申请生命周期的唯一写入口。
type Service struct {
	db        *gorm.DB
	engine    analysis.Engine
	publisher EventPublisher
	objects   ObjectRemover
	timeout   time.Duration
	logger    *slog.Logger
	now       func() time.Time
	locks     *keyedMutex
}

// NewService 构造生命周期服务。
func NewService(db *gorm.DB, engine analysis.Engine, opts Options) *Service {
	s := &Service{
		db:        db,
		engine:    engine,
		publisher: opts.Publisher,
		objects:   opts.Objects,
		timeout:   opts.AnalysisTimeout,
		logger:    opts.Logger,
		now:       opts.Now,
		locks:     newKeyedMutex(),
	}
	if s.timeout <= 0 {
		s.timeout = defaultAnalysisTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// change 收集一次 mutate 的副作用，提交后统一处理。
type change struct {
	// skip 表示操作为幂等空操作，不写库也不发事件。
	skip    bool
	detail  string
	removed []string
}

type mutation func(tx *gorm.DB, app *database.JobApplication, ch *change) error

func (s *Service) mutate(ctx context.Context, id, op string, fn mutation) (*database.JobApplication, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var app database.JobApplication
	ch := &change{}
	var event database.ApplicationEvent

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&app).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return fmt.Errorf("load application %s: %w", id, err)
		}
		from := app.Status

		if err := fn(tx, &app, ch); err != nil {
			return err
		}
		if ch.skip {
			return nil
		}

		if err := tx.Omit(clause.Associations).Save(&app).Error; err != nil {
			return fmt.Errorf("save application %s: %w", id, err)
		}
		event = database.ApplicationEvent{
			ApplicationID:  app.ID,
			Operation:      op,
			FromStatus:     from,
			ToStatus:       app.Status,
			AnalysisStatus: app.AnalysisStatus,
			Detail:         truncate(ch.detail, 512),
			CreatedAt:      s.now(),
		}
		if err := tx.Create(&event).Error; err != nil {
			return fmt.Errorf("record transition: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !ch.skip {
		s.afterCommit(ctx, &app, event, ch.removed)
	}
	return &app, nil
}

// afterCommit 处理提交后的副作用，失败只记录日志，不影响已提交的状态。
func (s *Service) afterCommit(ctx context.Context, app *database.JobApplication, event database.ApplicationEvent, removed []string) {
	metrics.ObserveTransition(event.Operation, string(event.FromStatus), string(event.ToStatus))

	log := s.logger.With(
		slog.String("application_id", app.ID),
		slog.String("operation", event.Operation),
	)
	log.Info("application transition applied",
		slog.String("from", string(event.FromStatus)),
		slog.String("to", string(event.ToStatus)),
		slog.String("analysis_status", string(event.AnalysisStatus)),
	)

	s.publish(ctx, log, events.Event{
		ApplicationID:  app.ID,
		Operation:      event.Operation,
		Status:         string(app.Status),
		AnalysisStatus: string(app.AnalysisStatus),
		AnalysisCount:  app.AnalysisCount,
		Detail:         event.Detail,
		At:             event.CreatedAt,
	})

	if s.objects == nil {
		return
	}
	for _, key := range removed {
		if key == "" {
			continue
		}
		if err := s.objects.DeleteObject(context.WithoutCancel(ctx), key); err != nil {
			log.Warn("remove replaced object failed", slog.String("object_key", key), slog.Any("error", err))
		}
	}
}

func (s *Service) publish(ctx context.Context, log *slog.Logger, evt events.Event) {
	if s.publisher == nil {
		return
	}
	evt.CorrelationID = events.CorrelationID(ctx)
	if err := s.publisher.Publish(context.WithoutCancel(ctx), evt); err != nil {
		log.Warn("publish application event failed", slog.Any("error", err))
	}
}

// truncate 截断到最多 n 字节，不拆开多字节字符，并替换输入中的非法 UTF-8。
func truncate(s string, n int) string {
	s = strings.ToValidUTF8(s, "\uFFFD")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
