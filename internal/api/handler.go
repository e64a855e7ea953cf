package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7"

	"talentflex/internal/api/middleware"
	"talentflex/internal/application"
	"talentflex/internal/database"
	"talentflex/internal/lifecycle"
	"talentflex/internal/scanner"
	"talentflex/internal/storage"
)

const (
	uploadURLTTL   = 15 * time.Minute
	downloadURLTTL = 15 * time.Minute
)

// objectStore 是 storage.Client 中 API 用到的部分。
type objectStore interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	GetObject(ctx context.Context, objectKey string) (io.ReadCloser, error)
	StatObject(ctx context.Context, objectKey string) (*storage.ObjectMeta, error)
	PresignedUploadURL(ctx context.Context, objectKey string, duration time.Duration) (string, error)
	PresignedDownloadURL(ctx context.Context, objectKey, filename string, duration time.Duration) (string, error)
	ObjectURL(objectKey string) string
	DeleteObject(ctx context.Context, objectKey string) error
}

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Handler 实现 /v1 下的申请相关接口。
type Handler struct {
	svc     *lifecycle.Service
	store   objectStore
	scanner scanner.Scanner
	queue   taskEnqueuer
	counter redisRateCounter
	logger  *slog.Logger

	publicBaseURL      string
	analysisTimeout    time.Duration
	maxAnalysesPerHour int
}

// HandlerConfig carries the tunables of Handler.
type HandlerConfig struct {
	PublicBaseURL      string
	AnalysisTimeout    time.Duration
	MaxAnalysesPerHour int
}

// NewHandler 构造 Handler。queue 为 nil 时分析在请求内同步执行；counter 为 nil 时不限流。
func NewHandler(
	svc *lifecycle.Service,
	store objectStore,
	scan scanner.Scanner,
	queue taskEnqueuer,
	counter redisRateCounter,
	logger *slog.Logger,
	cfg HandlerConfig,
) *Handler {
	if scan == nil {
		scan = scanner.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		svc:                svc,
		store:              store,
		scanner:            scan,
		queue:              queue,
		counter:            counter,
		logger:             logger,
		publicBaseURL:      strings.TrimRight(cfg.PublicBaseURL, "/"),
		analysisTimeout:    cfg.AnalysisTimeout,
		maxAnalysesPerHour: cfg.MaxAnalysesPerHour,
	}
}

// caller 是已认证的调用方。
type caller struct {
	ID   string
	Role application.Role
}

func callerFromContext(c *gin.Context) (caller, bool) {
	id, role, ok := middleware.Caller(c)
	if !ok {
		return caller{}, false
	}
	return caller{ID: id, Role: role}, true
}

// canView 判断调用方能否查看申请：内部人员全部可见，雇主只能看已提交的，候选人只能看自己的或未认领的。
func canView(who caller, app *database.JobApplication) bool {
	switch who.Role {
	case application.RoleInternal:
		return true
	case application.RoleEmployer:
		return app.Status == application.StatusSubmitted
	case application.RoleCandidate:
		return app.CandidateID == nil || app.ClaimedBy(who.ID)
	default:
		return false
	}
}

// loadViewable 按 token 读取申请并做可见性检查。不可见的申请按不存在处理。
func (h *Handler) loadViewable(c *gin.Context) (*database.JobApplication, caller, bool) {
	who, ok := callerFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, caller{}, false
	}
	app, err := h.svc.GetByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return nil, who, false
	}
	if !canView(who, app) {
		respondError(c, lifecycle.ErrNotFound)
		return nil, who, false
	}
	return app, who, true
}

// loadForCandidate 读取候选人要修改的申请。未认领的申请会先被隐式认领；内部人员可代为操作。
func (h *Handler) loadForCandidate(c *gin.Context) (*database.JobApplication, bool) {
	app, who, ok := h.loadViewable(c)
	if !ok {
		return nil, false
	}
	switch who.Role {
	case application.RoleInternal:
		return app, true
	case application.RoleCandidate:
	default:
		Forbidden(c, "candidate access required")
		return nil, false
	}
	if app.CandidateID != nil {
		return app, true
	}

	claimed, err := h.svc.Claim(c.Request.Context(), app.ID, who.ID)
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	app.CandidateID = claimed.CandidateID
	app.Status = claimed.Status
	return app, true
}

// respondApplication 重新读取申请并按调用方渲染。
func (h *Handler) respondApplication(c *gin.Context, status int, id string) {
	app, err := h.svc.Details(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	who, _ := callerFromContext(c)
	view := h.applicationView(c.Request.Context(), app)
	if who.Role == application.RoleEmployer {
		decision, err := h.svc.DecisionFor(c.Request.Context(), app.ID, who.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		view.MyDecision = newDecisionView(decision)
	}
	c.JSON(status, view)
}

func (h *Handler) downloadURL(ctx context.Context, f database.ApplicationFile) string {
	if f.ObjectKey == "" || h.store == nil {
		return ""
	}
	url, err := h.store.PresignedDownloadURL(ctx, f.ObjectKey, f.OriginalFilename, downloadURLTTL)
	if err != nil {
		h.logger.Warn("generate download url failed", slog.String("object_key", f.ObjectKey), slog.Any("error", err))
		return ""
	}
	return url
}

func isStorageMissing(err error) bool {
	return errors.Is(err, storage.ErrObjectNotFound)
}
