package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"talentflex/internal/api/middleware"
	"talentflex/internal/application"
	"talentflex/internal/errcode"
	"talentflex/internal/lifecycle"
	"talentflex/internal/scanner"
	"talentflex/internal/storage"
	"talentflex/internal/tasks"
)

// GetApplication 返回申请详情、文件与分析结果。
func (h *Handler) GetApplication(c *gin.Context) {
	app, _, ok := h.loadViewable(c)
	if !ok {
		return
	}
	h.respondApplication(c, http.StatusOK, app.ID)
}

// ClaimApplication 将未认领的申请绑定到当前候选人。
func (h *Handler) ClaimApplication(c *gin.Context) {
	who, ok := callerFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	if who.Role != application.RoleCandidate {
		Forbidden(c, "only candidates can claim applications")
		return
	}
	app, err := h.svc.GetByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := h.svc.Claim(c.Request.Context(), app.ID, who.ID); err != nil {
		respondError(c, err)
		return
	}
	h.respondApplication(c, http.StatusOK, app.ID)
}

type uploadFileRequest struct {
	ObjectKey       string `json:"object_key"`
	URL             string `json:"url"`
	Filename        string `json:"filename"`
	MimeType        string `json:"mime_type"`
	SizeBytes       int64  `json:"size_bytes"`
	DurationSeconds *int   `json:"duration_seconds"`
}

// UploadFile 填充槽位。支持 multipart 直传、预签名上传后的 object_key 以及外部文件引用三种方式。
func (h *Handler) UploadFile(c *gin.Context) {
	slot, err := application.ParseFileType(c.Param("slot"))
	if err != nil {
		respondError(c, fmt.Errorf("%w: %s", lifecycle.ErrInvalidSlot, c.Param("slot")))
		return
	}
	app, ok := h.loadForCandidate(c)
	if !ok {
		return
	}
	if locked(app.Status) {
		respondError(c, lifecycle.ErrApplicationLocked)
		return
	}

	var ref application.FileRef
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		ref, ok = h.storeMultipart(c, app.ID, slot)
	} else {
		ref, ok = h.resolveRef(c, app.ID, slot)
	}
	if !ok {
		return
	}

	if _, err := h.svc.UploadFile(c.Request.Context(), app.ID, slot, ref); err != nil {
		if ref.ObjectKey != "" && h.store != nil && !errors.Is(err, lifecycle.ErrNotFound) {
			// 未被引用的对象不会再被清理，这里直接删除。
			h.removeObject(c.Request.Context(), ref.ObjectKey)
		}
		respondError(c, err)
		return
	}
	h.respondApplication(c, http.StatusCreated, app.ID)
}

func locked(s application.Status) bool {
	return s == application.StatusAnalyzed || s == application.StatusSubmitted
}

// storeMultipart 扫描并上传表单中的文件，返回对应的文件引用。
func (h *Handler) storeMultipart(c *gin.Context, applicationID string, slot application.FileType) (application.FileRef, bool) {
	if h.store == nil {
		Error(c, http.StatusNotImplemented, errcode.SystemError, "file storage is not configured")
		return application.FileRef{}, false
	}
	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return application.FileRef{}, false
	}
	contentType := file.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := storage.PolicyFor(slot).Check(file.Filename, contentType, file.Size); err != nil {
		respondError(c, fmt.Errorf("%w: %w", lifecycle.ErrInvalidFileRef, err))
		return application.FileRef{}, false
	}
	duration, err := parseDuration(c.PostForm("duration_seconds"))
	if err != nil {
		respondError(c, fmt.Errorf("%w: %w", lifecycle.ErrInvalidFileRef, err))
		return application.FileRef{}, false
	}

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return application.FileRef{}, false
	}
	err = h.scanner.Scan(c.Request.Context(), fileReader)
	fileReader.Close()
	if err != nil {
		h.scanFailed(c, err)
		return application.FileRef{}, false
	}

	fileReader, err = file.Open()
	if err != nil {
		Internal(c, "failed to reopen file")
		return application.FileRef{}, false
	}
	defer fileReader.Close()

	objectKey := storage.ObjectKey(applicationID, slot, file.Filename)
	if _, err := h.store.UploadFile(c.Request.Context(), objectKey, fileReader, file.Size, contentType); err != nil {
		h.logger.Error("upload file", slog.String("object_key", objectKey), slog.Any("error", err))
		Internal(c, "failed to upload file")
		return application.FileRef{}, false
	}

	return application.FileRef{
		URL:              h.store.ObjectURL(objectKey),
		ObjectKey:        objectKey,
		OriginalFilename: file.Filename,
		MimeType:         contentType,
		SizeBytes:        file.Size,
		DurationSeconds:  duration,
	}, true
}

// resolveRef 处理 JSON 请求：object_key 指向预签名上传的对象，否则视为外部文件引用。
func (h *Handler) resolveRef(c *gin.Context, applicationID string, slot application.FileType) (application.FileRef, bool) {
	var req uploadFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "invalid request body")
		return application.FileRef{}, false
	}

	if req.ObjectKey == "" {
		ref := application.FileRef{
			URL:              strings.TrimSpace(req.URL),
			OriginalFilename: strings.TrimSpace(req.Filename),
			MimeType:         strings.TrimSpace(req.MimeType),
			SizeBytes:        req.SizeBytes,
			DurationSeconds:  req.DurationSeconds,
		}
		if err := storage.PolicyFor(slot).Check(ref.OriginalFilename, ref.MimeType, ref.SizeBytes); err != nil {
			respondError(c, fmt.Errorf("%w: %w", lifecycle.ErrInvalidFileRef, err))
			return application.FileRef{}, false
		}
		return ref, true
	}

	if h.store == nil {
		Error(c, http.StatusNotImplemented, errcode.SystemError, "file storage is not configured")
		return application.FileRef{}, false
	}
	if !storage.IsValidObjectKey(applicationID, slot, req.ObjectKey) {
		respondError(c, fmt.Errorf("%w: object key does not belong to this slot", lifecycle.ErrInvalidFileRef))
		return application.FileRef{}, false
	}

	ctx := c.Request.Context()
	meta, err := h.store.StatObject(ctx, req.ObjectKey)
	if err != nil {
		if isStorageMissing(err) {
			respondError(c, fmt.Errorf("%w: object has not been uploaded", lifecycle.ErrInvalidFileRef))
			return application.FileRef{}, false
		}
		h.logger.Error("stat object", slog.String("object_key", req.ObjectKey), slog.Any("error", err))
		Internal(c, "failed to read uploaded object")
		return application.FileRef{}, false
	}

	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = path.Base(req.ObjectKey)
	}
	if err := storage.PolicyFor(slot).Check(filename, meta.ContentType, meta.Size); err != nil {
		h.removeObject(ctx, req.ObjectKey)
		respondError(c, fmt.Errorf("%w: %w", lifecycle.ErrInvalidFileRef, err))
		return application.FileRef{}, false
	}

	obj, err := h.store.GetObject(ctx, req.ObjectKey)
	if err != nil {
		h.logger.Error("open object for scan", slog.String("object_key", req.ObjectKey), slog.Any("error", err))
		Internal(c, "failed to read uploaded object")
		return application.FileRef{}, false
	}
	err = h.scanner.Scan(ctx, obj)
	obj.Close()
	if err != nil {
		if errors.Is(err, scanner.ErrInfected) {
			h.removeObject(ctx, req.ObjectKey)
		}
		h.scanFailed(c, err)
		return application.FileRef{}, false
	}

	return application.FileRef{
		URL:              h.store.ObjectURL(req.ObjectKey),
		ObjectKey:        req.ObjectKey,
		OriginalFilename: filename,
		MimeType:         meta.ContentType,
		SizeBytes:        meta.Size,
		DurationSeconds:  req.DurationSeconds,
	}, true
}

func (h *Handler) scanFailed(c *gin.Context, err error) {
	if errors.Is(err, scanner.ErrInfected) {
		respondError(c, err)
		return
	}
	h.logger.Error("scan file", slog.Any("error", err))
	Internal(c, "failed to scan file")
}

func (h *Handler) removeObject(ctx context.Context, objectKey string) {
	if err := h.store.DeleteObject(context.WithoutCancel(ctx), objectKey); err != nil {
		h.logger.Warn("remove rejected object failed", slog.String("object_key", objectKey), slog.Any("error", err))
	}
}

func parseDuration(raw string) (*int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("duration_seconds must be an integer")
	}
	return &n, nil
}

type uploadURLRequest struct {
	Filename  string `json:"filename" binding:"required"`
	MimeType  string `json:"mime_type" binding:"required"`
	SizeBytes int64  `json:"size_bytes" binding:"required"`
}

// CreateUploadURL 为槽位生成预签名直传链接，上传完成后以 object_key 调用 UploadFile。
func (h *Handler) CreateUploadURL(c *gin.Context) {
	slot, err := application.ParseFileType(c.Param("slot"))
	if err != nil {
		respondError(c, fmt.Errorf("%w: %s", lifecycle.ErrInvalidSlot, c.Param("slot")))
		return
	}
	var req uploadURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "filename, mime_type and size_bytes are required")
		return
	}
	if err := storage.PolicyFor(slot).Check(req.Filename, req.MimeType, req.SizeBytes); err != nil {
		respondError(c, fmt.Errorf("%w: %w", lifecycle.ErrInvalidFileRef, err))
		return
	}
	if h.store == nil {
		Error(c, http.StatusNotImplemented, errcode.SystemError, "file storage is not configured")
		return
	}

	app, ok := h.loadForCandidate(c)
	if !ok {
		return
	}
	if locked(app.Status) {
		respondError(c, lifecycle.ErrApplicationLocked)
		return
	}

	objectKey := storage.ObjectKey(app.ID, slot, req.Filename)
	url, err := h.store.PresignedUploadURL(c.Request.Context(), objectKey, uploadURLTTL)
	if err != nil {
		h.logger.Error("generate upload url", slog.String("object_key", objectKey), slog.Any("error", err))
		Internal(c, "failed to generate upload url")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"object_key": objectKey,
		"url":        url,
		"expires_at": time.Now().Add(uploadURLTTL).UTC(),
	})
}

// ReplaceFile 清空槽位并使现有分析失效。
func (h *Handler) ReplaceFile(c *gin.Context) {
	slot, err := application.ParseFileType(c.Param("slot"))
	if err != nil {
		respondError(c, fmt.Errorf("%w: %s", lifecycle.ErrInvalidSlot, c.Param("slot")))
		return
	}
	app, ok := h.loadForCandidate(c)
	if !ok {
		return
	}
	if _, err := h.svc.ReplaceFile(c.Request.Context(), app.ID, slot); err != nil {
		respondError(c, err)
		return
	}
	h.respondApplication(c, http.StatusOK, app.ID)
}

// ResetApplication 保留文件，清除分析并退回 draft。
func (h *Handler) ResetApplication(c *gin.Context) {
	app, ok := h.loadForCandidate(c)
	if !ok {
		return
	}
	if _, err := h.svc.ReplaceAll(c.Request.Context(), app.ID); err != nil {
		respondError(c, err)
		return
	}
	h.respondApplication(c, http.StatusOK, app.ID)
}

// RequestAnalysis 开始分析。默认投递到队列并返回 202；?wait=true 或未配置队列时同步执行。
func (h *Handler) RequestAnalysis(c *gin.Context) {
	app, ok := h.loadForCandidate(c)
	if !ok {
		return
	}
	if !h.allowAnalysis(c, app.ID) {
		return
	}
	ctx := c.Request.Context()

	if h.queue == nil || c.Query("wait") == "true" {
		if _, err := h.svc.RequestAnalysis(ctx, app.ID); err != nil {
			respondError(c, err)
			return
		}
		h.respondApplication(c, http.StatusOK, app.ID)
		return
	}

	epoch, err := h.svc.BeginAnalysis(ctx, app.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	task, err := tasks.NewAnalyzeTask(app.ID, epoch, middleware.GetCorrelationID(c), h.analysisTimeout)
	if err == nil {
		_, err = h.queue.EnqueueContext(ctx, task)
	}
	if err != nil {
		log := middleware.LoggerFromContext(c).With(slog.String("application_id", app.ID))
		log.Error("enqueue analysis failed", slog.Any("error", err))
		cause := fmt.Errorf("%w: schedule analysis: %w", lifecycle.ErrAnalysisEngineFailure, err)
		if ferr := h.svc.FailAnalysis(context.WithoutCancel(ctx), app.ID, epoch, cause); ferr != nil && !errors.Is(ferr, lifecycle.ErrStaleAnalysis) {
			log.Error("mark analysis failed", slog.Any("error", ferr))
		}
		Internal(c, "failed to schedule analysis")
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"application_id":  app.ID,
		"analysis_status": application.AnalysisProcessing,
		"epoch":           epoch,
	})
}

// allowAnalysis 限制每个申请每小时的分析请求次数。Redis 不可用时放行。
func (h *Handler) allowAnalysis(c *gin.Context, applicationID string) bool {
	if h.counter == nil || h.maxAnalysesPerHour <= 0 {
		return true
	}
	rateKey := "rate:analysis:" + applicationID + ":" + time.Now().UTC().Format("2006010215")
	count, err := incrWithTTL(c.Request.Context(), h.counter, rateKey, time.Hour)
	if err != nil {
		middleware.LoggerFromContext(c).Warn("analysis rate counter unavailable", slog.Any("error", err))
		return true
	}
	if count > int64(h.maxAnalysesPerHour) {
		Error(c, http.StatusTooManyRequests, errcode.RateLimited, "analysis rate limit exceeded")
		return false
	}
	return true
}

// SubmitApplication 提交已分析的申请。
func (h *Handler) SubmitApplication(c *gin.Context) {
	app, ok := h.loadForCandidate(c)
	if !ok {
		return
	}
	if _, err := h.svc.Submit(c.Request.Context(), app.ID); err != nil {
		respondError(c, err)
		return
	}
	h.respondApplication(c, http.StatusOK, app.ID)
}

// GetHistory 返回迁移日志，仅内部人员与申请所属候选人可见。
func (h *Handler) GetHistory(c *gin.Context) {
	app, who, ok := h.loadViewable(c)
	if !ok {
		return
	}
	if who.Role == application.RoleEmployer {
		Forbidden(c, "history is not available to employers")
		return
	}
	history, err := h.svc.History(c.Request.Context(), app.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	items := make([]transitionView, 0, len(history))
	for _, e := range history {
		items = append(items, newTransitionView(e))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ListMyApplications 列出当前候选人认领的申请及其状态。
func (h *Handler) ListMyApplications(c *gin.Context) {
	who, ok := callerFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	filter := lifecycle.ListFilter{
		CandidateID: who.ID,
		Limit:       queryInt(c, "limit", 0),
		Offset:      queryInt(c, "offset", 0),
	}
	if raw := c.Query("status"); raw != "" {
		status, err := application.ParseStatus(raw)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}
		filter.Status = &status
	}

	items, total, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]pipelineItemView, 0, len(items))
	for _, item := range items {
		v := newPipelineItemView(item, false)
		// 候选人看不到雇主关注数。
		v.InterestedEmployers = 0
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"items": views, "total": total})
}
