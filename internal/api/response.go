package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"talentflex/internal/api/middleware"
	"talentflex/internal/errcode"
	"talentflex/internal/lifecycle"
	"talentflex/internal/scanner"
)

func Error(c *gin.Context, status, code int, msg string) {
	c.JSON(status, gin.H{"error": msg, "code": code})
}

func AbortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "code": errcode.Unauthorized})
}

func BadRequest(c *gin.Context, msg string) {
	Error(c, http.StatusBadRequest, errcode.InvalidRequest, msg)
}
func Forbidden(c *gin.Context, msg string) { Error(c, http.StatusForbidden, errcode.Forbidden, msg) }
func NotFound(c *gin.Context, msg string)  { Error(c, http.StatusNotFound, errcode.NotFound, msg) }
func Internal(c *gin.Context, msg string) {
	Error(c, http.StatusInternalServerError, errcode.SystemError, msg)
}

// errorMapping 将生命周期错误映射为 HTTP 状态码与业务错误码，按顺序匹配。
var errorMapping = []struct {
	target error
	status int
	code   int
}{
	{lifecycle.ErrNotFound, http.StatusNotFound, errcode.NotFound},
	{lifecycle.ErrInvalidSlot, http.StatusBadRequest, errcode.InvalidSlot},
	{lifecycle.ErrInvalidFileRef, http.StatusBadRequest, errcode.InvalidFileRef},
	{lifecycle.ErrInvalidDecision, http.StatusBadRequest, errcode.InvalidDecision},
	{lifecycle.ErrInvalidPosting, http.StatusBadRequest, errcode.InvalidPosting},
	{lifecycle.ErrApplicationLocked, http.StatusConflict, errcode.ApplicationLocked},
	{lifecycle.ErrIncompleteSubmission, http.StatusUnprocessableEntity, errcode.Incomplete},
	{lifecycle.ErrNotReadyToSubmit, http.StatusConflict, errcode.NotReady},
	{lifecycle.ErrApplicationNotSubmitted, http.StatusConflict, errcode.NotSubmitted},
	{lifecycle.ErrAnalysisInProgress, http.StatusConflict, errcode.InProgress},
	{lifecycle.ErrInvalidTransition, http.StatusConflict, errcode.InvalidTransition},
	{lifecycle.ErrAlreadyClaimed, http.StatusConflict, errcode.AlreadyClaimed},
	{lifecycle.ErrStaleAnalysis, http.StatusConflict, errcode.InvalidTransition},
	{scanner.ErrInfected, http.StatusUnprocessableEntity, errcode.Infected},
	// 超时需先于引擎失败匹配，因为它包装了后者。
	{lifecycle.ErrAnalysisTimeout, http.StatusGatewayTimeout, errcode.Timeout},
	{lifecycle.ErrAnalysisEngineFailure, http.StatusBadGateway, errcode.EngineFailure},
}

// respondError 写出错误响应。未识别的错误记录日志并返回 500，不向客户端暴露细节。
func respondError(c *gin.Context, err error) {
	for _, m := range errorMapping {
		if !errors.Is(err, m.target) {
			continue
		}
		body := gin.H{"error": err.Error(), "code": m.code}
		var incomplete *lifecycle.IncompleteSubmissionError
		if errors.As(err, &incomplete) {
			body["missing"] = incomplete.Missing
		}
		if lifecycle.Retryable(err) {
			body["retryable"] = true
		}
		c.JSON(m.status, body)
		return
	}

	middleware.LoggerFromContext(c).Error("request failed", slog.Any("error", err))
	Internal(c, "internal error")
}
