package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"talentflex/internal/application"
	"talentflex/internal/lifecycle"
)

type recordDecisionRequest struct {
	Decision string `json:"decision" binding:"required"`
	Note     string `json:"note"`
}

// RecordDecision 记录雇主对已提交申请的结论，重复提交覆盖上一次结论。
func (h *Handler) RecordDecision(c *gin.Context) {
	who, ok := callerFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var req recordDecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, "decision is required")
		return
	}
	decision, err := application.ParseDecision(req.Decision)
	if err != nil {
		respondError(c, fmt.Errorf("%w: %w", lifecycle.ErrInvalidDecision, err))
		return
	}

	app, err := h.svc.GetByToken(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	saved, err := h.svc.RecordDecision(c.Request.Context(), app.ID, who.ID, decision, strings.TrimSpace(req.Note))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newDecisionView(saved))
}

// ListDecisions 返回当前雇主记录过的申请，可按 decision 过滤。
func (h *Handler) ListDecisions(c *gin.Context) {
	who, ok := callerFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}
	var filter *application.Decision
	if raw := c.Query("decision"); raw != "" {
		d, err := application.ParseDecision(raw)
		if err != nil {
			respondError(c, fmt.Errorf("%w: %w", lifecycle.ErrInvalidDecision, err))
			return
		}
		filter = &d
	}

	saved, err := h.svc.EmployerDecisions(c.Request.Context(), who.ID, filter)
	if err != nil {
		respondError(c, err)
		return
	}
	items := make([]savedCandidateView, 0, len(saved))
	for _, s := range saved {
		items = append(items, newSavedCandidateView(s))
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// ListApplications 分页列出申请。雇主只能看到已提交的申请。
func (h *Handler) ListApplications(c *gin.Context) {
	who, ok := callerFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	var filter lifecycle.ListFilter
	if raw := c.Query("status"); raw != "" {
		status, err := application.ParseStatus(raw)
		if err != nil {
			BadRequest(c, err.Error())
			return
		}
		filter.Status = &status
	}
	if who.Role == application.RoleEmployer {
		submitted := application.StatusSubmitted
		filter.Status = &submitted
	}
	filter.Query = c.Query("q")
	filter.Limit = queryInt(c, "limit", 0)
	filter.Offset = queryInt(c, "offset", 0)

	items, total, err := h.svc.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	views := make([]pipelineItemView, 0, len(items))
	for _, item := range items {
		views = append(views, newPipelineItemView(item, who.Role == application.RoleInternal))
	}
	c.JSON(http.StatusOK, gin.H{"items": views, "total": total})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
