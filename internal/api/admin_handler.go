package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"talentflex/internal/lifecycle"
)

// CreateApplication 为职位创建新的申请链接。
func (h *Handler) CreateApplication(c *gin.Context) {
	var posting lifecycle.Posting
	if err := c.ShouldBindJSON(&posting); err != nil {
		BadRequest(c, "invalid request body")
		return
	}
	app, err := h.svc.Create(c.Request.Context(), posting)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h.applicationView(c.Request.Context(), app))
}

// PipelineSummary 返回各状态的申请数量。
func (h *Handler) PipelineSummary(c *gin.Context) {
	summary, err := h.svc.Summary(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"unclaimed":   summary.Unclaimed,
		"draft":       summary.Draft,
		"analyzed":    summary.Analyzed,
		"in_progress": summary.InProgress(),
		"submitted":   summary.Submitted,
		"total":       summary.Total,
	})
}
