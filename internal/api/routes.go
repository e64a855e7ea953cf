package api

import (
	"github.com/gin-gonic/gin"

	"talentflex/internal/api/middleware"
	"talentflex/internal/application"
	"talentflex/internal/auth"
)

// RegisterRoutes 注册 /v1 路由。ws 为 nil 时不暴露状态流。
func RegisterRoutes(router *gin.Engine, h *Handler, ws *WsHandler, authService *auth.AuthService) {
	authMiddleware := middleware.AuthMiddleware(authService)
	candidate := middleware.RequireRole(application.RoleCandidate, application.RoleInternal)
	employer := middleware.RequireRole(application.RoleEmployer)
	internal := middleware.RequireRole(application.RoleInternal)

	v1 := router.Group("/v1")
	{
		if ws != nil {
			// WebSocket 在首条消息中鉴权，不经过 Authorization 头。
			v1.GET("/applications/:token/stream", ws.HandleConnection)
		}

		apps := v1.Group("/applications/:token")
		apps.Use(authMiddleware)
		{
			apps.GET("", h.GetApplication)
			apps.GET("/history", h.GetHistory)
			apps.POST("/claim", h.ClaimApplication)

			apps.POST("/files/:slot", candidate, h.UploadFile)
			apps.POST("/files/:slot/upload-url", candidate, h.CreateUploadURL)
			apps.DELETE("/files/:slot", candidate, h.ReplaceFile)
			apps.POST("/analyze", candidate, h.RequestAnalysis)
			apps.POST("/submit", candidate, h.SubmitApplication)
			apps.POST("/reset", candidate, h.ResetApplication)

			apps.POST("/decisions", employer, h.RecordDecision)
		}

		candidateGroup := v1.Group("/candidate")
		candidateGroup.Use(authMiddleware, middleware.RequireRole(application.RoleCandidate))
		{
			candidateGroup.GET("/applications", h.ListMyApplications)
		}

		employerGroup := v1.Group("/employer")
		employerGroup.Use(authMiddleware, employer)
		{
			employerGroup.GET("/applications", h.ListApplications)
			employerGroup.GET("/decisions", h.ListDecisions)
		}

		admin := v1.Group("/admin")
		admin.Use(authMiddleware, internal)
		{
			admin.POST("/applications", h.CreateApplication)
			admin.GET("/applications", h.ListApplications)
			admin.GET("/pipeline/summary", h.PipelineSummary)
		}
	}
}
