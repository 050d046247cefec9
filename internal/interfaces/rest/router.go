package rest

import (
	"github.com/gin-gonic/gin"

	"github.com/approveflow/backend/internal/application/services"
	"github.com/approveflow/backend/internal/interfaces/middleware"
)

// SetupRouter wires every endpoint onto a gin engine. Admin-only surfaces
// (template administration, registration, terminate) sit behind RequireAdmin.
func SetupRouter(svcMgr *services.ServiceManager) *gin.Engine {
	router := gin.Default()
	router.Use(middleware.Cors())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
			"server": "golang",
		})
	})

	authHandler := NewAuthHandler(svcMgr.Auth)
	approvalHandler := NewApprovalHandler(svcMgr.Executor, svcMgr.QuerySvc)
	definitionHandler := NewDefinitionHandler(svcMgr.Definitions)
	delegateHandler := NewDelegateHandler(svcMgr.Delegates)
	ccHandler := NewCarbonCopyHandler(svcMgr.CarbonCopies)

	requireAuth := middleware.RequireAuth()
	requireAdmin := middleware.RequireAdmin()

	api := router.Group("/api")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", authHandler.Login)
			auth.POST("/register", requireAuth, requireAdmin, authHandler.Register)
		}

		templates := api.Group("/templates")
		templates.Use(requireAuth, requireAdmin)
		{
			templates.GET("", definitionHandler.ListTemplates)
			templates.GET("/:templateId", definitionHandler.GetTemplate)
			templates.POST("", definitionHandler.CreateTemplate)
			templates.PUT("/:templateId", definitionHandler.UpdateTemplate)
			templates.POST("/:templateId/versions", definitionHandler.NewVersion)
			templates.POST("/:templateId/publish", definitionHandler.Publish)
			templates.POST("/:templateId/disable", definitionHandler.Disable)
			templates.PUT("/:templateId/flows", definitionHandler.SaveFlow)
			templates.PUT("/:templateId/rules", definitionHandler.SaveRoutingRule)
		}

		approvals := api.Group("/approvals")
		approvals.Use(requireAuth)
		{
			approvals.POST("/drafts", approvalHandler.SaveDraft)
			approvals.POST("/submit", approvalHandler.Submit)
		}

		tasks := api.Group("/tasks")
		tasks.Use(requireAuth)
		{
			tasks.GET("/pending", approvalHandler.Pending)
			tasks.POST("/:taskId/approve", approvalHandler.Approve)
			tasks.POST("/:taskId/reject", approvalHandler.Reject)
			tasks.POST("/:taskId/return", approvalHandler.Return)
			tasks.POST("/:taskId/transfer", approvalHandler.Transfer)
			tasks.POST("/:taskId/approvers", approvalHandler.AddApprovers)
		}

		instances := api.Group("/instances")
		instances.Use(requireAuth)
		{
			instances.GET("/mine", approvalHandler.MyInstances)
			instances.GET("/:instanceId", approvalHandler.Progress)
			instances.GET("/:instanceId/history", approvalHandler.History)
			instances.POST("/:instanceId/withdraw", approvalHandler.Withdraw)
			instances.POST("/:instanceId/terminate", requireAdmin, approvalHandler.Terminate)
		}

		delegates := api.Group("/delegates")
		delegates.Use(requireAuth)
		{
			delegates.GET("", delegateHandler.List)
			delegates.POST("", delegateHandler.Create)
			delegates.DELETE("/:delegateId", delegateHandler.Deactivate)
		}

		carbonCopies := api.Group("/carbon-copies")
		carbonCopies.Use(requireAuth)
		{
			carbonCopies.GET("", ccHandler.List)
			carbonCopies.POST("/:ccId/read", ccHandler.MarkRead)
		}
	}

	return router
}
