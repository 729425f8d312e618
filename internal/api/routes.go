package api

import (
	"github.com/gin-gonic/gin"

	"pipeline/internal/accounts"
	"pipeline/internal/api/middleware"
	"pipeline/internal/applications"
	"pipeline/internal/credits"
	"pipeline/internal/feedback"
	"pipeline/internal/ingest"
	"pipeline/internal/jobs"
	"pipeline/internal/messages"
	"pipeline/internal/notify"
	"pipeline/internal/reports"
)

// RegisterRoutes 注册 /api 与 /internal 路由。limiter 为空时不做 IP 限流。
func RegisterRoutes(router *gin.Engine, deps Dependencies, limiter *middleware.IPRateLimiter) {
	cfg := deps.Config
	db := deps.DB
	logger := deps.Logger

	ledger := credits.NewLedger(cfg.Credits.DailyLimit, deps.Location, deps.Now)
	notifier := notify.NewNotifier(db, deps.Queue, logger)
	inbox := notify.NewInbox(db)
	accountsSvc := accounts.NewService(db, cfg.Credits.ReferralBonus, logger)
	appsSvc := applications.NewService(db, ledger, notifier, logger)
	catalog := jobs.NewCatalog(db, deps.Now)
	ingestSvc := ingest.NewService(db, logger, deps.Now)
	messagesSvc := messages.NewService(db, notifier, logger, deps.Now)
	reportsSvc := reports.NewService(db, deps.Now)
	feedbackSvc := feedback.NewService(db)

	authHandler := NewAuthHandler(accountsSvc, deps.Auth, deps.Redis, logger, cfg.Auth)
	userHandler := NewUserHandler(db, accountsSvc, ledger)
	jobHandler := NewJobHandler(catalog, appsSvc)
	applicationHandler := NewApplicationHandler(db, appsSvc)
	messageHandler := NewMessageHandler(db, messagesSvc)
	notificationHandler := NewNotificationHandler(inbox)
	profileHandler := NewProfileHandler(db, deps.Storage, deps.Scanner, logger)
	reportHandler := NewReportHandler(reportsSvc, feedbackSvc)
	adminHandler := NewAdminHandler(accountsSvc, catalog, ingestSvc, appsSvc, deps.Storage, logger)
	ingestHandler := NewIngestHandler(ingestSvc, deps.Queue)
	wsHandler := NewWsHandler(deps.Redis, deps.Auth, inbox, logger, cfg.API.CORSOrigins)

	authMiddleware := middleware.AuthMiddleware(deps.Auth)
	passwordGate := middleware.RequirePasswordChangeCompletedMiddleware()
	jobCache := newJobListCache(jobListCacheTTL)
	jobWrite := jobCache.InvalidateOnWrite()

	apiGroup := router.Group("/api")
	if limiter != nil {
		apiGroup.Use(limiter.Middleware())
	}
	{
		apiGroup.GET("/ws", wsHandler.HandleConnection)

		apiGroup.POST("/register", authHandler.Register)
		apiGroup.POST("/login", authHandler.Login)
		apiGroup.POST("/refresh", authHandler.Refresh)
		apiGroup.POST("/logout", authHandler.Logout)
		apiGroup.POST("/user/password", authMiddleware, authHandler.ChangePassword)

		apiGroup.GET("/jobs", jobCache.Middleware(), jobHandler.List)
		apiGroup.GET("/jobs/:id", jobHandler.Get)
	}

	// 以下路由要求已登录且已完成强制改密。
	member := apiGroup.Group("")
	member.Use(authMiddleware, passwordGate)
	{
		member.GET("/user", userHandler.Me)
		member.PATCH("/user", userHandler.Update)
		member.GET("/user/credits", userHandler.Credits)
		member.GET("/user/referral", userHandler.Referral)

		member.GET("/jobs/:id/applied", jobHandler.Applied)

		member.POST("/applications", applicationHandler.Create)
		member.GET("/applications", applicationHandler.List)
		member.GET("/applications/:id", applicationHandler.Get)
		member.PATCH("/applications/:id/status", applicationHandler.UpdateStatus)

		member.GET("/applications/:id/messages", messageHandler.List)
		member.POST("/applications/:id/messages", messageHandler.Send)
		member.PATCH("/applications/:id/messages/:messageId/read", messageHandler.MarkRead)

		member.GET("/notifications", notificationHandler.List)
		member.GET("/notifications/unread-count", notificationHandler.UnreadCount)
		member.PATCH("/notifications/read-all", notificationHandler.MarkAllRead)
		member.PATCH("/notifications/:id/read", notificationHandler.MarkRead)
		member.DELETE("/notifications/:id", notificationHandler.Delete)

		member.GET("/profiles/:userId", profileHandler.Get)
		member.POST("/profiles/:userId", profileHandler.Save)
		member.POST("/profiles/:userId/documents", profileHandler.UploadDocument)
		member.GET("/profiles/:userId/documents/link", profileHandler.DocumentLink)
		member.DELETE("/profiles/:userId/documents", profileHandler.DeleteDocument)

		member.POST("/reported-jobs", reportHandler.CreateReport)
		member.POST("/feedback", reportHandler.SubmitFeedback)
		member.GET("/feedback", reportHandler.ListOwnFeedback)
	}

	admin := member.Group("/admin")
	admin.Use(middleware.RequireAdmin(db))
	{
		admin.GET("/users", adminHandler.ListUsers)
		admin.POST("/users", adminHandler.CreateUser)
		admin.PATCH("/users/:id", adminHandler.UpdateUser)
		admin.DELETE("/users/:id", adminHandler.DeleteUser)
		admin.PATCH("/users/:id/credits", adminHandler.AdjustCredits)

		admin.GET("/jobs", adminHandler.ListJobs)
		admin.POST("/jobs", jobWrite, adminHandler.CreateJob)
		admin.POST("/jobs/import", jobWrite, adminHandler.ImportJobs)
		admin.PATCH("/jobs/:id", jobWrite, adminHandler.UpdateJob)
		admin.DELETE("/jobs/:id", jobWrite, adminHandler.DeleteJob)

		admin.GET("/applications", adminHandler.ListApplications)
		admin.PATCH("/applications/:id", adminHandler.UpdateGuidance)
		admin.POST("/applications/:id/interview", adminHandler.ScheduleInterview)

		admin.GET("/reported-jobs", reportHandler.ListReports)
		admin.GET("/reported-jobs/:id", reportHandler.GetReport)
		admin.PATCH("/reported-jobs/:id", reportHandler.ReviewReport)
		admin.DELETE("/reported-jobs/:id", reportHandler.DeleteReport)

		admin.GET("/feedback", reportHandler.ListAllFeedback)
	}

	internal := router.Group("/internal")
	internal.Use(middleware.InternalSecretMiddleware(cfg.API.InternalSecret))
	{
		internal.POST("/jobs", jobWrite, ingestHandler.Feed)
	}
}
