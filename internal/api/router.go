package api

import (
	"github.com/gin-gonic/gin"

	"github.com/yourusername/invoice-imposer/internal/config"
	"github.com/yourusername/invoice-imposer/internal/session"
	"github.com/yourusername/invoice-imposer/internal/storage"
	"github.com/yourusername/invoice-imposer/internal/tasks"
)

// Dependencies はルート配線に必要な依存一式。teacherのsetupJobs/
// setupRoutesの「構築」と「登録」の分割を踏襲したもの。
type Dependencies struct {
	Config  *config.Config
	Store   *tasks.Store
	Manager *tasks.Manager
	Sweeper *tasks.Sweeper
	Storage *storage.Manager
	Health  *HealthChecker
}

// Register はワイヤーサーフェスの全エンドポイントをrouterに配線する。
// teacherのroute-group流儀に倣う。
func Register(router *gin.Engine, deps Dependencies) {
	upload := NewUploadHandler(deps.Config, deps.Storage, deps.Manager)
	task := NewTaskHandler(deps.Store, deps.Manager)
	download := NewDownloadHandler(deps.Store, deps.Storage)
	cleanup := &CleanupHandler{sweeper: deps.Sweeper}

	router.GET("/api/health", deps.Health.Handle)

	api := router.Group("/api")
	{
		api.POST("/session", session.Bootstrap)

		authed := api.Group("")
		authed.Use(session.RequireSession())
		{
			authed.POST("/upload/", upload.Upload)
			authed.GET("/upload/limits", upload.Limits)

			authed.GET("/task/", task.List)
			authed.GET("/task/statistics", task.Statistics)
			authed.GET("/task/:id/status", task.Status)
			authed.GET("/task/:id/progress", task.Progress)
			authed.POST("/task/:id/start", task.Start)
			authed.POST("/task/:id/cancel", task.Cancel)
			authed.POST("/task/:id/retry", task.Retry)
			authed.DELETE("/task/:id", task.Delete)

			authed.GET("/download/:id/:name", download.Get)
			authed.HEAD("/download/:id/:name", download.Head)

			authed.POST("/admin/cleanup", cleanup.Trigger)
		}
	}
}
