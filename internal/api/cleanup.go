package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/invoice-imposer/internal/tasks"
)

// CleanupHandler は管理用のクリーンアップトリガーを公開する。定期
// スケジューラが自身のペースで実行するはずのスイープを、即座に強制
// 実行する。
type CleanupHandler struct {
	sweeper *tasks.Sweeper
}

func (h *CleanupHandler) Trigger(c *gin.Context) {
	h.sweeper.RunOnce(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"triggered": true})
}
