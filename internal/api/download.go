package api

import (
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/invoice-imposer/internal/apperr"
	"github.com/yourusername/invoice-imposer/internal/session"
	"github.com/yourusername/invoice-imposer/internal/storage"
	"github.com/yourusername/invoice-imposer/internal/tasks"
)

// DownloadHandler は所有権（レジストリ側）とパス閉じ込め（ストレージ
// 側）の両方の確認を通過した後で出力バイト列を配信する。
type DownloadHandler struct {
	store   *tasks.Store
	storage *storage.Manager
}

func NewDownloadHandler(store *tasks.Store, storageMgr *storage.Manager) *DownloadHandler {
	return &DownloadHandler{store: store, storage: storageMgr}
}

func (h *DownloadHandler) open(c *gin.Context) (*tasks.Record, *os.File, os.FileInfo, bool) {
	taskID := c.Param("id")
	name := c.Param("name")
	sessionID := session.FromContext(c)

	record, err := h.store.GetOwned(c.Request.Context(), taskID, sessionID)
	if err != nil {
		respondError(c, err)
		return nil, nil, nil, false
	}
	if record.Status == tasks.StatusExpired {
		respondError(c, apperr.New(apperr.CodeFilesExpired, "ファイルの保持期限が切れています。", nil))
		return nil, nil, nil, false
	}

	f, info, err := h.storage.OpenForRead(sessionID, taskID, name)
	if err != nil {
		respondError(c, err)
		return nil, nil, nil, false
	}
	return record, f, info, true
}

func (h *DownloadHandler) Get(c *gin.Context) {
	record, f, info, ok := h.open(c)
	if !ok {
		return
	}
	defer f.Close()

	name := c.Param("name")
	disposition := "attachment"
	if c.Query("inline") == "true" {
		disposition = "inline"
	}

	c.Header("Content-Disposition", fmt.Sprintf("%s; filename=\"%s\"; filename*=UTF-8''%s", disposition, name, url.PathEscape(name)))
	c.Header("Cache-Control", "no-store")
	c.Header("X-Task-Id", record.TaskID)
	c.DataFromReader(http.StatusOK, info.Size(), "application/pdf", f, nil)
}

func (h *DownloadHandler) Head(c *gin.Context) {
	_, f, info, ok := h.open(c)
	if !ok {
		return
	}
	f.Close()
	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Length", fmt.Sprintf("%d", info.Size()))
	c.Status(http.StatusOK)
}
