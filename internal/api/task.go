package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/invoice-imposer/internal/session"
	"github.com/yourusername/invoice-imposer/internal/tasks"
)

// TaskHandler はタスクの状態・進捗・一覧・ライフサイクル操作の各
// エンドポイントを実装する。
type TaskHandler struct {
	store   *tasks.Store
	manager *tasks.Manager
}

func NewTaskHandler(store *tasks.Store, manager *tasks.Manager) *TaskHandler {
	return &TaskHandler{store: store, manager: manager}
}

func (h *TaskHandler) owned(c *gin.Context) (*tasks.Record, bool) {
	taskID := c.Param("id")
	record, err := h.store.GetOwned(c.Request.Context(), taskID, session.FromContext(c))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return record, true
}

func (h *TaskHandler) List(c *gin.Context) {
	sessionID := session.FromContext(c)
	statusFilter := tasks.Status(c.Query("status"))

	records, err := h.store.List(c.Request.Context(), sessionID, statusFilter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks":       records,
		"total_count": len(records),
		"session_id":  sessionID,
	})
}

func (h *TaskHandler) Status(c *gin.Context) {
	record, ok := h.owned(c)
	if !ok {
		return
	}
	body := gin.H{
		"taskId":    record.TaskID,
		"status":    record.Status,
		"progress":  record.Progress,
		"createdAt": record.CreatedAt,
		"updatedAt": record.UpdatedAt,
		"fileCount": record.FileCount,
	}
	if record.CompletedAt != nil {
		body["completedAt"] = record.CompletedAt
	}
	if record.Status == tasks.StatusCompleted {
		urls := make([]string, 0, len(record.OutputRefs))
		for _, ref := range record.OutputRefs {
			urls = append(urls, fmt.Sprintf("/api/download/%s/%s", record.TaskID, outputBaseName(ref)))
		}
		body["downloadUrls"] = urls
	}
	if record.Status == tasks.StatusFailed {
		body["errorKind"] = record.ErrorKind
		body["errorMessage"] = record.ErrorMessage
	}
	c.JSON(http.StatusOK, body)
}

func (h *TaskHandler) Progress(c *gin.Context) {
	record, ok := h.owned(c)
	if !ok {
		return
	}

	rate, remaining, eta := estimateRemaining(record)
	c.JSON(http.StatusOK, gin.H{
		"task_id":                     record.TaskID,
		"progress":                    record.Progress,
		"status":                      record.Status,
		"stage":                       record.Stage,
		"estimated_remaining_seconds": remaining,
		"estimated_completion_at":     eta,
		"progress_rate_per_minute":    rate,
	})
}

func (h *TaskHandler) Start(c *gin.Context) {
	taskID := c.Param("id")
	record, err := h.manager.Start(c.Request.Context(), taskID, session.FromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": record.Status})
}

func (h *TaskHandler) Cancel(c *gin.Context) {
	taskID := c.Param("id")
	updated, err := h.manager.Cancel(c.Request.Context(), taskID, session.FromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": updated.Status})
}

func (h *TaskHandler) Retry(c *gin.Context) {
	taskID := c.Param("id")
	updated, err := h.manager.Retry(c.Request.Context(), taskID, session.FromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": updated.Status})
}

func (h *TaskHandler) Delete(c *gin.Context) {
	taskID := c.Param("id")
	if err := h.manager.Delete(c.Request.Context(), taskID, session.FromContext(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files_cleaned": true})
}

func (h *TaskHandler) Statistics(c *gin.Context) {
	stats, err := h.store.Statistics(c.Request.Context(), session.FromContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
