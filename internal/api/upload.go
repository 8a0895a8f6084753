package api

import (
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yourusername/invoice-imposer/internal/apperr"
	"github.com/yourusername/invoice-imposer/internal/config"
	"github.com/yourusername/invoice-imposer/internal/session"
	"github.com/yourusername/invoice-imposer/internal/storage"
	"github.com/yourusername/invoice-imposer/internal/tasks"
)

// UploadHandler はバッチアップロードのエンドポイントを実装する。
// マルチパートのバッチは1つのtask idを共有し、各ファイルは書き込み前に
// マジックバイトで検証され、1バイトも書く前にバックプレッシャーを
// 確認する。
type UploadHandler struct {
	cfg     *config.Config
	storage *storage.Manager
	manager *tasks.Manager
}

func NewUploadHandler(cfg *config.Config, storageMgr *storage.Manager, manager *tasks.Manager) *UploadHandler {
	return &UploadHandler{cfg: cfg, storage: storageMgr, manager: manager}
}

type uploadResponse struct {
	TaskID    string    `json:"taskId"`
	Status    string    `json:"status"`
	FileCount int       `json:"fileCount"`
	CreatedAt time.Time `json:"createdAt"`
}

func (h *UploadHandler) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := session.FromContext(c)

	if err := h.manager.CheckAdmission(ctx); err != nil {
		respondError(c, err)
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		respondError(c, apperr.New(apperr.CodeBadRequest, "multipart/form-data として files を送信してください。", err))
		return
	}
	files := form.File["files"]
	if len(files) == 0 {
		respondError(c, apperr.New(apperr.CodeBadRequest, "アップロードするファイルを指定してください。", nil))
		return
	}

	if err := h.validateBatch(files); err != nil {
		respondError(c, err)
		return
	}

	taskID := uuid.NewString()
	inputRefs := make([]string, 0, len(files))
	for i, fh := range files {
		path, _, err := h.storeFile(sessionID, taskID, i, fh)
		if err != nil {
			_ = h.storage.Purge(sessionID, taskID)
			respondError(c, err)
			return
		}
		inputRefs = append(inputRefs, path)
	}

	record := &tasks.Record{
		TaskID:    taskID,
		SessionID: sessionID,
		FileCount: len(files),
		InputRefs: inputRefs,
	}
	if err := h.manager.Enqueue(ctx, record); err != nil {
		_ = h.storage.Purge(sessionID, taskID)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, uploadResponse{
		TaskID:    taskID,
		Status:    string(tasks.StatusQueued),
		FileCount: len(files),
		CreatedAt: record.CreatedAt,
	})
}

// validateBatch は各ファイルのサイズとマジックバイトによる種別、および
// バッチ全体の合計サイズを、書き込みより前にすべて検証する。検証に
// 失敗したバッチは何も残さない。
func (h *UploadHandler) validateBatch(files []*multipart.FileHeader) error {
	var total int64
	for _, fh := range files {
		total += fh.Size
	}
	if h.cfg.MaxUploadSize > 0 && total > h.cfg.MaxUploadSize {
		return apperr.New(apperr.CodePayloadTooLarge, "アップロード全体のサイズが上限を超えています。", nil)
	}
	for _, fh := range files {
		if fh.Size == 0 {
			return apperr.New(apperr.CodeBadRequest, fmt.Sprintf("空のファイルです: %s", fh.Filename), nil)
		}
		if fh.Size > h.cfg.MaxFileSize {
			return apperr.New(apperr.CodePayloadTooLarge, fmt.Sprintf("ファイルサイズが上限を超えています: %s", fh.Filename), nil)
		}
		if err := h.checkMagicBytes(fh); err != nil {
			return err
		}
	}
	return nil
}

func (h *UploadHandler) checkMagicBytes(fh *multipart.FileHeader) error {
	f, err := fh.Open()
	if err != nil {
		return apperr.New(apperr.CodeBadRequest, fmt.Sprintf("ファイルの読み込みに失敗しました: %s", fh.Filename), err)
	}
	defer f.Close()

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		return apperr.New(apperr.CodeBadRequest, fmt.Sprintf("ファイル種別の判定に失敗しました: %s", fh.Filename), err)
	}
	if !isAllowedType(mtype) {
		return apperr.New(apperr.CodeUnsupportedMediaType, fmt.Sprintf("PDFまたはZIPのみアップロードできます: %s", fh.Filename), nil)
	}
	return nil
}

func isAllowedType(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("application/pdf") || m.Is("application/zip") {
			return true
		}
	}
	return false
}

func (h *UploadHandler) storeFile(sessionID, taskID string, ordinal int, fh *multipart.FileHeader) (string, int64, error) {
	f, err := fh.Open()
	if err != nil {
		return "", 0, apperr.New(apperr.CodeBadRequest, fmt.Sprintf("ファイルの読み込みに失敗しました: %s", fh.Filename), err)
	}
	defer f.Close()
	return h.storage.StoreUpload(sessionID, taskID, ordinal, fh.Filename, f, fh.Size)
}

// Limits はGET /api/upload/limitsに応答する。
func (h *UploadHandler) Limits(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"max_file_size":      h.cfg.MaxFileSize,
		"max_upload_size":    h.cfg.MaxUploadSize,
		"allowed_extensions": []string{".pdf", ".zip"},
		"allowed_mime_types": []string{"application/pdf", "application/zip"},
	})
}
