package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"

	"github.com/yourusername/invoice-imposer/internal/apperr"
	"github.com/yourusername/invoice-imposer/internal/impose"
)

const outputFilename = "result.pdf"

// handleImposeTask はtaskTypeImpose用に登録されたasynqハンドラです。
// ワーカーループの各段階は以下の通りです。
//  1. デキュー（asynqが実施済み）してqueued -> processingへCAS
//  2. storage経由で入力を開く（ZIP入力は展開）
//  3. stage=extracting, progress=5を報告
//  4. 合成エンジンを呼び出し、進捗を間引いて転送
//  5. 出力を永続化し、processing -> completedへCAS
//  6. エラー時はprocessing -> failedへCAS、error_kindを分類
//  7. 協調的キャンセル時はprocessing -> cancelledへCASして出力を破棄
func (m *Manager) handleImposeTask(ctx context.Context, task *asynq.Task) error {
	var payload Payload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	taskID := payload.TaskID
	if taskID == "" {
		return fmt.Errorf("missing task_id in payload")
	}
	defer m.clearCancelFlag(context.Background(), taskID)
	m.markActive(taskID)
	defer m.markInactive(taskID)

	record, err := m.store.UpdateStatus(ctx, taskID, []Status{StatusQueued}, StatusProcessing, func(r *Record) {
		r.Stage = "starting"
	})
	if err != nil {
		if isStale(err) {
			// 既に他所でキャンセル/リトライ済み。何もしない。
			return nil
		}
		return err
	}

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var timedOut, userCancelled atomic.Bool
	hardLimit := time.Duration(m.cfg.HardTimeLimitSeconds) * time.Second
	softLimit := time.Duration(m.cfg.SoftTimeLimitSeconds) * time.Second

	hardTimer := time.AfterFunc(hardLimit, func() { timedOut.Store(true); cancel() })
	defer hardTimer.Stop()
	var softTimer *time.Timer
	if softLimit > 0 && softLimit < hardLimit {
		softTimer = time.AfterFunc(softLimit, func() { timedOut.Store(true); cancel() })
		defer softTimer.Stop()
	}

	watchDone := make(chan struct{})
	go m.watchCancellation(workCtx, taskID, &userCancelled, cancel, watchDone)
	defer func() { <-watchDone }()

	outcome := m.runImposition(workCtx, record)

	switch {
	case outcome.err == nil:
		return m.finishSuccess(ctx, taskID, outcome)
	case userCancelled.Load():
		return m.finishCancelled(ctx, record.SessionID, taskID)
	case timedOut.Load():
		return m.finishFailed(ctx, taskID, ErrorKindTimeout, "処理時間の上限を超えました。")
	default:
		return m.finishFailed(ctx, taskID, classifyErrorKind(outcome.err), outcome.err.Error())
	}
}

type imposeOutcome struct {
	composite  *impose.Composite
	outputPath string
	err        error
}

func (m *Manager) runImposition(ctx context.Context, record *Record) imposeOutcome {
	m.reportProgress(ctx, record.TaskID, 5, "extracting")

	pdfPaths, err := m.resolveInputs(record.TaskID, record.InputRefs)
	if err != nil {
		return imposeOutcome{err: err}
	}
	if len(pdfPaths) == 0 {
		return imposeOutcome{err: apperr.New(apperr.CodeEmptyBatch, "対象となるPDFがありません。", nil)}
	}

	outDir, err := m.storage.OutputDir(record.SessionID, record.TaskID)
	if err != nil {
		return imposeOutcome{err: err}
	}
	outputPath := filepath.Join(outDir, outputFilename)

	// ProgressStaleWindowSecondsをそのまま進捗報告の間引き間隔として
	// 使う。直前の報告からこの秒数以内に届いた報告は（100%を除き）
	// 破棄され、後から送り直されることはない。
	staleWindow := time.Duration(m.cfg.ProgressStaleWindowSeconds) * time.Second
	if staleWindow <= 0 {
		staleWindow = 2 * time.Second
	}
	lastReport := time.Time{}
	progressCB := func(stage string, percent int) {
		now := time.Now()
		if now.Sub(lastReport) < staleWindow && percent < 100 {
			return
		}
		lastReport = now
		pinned := 10 + int(float64(percent)/100*85)
		m.reportProgress(ctx, record.TaskID, pinned, stage)
	}

	composite, err := impose.Compose(ctx, pdfPaths, m.layout, outputPath, m.cfg.MaxComposeBytes, progressCB)
	if err != nil {
		return imposeOutcome{err: err}
	}
	return imposeOutcome{composite: composite, outputPath: outputPath}
}

// resolveInputs はZIPエントリを順番に展開し、展開したPDFをその場に
// 差し込む。バッチ順（および各入力内のページ順）を保つため。
func (m *Manager) resolveInputs(taskID string, inputRefs []string) ([]string, error) {
	var out []string
	for _, ref := range inputRefs {
		if strings.EqualFold(filepath.Ext(ref), ".zip") {
			extracted, err := m.storage.ExtractArchive(taskID, ref)
			if err != nil {
				return nil, err
			}
			out = append(out, extracted...)
			continue
		}
		out = append(out, ref)
	}
	return out, nil
}

func (m *Manager) reportProgress(ctx context.Context, taskID string, percent int, stage string) {
	if err := m.store.UpdateProgress(ctx, taskID, percent, stage); err != nil {
		m.log("update progress task=%s: %v", taskID, err)
	}
}

func (m *Manager) finishSuccess(ctx context.Context, taskID string, outcome imposeOutcome) error {
	_, err := m.store.UpdateStatus(ctx, taskID, []Status{StatusProcessing}, StatusCompleted, func(r *Record) {
		r.Progress = 100
		r.Stage = "completed"
		r.OutputRefs = []string{outcome.outputPath}
	})
	if err != nil && isStale(err) {
		return nil
	}
	return err
}

func (m *Manager) finishCancelled(ctx context.Context, sessionID, taskID string) error {
	_, err := m.store.UpdateStatus(ctx, taskID, []Status{StatusProcessing}, StatusCancelled, func(r *Record) {
		r.OutputRefs = nil
	})
	if err != nil && !isStale(err) {
		return err
	}
	if perr := m.storage.PurgeOutputs(sessionID, taskID); perr != nil {
		m.log("purge outputs for cancelled task=%s: %v", taskID, perr)
	}
	return nil
}

func (m *Manager) finishFailed(ctx context.Context, taskID string, kind ErrorKind, message string) error {
	_, err := m.store.UpdateStatus(ctx, taskID, []Status{StatusProcessing}, StatusFailed, func(r *Record) {
		r.ErrorKind = kind
		r.ErrorMessage = message
	})
	if err != nil && isStale(err) {
		return nil
	}
	return err
}

// watchCancellation はprocessing中、Redisのキャンセルフラグを監視し、
// 検出次第workCtxをキャンセルする。合成エンジンは段階の切れ目でこれを
// 協調的なチェックポイントとして扱う。
func (m *Manager) watchCancellation(ctx context.Context, taskID string, flag *atomic.Bool, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if m.cancelRequested(ctx, taskID) {
				flag.Store(true)
				cancel()
				return
			}
		}
	}
}

func classifyErrorKind(err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case apperr.CodeBadInput:
			return ErrorKindBadInput
		case apperr.CodeEmptyBatch:
			return ErrorKindEmptyBatch
		case apperr.CodeOversize:
			return ErrorKindOversize
		case apperr.CodeTimeout:
			return ErrorKindTimeout
		case apperr.CodeCancelled:
			return ErrorKindCancelled
		case apperr.CodeShutdown:
			return ErrorKindShutdown
		}
	}
	return ErrorKindInternal
}
