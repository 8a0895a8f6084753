package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/invoice-imposer/internal/apperr"
	"github.com/yourusername/invoice-imposer/internal/config"
	"github.com/yourusername/invoice-imposer/internal/impose"
	"github.com/yourusername/invoice-imposer/internal/storage"
)

const (
	taskTypeImpose = "impose:compose"
	queueName      = "impose"
)

// Payload はasynqタスク本体。workerがレジストリとストレージから残りを
// 引くのに必要な情報のみを持つ。
type Payload struct {
	TaskID string `json:"task_id"`
}

// Manager はasynqのclient/serverペアを保持し、APIサーフェスとworker
// ループが必要とするキュー操作（受理判定、enqueue、cancel、retry、
// shutdown）を仲介する。teacherのjobs.Manager構成を踏襲し、単一の
// pdf.Service呼び出しから合成エンジン＋ストレージへ一般化したもの。
type Manager struct {
	cfg       *config.Config
	client    *asynq.Client
	inspector *asynq.Inspector
	server    *asynq.Server
	mux       *asynq.ServeMux
	rdb       *redis.Client

	store   *Store
	storage *storage.Manager
	layout  impose.LayoutConfig
	logger  *log.Logger

	active sync.Map // taskID -> struct{}、現在workerが処理中のタスク
}

// IsActive はtaskIDを現在workerが処理中かどうかを返す。sweeperが
// 実行中のworkerと競合しないようこれを参照する。
func (m *Manager) IsActive(taskID string) bool {
	_, ok := m.active.Load(taskID)
	return ok
}

func (m *Manager) markActive(taskID string)   { m.active.Store(taskID, struct{}{}) }
func (m *Manager) markInactive(taskID string) { m.active.Delete(taskID) }

// NewManager はasynqのclient/serverをredisURLに配線し、合成ハンドラを
// 登録する。
func NewManager(cfg *config.Config, rdb *redis.Client, store *Store, storageMgr *storage.Manager, layout impose.LayoutConfig, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if storageMgr == nil {
		return nil, fmt.Errorf("storage manager is nil")
	}

	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse queue url: %w", err)
	}

	client := asynq.NewClient(opt)
	inspector := asynq.NewInspector(opt)
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.MaxConcurrentTasks,
		Queues: map[string]int{
			queueName: 1,
		},
	})

	m := &Manager{
		cfg:       cfg,
		client:    client,
		inspector: inspector,
		server:    server,
		mux:       asynq.NewServeMux(),
		rdb:       rdb,
		store:     store,
		storage:   storageMgr,
		layout:    layout,
		logger:    logger,
	}
	m.mux.HandleFunc(taskTypeImpose, m.handleImposeTask)
	return m, nil
}

// StartWorkers はasynqサーバーをバックグラウンドで起動する。teacherの
// Manager.StartWorkersのgoroutineラップ構成を踏襲。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			m.log("asynq server stopped with error: %v", err)
		}
	}()
}

// Shutdown はDrainTimeoutSecondsを上限にworkerをドレインし、その後
// （ドレインが正常に終わったか期限切れかを問わず）processing中の
// タスクをすべてfailed/Shutdownへ CASしてclientを閉じる。
func (m *Manager) Shutdown(ctx context.Context) {
	drained := make(chan struct{})
	go func() {
		m.server.Shutdown()
		close(drained)
	}()

	select {
	case <-drained:
	case <-time.After(time.Duration(m.cfg.DrainTimeoutSeconds) * time.Second):
		m.log("drain deadline exceeded, forcing shutdown")
	}
	// ドレイン期限を過ぎた時点でctxは既に期限切れなので、CASは
	// キャンセルされないコンテキストで行う。
	m.failActiveOnShutdown(context.WithoutCancel(ctx))
	m.client.Close()
	m.inspector.Close()
}

// failActiveOnShutdown はmanagerがまだactiveとみなしている全タスクを
// failed/Shutdownへ CASする。ドレイン中/前に既に終端状態へ達していた
// タスクはここでは何もしない（CASがStatusProcessing以外の状態を観測
// してStaleStateを返すだけ）。
func (m *Manager) failActiveOnShutdown(ctx context.Context) {
	m.active.Range(func(key, _ any) bool {
		taskID, _ := key.(string)
		if taskID == "" {
			return true
		}
		_, err := m.store.UpdateStatus(ctx, taskID, []Status{StatusProcessing}, StatusFailed, func(r *Record) {
			r.ErrorKind = ErrorKindShutdown
			r.ErrorMessage = "サーバーのシャットダウンにより処理が中断されました。"
		})
		if err != nil && !isStale(err) {
			m.log("fail active task=%s on shutdown: %v", taskID, err)
		}
		return true
	})
}

// CheckAdmission はキューが設定された上限に達しているとき
// apperr.CodeBackpressureを返す。バックプレッシャー時はアップロード
// バイトを一切保存しないため、呼び出し側は保存前にこれを確認する。
func (m *Manager) CheckAdmission(ctx context.Context) error {
	info, err := m.inspector.GetQueueInfo(queueName)
	if err != nil {
		// キュー未作成（enqueue実績なし）は空として扱う。
		return nil
	}
	if info.Pending+info.Active >= m.cfg.QueueHighWaterMark {
		return apperr.New(apperr.CodeBackpressure, "処理待ちのタスクが上限に達しています。しばらくしてから再試行してください。", nil)
	}
	return nil
}

// Enqueue はタスクレコードを（status=queuedで）作成し、asynqキューへ
// 投入する。
func (m *Manager) Enqueue(ctx context.Context, record *Record) error {
	record.Status = StatusQueued
	record.Progress = 0
	record.Stage = "queued"
	if err := m.store.Create(ctx, record); err != nil {
		return err
	}
	return m.submit(ctx, record.TaskID)
}

func (m *Manager) submit(ctx context.Context, taskID string) error {
	body, err := json.Marshal(Payload{TaskID: taskID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(taskTypeImpose, body, asynq.Queue(queueName))
	_, err = m.client.EnqueueContext(ctx, task, asynq.MaxRetry(0))
	return err
}

// Start はqueued状態のタスクをasynqキューへ再投入する。queuedのままの
// タスクにしか適用できない。processingへ実際に遷移させるのはasynqの
// dequeue自体なので、呼び出し側にはこの呼び出しが引き起こせない状態
// ではなく、タスクの実際の状態を返す。
func (m *Manager) Start(ctx context.Context, taskID, sessionID string) (*Record, error) {
	record, err := m.store.GetOwned(ctx, taskID, sessionID)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusQueued {
		return nil, apperr.New(apperr.CodeStaleState, "キュー投入済みのタスクのみ開始できます。", nil)
	}
	if err := m.submit(ctx, taskID); err != nil {
		return nil, err
	}
	return record, nil
}

// Cancel はタスクをキャンセルする。queued状態ならレジストリ上で直接
// cancelledへ遷移させる（asynqキュー上のメッセージは削除されずに残り、
// dequeueしたworkerのqueued -> processing CASが失敗して破棄される）。
// processing状態ならworkerがチェックポイントで監視する
// Redisのキャンセルフラグを立てて協調的に通知する。終端状態のタスク
// に対しては何もしない。
func (m *Manager) Cancel(ctx context.Context, taskID, sessionID string) (*Record, error) {
	record, err := m.store.GetOwned(ctx, taskID, sessionID)
	if err != nil {
		return nil, err
	}
	if record.Status.terminal() {
		return record, nil
	}

	if record.Status == StatusQueued {
		updated, err := m.store.UpdateStatus(ctx, taskID, []Status{StatusQueued}, StatusCancelled, nil)
		if err != nil {
			if isStale(err) {
				return m.store.GetOwned(ctx, taskID, sessionID)
			}
			return nil, err
		}
		return updated, nil
	}

	if err := m.setCancelFlag(ctx, taskID); err != nil {
		return nil, err
	}
	return record, nil
}

// Retry はタスクを再試行する。進捗をリセットし、再度enqueueして
// retry_countを増やし、input_refsは使い回す。failedからしか呼べない。
func (m *Manager) Retry(ctx context.Context, taskID, sessionID string) (*Record, error) {
	record, err := m.store.GetOwned(ctx, taskID, sessionID)
	if err != nil {
		return nil, err
	}
	if record.Status != StatusFailed {
		return nil, apperr.New(apperr.CodeStaleState, "失敗したタスクのみ再試行できます。", nil)
	}

	updated, err := m.store.UpdateStatus(ctx, taskID, []Status{StatusFailed}, StatusQueued, func(r *Record) {
		r.Progress = 0
		r.Stage = "queued"
		r.ErrorKind = ""
		r.ErrorMessage = ""
		r.OutputRefs = nil
		r.RetryCount++
	})
	if err != nil {
		return nil, err
	}
	if err := m.submit(ctx, taskID); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete はレジストリのレコードとストレージ上のオブジェクトの両方を
// 削除する。
func (m *Manager) Delete(ctx context.Context, taskID, sessionID string) error {
	record, err := m.store.GetOwned(ctx, taskID, sessionID)
	if err != nil {
		return err
	}
	if err := m.storage.Purge(sessionID, record.TaskID); err != nil {
		return err
	}
	return m.store.Delete(ctx, taskID, sessionID)
}

func (m *Manager) cancelFlagKey(taskID string) string { return "cancel:" + taskID }

func (m *Manager) setCancelFlag(ctx context.Context, taskID string) error {
	ttl := time.Duration(m.cfg.HardTimeLimitSeconds) * time.Second
	return m.rdb.Set(ctx, m.cancelFlagKey(taskID), "1", ttl).Err()
}

func (m *Manager) cancelRequested(ctx context.Context, taskID string) bool {
	n, err := m.rdb.Exists(ctx, m.cancelFlagKey(taskID)).Result()
	return err == nil && n > 0
}

func (m *Manager) clearCancelFlag(ctx context.Context, taskID string) {
	m.rdb.Del(ctx, m.cancelFlagKey(taskID))
}

func (m *Manager) log(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func isStale(err error) bool {
	var e *apperr.Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == apperr.CodeStaleState
}
