package tasks

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/yourusername/invoice-imposer/internal/apperr"
	"github.com/yourusername/invoice-imposer/internal/storage"
)

// Sweeper は定期クリーンアップを実行する。一定間隔でファイルシステム
// を掃除して期限切れオブジェクトを削除し、出力を削除されたcompleted
// レコードをexpiredに降格する。
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	retain   time.Duration
	logger   *log.Logger
	cron     *cron.Cron
	clock    Clock
}

// NewSweeper はSweeperを構築する。Startを呼ぶまで起動しない。
func NewSweeper(manager *Manager, interval, retention time.Duration, logger *log.Logger) *Sweeper {
	return &Sweeper{
		manager:  manager,
		interval: interval,
		retain:   retention,
		logger:   logger,
		cron:     cron.New(),
		clock:    systemClock,
	}
}

// Start はmanager.cfg.CleanupIntervalHoursの間隔でスイープをスケジュール
// し、即座に返る。cronスケジューラは自身のgoroutineで動く。
func (s *Sweeper) Start() {
	spec := fmt.Sprintf("@every %s", s.interval.String())
	_, err := s.cron.AddFunc(spec, func() { s.RunOnce(context.Background()) })
	if err != nil {
		s.log("schedule sweep: %v", err)
		return
	}
	s.cron.Start()
}

// Stop はスケジューラを止め、実行中のスイープの完了を待つ。
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce はスイープ→降格を1回実行する。管理用のクリーンアップ
// トリガーエンドポイントから任意のタイミングで呼べるようexportしている。
func (s *Sweeper) RunOnce(ctx context.Context) {
	cutoff := s.clock().Add(-s.retain)
	result, err := s.manager.storage.Sweep(cutoff, s.manager.IsActive)
	if err != nil {
		s.log("sweep failed: %v", err)
		return
	}
	if len(result.AffectedTasks) == 0 {
		return
	}
	s.log("sweep removed %d files (%d bytes) across %d tasks", result.FilesRemoved, result.BytesRemoved, len(result.AffectedTasks))

	for _, taskID := range result.AffectedTasks {
		record, err := s.manager.store.Get(ctx, taskID)
		if err != nil || record.Status != StatusCompleted {
			continue
		}
		objects, _ := s.manager.storage.ListObjects(record.SessionID, taskID)
		outputLeft := false
		for _, o := range objects {
			if o.Role == storage.RoleOutput {
				outputLeft = true
				break
			}
		}
		if outputLeft {
			continue
		}
		_, err = s.manager.store.UpdateStatus(ctx, taskID, []Status{StatusCompleted}, StatusExpired, nil)
		var appErr *apperr.Error
		if err != nil && !errors.As(err, &appErr) {
			s.log("demote task=%s to expired: %v", taskID, err)
		}
	}
}

func (s *Sweeper) log(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
