package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yourusername/invoice-imposer/internal/apperr"
)

const (
	taskKeyPrefix    = "task:"
	sessionKeyPrefix = "session:"
	sessionKeySuffix = ":tasks"
)

// TTLs は終端状態のレコードがRedisに残る期間を設定する。
type TTLs struct {
	Completed time.Duration
	Terminal  time.Duration // expired / cancelled
}

// Store はRedisを使ったタスクレジストリ（component C）。teacherの
// jobs.Storeの楽観的リトライパターンを踏襲し、セッション別インデックス
// と状態遷移付きCASを追加したもの。
type Store struct {
	rdb   *redis.Client
	ttls  TTLs
	clock Clock
}

// NewStore はStoreを構築する。clockがnilならシステムクロックを使う。
func NewStore(rdb *redis.Client, ttls TTLs, clock Clock) *Store {
	if clock == nil {
		clock = systemClock
	}
	return &Store{rdb: rdb, ttls: ttls, clock: clock}
}

func taskKey(id string) string    { return taskKeyPrefix + id }
func sessionKey(id string) string { return sessionKeyPrefix + id + sessionKeySuffix }

// Create は新しいレコードを登録し、セッションのインデックスにも
// 追加する。task_idが既に存在する場合は失敗する。
func (s *Store) Create(ctx context.Context, record *Record) error {
	if record == nil || record.TaskID == "" {
		return fmt.Errorf("record with task_id is required")
	}
	now := s.clock()
	record.CreatedAt = now
	record.UpdatedAt = now

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	ok, err := s.rdb.SetNX(ctx, taskKey(record.TaskID), payload, 0).Result()
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.CodeBadRequest, "タスクIDが既に存在します。", nil)
	}
	return s.rdb.SAdd(ctx, sessionKey(record.SessionID), record.TaskID).Err()
}

// Get returns the record for taskID, or apperr.CodeNotFound if absent.
func (s *Store) Get(ctx context.Context, taskID string) (*Record, error) {
	data, err := s.rdb.Get(ctx, taskKey(taskID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperr.New(apperr.CodeNotFound, "タスクが見つかりません。", nil)
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// GetOwned はsessionIDが一致する場合のみレコードを返す。不一致
// （「存在しない」場合を含む）は所有権オラクルを作らないよう一律
// NotFoundとして報告する。
func (s *Store) GetOwned(ctx context.Context, taskID, sessionID string) (*Record, error) {
	record, err := s.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if record.SessionID != sessionID {
		return nil, apperr.New(apperr.CodeNotFound, "タスクが見つかりません。", nil)
	}
	return record, nil
}

// List はsessionIDに紐づく生存レコードを新しい順に返す（statusで
// 絞り込み可）。セッションインデックスに残っているが実体が既に
// Redisから期限切れしたタスクIDは、返却せずスキップする。
func (s *Store) List(ctx context.Context, sessionID string, statusFilter Status) ([]*Record, error) {
	ids, err := s.rdb.SMembers(ctx, sessionKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	var records []*Record
	var goneIDs []string
	for i, v := range values {
		if v == nil {
			goneIDs = append(goneIDs, ids[i])
			continue
		}
		var record Record
		if err := json.Unmarshal([]byte(v.(string)), &record); err != nil {
			continue
		}
		if statusFilter != "" && record.Status != statusFilter {
			continue
		}
		records = append(records, &record)
	}

	if len(goneIDs) > 0 {
		s.rdb.SRem(ctx, sessionKey(sessionID), toAny(goneIDs)...)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func toAny(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// UpdateStatus atomically transitions a record from one of expectedFrom
// to `to`, applying mutate under a WATCH-based optimistic-lock retry
// loop: the key is watched from the Get through the Set, so a
// concurrent writer forces a retry instead of silently losing an
// update. It fails with apperr.CodeStaleState if the observed status
// is not among expectedFrom.
func (s *Store) UpdateStatus(ctx context.Context, taskID string, expectedFrom []Status, to Status, mutate func(*Record)) (*Record, error) {
	key := taskKey(taskID)
	for {
		var result *Record
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					return apperr.New(apperr.CodeNotFound, "タスクが見つかりません。", nil)
				}
				return err
			}
			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			if !containsStatus(expectedFrom, record.Status) {
				return apperr.New(apperr.CodeStaleState, fmt.Sprintf("タスクは既に %s の状態です。", record.Status), nil)
			}

			record.Status = to
			record.UpdatedAt = s.clock()
			if to == StatusCompleted {
				completedAt := s.clock()
				record.CompletedAt = &completedAt
			}
			if mutate != nil {
				mutate(&record)
			}

			payload, err := json.Marshal(&record)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttlFor(to))
				return nil
			})
			if err != nil {
				return err
			}
			result = &record
			return nil
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return nil, err
		}
		return result, nil
	}
}

// UpdateProgress enforces monotonicity: a lower value than currently
// stored is silently ignored while the task is processing. Uses the
// same WATCH-based CAS as UpdateStatus.
func (s *Store) UpdateProgress(ctx context.Context, taskID string, progress int, stage string) error {
	key := taskKey(taskID)
	for {
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if err == redis.Nil {
					return apperr.New(apperr.CodeNotFound, "タスクが見つかりません。", nil)
				}
				return err
			}
			var record Record
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			if record.Status != StatusProcessing {
				return nil
			}
			if progress < record.Progress {
				return nil
			}
			record.Progress = progress
			record.Stage = stage
			record.UpdatedAt = s.clock()

			payload, err := json.Marshal(&record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, s.ttlFor(record.Status))
				return nil
			})
			return err
		}, key)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
}

// Delete はレコードとセッションインデックスのエントリを削除する。
// 冪等。
func (s *Store) Delete(ctx context.Context, taskID, sessionID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, taskKey(taskID))
	pipe.SRem(ctx, sessionKey(sessionID), taskID)
	_, err := pipe.Exec(ctx)
	return err
}

// Statistics はセッションの全タスクの状態別件数と、completedタスクの
// 平均完了時間（completed_at - created_at）を集計する。
func (s *Store) Statistics(ctx context.Context, sessionID string) (*Statistics, error) {
	records, err := s.List(ctx, sessionID, "")
	if err != nil {
		return nil, err
	}

	stats := &Statistics{
		SessionID:      sessionID,
		CountsByStatus: make(map[Status]int),
	}
	var totalCompleteSec float64
	var completedN int

	for _, r := range records {
		stats.CountsByStatus[r.Status]++
		stats.Total++
		if r.Status == StatusCompleted && r.CompletedAt != nil {
			totalCompleteSec += r.CompletedAt.Sub(r.CreatedAt).Seconds()
			completedN++
		}
	}
	if completedN > 0 {
		stats.AverageCompleteSec = totalCompleteSec / float64(completedN)
	}
	return stats, nil
}

func (s *Store) ttlFor(status Status) time.Duration {
	switch status {
	case StatusCompleted, StatusFailed:
		return s.ttls.Completed
	case StatusExpired, StatusCancelled:
		return s.ttls.Terminal
	default:
		return 0
	}
}

func containsStatus(list []Status, s Status) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
