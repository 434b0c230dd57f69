package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	jobKeyPrefix      = "job:"
	userJobsKeyPrefix = "user_jobs:"
	dedupKeyPrefix    = "jobdedup:"
)

// ErrInvalidTransition は一方向の状態遷移規則に反した更新を表します。
var ErrInvalidTransition = fmt.Errorf("invalid status transition")

// Store はジョブ状態を Redis に保存します。
// ユーザーごとの一覧は作成時刻スコアのZSETで索引します。
type Store struct {
	rdb         *redis.Client
	ttl         time.Duration
	dedupWindow time.Duration
}

// NewStore は Store を作成します。
func NewStore(rdb *redis.Client, ttl, dedupWindow time.Duration) *Store {
	return &Store{
		rdb:         rdb,
		ttl:         ttl,
		dedupWindow: dedupWindow,
	}
}

// Get はジョブ情報を取得します。見つからない場合は (nil, nil) を返します。
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Create は新規ジョブを保存し、ユーザー索引に登録します。
func (s *Store) Create(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if record.JobID == "" || record.UserID == "" {
		return fmt.Errorf("jobID and userID are required")
	}
	now := time.Now().UTC()
	record.Status = StatusPending
	record.CreatedAt = now
	record.UpdatedAt = now
	if s.ttl > 0 {
		record.ExpiresAt = now.Add(s.ttl)
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(record.JobID), payload, s.ttl)
	pipe.ZAdd(ctx, userJobsKey(record.UserID), redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: record.JobID,
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, userJobsKey(record.UserID), s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// ClaimDedup は (ユーザー, 種別, 対象) の組に対する重複排除ウィンドウを
// 確保します。falseのときは同一ジョブが直近に投入済みです。
func (s *Store) ClaimDedup(ctx context.Context, userID string, kind TargetKind, target string) (bool, error) {
	key := dedupKey(userID, kind, target)
	return s.rdb.SetNX(ctx, key, "1", s.dedupWindow).Result()
}

// ReleaseDedup は重複排除ウィンドウを明示的に解放します。
// ジョブ作成が途中で失敗した場合の巻き戻しに使います。
func (s *Store) ReleaseDedup(ctx context.Context, userID string, kind TargetKind, target string) {
	_ = s.rdb.Del(ctx, dedupKey(userID, kind, target)).Err()
}

// ListByUser はユーザーのジョブを新しい順に返します。
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]*Record, error) {
	if limit <= 0 {
		limit = 50
	}
	ids, err := s.rdb.ZRevRange(ctx, userJobsKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(ids))
	for _, id := range ids {
		record, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if record == nil {
			// TTL切れのジョブは索引からも掃除する。
			_ = s.rdb.ZRem(ctx, userJobsKey(userID), id).Err()
			continue
		}
		records = append(records, record)
	}
	return records, nil
}

// MarkProcessing はジョブを処理中に遷移させます。pending以外からの
// 遷移は ErrInvalidTransition を返します。
func (s *Store) MarkProcessing(ctx context.Context, jobID, outputDir string) error {
	return s.updatePartial(ctx, jobID, func(record *Record) error {
		if !CanTransition(record.Status, StatusProcessing) {
			return fmt.Errorf("%w: %s -> processing", ErrInvalidTransition, record.Status)
		}
		now := time.Now().UTC()
		record.Status = StatusProcessing
		record.StartedAt = &now
		record.OutputDir = outputDir
		return nil
	})
}

// MarkCompleted はジョブを完了に遷移させます。
func (s *Store) MarkCompleted(ctx context.Context, jobID, reportPath, reportURL string) error {
	return s.updatePartial(ctx, jobID, func(record *Record) error {
		if !CanTransition(record.Status, StatusCompleted) {
			return fmt.Errorf("%w: %s -> completed", ErrInvalidTransition, record.Status)
		}
		now := time.Now().UTC()
		record.Status = StatusCompleted
		record.CompletedAt = &now
		record.ReportPath = reportPath
		record.ReportURL = reportURL
		record.ErrorMessage = ""
		return nil
	})
}

// MarkFailed はジョブを失敗に遷移させます。失敗も processing を
// 経由した場合のみ許します。
func (s *Store) MarkFailed(ctx context.Context, jobID, message string) error {
	return s.updatePartial(ctx, jobID, func(record *Record) error {
		if !CanTransition(record.Status, StatusFailed) {
			return fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, record.Status)
		}
		now := time.Now().UTC()
		record.Status = StatusFailed
		record.CompletedAt = &now
		record.ErrorMessage = message
		return nil
	})
}

// Delete はジョブレコードと索引エントリを削除します。
// 作業ディレクトリの削除は呼び出し側の責務です。
func (s *Store) Delete(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, jobKey(record.JobID))
	pipe.ZRem(ctx, userJobsKey(record.UserID), record.JobID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) updatePartial(ctx context.Context, jobID string, mutate func(*Record) error) error {
	key := jobKey(jobID)
	for {
		tx := s.rdb.TxPipeline()
		data, err := s.rdb.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return fmt.Errorf("job not found: %s", jobID)
			}
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		if err := mutate(&record); err != nil {
			return err
		}
		record.UpdatedAt = time.Now().UTC()
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		tx.Set(ctx, key, payload, s.ttl)
		_, err = tx.Exec(ctx)
		if err == redis.TxFailedErr {
			continue
		}
		return err
	}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func userJobsKey(userID string) string {
	return userJobsKeyPrefix + userID
}

func dedupKey(userID string, kind TargetKind, target string) string {
	normalized := strings.ToLower(strings.TrimSpace(target))
	return fmt.Sprintf("%s%s:%s:%s", dedupKeyPrefix, userID, kind, normalized)
}
