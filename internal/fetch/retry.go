package fetch

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultMaxAttempts = 3
	defaultBaseDelay   = 2 * time.Second
	defaultMaxDelay    = 30 * time.Second
)

// Retryer は失敗しうる取得処理を指数バックオフ付きで再試行します。
// 設定は常に値として受け渡し、グローバル変数は持ちません。
type Retryer struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration

	// sleep はテストで差し替えるための待機関数です。nil なら実時間で待ちます。
	sleep func(ctx context.Context, d time.Duration) error
	// jitter はテストで差し替えるための乱数源です。nil なら math/rand を使います。
	jitter func() float64
}

// NewRetryer は最大試行回数を指定して Retryer を作成します。
// attempts が0以下の場合は既定値3を使います。
func NewRetryer(attempts int) *Retryer {
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	return &Retryer{
		MaxAttempts: attempts,
		BaseDelay:   defaultBaseDelay,
		MaxDelay:    defaultMaxDelay,
	}
}

// Delay はattempt回目（0-based）の失敗後に待つ時間を返します。
// min(base * 2^attempt, cap) に 0〜10% のジッターを加えます。
// ジッターはスケジューリング目的のみで、暗号強度は不要です。
func (r *Retryer) Delay(attempt int) time.Duration {
	base := r.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}
	cap := r.MaxDelay
	if cap <= 0 {
		cap = defaultMaxDelay
	}

	delay := base << uint(attempt)
	if delay > cap || delay <= 0 {
		delay = cap
	}

	frac := rand.Float64
	if r.jitter != nil {
		frac = r.jitter
	}
	jitter := time.Duration(frac() * 0.1 * float64(delay))
	return delay + jitter
}

// Do は op を最大 MaxAttempts 回実行します。
// エラーも空結果も再試行対象です（不安定な上流の空応答と真の「該当なし」は
// 区別できないため、空結果の再試行は可用性側に倒した意図的な判断です）。
// Permanent でマークされたエラーは即座に Error として返します。
// この境界からエラーが外に伝播することはありません。
func (r *Retryer) Do(ctx context.Context, op func(ctx context.Context) ([]Record, error)) Result {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Errorf("canceled: %v", err)
		}

		records, err := op(ctx)
		if err == nil && len(records) > 0 {
			return Ok(records)
		}
		if err != nil {
			if IsPermanent(err) {
				return Errorf("%v", err)
			}
			lastErr = err
		}

		if attempt < attempts-1 {
			if werr := r.wait(ctx, r.Delay(attempt)); werr != nil {
				return Errorf("canceled: %v", werr)
			}
		}
	}

	if lastErr != nil {
		return Errorf("failed after %d attempts: %v", attempts, lastErr)
	}
	return Empty()
}

func (r *Retryer) wait(ctx context.Context, d time.Duration) error {
	if r.sleep != nil {
		return r.sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
