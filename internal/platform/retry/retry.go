package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrMaxRetriesExceeded は最大リトライ回数を超過した場合のエラー
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// Profile はリトライ回数とバックオフ間隔の組を表します
type Profile struct {
	// MaxRetries は初回試行を除くリトライ回数
	MaxRetries int
	// BaseDelay はExponential Backoffの基底時間
	BaseDelay time.Duration
	// MaxDelay はバックオフ待機時間の上限
	MaxDelay time.Duration
}

// Remote は外部API（LLM・ドキュメントソース）向けプロファイル
func Remote() Profile {
	return Profile{
		MaxRetries: 3,
		BaseDelay:  2 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// DB はデータベース操作向けプロファイル
func DB() Profile {
	return Profile{
		MaxRetries: 2,
		BaseDelay:  1 * time.Second,
		MaxDelay:   5 * time.Second,
	}
}

// Permanent は即座に失敗させたいエラーをラップします
// リトライ対象の分類に関わらず再試行されません
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do はfnを実行し、一時的なエラーの場合はExponential Backoff（ジッタ付き）で
// 最大MaxRetries回まで再試行します。恒久的なエラーは即座に返します。
// operationはログ出力に使う操作名です。
func Do(ctx context.Context, operation string, profile Profile, fn func(ctx context.Context) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = profile.BaseDelay
	bo.MaxInterval = profile.MaxDelay
	bo.MaxElapsedTime = 0 // 回数で制限する

	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(profile.MaxRetries)),
		ctx,
	)

	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++
			err := fn(ctx)
			if err == nil {
				return nil
			}
			if !IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		},
		policy,
		func(err error, wait time.Duration) {
			slog.Warn("操作をリトライします",
				"operation", operation,
				"attempt", attempt,
				"wait", wait.String(),
				"error", err.Error(),
			)
		},
	)
	if err == nil {
		return nil
	}

	// Permanentで包んだエラーはそのまま伝播する
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return fmt.Errorf("%w: %s: %v", ErrMaxRetriesExceeded, operation, err)
}

// IsTransient はエラーが再試行に値する一時的なものかどうかを判定します
// タイムアウト・接続エラー・429・5xxを一時的とみなし、
// 認証エラーやリクエスト不正は恒久的エラーとして扱います
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	// コンテキスト起因の中断はリトライしない
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}

	return false
}

// StatusError はHTTPステータスコードを伴うエラーです
// 外部API呼び出しの失敗をリトライ分類可能な形で表現します
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
}

// Transient はステータスコードが一時的な失敗を示すかどうかを返します
func (e *StatusError) Transient() bool {
	if e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode >= 500 && e.StatusCode <= 599
}

// NewStatusError はステータスコード付きエラーを作成します
func NewStatusError(statusCode int, message string) *StatusError {
	return &StatusError{StatusCode: statusCode, Message: message}
}
