// Package cli はコマンドラインアクションを実装します
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/task"
	"github.com/bmccarn/paperless-knowledge-graph/internal/platform/container"
	"github.com/bmccarn/paperless-knowledge-graph/internal/platform/logger"
	"github.com/bmccarn/paperless-knowledge-graph/pkg/config"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Container *container.ServiceContainer
}

// NewAppContext は設定ファイルを読み込み、DBに接続して AppContext を作成する
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.LogLevel),
		Format: cfg.LogFormat,
	})

	cont, err := container.New(ctx, appLogger, cfg)
	if err != nil {
		return nil, fmt.Errorf("コンテナの初期化に失敗: %w", err)
	}

	return &AppContext{
		Config:    cfg,
		Container: cont,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}

// Logger はAppContextのロガーを返す
func (ac *AppContext) Logger() *slog.Logger {
	if ac.Container != nil {
		return ac.Container.Logger()
	}
	return slog.Default()
}

// runTask はタスクをレジストリ経由で開始し、完了まで進捗を表示しながら待ちます
// コンテキストが打ち切られた場合はタスクをキャンセルして結果を待ちます
func runTask(ctx context.Context, appCtx *AppContext, kind task.Kind, runner task.Runner) (task.Snapshot, error) {
	registry := appCtx.Container.Registry

	id, err := registry.Start(kind, runner)
	if err != nil {
		return task.Snapshot{}, fmt.Errorf("タスクの開始に失敗: %w", err)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	done := ctx.Done()
	for {
		select {
		case <-done:
			// 一度だけキャンセルを要求し、以後はタスクの終了を待つ
			done = nil
			if err := registry.Cancel(id); err != nil {
				appCtx.Logger().Warn("タスクのキャンセルに失敗しました", "error", err)
			}
		case <-ticker.C:
		}

		snapshot, ok := registry.Get(id)
		if !ok {
			return task.Snapshot{}, task.ErrTaskNotFound
		}
		if snapshot.Status.IsTerminal() {
			return snapshot, nil
		}
		printProgress(snapshot)
	}
}

func printProgress(s task.Snapshot) {
	if s.TotalDocs == 0 {
		return
	}
	done := s.Processed + s.Skipped + s.Errors
	fmt.Printf("  %d/%d  processed=%d skipped=%d errors=%d  %.1f docs/min\n",
		done, s.TotalDocs, s.Processed, s.Skipped, s.Errors, s.DocsPerMinute)
}
