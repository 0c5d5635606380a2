package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/task"
)

// SyncAction は前回同期以降に変更された文書を取り込むコマンドのアクション
func SyncAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	pipeline := appCtx.Container.Pipeline
	snapshot, err := runTask(ctx, appCtx, task.KindSync, func(ctx context.Context, progress *task.Progress) (any, error) {
		return pipeline.Sync(ctx, progress)
	})
	if err != nil {
		return err
	}
	return reportBatch(snapshot)
}

// ReindexAction は全文書または指定文書を再処理するコマンドのアクション
func ReindexAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	docID := int(cmd.Int("doc"))

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	pipeline := appCtx.Container.Pipeline

	if docID > 0 {
		snapshot, err := runTask(ctx, appCtx, task.KindReindexDocument, func(ctx context.Context, progress *task.Progress) (any, error) {
			progress.SetTotal(1)
			outcome, err := pipeline.ReindexDocument(ctx, docID)
			if err != nil {
				return nil, err
			}
			progress.Record(outcome)
			return outcome, nil
		})
		if err != nil {
			return err
		}
		return reportBatch(snapshot)
	}

	snapshot, err := runTask(ctx, appCtx, task.KindReindex, func(ctx context.Context, progress *task.Progress) (any, error) {
		return pipeline.ReindexAll(ctx, progress)
	})
	if err != nil {
		return err
	}
	return reportBatch(snapshot)
}

// reportBatch はバッチ処理の結果を表示します
func reportBatch(s task.Snapshot) error {
	switch s.Status {
	case task.StatusCompleted:
		fmt.Printf("completed: processed=%d skipped=%d errors=%d (%.1fs)\n",
			s.Processed, s.Skipped, s.Errors, s.ElapsedSec)
		return nil
	case task.StatusCancelled:
		fmt.Printf("cancelled: processed=%d skipped=%d errors=%d\n",
			s.Processed, s.Skipped, s.Errors)
		return nil
	default:
		return fmt.Errorf("task failed: %s", s.Error)
	}
}
