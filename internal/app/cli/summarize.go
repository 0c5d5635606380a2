package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// SummarizeAction は全エンティティの説明文を生成するコマンドのアクション
func SummarizeAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	force := cmd.Bool("force")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	report, err := appCtx.Container.Summarizer.SummarizeAll(ctx, force)
	if err != nil {
		return fmt.Errorf("エンティティ要約に失敗: %w", err)
	}

	fmt.Printf("summarized=%d skipped=%d failed=%d (total %d)\n",
		report.Summarized, report.Skipped, report.Failed, report.Total)
	return nil
}
