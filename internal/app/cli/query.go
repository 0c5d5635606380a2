package cli

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/query"
)

// QueryAction は質問応答コマンドのアクション
// 回答はストリームされるそばから標準出力へ書き出します
func QueryAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	showSources := cmd.Bool("show-sources")

	question := cmd.Args().First()
	if question == "" {
		return fmt.Errorf("質問文を指定してください")
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	events, err := appCtx.Container.Engine.Answer(ctx, question, nil)
	if err != nil {
		return err
	}

	var result *query.Result
	var failure string
	for ev := range events {
		switch ev.Type {
		case query.EventStatus:
			appCtx.Logger().Info(ev.Message)
		case query.EventAnswerChunk:
			fmt.Print(ev.Content)
		case query.EventComplete:
			fmt.Println()
			result = ev.Result
		case query.EventError:
			failure = ev.Message
		}
	}

	if result == nil {
		if failure == "" {
			failure = "no answer produced"
		}
		return fmt.Errorf("質問応答に失敗: %s", failure)
	}

	if showSources && len(result.Sources) > 0 {
		fmt.Println("\n--- 参照文書 ---")
		for i, source := range result.Sources {
			fmt.Printf("[%d] document %d (類似度 %.3f)\n", i+1, source.DocumentID, source.Similarity)
		}
	}
	if showSources && len(result.FollowUps) > 0 {
		fmt.Println("\n--- 追加で調べるとよい質問 ---")
		for _, q := range result.FollowUps {
			fmt.Printf("  - %s\n", q)
		}
	}

	fmt.Printf("\nconfidence: %.2f\n", result.Confidence)
	return nil
}
