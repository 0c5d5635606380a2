package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/bmccarn/paperless-knowledge-graph/internal/core/task"
)

// ResolveAction はエンティティの名寄せを実行するコマンドのアクション
// --dry-runの場合はマージ計画の表示のみ行い、グラフは変更しません
func ResolveAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	dryRun := cmd.Bool("dry-run")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	resolver := appCtx.Container.Resolver

	if dryRun {
		plan, err := resolver.Plan(ctx)
		if err != nil {
			return fmt.Errorf("名寄せ計画の作成に失敗: %w", err)
		}

		if len(plan.Clusters) == 0 {
			fmt.Println("no merge candidates found")
		} else {
			table := tablewriter.NewWriter(os.Stdout)
			table.Header("Canonical", "Merged", "Type")
			for _, cluster := range plan.Clusters {
				for _, merged := range cluster.Merged {
					table.Append(cluster.CanonicalName, merged.Name, string(merged.Type))
				}
			}
			table.Render()
		}

		if len(plan.Skipped) > 0 {
			fmt.Printf("\n%d ambiguous pairs skipped:\n", len(plan.Skipped))
			for _, pair := range plan.Skipped {
				fmt.Printf("  %q / %q (score=%.2f): %s\n", pair.NameA, pair.NameB, pair.Score, pair.Reason)
			}
		}
		return nil
	}

	snapshot, err := runTask(ctx, appCtx, task.KindResolveEntities, func(ctx context.Context, progress *task.Progress) (any, error) {
		return resolver.ResolveAll(ctx)
	})
	if err != nil {
		return err
	}
	if snapshot.Status == task.StatusFailed {
		return fmt.Errorf("entity resolution failed: %s", snapshot.Error)
	}

	fmt.Println("entity resolution finished")
	return nil
}
