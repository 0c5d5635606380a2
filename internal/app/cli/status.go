package cli

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

// StatusAction はグラフと埋め込みの統計を表示するコマンドのアクション
func StatusAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	counts, err := appCtx.Container.GraphRepo.Counts(ctx)
	if err != nil {
		return fmt.Errorf("グラフ統計の取得に失敗: %w", err)
	}
	stats, err := appCtx.Container.Vectors.Stats(ctx)
	if err != nil {
		return fmt.Errorf("埋め込み統計の取得に失敗: %w", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Metric", "Count")
	table.Append("entities", strconv.Itoa(counts.Entities))
	table.Append("documents", strconv.Itoa(counts.Documents))
	table.Append("relationships", strconv.Itoa(counts.Relationships))
	table.Append("document chunks", strconv.Itoa(stats.DocumentChunks))
	table.Append("entity embeddings", strconv.Itoa(stats.EntityEmbeddings))
	table.Append("docs with embeddings", strconv.Itoa(stats.DocsWithEmbeddings))
	table.Render()

	lastSync, err := appCtx.Container.State.LastSync(ctx)
	if err == nil {
		if t, ok := lastSync.Get(); ok {
			fmt.Printf("last sync: %s\n", t.Format("2006-01-02 15:04:05"))
		} else {
			fmt.Println("last sync: never")
		}
	}
	return nil
}
