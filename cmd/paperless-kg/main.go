package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/bmccarn/paperless-knowledge-graph/internal/app/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envFlag := &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}

	app := &cli.Command{
		Name:  "paperless-kg",
		Usage: "Paperless-ngx文書アーカイブの知識グラフ構築・検索システム",
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "HTTP APIサーバを起動",
				Flags: []cli.Flag{
					envFlag,
					&cli.IntFlag{
						Name:  "port",
						Usage: "HTTPポート（省略時は環境変数またはデフォルトの8080）",
					},
				},
				Action: appcli.ServeAction,
			},
			{
				Name:   "sync",
				Usage:  "前回同期以降に変更された文書を取り込む",
				Flags:  []cli.Flag{envFlag},
				Action: appcli.SyncAction,
			},
			{
				Name:  "reindex",
				Usage: "全文書（または--docで指定した文書）を再処理",
				Flags: []cli.Flag{
					envFlag,
					&cli.IntFlag{
						Name:  "doc",
						Usage: "再処理する文書ID（省略時は全文書）",
					},
				},
				Action: appcli.ReindexAction,
			},
			{
				Name:  "resolve",
				Usage: "重複エンティティの名寄せを実行",
				Flags: []cli.Flag{
					envFlag,
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "マージ計画の表示のみ（グラフは変更しない）",
					},
				},
				Action: appcli.ResolveAction,
			},
			{
				Name:  "summarize",
				Usage: "エンティティの説明文を生成",
				Flags: []cli.Flag{
					envFlag,
					&cli.BoolFlag{
						Name:  "force",
						Usage: "既に説明文を持つエンティティも再生成",
					},
				},
				Action: appcli.SummarizeAction,
			},
			{
				Name:  "query",
				Usage: "知識グラフと文書に対して質問する",
				Flags: []cli.Flag{
					envFlag,
					&cli.BoolFlag{
						Name:  "show-sources",
						Usage: "参照文書と追加質問の候補を表示",
					},
				},
				Action: appcli.QueryAction,
			},
			{
				Name:   "status",
				Usage:  "グラフ・埋め込みの統計を表示",
				Flags:  []cli.Flag{envFlag},
				Action: appcli.StatusAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
