package document

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrDocumentNotFound は文書が見つからない場合のエラー
	ErrDocumentNotFound = errors.New("document not found")

	// ErrSourceUnavailable はドキュメントソースに到達できない場合のエラー
	ErrSourceUnavailable = errors.New("document source unavailable")
)

// Source はドキュメントアーカイブへの読み取り専用アクセスを提供します
type Source interface {
	// Get はIDで1文書を取得します
	Get(ctx context.Context, id int) (Document, error)

	// ListAll は全文書を取得します
	ListAll(ctx context.Context) ([]Document, error)

	// ListModifiedSince は指定日時以降に更新された文書を取得します
	ListModifiedSince(ctx context.Context, since time.Time) ([]Document, error)

	// Ping は接続確認を行います
	Ping(ctx context.Context) error
}
