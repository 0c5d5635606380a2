package document

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Document はドキュメントアーカイブ内の1文書を表します
type Document struct {
	// ID はアーカイブ側で採番された文書ID
	ID int

	// Title は文書タイトル
	Title string

	// Content はOCR済みの本文テキスト
	Content string

	// CreatedAt は文書の作成日時
	CreatedAt time.Time

	// ModifiedAt はアーカイブ側での最終更新日時
	ModifiedAt time.Time

	// AddedAt はアーカイブへの登録日時
	AddedAt time.Time

	// Correspondent は差出人・相手先の名前（未設定なら空）
	Correspondent string

	// Tags はアーカイブ側で付与されたタグ名
	Tags []string
}

// ContentHash は本文のSHA-256ハッシュを返します
// 同期時の変更検知に使用します
func (d Document) ContentHash() string {
	sum := sha256.Sum256([]byte(d.Content))
	return hex.EncodeToString(sum[:])
}

// IsEmpty は本文が実質的に空かどうかを返します
// 空白のみの本文も空として扱います
func (d Document) IsEmpty() bool {
	return strings.TrimSpace(d.Content) == ""
}
