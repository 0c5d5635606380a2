package postgres

import "strings"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike はLIKE/ILIKEのメタ文字をエスケープし、入力を字句として扱わせます
// エスケープしないと「%」を含む検索語が全件一致に化けます
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
