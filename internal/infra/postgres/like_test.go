package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEscapeLike(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "プレーンな語はそのまま", input: "Acme Corp", want: "Acme Corp"},
		{name: "パーセントは字句になる", input: "100% cotton", want: `100\% cotton`},
		{name: "アンダースコアは字句になる", input: "invoice_2024", want: `invoice\_2024`},
		{name: "バックスラッシュ自体もエスケープ", input: `C:\docs`, want: `C:\\docs`},
		{name: "メタ文字の混在", input: `%_\`, want: `\%\_\\`},
		{name: "空文字列", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeLike(tt.input))
		})
	}
}
