package reconciliation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"タナカ タロウ", "タナカタロウ"},
		{"ﾀﾅｶ ﾀﾛｳ", "タナカタロウ"},
		{`"ﾀﾅｶ ﾀﾛｳ"`, "タナカタロウ"},
		{"ﾔﾏﾀﾞ ﾊﾅｺ", "ヤマダハナコ"},
		{"ﾎﾟｲﾝﾄ", "ポイント"},
		{"ヤマダ　ハナコ", "ヤマダハナコ"},
		{"カ\u309Bイ", "ガイ"},
		{"ＡＢＣ商事", "ABC商事"},
		{"山田 はなこ", "山田はなこ"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}
