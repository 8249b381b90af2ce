package kana

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	tests := map[string]string{
		"ﾀﾅｶ ﾀﾛｳ":  "タナカ タロウ",
		"ﾀﾞｲｽｹ":    "ダイスケ",
		"ﾎﾟｲﾝﾄ":    "ポイント",
		"カ\u309Bイ": "ガイ",
		"ＡＢＣ１２３":   "ABC123",
		"山田はなこ":    "山田はなこ",
		"":         "",
	}
	for in, want := range tests {
		assert.Equal(t, want, Fold(in), in)
	}
}
