// Package impose は請求書ページをA4系の出力ページに固定グリッドで
// 割り付けて合成する。
package impose

import "math"

// LayoutConfig は出力シートのグリッドを表す。単位はミリメートル。
type LayoutConfig struct {
	PageWidthMM  float64
	PageHeightMM float64
	Columns      int
	Rows         int
	MarginMM     float64
	GutterMM     float64
}

// SlotsPerSheet は1枚のシートに収まる請求書ページ数。
func (c LayoutConfig) SlotsPerSheet() int {
	return c.Columns * c.Rows
}

// SheetsNeeded はn枚の請求書ページをSlotsPerSheet()ずつ収めるのに
// 必要な出力シート数を返す。Composeは合成結果の実シート数をこの値と
// 突き合わせるため、この式とpdfcpu自身のグリッド配置がずれていれば
// ページ数の黙った不整合ではなくエラーとして表面化する。
func (c LayoutConfig) SheetsNeeded(n int) int {
	if n <= 0 {
		return 0
	}
	slots := c.SlotsPerSheet()
	if slots <= 0 {
		return 0
	}
	return int(math.Ceil(float64(n) / float64(slots)))
}
