package impose

import "testing"

func standardLayout() LayoutConfig {
	return LayoutConfig{
		PageWidthMM:  210,
		PageHeightMM: 297,
		Columns:      2,
		Rows:         4,
		MarginMM:     10,
		GutterMM:     5,
	}
}

func TestSlotsPerSheet(t *testing.T) {
	l := standardLayout()
	if got := l.SlotsPerSheet(); got != 8 {
		t.Fatalf("SlotsPerSheet() = %d, want 8", got)
	}
}

func TestSheetsNeeded(t *testing.T) {
	l := standardLayout()
	cases := []struct {
		n    int
		want int
	}{
		{0, 0},
		{1, 1},
		{8, 1},
		{9, 2},
		{16, 2},
		{17, 3},
	}
	for _, c := range cases {
		if got := l.SheetsNeeded(c.n); got != c.want {
			t.Errorf("SheetsNeeded(%d) = %d, want %d", c.n, got, c.want)
		}
	}
}
