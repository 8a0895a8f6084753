package impose

import (
	"context"
	"testing"

	"github.com/yourusername/invoice-imposer/internal/apperr"
)

func TestComposeRejectsEmptyBatch(t *testing.T) {
	layout := LayoutConfig{PageWidthMM: 210, PageHeightMM: 297, Columns: 2, Rows: 4, MarginMM: 10, GutterMM: 5}

	_, err := Compose(context.Background(), nil, layout, "/tmp/out.pdf", 0, nil)
	if err == nil {
		t.Fatal("Compose() error = nil, want EmptyBatch for empty batch")
	}
	appErr, ok := err.(*apperr.Error)
	if !ok || appErr.Code != apperr.CodeEmptyBatch {
		t.Fatalf("Compose() error = %v, want apperr.CodeEmptyBatch", err)
	}
}

func TestComposeRejectsCancelledContext(t *testing.T) {
	layout := LayoutConfig{PageWidthMM: 210, PageHeightMM: 297, Columns: 2, Rows: 4, MarginMM: 10, GutterMM: 5}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Compose(ctx, []string{"a.pdf"}, layout, "/tmp/out.pdf", 0, nil)
	if err != ctx.Err() {
		t.Fatalf("Compose() error = %v, want context.Canceled", err)
	}
}
