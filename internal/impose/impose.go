package impose

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/invoice-imposer/internal/apperr"
)

// Composite is Compose の成功結果です。
type Composite struct {
	OutputPath      string
	SheetCount      int
	InputPageCount  int
	InputPageCounts []int
}

// Compose は inputPaths（検証済みの請求書PDF、バッチ順）の全ページを
// layout.SlotsPerSheet() 枚ずつのグリッドに行優先で割り付け、各ページを
// アスペクト比を保ったままセルに収まるよう縮小して outputPath に書き出し
// ます。maxComposeBytes は入力合計サイズの上限で、0 以下なら無制限です。
// 失敗コードは CodeEmptyBatch（入力ゼロ、または全入力の合計ページ数が
// ゼロ）、CodeBadInput（読み込み不能なPDF）、CodeOversize（合計サイズが
// 上限超過）のいずれかです。
//
// progress は "validating"/"merging"/"composing"/"writing" の粗い段階
// ごとに 0-100 の進捗率で呼ばれます。
func Compose(ctx context.Context, inputPaths []string, layout LayoutConfig, outputPath string, maxComposeBytes int64, progress ProgressReporter) (*Composite, error) {
	if len(inputPaths) == 0 {
		return nil, apperr.New(apperr.CodeEmptyBatch, "imposition対象のPDFがありません。", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	reportProgress(progress, "validating", 5)

	conf := pdfmodel.NewDefaultConfiguration()
	pageCounts := make([]int, len(inputPaths))
	byteSizes := make([]int64, len(inputPaths))

	// 各入力の検証・ページ数取得・サイズ計測を並行に行う。
	group, groupCtx := errgroup.WithContext(ctx)
	for i, path := range inputPaths {
		i, path := i, path
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			info, err := os.Stat(path)
			if err != nil {
				return apperr.New(apperr.CodeBadInput, fmt.Sprintf("入力PDFを読み込めません: %s", path), err)
			}
			byteSizes[i] = info.Size()
			if err := pdfapi.ValidateFile(path, conf); err != nil {
				return apperr.New(apperr.CodeBadInput, fmt.Sprintf("PDFの検証に失敗しました: %s", path), err)
			}
			n, err := pdfapi.PageCountFile(path)
			if err != nil {
				return apperr.New(apperr.CodeBadInput, fmt.Sprintf("ページ数の取得に失敗しました: %s", path), err)
			}
			if n <= 0 {
				return apperr.New(apperr.CodeBadInput, fmt.Sprintf("PDFにページがありません: %s", path), nil)
			}
			pageCounts[i] = n
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	totalPages := 0
	var totalBytes int64
	for i, n := range pageCounts {
		totalPages += n
		totalBytes += byteSizes[i]
	}
	if totalPages == 0 {
		return nil, apperr.New(apperr.CodeEmptyBatch, "imposition対象のPDFにページがありません。", nil)
	}
	if maxComposeBytes > 0 && totalBytes > maxComposeBytes {
		return nil, apperr.New(apperr.CodeOversize, fmt.Sprintf("入力PDFの合計サイズが上限を超えています: %d > %d bytes", totalBytes, maxComposeBytes), nil)
	}

	slots := layout.SlotsPerSheet()
	if slots <= 0 {
		return nil, apperr.New(apperr.CodeBadInput, "レイアウトのグリッド設定が不正です。", nil)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// pdfcpuのグリッド/N-up系プリミティブは単一の入力文書しか読まない。
	// 2つ以上のPDF（ZIP展開で複数PDFになったバッチも含む）は先に1つの
	// 文書へ結合しておかないと、最初の入力以降のページが黙って落ちる。
	composeInput := inputPaths[0]
	if len(inputPaths) > 1 {
		reportProgress(progress, "merging", 20)
		mergedPath := filepath.Join(filepath.Dir(outputPath), ".merged-input.pdf")
		if err := pdfapi.MergeCreateFile(inputPaths, mergedPath, false, conf); err != nil {
			return nil, apperr.New(apperr.CodeInternal, "PDFの結合処理に失敗しました。", err)
		}
		defer os.Remove(mergedPath)
		composeInput = mergedPath
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reportProgress(progress, "composing", 30)

	// N-upは枚数nごとに固定のグリッド形状しか選べない（n=8は4列x2行の
	// 横向きになり、このレイアウトが要求する2列x4行の縦向きにならない）
	// ため、行・列を直接指定できるグリッドプリミティブを使う。
	nup, err := pdfapi.PDFGridConfig(layout.Rows, layout.Columns, gridDescription(layout), conf)
	if err != nil {
		return nil, fmt.Errorf("build grid config: %w", err)
	}

	if err := pdfapi.NUpFile([]string{composeInput}, outputPath, nil, nup, conf); err != nil {
		return nil, apperr.New(apperr.CodeInternal, "PDFの合成処理に失敗しました。", err)
	}

	reportProgress(progress, "writing", 90)

	info, err := os.Stat(outputPath)
	if err != nil {
		return nil, fmt.Errorf("stat composed output: %w", err)
	}
	if info.Size() == 0 {
		return nil, apperr.New(apperr.CodeInternal, "合成結果の出力が空です。", nil)
	}

	sheets, err := pdfapi.PageCountFile(outputPath)
	if err != nil {
		return nil, fmt.Errorf("count composed sheets: %w", err)
	}
	if want := layout.SheetsNeeded(totalPages); sheets != want {
		return nil, apperr.New(apperr.CodeInternal, fmt.Sprintf("合成結果のシート数が想定と一致しません: got %d, want %d", sheets, want), nil)
	}

	reportProgress(progress, "writing", 100)

	return &Composite{
		OutputPath:      outputPath,
		SheetCount:      sheets,
		InputPageCount:  totalPages,
		InputPageCounts: pageCounts,
	}, nil
}

// gridDescription はセル間隔をpdfcpuのグリッド記述文字列に変換する。
// pdfcpuのグリッドはセル単位のマージンを1つしか持たないため、外周
// マージン(MarginMM)ではなく、隣接する請求書を実際に隔てるガター
// (GutterMM)の方を優先して渡す。外周マージンはこのAPI経由では表現
// できない。
func gridDescription(layout LayoutConfig) string {
	return fmt.Sprintf("margin:%.1f, border:off", layout.GutterMM)
}
