package api

import (
	"path/filepath"
	"time"

	"github.com/yourusername/invoice-imposer/internal/tasks"
)

// estimateRemaining は残り時間を推定する。Recordから得られる単一の
// レート標本（作成からの経過分あたりの進捗率）のみを使う、意図的に
// 単純な推定量。より高度な複数標本の推定量を採らなかった理由は
// DESIGN.mdを参照。
func estimateRemaining(record *tasks.Record) (ratePerMinute float64, remainingSeconds int, eta *time.Time) {
	if record.Status != tasks.StatusProcessing || record.Progress <= 0 {
		return 0, 0, nil
	}
	elapsed := record.UpdatedAt.Sub(record.CreatedAt).Minutes()
	if elapsed <= 0 {
		return 0, 0, nil
	}
	rate := float64(record.Progress) / elapsed
	if rate <= 0 {
		return 0, 0, nil
	}
	remainingMinutes := float64(100-record.Progress) / rate
	remaining := time.Duration(remainingMinutes * float64(time.Minute))
	completion := record.UpdatedAt.Add(remaining)
	return rate, int(remaining.Seconds()), &completion
}

func outputBaseName(path string) string {
	return filepath.Base(path)
}
