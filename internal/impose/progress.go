package impose

// ProgressReporter はCompose中の粗い段階/進捗率の更新を受け取る。
// percentは1回のCompose呼び出し内で単調増加する。
type ProgressReporter func(stage string, percent int)

func reportProgress(cb ProgressReporter, stage string, percent int) {
	if cb == nil {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	cb(stage, percent)
}
