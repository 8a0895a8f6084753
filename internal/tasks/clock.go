package tasks

import "time"

// Clock is the injectable time seam used across record timestamps.
// Tests substitute a fixed clock instead of stubbing time.Now globally.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }
