package storage

import (
	"os"
	"path/filepath"
	"time"
)

// SweepResult summarizes one pass of Sweep.
type SweepResult struct {
	FilesRemoved  int
	BytesRemoved  int64
	AffectedTasks []string
}

// Sweep removes any per-task directory under uploads/outputs/temp whose
// most recent file mtime is older than cutoff, returning what was
// reclaimed. uploads and outputs are laid out <root>/<sessionID>/<taskID>;
// temp is laid out <root>/<taskID>. active reports whether a task id is
// currently held by a worker; such tasks are never swept, resolving the
// only contention point between the sweeper and the worker pool.
func (m *Manager) Sweep(cutoff time.Time, active func(taskID string) bool) (SweepResult, error) {
	if active == nil {
		active = func(string) bool { return false }
	}
	var result SweepResult
	affected := make(map[string]struct{})

	sweepOne := func(dir, taskID string) {
		if active(taskID) {
			return
		}
		newest, size, count, err := latestModTime(dir)
		if err != nil || count == 0 || newest.After(cutoff) {
			return
		}
		if err := os.RemoveAll(dir); err != nil {
			return
		}
		result.FilesRemoved += count
		result.BytesRemoved += size
		affected[taskID] = struct{}{}
	}

	for _, sessionRoot := range []string{m.uploadsDir(), m.outputsDir()} {
		sessions, err := os.ReadDir(sessionRoot)
		if err != nil {
			continue
		}
		for _, session := range sessions {
			if !session.IsDir() {
				continue
			}
			sessionDir := filepath.Join(sessionRoot, session.Name())
			tasks, err := os.ReadDir(sessionDir)
			if err != nil {
				continue
			}
			for _, task := range tasks {
				if !task.IsDir() {
					continue
				}
				sweepOne(filepath.Join(sessionDir, task.Name()), task.Name())
			}
		}
	}

	tasks, err := os.ReadDir(m.tempDir())
	if err == nil {
		for _, task := range tasks {
			if !task.IsDir() {
				continue
			}
			sweepOne(filepath.Join(m.tempDir(), task.Name()), task.Name())
		}
	}

	for id := range affected {
		result.AffectedTasks = append(result.AffectedTasks, id)
	}
	return result, nil
}

func latestModTime(dir string) (newest time.Time, totalSize int64, count int, err error) {
	err = filepath.Walk(dir, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.IsDir() {
			return nil
		}
		count++
		totalSize += info.Size()
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest, totalSize, count, err
}
