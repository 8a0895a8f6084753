package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSweepRemovesOnlyAgedOutTasks(t *testing.T) {
	m := newTestManager(t, Limits{})

	oldDir, err := m.UploadDir("session-a", "old-task")
	if err != nil {
		t.Fatalf("UploadDir() error = %v", err)
	}
	oldFile := filepath.Join(oldDir, "0-invoice.pdf")
	if err := os.WriteFile(oldFile, []byte("data"), 0o640); err != nil {
		t.Fatalf("write old file: %v", err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(oldFile, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	freshDir, err := m.UploadDir("session-a", "fresh-task")
	if err != nil {
		t.Fatalf("UploadDir() error = %v", err)
	}
	if err := os.WriteFile(filepath.Join(freshDir, "0-invoice.pdf"), []byte("data"), 0o640); err != nil {
		t.Fatalf("write fresh file: %v", err)
	}

	result, err := m.Sweep(time.Now().Add(-24*time.Hour), nil)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(result.AffectedTasks) != 1 || result.AffectedTasks[0] != "old-task" {
		t.Fatalf("Sweep() affected = %v, want [old-task]", result.AffectedTasks)
	}
	if _, err := os.Stat(oldDir); !os.IsNotExist(err) {
		t.Errorf("old task dir still exists after sweep")
	}
	if _, err := os.Stat(freshDir); err != nil {
		t.Errorf("fresh task dir was removed: %v", err)
	}
}

func TestSweepSkipsActiveTasks(t *testing.T) {
	m := newTestManager(t, Limits{})

	dir, err := m.UploadDir("session-a", "active-task")
	if err != nil {
		t.Fatalf("UploadDir() error = %v", err)
	}
	f := filepath.Join(dir, "0-invoice.pdf")
	if err := os.WriteFile(f, []byte("data"), 0o640); err != nil {
		t.Fatalf("write file: %v", err)
	}
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(f, past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	active := func(taskID string) bool { return taskID == "active-task" }
	result, err := m.Sweep(time.Now().Add(-24*time.Hour), active)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if len(result.AffectedTasks) != 0 {
		t.Fatalf("Sweep() affected = %v, want none (task is active)", result.AffectedTasks)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("active task dir was removed: %v", err)
	}
}
