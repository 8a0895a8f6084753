// Package storage owns the on-disk directory tree: per-session/per-task
// upload and output paths, atomic writes, and age-based sweeps.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yourusername/invoice-imposer/internal/apperr"
)

// Role classifies a StorageObject by which subtree it lives under.
type Role string

const (
	RoleUpload Role = "upload"
	RoleOutput Role = "output"
	RoleTemp   Role = "temp"
)

// Object describes a single file under the storage root.
type Object struct {
	Path    string
	Size    int64
	ModTime time.Time
	Role    Role
	TaskID  string
}

// Manager implements the storage contract of the storage manager
// component: per-task file custody, path-traversal safety, and sweeps.
type Manager struct {
	root          string
	maxUploadSize int64

	zipEntries      int
	zipUncompressed int64
	zipRatio        int64
}

// Limits configures the size/entry ceilings the Manager enforces on
// uploads and archive extraction.
type Limits struct {
	MaxUploadSize      int64
	MaxZipEntries      int
	MaxZipUncompressed int64
	MaxZipRatio        int64
}

// New creates a Manager rooted at root, creating uploads/outputs/temp if
// they do not already exist.
func New(root string, limits Limits) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	m := &Manager{
		root:            abs,
		maxUploadSize:   limits.MaxUploadSize,
		zipEntries:      limits.MaxZipEntries,
		zipUncompressed: limits.MaxZipUncompressed,
		zipRatio:        limits.MaxZipRatio,
	}
	for _, dir := range []string{m.uploadsDir(), m.outputsDir(), m.tempDir()} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create storage dir %s: %w", dir, err)
		}
	}
	return m, nil
}

func (m *Manager) Root() string { return m.root }

func (m *Manager) uploadsDir() string { return filepath.Join(m.root, "uploads") }
func (m *Manager) outputsDir() string { return filepath.Join(m.root, "outputs") }
func (m *Manager) tempDir() string    { return filepath.Join(m.root, "temp") }

// UploadDir returns the per-task upload directory, creating it as needed.
func (m *Manager) UploadDir(sessionID, taskID string) (string, error) {
	dir := filepath.Join(m.uploadsDir(), sessionID, taskID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create upload dir: %w", err)
	}
	return dir, nil
}

// OutputDir returns the per-task output directory, creating it as needed.
func (m *Manager) OutputDir(sessionID, taskID string) (string, error) {
	dir := filepath.Join(m.outputsDir(), sessionID, taskID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	return dir, nil
}

// TempDir returns the per-task scratch directory used for zip extraction.
func (m *Manager) TempDir(taskID string) (string, error) {
	dir := filepath.Join(m.tempDir(), taskID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}
	return dir, nil
}

// StoreUpload writes stream atomically (temp file + rename) into the
// task's upload directory under a sanitized, ordinal-prefixed name. It
// refuses writes past m.maxUploadSize, checking as it streams.
func (m *Manager) StoreUpload(sessionID, taskID string, ordinal int, name string, stream io.Reader, declaredSize int64) (path string, size int64, err error) {
	dir, err := m.UploadDir(sessionID, taskID)
	if err != nil {
		return "", 0, err
	}
	safeName := SanitizeName(name, ordinal)
	final := filepath.Join(dir, safeName)

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return "", 0, fmt.Errorf("create temp upload file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	limit := m.maxUploadSize
	if limit <= 0 {
		limit = declaredSize
	}
	written, werr := io.Copy(tmp, io.LimitReader(stream, limit+1))
	if werr != nil {
		return "", 0, fmt.Errorf("write upload: %w", werr)
	}
	if written > limit {
		return "", 0, apperr.New(apperr.CodePayloadTooLarge, "アップロードされたファイルが上限サイズを超えています。", nil)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("close temp upload file: %w", err)
	}
	if err := os.Rename(tmpPath, final); err != nil {
		return "", 0, fmt.Errorf("finalize upload: %w", err)
	}
	return final, written, nil
}

// ListObjects walks the upload/output/temp subtrees for the given task
// and returns every object found.
func (m *Manager) ListObjects(sessionID, taskID string) ([]Object, error) {
	var out []Object
	roots := []struct {
		role Role
		dir  string
	}{
		{RoleUpload, filepath.Join(m.uploadsDir(), sessionID, taskID)},
		{RoleOutput, filepath.Join(m.outputsDir(), sessionID, taskID)},
		{RoleTemp, filepath.Join(m.tempDir(), taskID)},
	}
	for _, r := range roots {
		entries, err := listFiles(r.dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			out = append(out, Object{
				Path:    e.path,
				Size:    e.size,
				ModTime: e.modTime,
				Role:    r.role,
				TaskID:  taskID,
			})
		}
	}
	return out, nil
}

type fileEntry struct {
	path    string
	size    int64
	modTime time.Time
}

func listFiles(dir string) ([]fileEntry, error) {
	var out []fileEntry
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		out = append(out, fileEntry{path: path, size: info.Size(), modTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OpenForRead resolves name under outputs/<session>/<task>/ and opens it
// for reading, refusing to serve anything that would resolve outside
// that directory once symlinks are followed.
func (m *Manager) OpenForRead(sessionID, taskID, name string) (*os.File, os.FileInfo, error) {
	base := filepath.Join(m.outputsDir(), sessionID, taskID)
	candidate := filepath.Join(base, filepath.Base(name))

	real, err := filepath.EvalSymlinks(candidate)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, apperr.New(apperr.CodeNotFound, "指定されたファイルは見つかりませんでした。", nil)
		}
		return nil, nil, fmt.Errorf("resolve download path: %w", err)
	}
	realBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return nil, nil, apperr.New(apperr.CodeNotFound, "指定されたファイルは見つかりませんでした。", nil)
	}
	rel, err := filepath.Rel(realBase, real)
	if err != nil || rel == ".." || strings.HasPrefix(rel, "../") {
		return nil, nil, apperr.New(apperr.CodeNotFound, "指定されたファイルは見つかりませんでした。", nil)
	}

	f, err := os.Open(real)
	if err != nil {
		return nil, nil, apperr.New(apperr.CodeNotFound, "指定されたファイルは見つかりませんでした。", nil)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("stat download: %w", err)
	}
	return f, info, nil
}

// Purge removes every object owned by the task. Idempotent.
func (m *Manager) Purge(sessionID, taskID string) error {
	dirs := []string{
		filepath.Join(m.uploadsDir(), sessionID, taskID),
		filepath.Join(m.outputsDir(), sessionID, taskID),
		filepath.Join(m.tempDir(), taskID),
	}
	for _, d := range dirs {
		if err := os.RemoveAll(d); err != nil {
			return fmt.Errorf("purge %s: %w", d, err)
		}
	}
	return nil
}

// PurgeOutputs removes only the task's output and temp objects, leaving
// its uploaded inputs untouched. Used when a task is cancelled
// mid-flight: only the partial output is discarded, not the uploaded
// batch itself.
func (m *Manager) PurgeOutputs(sessionID, taskID string) error {
	dirs := []string{
		filepath.Join(m.outputsDir(), sessionID, taskID),
		filepath.Join(m.tempDir(), taskID),
	}
	for _, d := range dirs {
		if err := os.RemoveAll(d); err != nil {
			return fmt.Errorf("purge outputs %s: %w", d, err)
		}
	}
	return nil
}
