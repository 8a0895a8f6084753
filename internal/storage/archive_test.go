package storage

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/yourusername/invoice-imposer/internal/apperr"
)

func buildZip(t *testing.T, entries map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.zip")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	w := zip.NewWriter(f)
	for name, data := range entries {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("zip create entry: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("zip write entry: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip writer: %v", err)
	}
	f.Close()
	return path
}

func newTestManager(t *testing.T, limits Limits) *Manager {
	t.Helper()
	m, err := New(t.TempDir(), limits)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func TestExtractArchiveAdmitsOnlyPDFEntries(t *testing.T) {
	m := newTestManager(t, Limits{})
	archive := buildZip(t, map[string][]byte{
		"a.pdf":     []byte("%PDF-1.4 fake"),
		"readme.txt": []byte("not a pdf"),
		"b.PDF":     []byte("%PDF-1.4 fake"),
	})

	extracted, err := m.ExtractArchive("task-1", archive)
	if err != nil {
		t.Fatalf("ExtractArchive() error = %v", err)
	}
	if len(extracted) != 2 {
		t.Fatalf("ExtractArchive() extracted %d files, want 2", len(extracted))
	}
	for _, p := range extracted {
		if filepath.Ext(p) != ".pdf" && filepath.Ext(p) != ".PDF" {
			t.Errorf("extracted non-pdf entry: %s", p)
		}
	}
}

func TestExtractArchiveRejectsTooManyEntries(t *testing.T) {
	m := newTestManager(t, Limits{MaxZipEntries: 1})
	archive := buildZip(t, map[string][]byte{
		"a.pdf": []byte("%PDF-1.4"),
		"b.pdf": []byte("%PDF-1.4"),
	})

	_, err := m.ExtractArchive("task-2", archive)
	assertOversize(t, err)
}

func TestExtractArchiveRejectsOversizedTotal(t *testing.T) {
	m := newTestManager(t, Limits{MaxZipUncompressed: 4})
	archive := buildZip(t, map[string][]byte{
		"a.pdf": bytes.Repeat([]byte("x"), 64),
	})

	_, err := m.ExtractArchive("task-3", archive)
	assertOversize(t, err)
}

func assertOversize(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("ExtractArchive() error = nil, want oversize error")
	}
	appErr, ok := err.(*apperr.Error)
	if !ok {
		t.Fatalf("ExtractArchive() error type = %T, want *apperr.Error", err)
	}
	if appErr.Code != apperr.CodeOversize {
		t.Fatalf("ExtractArchive() code = %s, want %s", appErr.Code, apperr.CodeOversize)
	}
}
