package storage

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/yourusername/invoice-imposer/internal/apperr"
)

// ExtractArchive expands the ZIP at archivePath into taskID's temp
// directory, admitting only entries with a .pdf suffix (case-insensitive).
// It refuses entries whose sanitized path would escape the temp root
// (zip-slip) or whose decompressed size would exceed maxEntries /
// maxUncompressed / maxRatio (zip-bomb). Returned paths are sorted so
// downstream page ordering is deterministic within the archive.
func (m *Manager) ExtractArchive(taskID, archivePath string) ([]string, error) {
	tempDir, err := m.TempDir(taskID)
	if err != nil {
		return nil, err
	}

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, apperr.New(apperr.CodeBadInput, "ZIPファイルの読み込みに失敗しました。", err)
	}
	defer r.Close()

	if len(r.File) > m.maxZipEntries() {
		return nil, apperr.New(apperr.CodeOversize, "ZIP内のファイル数が上限を超えています。", nil)
	}

	var extracted []string
	var totalUncompressed int64

	for i, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(f.Name), ".pdf") {
			continue
		}

		if f.UncompressedSize64 > 0 && f.CompressedSize64 > 0 {
			ratio := int64(f.UncompressedSize64) / max64(int64(f.CompressedSize64), 1)
			if ratio > m.maxZipRatio() {
				return nil, apperr.New(apperr.CodeOversize, "ZIP内のエントリの圧縮率が異常です。", nil)
			}
		}
		totalUncompressed += int64(f.UncompressedSize64)
		if totalUncompressed > m.maxZipUncompressed() {
			return nil, apperr.New(apperr.CodeOversize, "ZIP展開後の合計サイズが上限を超えています。", nil)
		}

		destName := SanitizeName(filepath.Base(f.Name), i)
		destPath := filepath.Join(tempDir, destName)

		cleanTemp, err := filepath.Abs(tempDir)
		if err != nil {
			return nil, fmt.Errorf("resolve temp dir: %w", err)
		}
		cleanDest, err := filepath.Abs(destPath)
		if err != nil {
			return nil, fmt.Errorf("resolve entry dest: %w", err)
		}
		if !strings.HasPrefix(cleanDest, cleanTemp+string(os.PathSeparator)) {
			return nil, apperr.New(apperr.CodeBadInput, "ZIP内に不正なパスを持つエントリが含まれています。", nil)
		}

		if err := extractOne(f, cleanDest, m.maxZipUncompressed()); err != nil {
			return nil, err
		}
		extracted = append(extracted, cleanDest)
	}

	sort.Strings(extracted)
	return extracted, nil
}

func extractOne(f *zip.File, dest string, maxSize int64) error {
	src, err := f.Open()
	if err != nil {
		return apperr.New(apperr.CodeBadInput, "ZIPエントリの読み込みに失敗しました。", err)
	}
	defer src.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("create extracted file: %w", err)
	}
	defer out.Close()

	written, err := io.Copy(out, io.LimitReader(src, maxSize+1))
	if err != nil {
		return fmt.Errorf("write extracted file: %w", err)
	}
	if written > maxSize {
		return apperr.New(apperr.CodeOversize, "ZIPエントリの展開後サイズが上限を超えています。", nil)
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func (m *Manager) maxZipEntries() int        { return orDefaultInt(m.zipEntries, 2000) }
func (m *Manager) maxZipUncompressed() int64 { return orDefaultInt64(m.zipUncompressed, 1<<30) }
func (m *Manager) maxZipRatio() int64        { return orDefaultInt64(m.zipRatio, 200) }

func orDefaultInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func orDefaultInt64(v, def int64) int64 {
	if v <= 0 {
		return def
	}
	return v
}
