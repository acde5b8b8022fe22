package config

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Backup writes a zip of the config root to w. Databases are copied as-is;
// SQLite WAL sidecar files are included so a restore is self-consistent.
// Temp files from atomic writes are skipped.
func Backup(root string, w io.Writer) error {
	zw := zip.NewWriter(w)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}

		name := strings.TrimPrefix(path, root)
		name = strings.TrimPrefix(name, string(os.PathSeparator))

		if strings.HasPrefix(filepath.Base(name), ".config-") {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()

		entry, err := zw.Create(filepath.ToSlash(name))
		if err != nil {
			return err
		}

		_, err = io.Copy(entry, f)

		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("backup failed: %w", err)
	}

	return zw.Close()
}

// Restore unpacks a backup zip into root. Existing files are overwritten;
// entries escaping the root are rejected.
func Restore(root string, r io.ReaderAt, size int64) error {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}

	for _, f := range zr.File {
		dest := filepath.Join(root, filepath.FromSlash(f.Name))

		if !strings.HasPrefix(dest, filepath.Clean(root)+string(os.PathSeparator)) {
			return fmt.Errorf("backup entry escapes root: %s", f.Name)
		}

		if err := os.MkdirAll(filepath.Dir(dest), configDirPerms); err != nil {
			return err
		}

		src, err := f.Open()
		if err != nil {
			return err
		}

		out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, secretFilePerms)
		if err != nil {
			src.Close()
			return err
		}

		_, err = io.Copy(out, src)
		src.Close()
		out.Close()

		if err != nil {
			return err
		}
	}

	return nil
}
