package p2p

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// ArchiveName is the name a packaged folder is announced under.
func ArchiveName(folder string) string {
	return filepath.Base(filepath.Clean(folder)) + ".zip"
}

// CreateArchive packs every regular file below folder into a store-only zip in the temp dir.
// Entry names are slash-separated paths relative to folder. The caller owns the returned file.
func CreateArchive(folder string) (string, error) {
	info, err := os.Stat(folder)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFileNotFound, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotDirectory, folder)
	}

	out, err := os.CreateTemp("", "snapsend-*.zip")
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	archivePath := out.Name()

	if err := writeArchive(out, folder); err != nil {
		out.Close()
		os.Remove(archivePath)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(archivePath)
		return "", fmt.Errorf("close archive: %w", err)
	}
	return archivePath, nil
}

func writeArchive(w io.Writer, folder string) error {
	zw := zip.NewWriter(w)

	err := filepath.WalkDir(folder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(folder, path)
		if err != nil {
			return err
		}
		return addArchiveEntry(zw, path, filepath.ToSlash(rel))
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("archive %s: %w", folder, err)
	}
	return zw.Close()
}

func addArchiveEntry(zw *zip.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Store

	dst, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = io.Copy(dst, src)
	return err
}
