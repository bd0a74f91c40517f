package p2p

import (
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestCreateArchiveRoundTrip(t *testing.T) {
	folder := filepath.Join(t.TempDir(), "project")
	files := map[string]string{
		"readme.txt":            "hello",
		"empty.dat":             "",
		"src/main.go":           "package main\n",
		"src/deep/nested/a.bin": "\x00\x01\x02",
		"src/deep/nested/empty": "",
	}
	for rel, content := range files {
		path := filepath.Join(folder, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write file: %v", err)
		}
	}
	// Empty directories carry no files and are not archived
	if err := os.MkdirAll(filepath.Join(folder, "nothing-here"), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	archive, err := CreateArchive(folder)
	if err != nil {
		t.Fatalf("CreateArchive failed: %v", err)
	}
	defer os.Remove(archive)

	zr, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatalf("Failed to open archive: %v", err)
	}
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
		if f.Method != zip.Store {
			t.Errorf("Entry %s is compressed (method %d)", f.Name, f.Method)
		}
		want, ok := files[f.Name]
		if !ok {
			t.Errorf("Unexpected entry %s", f.Name)
			continue
		}
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("Failed to open entry %s: %v", f.Name, err)
		}
		got, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("Failed to read entry %s: %v", f.Name, err)
		}
		if string(got) != want {
			t.Errorf("Entry %s: expected %q, got %q", f.Name, want, got)
		}
	}

	sort.Strings(names)
	if len(names) != len(files) {
		t.Fatalf("Expected %d entries, got %v", len(files), names)
	}
}

func TestCreateArchiveRejectsNonDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if _, err := CreateArchive(file); !errors.Is(err, ErrNotDirectory) {
		t.Errorf("Expected ErrNotDirectory, got %v", err)
	}
	if _, err := CreateArchive(filepath.Join(t.TempDir(), "missing")); !errors.Is(err, ErrFileNotFound) {
		t.Errorf("Expected ErrFileNotFound, got %v", err)
	}
}

func TestArchiveName(t *testing.T) {
	for in, want := range map[string]string{
		"/home/me/Photos":  "Photos.zip",
		"/home/me/Photos/": "Photos.zip",
		"docs":             "docs.zip",
	} {
		if got := ArchiveName(in); got != want {
			t.Errorf("ArchiveName(%q): expected %s, got %s", in, want, got)
		}
	}
}
