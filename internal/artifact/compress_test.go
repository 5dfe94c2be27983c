package artifact

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
)

func writeImage(t *testing.T, dir string) (string, []byte) {
	t.Helper()
	content := bytes.Repeat([]byte("bootimage"), 1000)
	path := filepath.Join(dir, "LinuxDistro20260823_1200.img")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatal(err)
	}
	return path, content
}

func TestZipRoundTrip(t *testing.T) {
	imagePath, content := writeImage(t, t.TempDir())

	archivePath, err := Zip(imagePath)
	if err != nil {
		t.Fatalf("Zip failed: %v", err)
	}
	if archivePath != imagePath+".zip" {
		t.Errorf("Archive at %s, expected %s", archivePath, imagePath+".zip")
	}

	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		t.Fatalf("Archive unreadable: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 1 || zr.File[0].Name != filepath.Base(imagePath) {
		t.Fatalf("Unexpected archive layout: %v", zr.File)
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("Archive content differs from the image")
	}
}

func TestGzipRoundTrip(t *testing.T) {
	imagePath, content := writeImage(t, t.TempDir())

	archivePath, err := Gzip(imagePath)
	if err != nil {
		t.Fatalf("Gzip failed: %v", err)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("Archive unreadable: %v", err)
	}
	defer gr.Close()
	got, err := io.ReadAll(gr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, content) {
		t.Error("Archive content differs from the image")
	}
	if gr.Name != filepath.Base(imagePath) {
		t.Errorf("Gzip name %q, expected %q", gr.Name, filepath.Base(imagePath))
	}
}

func TestZipMissingImage(t *testing.T) {
	if _, err := Zip(filepath.Join(t.TempDir(), "missing.img")); err == nil {
		t.Fatal("Expected an error for a missing image")
	}
}
