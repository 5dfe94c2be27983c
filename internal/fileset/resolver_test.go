package fileset

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/ulikunitz/xz"

	"github.com/jgarman/bootimage-buddy/internal/layout"
)

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, bytes.Repeat([]byte("x"), size), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestResolveTopLevel(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "zImage"), 100)
	writeFile(t, filepath.Join(dir, "rootfs", "etc", "fstab"), 50)
	writeFile(t, filepath.Join(dir, "rootfs", "bin", "sh"), 25)

	spec := &layout.PartitionSpec{Ordinal: 1, Kind: layout.Ext3}
	res, err := Resolve(spec, dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	// Top-level mode lists the file and the directory, not the files inside.
	if len(res.Files) != 2 {
		t.Fatalf("Expected 2 entries, got %d: %v", len(res.Files), res.Files)
	}
	if res.TotalBytes != 175 {
		t.Errorf("Total %d bytes, expected 175", res.TotalBytes)
	}
	if spec.ContentBytes != 175 {
		t.Errorf("Spec content %d bytes, expected 175", spec.ContentBytes)
	}
}

func TestResolveRecursive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), 10)
	writeFile(t, filepath.Join(dir, "sub", "b.txt"), 20)
	writeFile(t, filepath.Join(dir, "sub", "deep", "c.txt"), 30)

	spec := &layout.PartitionSpec{Ordinal: 1, Kind: layout.Ext4, ScanRecursive: true}
	res, err := Resolve(spec, dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(res.Files) != 3 {
		t.Fatalf("Expected 3 files, got %d: %v", len(res.Files), res.Files)
	}
	if res.TotalBytes != 60 {
		t.Errorf("Total %d bytes, expected 60", res.TotalBytes)
	}
}

// TestResolveRawRejectsDirectories: a raw partition has no filesystem, so a
// directory in its content is rejected before any sizing happens.
func TestResolveRawRejectsDirectories(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "preloader.bin"), 10)
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	spec := &layout.PartitionSpec{Ordinal: 3, Kind: layout.Raw}
	_, err := Resolve(spec, dir)
	var vErr *layout.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("Expected ValidationError, got %v", err)
	}
	if vErr.Ordinal != 3 {
		t.Errorf("Error ordinal %d, expected 3", vErr.Ordinal)
	}
	if spec.ContentBytes != 0 {
		t.Errorf("Sizing must not happen after rejection, got %d bytes", spec.ContentBytes)
	}
}

func TestResolveEmptyDirectory(t *testing.T) {
	spec := &layout.PartitionSpec{Ordinal: 1, Kind: layout.Raw}
	res, err := Resolve(spec, t.TempDir())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(res.Files) != 0 || res.TotalBytes != 0 {
		t.Errorf("Empty directory should resolve to nothing, got %v (%d bytes)", res.Files, res.TotalBytes)
	}
}

// TestResolveCompilesDeviceTree fakes dtc and checks that the .dts source is
// excluded from the copy list while the compiled .dtb is included.
func TestResolveCompilesDeviceTree(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "board.dts"), 40)

	restore := runCommand
	defer func() { runCommand = restore }()
	var gotArgs []string
	runCommand = func(name string, args ...string) ([]byte, error) {
		gotArgs = append([]string{name}, args...)
		// dtc -O dtb -o <out> <src>
		writeFile(t, args[3], 80)
		return nil, nil
	}

	spec := &layout.PartitionSpec{Ordinal: 1, Kind: layout.VFat, CompileDeviceTree: true}
	res, err := Resolve(spec, dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if gotArgs[0] != "dtc" {
		t.Fatalf("Expected dtc to run, got %v", gotArgs)
	}
	if len(res.Files) != 1 || filepath.Base(res.Files[0]) != "board.dtb" {
		t.Errorf("Copy list %v, expected only board.dtb", res.Files)
	}
	if res.TotalBytes != 80 {
		t.Errorf("Total %d bytes, expected 80", res.TotalBytes)
	}
}

// TestResolveDeviceTreeCompileFailure: dtc runs but produces no output file.
func TestResolveDeviceTreeCompileFailure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "board.dts"), 40)

	restore := runCommand
	defer func() { runCommand = restore }()
	runCommand = func(name string, args ...string) ([]byte, error) {
		return nil, nil // succeeds but writes nothing
	}

	spec := &layout.PartitionSpec{Ordinal: 1, Kind: layout.VFat, CompileDeviceTree: true}
	if _, err := Resolve(spec, dir); err == nil {
		t.Fatal("Expected an error when dtc produces no output")
	}
}

func TestResolveCompilesBootScript(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "boot.script"), 30)

	restore := runCommand
	defer func() { runCommand = restore }()
	runCommand = func(name string, args ...string) ([]byte, error) {
		if name != "mkimage" {
			t.Errorf("Expected mkimage, got %s", name)
		}
		// last argument is the output path
		writeFile(t, args[len(args)-1], 60)
		return nil, nil
	}

	spec := &layout.PartitionSpec{Ordinal: 1, Kind: layout.VFat, UBootArch: "arm"}
	res, err := Resolve(spec, dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if len(res.Files) != 1 || filepath.Base(res.Files[0]) != "boot.scr" {
		t.Errorf("Copy list %v, expected only boot.scr", res.Files)
	}
}

func makeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	gw := gzip.NewWriter(f)
	writeTarStream(t, gw, files)
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
}

func makeTarXz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	xw, err := xz.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	writeTarStream(t, xw, files)
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
}

func writeTarStream(t *testing.T, w io.Writer, files map[string]string) {
	t.Helper()
	tw := tar.NewWriter(w)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
}

func makeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

// TestResolveUnpacksArchives covers tar.gz, tar.xz and zip extraction: the
// archive itself leaves the copy list, its content joins it, and Cleanup
// removes what extraction created.
func TestResolveUnpacksArchives(t *testing.T) {
	dir := t.TempDir()
	makeTarGz(t, filepath.Join(dir, "rootfs.tar.gz"), map[string]string{
		"etc/hostname": "buddy\n",
	})
	makeTarXz(t, filepath.Join(dir, "modules.tar.xz"), map[string]string{
		"lib/firmware.bin": "0123456789",
	})
	makeZip(t, filepath.Join(dir, "overlay.zip"), map[string]string{
		"overlay.txt": "hello",
	})

	spec := &layout.PartitionSpec{Ordinal: 2, Kind: layout.Ext3, Unzip: true}
	res, err := Resolve(spec, dir)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	for _, f := range res.Files {
		switch filepath.Base(f) {
		case "rootfs.tar.gz", "modules.tar.xz", "overlay.zip":
			t.Errorf("Archive %s must not be in the copy list", f)
		}
	}

	content, err := os.ReadFile(filepath.Join(dir, "etc", "hostname"))
	if err != nil || string(content) != "buddy\n" {
		t.Errorf("tar.gz content not extracted: %v %q", err, content)
	}
	if _, err := os.Stat(filepath.Join(dir, "lib", "firmware.bin")); err != nil {
		t.Errorf("tar.xz content not extracted: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "overlay.txt")); err != nil {
		t.Errorf("zip content not extracted: %v", err)
	}

	res.Cleanup()
	for _, name := range []string{"etc", "lib", "overlay.txt"} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("Cleanup left %s behind", name)
		}
	}
	// The archives themselves stay.
	if _, err := os.Stat(filepath.Join(dir, "rootfs.tar.gz")); err != nil {
		t.Errorf("Cleanup must not remove the archive itself: %v", err)
	}
}

// TestExtractRejectsEscapingMembers guards against path traversal in
// archives.
func TestExtractRejectsEscapingMembers(t *testing.T) {
	dir := t.TempDir()
	makeTarGz(t, filepath.Join(dir, "evil.tar.gz"), map[string]string{
		"../escape.txt": "nope",
	})

	spec := &layout.PartitionSpec{Ordinal: 1, Kind: layout.Ext4, Unzip: true}
	if _, err := Resolve(spec, dir); err == nil {
		t.Fatal("Expected an error for an archive member escaping the directory")
	}
}
