package fileset

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	log "github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
)

// extractArchives unpacks every archive in the directory's top level into the
// directory itself. It returns the archive paths (to exclude from the copy
// list) and the top-level paths the extraction created (for later cleanup).
func extractArchives(dir string) (archives, created []string, err error) {
	before, err := topLevelNames(dir)
	if err != nil {
		return nil, nil, err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		name := strings.ToLower(e.Name())
		switch {
		case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
			err = extractTar(path, dir, decompressGzip)
		case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
			err = extractTar(path, dir, decompressXz)
		case strings.HasSuffix(name, ".tar"):
			err = extractTar(path, dir, nil)
		case strings.HasSuffix(name, ".zip"):
			err = extractZip(path, dir)
		default:
			continue
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to unpack %s: %w", path, err)
		}
		log.WithField("archive", path).Debug("unpacked archive")
		archives = append(archives, path)
	}

	after, err := topLevelNames(dir)
	if err != nil {
		return nil, nil, err
	}
	for name := range after {
		if !before[name] {
			created = append(created, filepath.Join(dir, name))
		}
	}
	return archives, created, nil
}

func topLevelNames(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	names := make(map[string]bool, len(entries))
	for _, e := range entries {
		names[e.Name()] = true
	}
	return names, nil
}

func decompressGzip(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) }
func decompressXz(r io.Reader) (io.Reader, error)   { return xz.NewReader(r) }

// extractTar unpacks a tar stream, optionally wrapped in a decompressor,
// preserving modes and (when running as root) ownership.
func extractTar(path, dir string, decompress func(io.Reader) (io.Reader, error)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader = f
	if decompress != nil {
		if r, err = decompress(f); err != nil {
			return err
		}
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := securePath(dir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeSymlink:
			os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		default:
			continue
		}

		// Ownership can only be restored by root; everyone else keeps the
		// current user.
		if os.Geteuid() == 0 && hdr.Typeflag != tar.TypeSymlink {
			if err := os.Chown(target, hdr.Uid, hdr.Gid); err != nil {
				return err
			}
		}
	}
}

func extractZip(path, dir string) error {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, f := range zr.File {
		target, err := securePath(dir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, f.Mode()); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		in, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			in.Close()
			return err
		}
		_, err = io.Copy(out, in)
		in.Close()
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// securePath rejects archive members that would escape the extraction
// directory.
func securePath(dir, name string) (string, error) {
	target := filepath.Join(dir, name)
	if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive member %q escapes the extraction directory", name)
	}
	return target, nil
}
