// Package fileset discovers and measures the content of one partition's
// working directory: it compiles device trees and u-boot scripts, unpacks
// archives, and produces the final list of files to copy together with their
// total byte size.
package fileset

import (
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/jgarman/bootimage-buddy/internal/layout"
)

// runCommand is swapped out in tests so no compiler or archive tool is
// actually invoked.
var runCommand = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// Result is what Resolve measured for one partition's content directory.
type Result struct {
	Files      []string
	TotalBytes int64

	// extracted tracks paths created by archive extraction so Cleanup can
	// remove them after the image is built.
	extracted []string
}

// Resolve scans the partition's content directory, runs the configured
// post-processing steps and fills the spec's Files and ContentBytes.
func Resolve(spec *layout.PartitionSpec, dir string) (*Result, error) {
	res := &Result{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
	}
	if len(entries) == 0 {
		log.WithField("partition", spec.Ordinal).Debug("content directory is empty")
		spec.Files = nil
		spec.ContentBytes = 0
		return res, nil
	}

	// Paths to leave out of the copy list: compiled sources and the archives
	// whose content was unpacked in place.
	exclude := make(map[string]bool)

	if spec.CompileDeviceTree {
		src, err := compileDeviceTree(dir)
		if err != nil {
			return nil, err
		}
		if src != "" {
			exclude[src] = true
		}
	}
	if spec.UBootArch != "" {
		src, err := compileBootScript(dir, spec.UBootArch)
		if err != nil {
			return nil, err
		}
		if src != "" {
			exclude[src] = true
		}
	}
	if spec.Unzip {
		archives, created, err := extractArchives(dir)
		if err != nil {
			return nil, err
		}
		for _, a := range archives {
			exclude[a] = true
		}
		res.extracted = created
	}

	files, err := scan(spec, dir, exclude)
	if err != nil {
		return nil, err
	}
	res.Files = files

	total, err := measure(spec, files)
	if err != nil {
		return nil, err
	}
	res.TotalBytes = total

	spec.Files = files
	spec.ContentBytes = total
	log.WithFields(log.Fields{
		"partition": spec.Ordinal,
		"files":     len(files),
		"bytes":     total,
	}).Debug("resolved partition content")
	return res, nil
}

// scan lists the copy candidates. The default mode lists the directory's
// top-level entries (directories are copied recursively later); recursive
// mode lists every individual file below the directory.
func scan(spec *layout.PartitionSpec, dir string, exclude map[string]bool) ([]string, error) {
	var files []string

	if spec.ScanRecursive {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if path == dir {
				return nil
			}
			if d.IsDir() {
				if spec.Kind.IsRaw() {
					return &layout.ValidationError{
						Ordinal: spec.Ordinal,
						Reason:  "raw partitions cannot contain directories",
					}
				}
				return nil
			}
			if !exclude[path] {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", dir, err)
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			if e.IsDir() && spec.Kind.IsRaw() {
				return nil, &layout.ValidationError{
					Ordinal: spec.Ordinal,
					Reason:  "raw partitions cannot contain directories",
				}
			}
			if !exclude[path] {
				files = append(files, path)
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

// measure sums the byte sizes of the copy list. Directories count as the sum
// of every file below them.
func measure(spec *layout.PartitionSpec, files []string) (int64, error) {
	var total int64
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			return 0, fmt.Errorf("failed to measure %s: %w", f, err)
		}
		if !info.IsDir() {
			total += info.Size()
			continue
		}
		err = filepath.WalkDir(f, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return err
			}
			total += fi.Size()
			return nil
		})
		if err != nil {
			return 0, fmt.Errorf("failed to measure %s: %w", f, err)
		}
	}
	return total, nil
}

// Cleanup removes everything archive extraction created. Safe to call when
// nothing was extracted.
func (r *Result) Cleanup() {
	for _, path := range r.extracted {
		if err := os.RemoveAll(path); err != nil {
			log.WithError(err).Warnf("failed to remove extracted path %s", path)
		}
	}
	r.extracted = nil
}
