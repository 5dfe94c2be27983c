// Package assembler turns a computed partition layout into a real disk image:
// it creates the backing file, attaches it to a loopback device, writes the
// partition table, formats and populates every slot, and releases every
// loopback and mount resource it acquired on all exit paths.
package assembler

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jgarman/bootimage-buddy/internal/layout"
)

// Config carries the collaborators of one Assembler. Writer and Runner
// default to the platform table writer and a plain exec runner.
type Config struct {
	ImagePath string
	Writer    TableWriter
	Runner    Runner

	// MountBase is where temporary mount points are created. Defaults to the
	// system temp directory.
	MountBase string
}

// Assembler owns the image file, the attached loopback device and the
// temporary mount points for the duration of one Generate call. It is not
// safe for concurrent use; one image, one Assembler.
type Assembler struct {
	imagePath string
	run       Runner
	writer    TableWriter
	mountBase string

	loopDevice string
	mounts     []string
}

// New creates an Assembler for the given image path.
func New(cfg Config) *Assembler {
	a := &Assembler{
		imagePath: cfg.ImagePath,
		run:       cfg.Runner,
		writer:    cfg.Writer,
		mountBase: cfg.MountBase,
	}
	if a.run == nil {
		a.run = NewRunner(0)
	}
	if a.writer == nil {
		a.writer = NewTableWriter(a.run)
	}
	if a.mountBase == "" {
		a.mountBase = os.TempDir()
	}
	return a
}

// Generate builds the image for the plan. On any failure past image-file
// creation, every acquired resource is released before the error is returned;
// the partially written image file itself is left on disk for inspection.
func (a *Assembler) Generate(plan *layout.Plan) (err error) {
	if err := a.createEmptyImage(plan.TotalImageBytes); err != nil {
		return err
	}

	defer func() {
		if terr := a.Teardown(); terr != nil && err == nil {
			err = terr
		}
	}()

	device, err := attachLoopback(a.run, a.imagePath)
	if err != nil {
		return err
	}
	a.loopDevice = device
	log.WithFields(log.Fields{"image": a.imagePath, "device": device}).Info("loopback device attached")

	if err := a.writer.Apply(device, plan); err != nil {
		return err
	}
	log.WithField("partitions", len(plan.Entries)).Info("partition table written")

	for i := range plan.Entries {
		e := &plan.Entries[i]
		if e.Spec.Kind == layout.Extended {
			continue
		}
		if err := a.formatPartition(e); err != nil {
			return err
		}
		if err := a.populatePartition(e); err != nil {
			return err
		}
	}

	log.WithField("image", a.imagePath).Info("image assembled")
	return nil
}

// createEmptyImage allocates the backing file at its full planned size.
func (a *Assembler) createEmptyImage(size int64) error {
	f, err := os.OpenFile(a.imagePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create image file %s: %w", a.imagePath, err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return fmt.Errorf("failed to size image file %s to %d bytes: %w", a.imagePath, size, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close image file %s: %w", a.imagePath, err)
	}
	log.WithFields(log.Fields{"image": a.imagePath, "bytes": size}).Debug("empty image file created")
	return nil
}

// formatPartition runs the filesystem-specific mkfs against the partition's
// sub-device. Raw, none and swap slots are not formatted.
func (a *Assembler) formatPartition(e *layout.Entry) error {
	tool := e.Spec.Kind.FormatTool()
	if tool == "" {
		log.WithField("partition", e.Spec.Ordinal).Debug("no filesystem to format")
		return nil
	}

	node := partitionDevice(a.loopDevice, e.Spec.Ordinal)
	args := []string{node}
	if e.Spec.Kind == layout.VFat || e.Spec.Kind == layout.Fat {
		// 32-bit FAT; -I allows formatting the whole sub-device.
		args = []string{"-F", "32", "-I", node}
	}

	log.WithFields(log.Fields{"partition": e.Spec.Ordinal, "tool": tool}).Info("formatting partition")
	if output, err := a.run.Run(tool, args...); err != nil {
		return &MountError{Ordinal: e.Spec.Ordinal, Op: "format", Path: node,
			Err: fmt.Errorf("%v: %s", err, output)}
	}
	return nil
}

// populatePartition copies the partition's resolved files into it. Raw slots
// get their files written back to back straight onto the sub-device; the rest
// are mounted, filled with cp, and unmounted again.
func (a *Assembler) populatePartition(e *layout.Entry) error {
	if len(e.Spec.Files) == 0 {
		log.WithField("partition", e.Spec.Ordinal).Debug("nothing to copy")
		return nil
	}
	node := partitionDevice(a.loopDevice, e.Spec.Ordinal)

	if e.Spec.Kind.IsRaw() {
		return a.copyRaw(e, node)
	}
	if e.Spec.Kind == layout.Swap {
		log.WithField("partition", e.Spec.Ordinal).Warn("swap partitions take no files, skipping")
		return nil
	}

	mountPoint := filepath.Join(a.mountBase,
		fmt.Sprintf("bootimage-%d_%d-p%d", time.Now().Unix(), os.Getpid(), e.Spec.Ordinal))
	if err := os.MkdirAll(mountPoint, 0755); err != nil {
		return &MountError{Ordinal: e.Spec.Ordinal, Op: "mount", Path: mountPoint, Err: err}
	}

	if output, err := a.run.Run("mount", "-t", e.Spec.Kind.MountType(), node, mountPoint); err != nil {
		os.Remove(mountPoint)
		return &MountError{Ordinal: e.Spec.Ordinal, Op: "mount", Path: mountPoint,
			Err: fmt.Errorf("%v: %s", err, output)}
	}
	a.mounts = append(a.mounts, mountPoint)

	// -a preserves ownership and attributes; FAT has neither, so plain
	// recursive copy there.
	cpFlags := "-at"
	if e.Spec.Kind.MountType() == string(layout.VFat) {
		cpFlags = "-rt"
	}
	args := append([]string{cpFlags, mountPoint}, e.Spec.Files...)
	log.WithFields(log.Fields{"partition": e.Spec.Ordinal, "files": len(e.Spec.Files)}).Info("copying files")
	if output, err := a.run.Run("cp", args...); err != nil {
		return &MountError{Ordinal: e.Spec.Ordinal, Op: "copy", Path: mountPoint,
			Err: fmt.Errorf("%v: %s", err, output)}
	}

	return a.unmount(e.Spec.Ordinal, mountPoint)
}

// copyRaw streams the partition's files back to back onto the sub-device with
// no filesystem in between.
func (a *Assembler) copyRaw(e *layout.Entry, node string) error {
	out, err := os.OpenFile(node, os.O_WRONLY, 0)
	if err != nil {
		return &MountError{Ordinal: e.Spec.Ordinal, Op: "raw write", Path: node, Err: err}
	}

	for _, f := range e.Spec.Files {
		in, err := os.Open(f)
		if err != nil {
			out.Close()
			return &MountError{Ordinal: e.Spec.Ordinal, Op: "raw write", Path: f, Err: err}
		}
		_, err = io.Copy(out, in)
		in.Close()
		if err != nil {
			out.Close()
			return &MountError{Ordinal: e.Spec.Ordinal, Op: "raw write", Path: f, Err: err}
		}
		log.WithFields(log.Fields{"partition": e.Spec.Ordinal, "file": f}).Debug("raw file written")
	}

	if err := out.Close(); err != nil {
		return &MountError{Ordinal: e.Spec.Ordinal, Op: "raw write", Path: node, Err: err}
	}
	return nil
}

// unmount releases one mount point and drops it from the active list.
func (a *Assembler) unmount(ordinal int, mountPoint string) error {
	if output, err := a.run.Run("umount", mountPoint); err != nil {
		return &MountError{Ordinal: ordinal, Op: "unmount", Path: mountPoint,
			Err: fmt.Errorf("%v: %s", err, output)}
	}
	os.Remove(mountPoint)
	for i, m := range a.mounts {
		if m == mountPoint {
			a.mounts = append(a.mounts[:i], a.mounts[i+1:]...)
			break
		}
	}
	return nil
}

// Teardown releases everything still held: active mounts first, then the
// loopback device. It is idempotent and safe to call with nothing to release,
// but a resource that is present and cannot be released is an error.
func (a *Assembler) Teardown() error {
	var firstErr error

	for len(a.mounts) > 0 {
		mountPoint := a.mounts[0]
		if err := a.unmount(0, mountPoint); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			// Drop it anyway so a repeated Teardown does not loop forever.
			a.mounts = a.mounts[1:]
			log.WithError(err).Errorf("failed to unmount %s during teardown", mountPoint)
			continue
		}
		log.WithField("mount", mountPoint).Debug("unmounted during teardown")
	}

	if a.loopDevice != "" {
		if err := detachLoopback(a.run, a.loopDevice); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.WithError(err).Errorf("failed to detach %s during teardown", a.loopDevice)
		} else {
			log.WithField("device", a.loopDevice).Debug("loopback device detached")
		}
		a.loopDevice = ""
	}

	return firstErr
}

// ListTable prints the final image's partition table with fdisk, as a
// human-readable confirmation of what was built.
func (a *Assembler) ListTable() (string, error) {
	output, err := a.run.Run("fdisk", "-l", a.imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to list the image partition table: %v: %s", err, output)
	}
	return string(output), nil
}
