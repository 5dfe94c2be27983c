package fileset

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/jgarman/bootimage-buddy/internal/layout"
)

// compileDeviceTree compiles the single .dts file in the directory's top
// level with dtc and returns the source path so it can be excluded from the
// copy list. No .dts file is not an error.
func compileDeviceTree(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("failed to scan %s: %w", dir, err)
	}

	var src string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".dts") {
			continue
		}
		if src != "" {
			return "", &layout.ValidationError{
				Reason: "more than one .dts file found, only one device tree per partition is supported",
			}
		}
		src = filepath.Join(dir, e.Name())
	}
	if src == "" {
		log.Debug("no .dts file in the top folder, skipping device tree compilation")
		return "", nil
	}

	out := strings.TrimSuffix(src, ".dts") + ".dtb"
	// Stale output from an earlier run would mask a failed compile.
	if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove old device tree %s: %w", out, err)
	}

	log.WithField("source", src).Debug("compiling device tree")
	if output, err := runCommand("dtc", "-O", "dtb", "-o", out, src); err != nil {
		return "", fmt.Errorf("dtc failed for %s: %v: %s", src, err, output)
	}
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("dtc produced no output for %s, check the device tree source", src)
	}
	return src, nil
}

// compileBootScript compiles boot.script into boot.scr with mkimage for the
// given architecture and returns the source path to exclude. A missing
// boot.script is not an error.
func compileBootScript(dir, arch string) (string, error) {
	src := filepath.Join(dir, "boot.script")
	if _, err := os.Stat(src); os.IsNotExist(err) {
		log.Debug("no boot.script in the top folder, skipping u-boot script compilation")
		return "", nil
	}

	out := filepath.Join(dir, "boot.scr")
	if err := os.Remove(out); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("failed to remove old u-boot script %s: %w", out, err)
	}

	log.WithFields(log.Fields{"source": src, "arch": arch}).Debug("compiling u-boot script")
	output, err := runCommand("mkimage",
		"-A", arch, "-O", "linux", "-T", "script", "-C", "none",
		"-a", "0", "-e", "0", "-n", "u-boot", "-d", src, out)
	if err != nil {
		return "", fmt.Errorf("mkimage failed for %s: %v: %s", src, err, output)
	}
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("mkimage produced no output for %s", src)
	}
	return src, nil
}
