package assembler

import (
	"fmt"
	"strconv"
	"strings"
)

// attachLoopback binds the whole image file to a free loopback device with
// partition scanning enabled and returns the device path.
func attachLoopback(run Runner, imagePath string) (string, error) {
	output, err := run.Run("losetup", "-fP", "--show", imagePath)
	if err != nil {
		return "", &LoopbackError{Op: "attach", Err: fmt.Errorf("%v: %s", err, output)}
	}
	device := strings.TrimSpace(string(output))
	if device == "" {
		return "", &LoopbackError{Op: "attach", Err: fmt.Errorf("losetup returned no device for %s", imagePath)}
	}

	// A device that reports zero bytes was not set up properly.
	size, err := deviceSize(run, device)
	if err != nil {
		return "", err
	}
	if size == 0 {
		return "", &LoopbackError{Op: "verify", Device: device, Err: fmt.Errorf("device reports zero size")}
	}
	return device, nil
}

func detachLoopback(run Runner, device string) error {
	if output, err := run.Run("losetup", "-d", device); err != nil {
		return &LoopbackError{Op: "detach", Device: device, Err: fmt.Errorf("%v: %s", err, output)}
	}
	return nil
}

func deviceSize(run Runner, device string) (int64, error) {
	output, err := run.Run("blockdev", "--getsize64", device)
	if err != nil {
		return 0, &LoopbackError{Op: "verify", Device: device, Err: fmt.Errorf("%v: %s", err, output)}
	}
	size, err := strconv.ParseInt(strings.TrimSpace(string(output)), 10, 64)
	if err != nil {
		return 0, &LoopbackError{Op: "verify", Device: device, Err: err}
	}
	return size, nil
}

// partitionDevice returns the kernel sub-device node for one partition of a
// loopback device, e.g. /dev/loop3p2.
func partitionDevice(device string, ordinal int) string {
	return fmt.Sprintf("%sp%d", device, ordinal)
}
