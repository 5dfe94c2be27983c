package assembler

import "fmt"

// LoopbackError reports an attach, verify or detach failure on the loopback
// device backing the image file.
type LoopbackError struct {
	Op     string
	Device string
	Err    error
}

func (e *LoopbackError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("loopback %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("loopback %s failed on %s: %v", e.Op, e.Device, e.Err)
}

func (e *LoopbackError) Unwrap() error { return e.Err }

// TableWriteError reports a failure of the partition-table writing session or
// of the verification that follows it. It is fatal: a malformed table means
// the computed offsets are wrong, not that the tool hiccuped.
type TableWriteError struct {
	Device string
	Err    error
}

func (e *TableWriteError) Error() string {
	return fmt.Sprintf("partition table write failed on %s: %v", e.Device, e.Err)
}

func (e *TableWriteError) Unwrap() error { return e.Err }

// MountError reports a mount, copy or unmount failure while populating one
// partition.
type MountError struct {
	Ordinal int
	Op      string
	Path    string
	Err     error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("partition %d: %s failed at %s: %v", e.Ordinal, e.Op, e.Path, e.Err)
}

func (e *MountError) Unwrap() error { return e.Err }
