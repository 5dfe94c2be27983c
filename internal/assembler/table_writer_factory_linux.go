//go:build linux
// +build linux

package assembler

// newTableWriterPlatform returns the fdisk-scripting writer on Linux
func newTableWriterPlatform(run Runner) TableWriter {
	return NewFdiskWriter(run)
}
