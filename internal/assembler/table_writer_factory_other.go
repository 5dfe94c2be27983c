//go:build !linux
// +build !linux

package assembler

// newTableWriterPlatform returns the library writer on non-Linux platforms
func newTableWriterPlatform(run Runner) TableWriter {
	return NewDiskfsTableWriter()
}
