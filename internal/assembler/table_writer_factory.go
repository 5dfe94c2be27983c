package assembler

// NewTableWriter creates the appropriate TableWriter for the platform.
// On Linux it scripts the system fdisk tool, which is the only writer that
// can build tables with an extended container. Elsewhere it falls back to the
// go-diskfs library writer.
func NewTableWriter(run Runner) TableWriter {
	return newTableWriterPlatform(run)
}
