package layout

// PartitionSpec is one partition's declared intent plus the measured size of
// the content that will be copied into it. It is immutable once planning has
// started, except that the planner renumbers ordinals when it inserts the
// extended container.
type PartitionSpec struct {
	// Ordinal is the 1-based slot in the partition table. Ordinals must form
	// a contiguous run starting at 1 across the whole table.
	Ordinal int

	Kind Kind

	// FixedBytes is the declared partition size. 0 selects dynamic sizing:
	// the final size is ContentBytes + OffsetBytes.
	FixedBytes int64

	// OffsetBytes is the extra space reserved beyond the measured content.
	// Only meaningful when FixedBytes is 0.
	OffsetBytes int64

	// ContentBytes is the measured total size of Files, filled in by the
	// file-set resolution step before planning.
	ContentBytes int64

	// Files is the resolved list of files and directories to copy in.
	Files []string

	// Post-processing switches, consumed by the file-set resolver.
	CompileDeviceTree bool
	UBootArch         string // "", "arm" or "arm64"
	Unzip             bool
	ScanRecursive     bool
}

// TotalBytes derives the partition's concrete byte size. A fixed-size
// partition whose measured content exceeds the declared size is a
// CapacityError.
func (p *PartitionSpec) TotalBytes() (int64, error) {
	if p.FixedBytes > 0 {
		if p.ContentBytes > p.FixedBytes {
			return 0, &CapacityError{
				Ordinal:      p.Ordinal,
				FixedBytes:   p.FixedBytes,
				ContentBytes: p.ContentBytes,
			}
		}
		return p.FixedBytes, nil
	}
	return p.ContentBytes + p.OffsetBytes, nil
}
