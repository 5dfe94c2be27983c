package layout

import "fmt"

// ValidationError reports a malformed partition declaration or table: an
// unknown filesystem type, a broken ordinal sequence, a directory handed to a
// raw partition, and similar input mistakes.
type ValidationError struct {
	Ordinal int // 0 when the error is not tied to a single partition
	Reason  string
}

func (e *ValidationError) Error() string {
	if e.Ordinal > 0 {
		return fmt.Sprintf("partition %d: %s", e.Ordinal, e.Reason)
	}
	return e.Reason
}

// CapacityError reports measured content that does not fit a fixed-size
// partition, or a table with no content to copy anywhere (Ordinal 0).
type CapacityError struct {
	Ordinal      int
	FixedBytes   int64
	ContentBytes int64
}

func (e *CapacityError) Error() string {
	if e.Ordinal == 0 {
		return "no partition has files to copy"
	}
	return fmt.Sprintf("partition %d: content of %d bytes does not fit the fixed size of %d bytes",
		e.Ordinal, e.ContentBytes, e.FixedBytes)
}

// UnsupportedLayoutError reports a table that cannot be expressed even with an
// extended partition, because it would exceed the logical-partition ceiling.
type UnsupportedLayoutError struct {
	Logical int
	Limit   int
}

func (e *UnsupportedLayoutError) Error() string {
	return fmt.Sprintf("layout needs %d logical partitions, at most %d are supported", e.Logical, e.Limit)
}
