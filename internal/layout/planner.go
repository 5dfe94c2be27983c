package layout

import (
	"sort"
)

const (
	// SectorSize is the logical block size used for all offset math.
	SectorSize = 512

	// FirstUsableSector leaves 1 MiB in front of the first partition for the
	// boot record and tool bookkeeping.
	FirstUsableSector = 2048

	// maxPrimary is the MBR primary slot limit. A fifth partition forces an
	// extended container into slot 4.
	maxPrimary = 4

	// maxLogical is the ceiling on logical partitions inside the extended
	// container.
	maxLogical = 12
)

// Image size margin: small images are tripled, everything else gets a flat
// 10 MB of slack for alignment rounding and partition-table overhead. Existing
// blueprints depend on these exact numbers.
const (
	smallImageLimit = 1000000
	imageMargin     = 10000000
)

// Entry is one row of the computed layout: the concrete size and sector
// placement for a single partition.
type Entry struct {
	Spec        *PartitionSpec
	StartSector int64
	SectorCount int64
	TotalBytes  int64

	// Logical marks partitions living inside the extended container. They
	// are written through the logical-partition sub-protocol instead of as
	// primaries.
	Logical bool
}

// Plan is the finalized table layout. It is computed wholesale from the spec
// list and never mutated afterwards; a table change means a new Plan.
type Plan struct {
	Entries         []Entry
	NeedsExtended   bool
	TotalImageBytes int64
}

// PlanLayout turns an ordinal-contiguous list of measured partition specs
// into concrete sizes and sector offsets. Tables with more than four
// partitions get an extended container inserted at ordinal 4 and everything
// from the old ordinal 4 on shifts up by one and becomes logical.
func PlanLayout(specs []*PartitionSpec) (*Plan, error) {
	if len(specs) == 0 {
		return nil, &ValidationError{Reason: "the partition table is empty"}
	}

	sorted := make([]*PartitionSpec, len(specs))
	copy(sorted, specs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ordinal < sorted[j].Ordinal })

	if err := validateTable(sorted); err != nil {
		return nil, err
	}

	sizes := make([]int64, len(sorted))
	for i, spec := range sorted {
		n, err := spec.TotalBytes()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, &ValidationError{Ordinal: spec.Ordinal, Reason: "partition has no size"}
		}
		sizes[i] = n
	}

	plan := &Plan{}
	if len(sorted) > maxPrimary {
		if logical := len(sorted) - (maxPrimary - 1); logical > maxLogical {
			return nil, &UnsupportedLayoutError{Logical: logical, Limit: maxLogical}
		}
		plan.NeedsExtended = true

		// The extended container carries no content of its own; its size is
		// the sum of everything that will live inside it.
		var extendedBytes int64
		for i := maxPrimary - 1; i < len(sorted); i++ {
			extendedBytes += sizes[i]
		}

		for i, spec := range sorted[:maxPrimary-1] {
			plan.Entries = append(plan.Entries, Entry{Spec: spec, TotalBytes: sizes[i]})
		}
		extended := &PartitionSpec{Ordinal: maxPrimary, Kind: Extended}
		plan.Entries = append(plan.Entries, Entry{Spec: extended, TotalBytes: extendedBytes})
		for i := maxPrimary - 1; i < len(sorted); i++ {
			spec := sorted[i]
			spec.Ordinal++
			plan.Entries = append(plan.Entries, Entry{Spec: spec, TotalBytes: sizes[i], Logical: true})
		}
	} else {
		for i, spec := range sorted {
			plan.Entries = append(plan.Entries, Entry{Spec: spec, TotalBytes: sizes[i]})
		}
	}

	// Running sector cursor with one reserved sector between entries,
	// matching the partitioning tool's alignment behavior. Logical entries
	// follow the same rule; see the table-writer notes on the logical
	// sub-protocol.
	cursor := int64(FirstUsableSector)
	for i := range plan.Entries {
		e := &plan.Entries[i]
		e.StartSector = cursor
		e.SectorCount = (e.TotalBytes + SectorSize - 1) / SectorSize
		cursor += e.SectorCount + 1
	}

	var raw int64
	for i := range plan.Entries {
		raw += plan.Entries[i].TotalBytes
	}
	if raw < smallImageLimit {
		plan.TotalImageBytes = 3 * raw
	} else {
		plan.TotalImageBytes = raw + imageMargin
	}

	return plan, nil
}

// validateTable checks the ordinal sequence and that every partition that
// needs content actually has some.
func validateTable(sorted []*PartitionSpec) error {
	var anyContent bool
	for i, spec := range sorted {
		if spec.Ordinal < 1 {
			return &ValidationError{Ordinal: spec.Ordinal, Reason: "ordinals start at 1"}
		}
		if spec.Kind == Extended {
			return &ValidationError{Ordinal: spec.Ordinal, Reason: "extended partitions cannot be declared directly"}
		}
		if i > 0 && spec.Ordinal == sorted[i-1].Ordinal {
			return &ValidationError{Ordinal: spec.Ordinal, Reason: "duplicate ordinal"}
		}
		if spec.Ordinal != i+1 {
			return &ValidationError{
				Ordinal: spec.Ordinal,
				Reason:  "ordinals must be contiguous starting at 1",
			}
		}
		if !spec.Kind.IsRaw() && spec.ContentBytes == 0 {
			return &ValidationError{Ordinal: spec.Ordinal, Reason: "partition has no files to copy"}
		}
		if spec.ContentBytes > 0 {
			anyContent = true
		}
	}
	if !anyContent {
		return &CapacityError{}
	}
	return nil
}
