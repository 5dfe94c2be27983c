package assembler

import (
	"fmt"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/partition/mbr"

	"github.com/jgarman/bootimage-buddy/internal/layout"
)

// DiskfsTableWriter writes the partition table with go-diskfs instead of
// scripting fdisk. It covers platforms without fdisk and loopback devices,
// but MBR tables written this way cannot carry an extended container.
type DiskfsTableWriter struct{}

// NewDiskfsTableWriter creates a library-backed TableWriter.
func NewDiskfsTableWriter() *DiskfsTableWriter {
	return &DiskfsTableWriter{}
}

// Apply writes the MBR table directly into the image file or device.
func (w *DiskfsTableWriter) Apply(device string, plan *layout.Plan) error {
	if plan.NeedsExtended {
		return &TableWriteError{Device: device,
			Err: fmt.Errorf("the library table writer cannot create extended partitions, use fdisk")}
	}

	table := &mbr.Table{
		LogicalSectorSize:  layout.SectorSize,
		PhysicalSectorSize: layout.SectorSize,
	}
	for i := range plan.Entries {
		e := &plan.Entries[i]
		table.Partitions = append(table.Partitions, &mbr.Partition{
			Type:  mbr.Type(e.Spec.Kind.MBRType()),
			Start: uint32(e.StartSector),
			Size:  uint32(e.SectorCount),
		})
	}

	disk, err := diskfs.Open(device, diskfs.WithOpenMode(diskfs.ReadWriteExclusive))
	if err != nil {
		return &TableWriteError{Device: device, Err: err}
	}
	defer disk.Close()

	if err := disk.Partition(table); err != nil {
		return &TableWriteError{Device: device, Err: err}
	}
	return nil
}
