package layout

import (
	"strconv"
	"strings"
)

// Kind identifies the filesystem a partition is formatted with.
type Kind string

const (
	Ext2 Kind = "ext2"
	Ext3 Kind = "ext3"
	Ext4 Kind = "ext4"
	XFS  Kind = "xfs"
	VFat Kind = "vfat"
	Fat  Kind = "fat"
	Raw  Kind = "raw"
	None Kind = "none"
	Swap Kind = "swap"

	// Extended is the MBR container slot. It is inserted by the planner when
	// the table overflows the four primary slots and is never declared by the
	// user.
	Extended Kind = "extended"
)

// ParseKind validates a declared filesystem type. Input is case-insensitive.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(s))
	switch k {
	case Ext2, Ext3, Ext4, XFS, VFat, Fat, Raw, None, Swap:
		return k, nil
	}
	return "", &ValidationError{Reason: "unknown filesystem type " + strconv.Quote(s)}
}

// MBRCode returns the partition type code the partitioning tool expects, as
// the hex string typed at its prompt.
func (k Kind) MBRCode() string {
	switch k {
	case Ext2, Ext3, Ext4, XFS:
		return "83" // Linux
	case VFat, Fat:
		return "b" // FAT32
	case Raw, None:
		return "a2"
	case Swap:
		return "82"
	case Extended:
		return "5"
	}
	return ""
}

// MBRType returns the partition type as the byte stored in the table.
func (k Kind) MBRType() byte {
	v, _ := strconv.ParseUint(k.MBRCode(), 16, 8)
	return byte(v)
}

// FormatTool returns the mkfs command for the kind, or "" when the partition
// is not formatted (raw, none, swap and the extended container).
func (k Kind) FormatTool() string {
	switch k {
	case Ext2, Ext3, Ext4, XFS:
		return "mkfs." + string(k)
	case VFat, Fat:
		return "mkfs.vfat"
	}
	return ""
}

// MountType returns the filesystem type passed to mount -t.
func (k Kind) MountType() string {
	if k == Fat {
		return string(VFat)
	}
	return string(k)
}

// IsRaw reports whether files are written straight onto the block device with
// no filesystem in between.
func (k Kind) IsRaw() bool {
	return k == Raw || k == None
}
