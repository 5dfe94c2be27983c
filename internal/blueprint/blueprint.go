package blueprint

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/jgarman/bootimage-buddy/internal/layout"
)

// Partition is one declared slot of the image's partition table.
type Partition struct {
	Ordinal int    `yaml:"ordinal"`
	Type    string `yaml:"type"`
	Size    string `yaml:"size"`   // "*" or "<n>[KMG]"
	Offset  string `yaml:"offset"` // only meaningful when size is "*"

	// Post-processing of the partition's content directory.
	DeviceTree  bool   `yaml:"devicetree,omitempty"`
	Unzip       bool   `yaml:"unzip,omitempty"`
	UBootScript string `yaml:"ubootscript,omitempty"` // "", "arm" or "arm64"

	// Recursive lists every file below the content directory instead of only
	// its top-level entries.
	Recursive bool `yaml:"recursive,omitempty"`
}

// Blueprint is the declarative description of the image to build.
type Blueprint struct {
	Partitions []Partition `yaml:"partitions"`
}

// defaultBlueprint mirrors the stock three-partition embedded Linux layout:
// a FAT boot partition with a device tree and u-boot script, an ext3 rootfs
// fed from an archive, and a raw slot for the preloader.
var defaultBlueprint = Blueprint{
	Partitions: []Partition{
		{Ordinal: 1, Type: "vfat", Size: "*", Offset: "500M", DeviceTree: true, UBootScript: "arm"},
		{Ordinal: 2, Type: "ext3", Size: "*", Offset: "1M", Unzip: true},
		{Ordinal: 3, Type: "raw", Size: "*", Offset: "20M"},
	},
}

// Load reads a blueprint file. If the file doesn't exist, the default
// blueprint is written there for the user to edit and returned.
func Load(path string) (*Blueprint, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		bp := defaultBlueprint
		if err := bp.Save(path); err != nil {
			return nil, err
		}
		return &bp, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blueprint: %w", err)
	}

	var bp Blueprint
	if err := yaml.Unmarshal(data, &bp); err != nil {
		return nil, fmt.Errorf("failed to parse blueprint: %w", err)
	}
	if err := bp.Validate(); err != nil {
		return nil, err
	}
	return &bp, nil
}

// Save writes the blueprint as YAML.
func (b *Blueprint) Save(path string) error {
	data, err := yaml.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to marshal blueprint: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write blueprint: %w", err)
	}
	return nil
}

// Validate checks every declaration without touching the filesystem.
func (b *Blueprint) Validate() error {
	if len(b.Partitions) == 0 {
		return &layout.ValidationError{Reason: "the blueprint declares no partitions"}
	}
	seen := make(map[int]bool, len(b.Partitions))
	for _, p := range b.Partitions {
		if _, err := p.spec(); err != nil {
			return err
		}
		if seen[p.Ordinal] {
			return &layout.ValidationError{Ordinal: p.Ordinal, Reason: "duplicate ordinal"}
		}
		seen[p.Ordinal] = true
	}
	for i := 1; i <= len(b.Partitions); i++ {
		if !seen[i] {
			return &layout.ValidationError{Ordinal: i, Reason: "ordinals must be contiguous starting at 1"}
		}
	}
	return nil
}

// Specs converts the declarations into partition specs ready for file-set
// resolution and planning.
func (b *Blueprint) Specs() ([]*layout.PartitionSpec, error) {
	specs := make([]*layout.PartitionSpec, 0, len(b.Partitions))
	for _, p := range b.Partitions {
		spec, err := p.spec()
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func (p *Partition) spec() (*layout.PartitionSpec, error) {
	kind, err := layout.ParseKind(p.Type)
	if err != nil {
		return nil, &layout.ValidationError{Ordinal: p.Ordinal, Reason: err.Error()}
	}

	size, err := ParseSize(p.Size)
	if err != nil {
		return nil, &layout.ValidationError{Ordinal: p.Ordinal, Reason: err.Error()}
	}

	var offset int64
	if size == 0 {
		if p.Offset == "*" {
			return nil, &layout.ValidationError{Ordinal: p.Ordinal, Reason: "the offset cannot be dynamic"}
		}
		if p.Offset != "" {
			offset, err = ParseSize(p.Offset)
			if err != nil {
				return nil, &layout.ValidationError{Ordinal: p.Ordinal, Reason: err.Error()}
			}
		}
	}
	// A fixed-size partition ignores any declared offset.

	switch p.UBootScript {
	case "", "arm", "arm64":
	default:
		return nil, &layout.ValidationError{
			Ordinal: p.Ordinal,
			Reason:  fmt.Sprintf("ubootscript must be empty, \"arm\" or \"arm64\", not %q", p.UBootScript),
		}
	}

	return &layout.PartitionSpec{
		Ordinal:           p.Ordinal,
		Kind:              kind,
		FixedBytes:        size,
		OffsetBytes:       offset,
		CompileDeviceTree: p.DeviceTree,
		UBootArch:         p.UBootScript,
		Unzip:             p.Unzip,
		ScanRecursive:     p.Recursive,
	}, nil
}

var imageNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._]+$`)

// ValidateImageName checks that the output file name is usable and carries
// the .img suffix.
func ValidateImageName(name string) error {
	if !imageNamePattern.MatchString(name) {
		return &layout.ValidationError{Reason: fmt.Sprintf("%q cannot be used as a file name", name)}
	}
	if !strings.HasSuffix(name, ".img") {
		return &layout.ValidationError{Reason: fmt.Sprintf("output file %q must end in .img", name)}
	}
	return nil
}

// WorkingFolderName returns the per-partition content directory name users
// drop their files into.
func WorkingFolderName(spec *layout.PartitionSpec) string {
	return fmt.Sprintf("Pat_%d_%s", spec.Ordinal, spec.Kind)
}
