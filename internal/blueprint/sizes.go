package blueprint

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jgarman/bootimage-buddy/internal/layout"
)

// Partition sizes in a blueprint are written as "<n>", "<n>K", "<n>M" or
// "<n>G" (1024 multipliers), or "*" for dynamic sizing.
var sizePattern = regexp.MustCompile(`^([0-9]+)([KMGkmg]?)$`)

// ParseSize converts a size declaration to a byte count. "*" selects dynamic
// sizing and yields 0. The parse is total and has no side effects.
func ParseSize(s string) (int64, error) {
	if s == "*" {
		return 0, nil
	}
	m := sizePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, &layout.ValidationError{Reason: fmt.Sprintf("%q is not a valid size", s)}
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, &layout.ValidationError{Reason: fmt.Sprintf("%q is not a valid size: %v", s, err)}
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		n *= 1024
	case "M":
		n *= 1024 * 1024
	case "G":
		n *= 1024 * 1024 * 1024
	}
	return n, nil
}

// FormatBytes renders a byte count in the compact form used by the table
// printout, rounding up to the unit: 1536 bytes come out as "2K".
func FormatBytes(n int64) string {
	if n == 0 {
		return "0B"
	}
	const units = "BKMGTPE"
	idx := 0
	div := int64(1)
	for v := n; v >= 1024 && idx < len(units)-1; v /= 1024 {
		idx++
		div *= 1024
	}
	return fmt.Sprintf("%d%c", (n+div-1)/div, units[idx])
}
