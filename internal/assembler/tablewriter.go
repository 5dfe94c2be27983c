package assembler

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/jgarman/bootimage-buddy/internal/layout"
)

// TableWriter materializes a computed layout as an MBR partition table on a
// block device.
type TableWriter interface {
	Apply(device string, plan *layout.Plan) error
}

// FdiskWriter drives fdisk through a scripted interactive session. fdisk has
// no batch mode for this exact table-construction sequence, so the commands
// mimic manual keystrokes on its prompt.
type FdiskWriter struct {
	run Runner

	// statNode is swapped out in tests; the default checks the kernel's
	// partition sub-device nodes.
	statNode func(path string) error
}

// NewFdiskWriter creates a TableWriter that scripts the system fdisk tool.
func NewFdiskWriter(run Runner) *FdiskWriter {
	return &FdiskWriter{
		run: run,
		statNode: func(path string) error {
			_, err := os.Stat(path)
			return err
		},
	}
}

// Apply writes the table and verifies the kernel picked it up. Verification
// failure is fatal with no retry: a malformed table means the sector math is
// wrong, not that the tool failed transiently.
func (w *FdiskWriter) Apply(device string, plan *layout.Plan) error {
	script := fdiskScript(plan)
	log.WithFields(log.Fields{"device": device, "partitions": len(plan.Entries)}).
		Debug("writing partition table with fdisk")

	output, err := w.run.RunInput(script, "fdisk", device, "-u")
	if err != nil {
		return &TableWriteError{Device: device, Err: fmt.Errorf("%v: %s", err, output)}
	}
	return w.verify(device, plan)
}

// fdiskScript builds the line-oriented command sequence for one fdisk
// session. Quirks of the prompt flow that the script depends on:
//   - the first "t" never asks for a partition number, there is only one
//     partition at that point;
//   - the final primary of a full four-slot table likewise skips the number
//     prompt, it is the only slot without a type yet, so no number is sent;
//   - logical partitions get no type step at all, they inherit the default
//     type inside the extended container;
//   - the extended container and the last entry get no size answer, fdisk
//     extends them to the planned remainder.
func fdiskScript(plan *layout.Plan) string {
	var lines []string

	// Fresh empty DOS table, erasing whatever was on the device.
	lines = append(lines, "o")

	last := len(plan.Entries) - 1
	for i := range plan.Entries {
		e := &plan.Entries[i]
		ordinal := e.Spec.Ordinal

		switch {
		case e.Spec.Kind == layout.Extended:
			lines = append(lines, "n", "e", strconv.Itoa(ordinal),
				strconv.FormatInt(e.StartSector, 10), "")
			continue
		case e.Logical:
			lines = append(lines, "n", "l",
				strconv.FormatInt(e.StartSector, 10))
		default:
			lines = append(lines, "n", "p", strconv.Itoa(ordinal),
				strconv.FormatInt(e.StartSector, 10))
		}
		if i == last {
			lines = append(lines, "")
		} else {
			lines = append(lines, "+"+strconv.FormatInt(e.SectorCount, 10))
		}

		if e.Logical {
			continue
		}
		lines = append(lines, "t")
		// fdisk only prompts for a number when more than one partition could
		// be meant.
		if ordinal > 1 && !(i == last && len(plan.Entries) == 4 && !plan.NeedsExtended) {
			lines = append(lines, strconv.Itoa(ordinal))
		}
		lines = append(lines, e.Spec.Kind.MBRCode())
	}

	// Print the table for the log, write it to the device, leave.
	lines = append(lines, "p", "w", "q", "")
	return strings.Join(lines, "\n")
}

// verify re-probes the kernel partition table once and checks that every
// non-extended partition's sub-device node exists and that fdisk can list the
// table.
func (w *FdiskWriter) verify(device string, plan *layout.Plan) error {
	// The kernel does not always pick up the new table on its own.
	if output, err := w.run.Run("partprobe", device); err != nil {
		return &TableWriteError{Device: device, Err: fmt.Errorf("partprobe: %v: %s", err, output)}
	}

	for i := range plan.Entries {
		e := &plan.Entries[i]
		if e.Spec.Kind == layout.Extended {
			// The container itself gets no usable sub-device.
			continue
		}
		node := partitionDevice(device, e.Spec.Ordinal)
		if err := w.statNode(node); err != nil {
			return &TableWriteError{Device: device,
				Err: fmt.Errorf("partition %d: sub-device %s missing after table write: %w", e.Spec.Ordinal, node, err)}
		}
	}

	output, err := w.run.Run("fdisk", "-l", device)
	if err != nil {
		return &TableWriteError{Device: device, Err: fmt.Errorf("fdisk -l: %v: %s", err, output)}
	}
	text := string(output)
	if !strings.Contains(text, "Device") || !strings.Contains(text, "Start") {
		return &TableWriteError{Device: device,
			Err: fmt.Errorf("fdisk -l output has no partition listing: %q", text)}
	}
	return nil
}
