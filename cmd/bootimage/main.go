// Command bootimage builds a bootable disk image from a blueprint file and
// per-partition content directories.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	flags "github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/jgarman/bootimage-buddy/internal/artifact"
	"github.com/jgarman/bootimage-buddy/internal/assembler"
	"github.com/jgarman/bootimage-buddy/internal/blueprint"
	"github.com/jgarman/bootimage-buddy/internal/fileset"
	"github.com/jgarman/bootimage-buddy/internal/layout"
)

type options struct {
	Blueprint  string        `short:"b" long:"blueprint" default:"blueprint.yml" description:"Blueprint file describing the partition table"`
	ContentDir string        `short:"c" long:"content" default:"." description:"Directory holding the per-partition content folders"`
	OutDir     string        `short:"o" long:"out" default:"." description:"Directory the image is written to"`
	Name       string        `short:"n" long:"name" description:"Output image file name (default LinuxDistro<datecode>.img)"`
	Compress   string        `long:"compress" default:"none" choice:"none" choice:"zip" choice:"gz" description:"Compress the finished image"`
	Writer     string        `long:"writer" default:"auto" choice:"auto" choice:"fdisk" choice:"diskfs" description:"Partition table writer"`
	Timeout    time.Duration `long:"tool-timeout" default:"0" description:"Kill an external tool after this long (0 = no limit)"`
	Verbose    bool          `short:"v" long:"verbose" description:"Debug logging"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		if flags.WroteHelp(err) {
			return
		}
		os.Exit(2)
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if opts.Verbose {
		log.SetLevel(log.DebugLevel)
	}

	if err := run(&opts); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func run(opts *options) error {
	bp, err := blueprint.Load(opts.Blueprint)
	if err != nil {
		return err
	}
	specs, err := bp.Specs()
	if err != nil {
		return err
	}

	// First run: lay down the content folders and let the user fill them.
	if created, err := ensureWorkingFolders(opts.ContentDir, specs); err != nil {
		return err
	} else if created {
		fmt.Println("Content folders created. Put each partition's files into its folder and run again.")
		return nil
	}

	for _, spec := range specs {
		dir := filepath.Join(opts.ContentDir, blueprint.WorkingFolderName(spec))
		res, err := fileset.Resolve(spec, dir)
		if err != nil {
			return err
		}
		defer res.Cleanup()
	}

	plan, err := layout.PlanLayout(specs)
	if err != nil {
		return err
	}
	printPlan(plan)

	name := opts.Name
	if name == "" {
		name = "LinuxDistro" + time.Now().Format("20060102_1504") + ".img"
	}
	if err := blueprint.ValidateImageName(name); err != nil {
		return err
	}
	imagePath := filepath.Join(opts.OutDir, name)

	runner := assembler.NewRunner(opts.Timeout)
	a := assembler.New(assembler.Config{
		ImagePath: imagePath,
		Runner:    runner,
		Writer:    tableWriter(opts.Writer, runner),
	})
	if err := a.Generate(plan); err != nil {
		return err
	}

	if table, err := a.ListTable(); err != nil {
		log.WithError(err).Warn("could not list the final partition table")
	} else {
		fmt.Println(table)
	}

	switch opts.Compress {
	case "zip":
		if _, err := artifact.Zip(imagePath); err != nil {
			return err
		}
	case "gz":
		if _, err := artifact.Gzip(imagePath); err != nil {
			return err
		}
	}

	log.WithField("image", imagePath).Info("done")
	return nil
}

// ensureWorkingFolders creates the Pat_<ordinal>_<type> content directories
// and reports whether any were missing.
func ensureWorkingFolders(contentDir string, specs []*layout.PartitionSpec) (bool, error) {
	var created bool
	for _, spec := range specs {
		dir := filepath.Join(contentDir, blueprint.WorkingFolderName(spec))
		if _, err := os.Stat(dir); err == nil {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return false, fmt.Errorf("failed to create content folder %s: %w", dir, err)
		}
		log.WithField("folder", dir).Info("content folder created")
		created = true
	}
	return created, nil
}

func printPlan(plan *layout.Plan) {
	for i := range plan.Entries {
		e := &plan.Entries[i]
		log.WithFields(log.Fields{
			"partition": e.Spec.Ordinal,
			"type":      e.Spec.Kind,
			"size":      blueprint.FormatBytes(e.TotalBytes),
			"start":     e.StartSector,
			"sectors":   e.SectorCount,
		}).Info("planned partition")
	}
	log.WithFields(log.Fields{
		"extended": plan.NeedsExtended,
		"image":    blueprint.FormatBytes(plan.TotalImageBytes),
	}).Info("layout planned")
}

func tableWriter(choice string, runner assembler.Runner) assembler.TableWriter {
	switch choice {
	case "fdisk":
		return assembler.NewFdiskWriter(runner)
	case "diskfs":
		return assembler.NewDiskfsTableWriter()
	}
	return nil // Assembler picks the platform default
}
