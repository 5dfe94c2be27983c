// Package artifact packages the finished image file for distribution.
package artifact

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	log "github.com/sirupsen/logrus"
)

// Zip writes the image into a .zip archive next to it and returns the archive
// path. The archive holds the image under its base name.
func Zip(imagePath string) (string, error) {
	archivePath := imagePath + ".zip"

	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", archivePath, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	w, err := zw.Create(filepath.Base(imagePath))
	if err != nil {
		return "", fmt.Errorf("failed to start zip entry: %w", err)
	}
	if err := copyImage(w, imagePath); err != nil {
		return "", err
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish %s: %w", archivePath, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to finish %s: %w", archivePath, err)
	}

	log.WithField("archive", archivePath).Info("image compressed")
	return archivePath, nil
}

// Gzip writes the image into a .img.gz next to it and returns the path.
func Gzip(imagePath string) (string, error) {
	archivePath := imagePath + ".gz"

	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", archivePath, err)
	}
	defer out.Close()

	gw := gzip.NewWriter(out)
	gw.Name = filepath.Base(imagePath)
	if err := copyImage(gw, imagePath); err != nil {
		return "", err
	}
	if err := gw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish %s: %w", archivePath, err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("failed to finish %s: %w", archivePath, err)
	}

	log.WithField("archive", archivePath).Info("image compressed")
	return archivePath, nil
}

func copyImage(w io.Writer, imagePath string) error {
	in, err := os.Open(imagePath)
	if err != nil {
		return fmt.Errorf("failed to open image %s: %w", imagePath, err)
	}
	defer in.Close()
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("failed to compress %s: %w", imagePath, err)
	}
	return nil
}
