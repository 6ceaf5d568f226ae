package extractor

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
)

// Extractor unpacks gzip-compressed tar archives.
type Extractor struct {
	fs     afero.Fs
	logger *log.Logger
}

// NewExtractor creates an extractor reading and writing through fs.
func NewExtractor(fs afero.Fs, logger *log.Logger) *Extractor {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Extractor{fs: fs, logger: logger}
}

// Extract unpacks archivePath into targetDir, which must already exist.
// Directories and regular files are written; other entry types are skipped.
// Entries that would land outside targetDir fail the extraction.
func (e *Extractor) Extract(archivePath, targetDir string) error {
	file, err := e.fs.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("decompressing archive: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	root := filepath.Clean(targetDir)
	files := 0

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading archive: %w", err)
		}

		target := filepath.Join(root, filepath.FromSlash(header.Name))
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return fmt.Errorf("archive entry %q escapes %s", header.Name, targetDir)
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := e.fs.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("creating %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := e.fs.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
			}
			if err := e.writeFile(target, tarReader, fileMode(header.Mode)); err != nil {
				return err
			}
			files++
		default:
			e.logger.Debug("skipping archive entry", "name", header.Name, "type", string(header.Typeflag))
		}
	}

	e.logger.Debug("extracted", "archive", archivePath, "to", targetDir, "files", files)
	return nil
}

func (e *Extractor) writeFile(target string, r io.Reader, mode os.FileMode) error {
	f, err := e.fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return f.Close()
}

func fileMode(mode int64) os.FileMode {
	m := os.FileMode(mode).Perm()
	if m == 0 {
		return 0644
	}
	return m
}
