package media

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"sync"

	log "github.com/sirupsen/logrus"
)

// StagedFile is an incoming upload written to a temporary local file.
// The temp file is owned by the StagedFile and removed by Cleanup.
type StagedFile struct {
	Slot         Slot
	OriginalName string
	Path         string
	Size         int64

	cleanupOnce sync.Once
}

// Stage copies src into a new temp file under tempDir ("" means the OS default).
func Stage(src io.Reader, originalName string, slot Slot, tempDir string) (*StagedFile, error) {
	tmp, err := os.CreateTemp(tempDir, "upload-*"+filepath.Ext(originalName))
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}

	size, err := io.Copy(tmp, src)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("stage %s: %w", originalName, err)
	}

	return &StagedFile{
		Slot:         slot,
		OriginalName: filepath.Base(originalName),
		Path:         tmp.Name(),
		Size:         size,
	}, nil
}

func StageMultipart(fh *multipart.FileHeader, slot Slot, tempDir string) (*StagedFile, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open multipart file %s: %w", fh.Filename, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Warnf("close multipart file %s: %s", fh.Filename, err)
		}
	}()

	return Stage(f, fh.Filename, slot, tempDir)
}

// Cleanup removes the temp file. Safe to call more than once.
func (f *StagedFile) Cleanup() {
	if f == nil {
		return
	}
	f.cleanupOnce.Do(func() {
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			log.Warnf("remove staged file %s: %s", f.Path, err)
		}
	})
}

// CleanupAll removes every staged file.
func CleanupAll(files ...*StagedFile) {
	for _, f := range files {
		f.Cleanup()
	}
}
