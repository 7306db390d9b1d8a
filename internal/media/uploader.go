package media

import (
	"context"
	"errors"
)

var (
	ErrUploadFailed = errors.New("upload failed")
	ErrFileNotFound = errors.New("file not found")
	ErrInvalidFile  = errors.New("invalid file")
)

type UploadOptions struct {
	Folder       string
	ResourceType string
	// original file name, some backends keep it
	Filename string
}

func OptionsForSlot(slot Slot, filename string) UploadOptions {
	return UploadOptions{
		Folder:       slot.Folder(),
		ResourceType: slot.ResourceType(),
		Filename:     filename,
	}
}

type UploadResult struct {
	SecureURL string
}

// Uploader pushes a local file to a media host and returns its public URL.
type Uploader interface {
	Upload(ctx context.Context, localPath string, opts UploadOptions) (*UploadResult, error)
}
