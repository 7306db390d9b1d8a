package blog

import (
	"errors"
	"fmt"

	"github.com/2beens/portfolio/internal/media"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation failed")
	ErrUploadFailed     = media.ErrUploadFailed
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrPostNotFound     = fmt.Errorf("post %w", ErrNotFound)
	ErrCommentNotFound  = fmt.Errorf("comment %w", ErrNotFound)
	ErrCategoryNotFound = fmt.Errorf("category %w", ErrNotFound)
	ErrAuthorNotFound   = fmt.Errorf("author %w", ErrNotFound)
)

func validationErr(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}
