package storage

import (
	"errors"
	"net/http"
	"strings"
)

var (
	ErrFileTooLarge    = errors.New("file exceeds maximum size")
	ErrInvalidMimeType = errors.New("file type not allowed")
	ErrEmptyFile       = errors.New("file is empty")
)

// AllowedPhotoTypes lists MIME types accepted as album photos
var AllowedPhotoTypes = []string{"image/jpeg", "image/png", "image/gif"}

// ValidatePhoto checks size and sniffed MIME type and returns the MIME type.
func ValidatePhoto(data []byte, maxSize int64) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyFile
	}
	if maxSize > 0 && int64(len(data)) > maxSize {
		return "", ErrFileTooLarge
	}

	// Detect MIME type from content (magic bytes)
	mimeType := http.DetectContentType(data)
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	for _, t := range AllowedPhotoTypes {
		if t == mimeType {
			return mimeType, nil
		}
	}
	return "", ErrInvalidMimeType
}
