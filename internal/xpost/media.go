package xpost

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

var imageTypes = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// LoadImage reads an image from disk and resolves its MIME type. The bytes are
// used as-is; callers that need smaller files must resize beforehand.
func LoadImage(path, alt, publicURL string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ValidationError{Reason: fmt.Sprintf("image %q not found", path)}
		}
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil, ValidationError{Reason: fmt.Sprintf("image %q is empty", path)}
	}

	mimeType, err := DetectImageType(path, data)
	if err != nil {
		return nil, err
	}

	return &Image{
		Data:     data,
		MIMEType: mimeType,
		Alt:      strings.TrimSpace(alt),
		URL:      strings.TrimSpace(publicURL),
	}, nil
}

// DetectImageType resolves a MIME type from the file extension, falling back
// to content sniffing.
func DetectImageType(path string, data []byte) (string, error) {
	if t, ok := imageTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t, nil
	}

	// fallback to simple detection
	detected := http.DetectContentType(data)
	for _, t := range imageTypes {
		if strings.HasPrefix(detected, t) {
			return t, nil
		}
	}

	return "", ValidationError{Reason: fmt.Sprintf("unsupported image type for %q", path)}
}
