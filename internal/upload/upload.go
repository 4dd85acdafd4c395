// Package upload stores applicant resumes in S3-compatible object storage
// or a local directory.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxSize caps a single resume upload.
const MaxSize = 10 << 20

var (
	ErrExtension = errors.New("resume must be a PDF, DOC, or DOCX file")
	ErrTooLarge  = errors.New("resume exceeds upload limit")
	ErrBadKey    = errors.New("invalid object key")
)

var allowedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Storage puts an object under key and returns where it can be found.
type Storage interface {
	Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error)
}

// CheckExtension accepts .pdf, .doc and .docx in any case.
func CheckExtension(filename string) error {
	if _, ok := allowedExtensions[strings.ToLower(filepath.Ext(filename))]; !ok {
		return ErrExtension
	}
	return nil
}

// ContentType returns the MIME type for an accepted resume filename.
func ContentType(filename string) string {
	if ct, ok := allowedExtensions[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// ObjectKey names a stored resume: owner, upload time, a random component
// and the sanitized original name.
func ObjectKey(userID int64, now time.Time, filename string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d_%d_%s_%s", userID, now.Unix(), id, SanitizeFilename(filename))
}

// SanitizeFilename reduces name to a safe single path element made of
// letters, digits, dot, dash and underscore.
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('_')
		}
	}
	out := strings.TrimLeft(b.String(), "._")
	if out == "" {
		return "resume"
	}
	return out
}

func validKey(key string) bool {
	return key != "" && key == SanitizeFilename(key)
}
