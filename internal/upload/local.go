package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage writes objects as files in one directory.
type LocalStorage struct {
	dir string
}

func NewLocalStorage(dir string) (*LocalStorage, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalStorage{dir: dir}, nil
}

func (s *LocalStorage) Put(ctx context.Context, key, contentType string, body io.Reader, size int64) (string, error) {
	if !validKey(key) {
		return "", ErrBadKey
	}
	if size > MaxSize {
		return "", ErrTooLarge
	}

	path := filepath.Join(s.dir, key)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("create upload: %w", err)
	}

	n, err := io.Copy(f, io.LimitReader(body, MaxSize+1))
	if err == nil && n > MaxSize {
		err = ErrTooLarge
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		if errors.Is(err, ErrTooLarge) {
			return "", err
		}
		return "", fmt.Errorf("write upload: %w", err)
	}
	return path, nil
}
