// Package storage keeps the files the imaging service does not persist:
// layer records, annotation XML, image stamps and search terms. Each family
// lives in its own directory and the file name is the only index.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"viewer-backend/internal/metrics"
)

// StatusStorageError is the HTTP status used for local storage failures so
// clients can tell them apart from generic 500s.
const StatusStorageError = 580

// Error codes carried in Error.Code.
const (
	CodeReadFailed   = "ReadFailed"
	CodeWriteFailed  = "WriteFailed"
	CodeDeleteFailed = "DeleteFailed"
	CodeListFailed   = "ListFailed"
)

// ErrNotFound is returned when the addressed file does not exist.
var ErrNotFound = errors.New("resource not found")

// Error is a filesystem failure while serving a resource.
type Error struct {
	Code       string
	ResourceID string
	Cause      error
}

func (e *Error) Error() string {
	if e.ResourceID == "" {
		return fmt.Sprintf("storage %s: %v", e.Code, e.Cause)
	}
	return fmt.Sprintf("storage %s for %s: %v", e.Code, e.ResourceID, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

// Details is the human readable text sent to clients.
func (e *Error) Details() string {
	if e.Cause == nil {
		return e.Code
	}
	return e.Cause.Error()
}

// wrap turns a filesystem error into ErrNotFound or *Error.
func wrap(code, id string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return &Error{Code: code, ResourceID: id, Cause: err}
}

func record(family, op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	default:
		result = "error"
	}
	metrics.StorageOperations.WithLabelValues(family, op, result).Inc()
}

// writeFile replaces path with data. The bytes go to a temporary file in the
// same directory first so readers never see a partial file.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// readDir lists regular file names in dir. A missing directory is empty.
func readDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
