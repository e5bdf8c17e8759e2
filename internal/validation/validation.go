package validation

import (
	"fmt"
	"mime/multipart"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

const (
	MaxFileNameLength = 255
)

// Error marks a request the caller must fix; handlers answer it with 400.
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func newError(msg string) *Error { return &Error{msg: msg} }

var (
	ErrEmptyFile          = newError("file is empty")
	ErrFileNameTooLong    = newError("filename too long - maximum 255 characters")
	ErrInvalidFileName    = newError("invalid file name")
	ErrInvalidExtension   = newError("file extension is not allowed")
	ErrInvalidImageType   = newError("invalid image type - only png, jpg, jpeg, gif allowed")
	ErrInvalidResourceID  = newError("invalid resource identifier")
	ErrInvalidFormat      = newError("invalid format parameter")
	ErrMissingParameter   = newError("required parameter is missing")
	ErrMethodNotSupported = newError("method is not supported")
	ErrInvalidJSON        = newError("request body is not valid JSON")
)

// imageMimeTypes is the complete set of stamp types. Detection is by
// extension only; file content is never inspected.
var imageMimeTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
}

var (
	resourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)
	labelPattern      = regexp.MustCompile(`^[\p{L}\p{N}][\p{L}\p{N} ._()-]{0,127}$`)
)

// ExportFormats are the destination formats accepted for conversion.
var ExportFormats = []string{"pdf", "tiff", "docx", "png", "jpeg", "svg"}

// ImageMimeType maps a file name or bare extension to its MIME type,
// case-insensitively.
func ImageMimeType(nameOrExt string) (string, error) {
	ext := Extension(nameOrExt)
	if mt, ok := imageMimeTypes[ext]; ok {
		return mt, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidImageType, ext)
}

// Extension returns the lowercased extension of name without its dot. A value
// with no dot is treated as a bare extension.
func Extension(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return strings.ToLower(name)
	}
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// FileExtension returns the lowercased extension of a file name without its
// dot, or "" when the name has none.
func FileExtension(name string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
}

// ValidateExtension accepts ext when allowed is empty or contains it.
func ValidateExtension(ext string, allowed []string) error {
	if ext == "" {
		return fmt.Errorf("%w: no extension", ErrInvalidExtension)
	}
	if len(allowed) == 0 || slices.Contains(allowed, strings.ToLower(ext)) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidExtension, ext)
}

// ValidateFileName rejects names that could escape the directory they are
// joined to. Sub-folders are allowed when allowSubdirs is set.
func ValidateFileName(name string, allowSubdirs bool) error {
	if name == "" {
		return fmt.Errorf("%w: empty", ErrInvalidFileName)
	}
	if len(name) > MaxFileNameLength {
		return ErrFileNameTooLong
	}
	if strings.ContainsRune(name, 0) || filepath.IsAbs(name) || strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`) {
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}

	clean := filepath.Clean(filepath.FromSlash(name))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	if !allowSubdirs && strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return nil
}

// SafeJoin joins a validated relative name under root.
func SafeJoin(root, name string, allowSubdirs bool) (string, error) {
	if err := ValidateFileName(name, allowSubdirs); err != nil {
		return "", err
	}
	return filepath.Join(root, filepath.Clean(filepath.FromSlash(name))), nil
}

// ValidateResourceID checks identifiers that become part of a file name
// (layer record ids, search-term ids).
func ValidateResourceID(id string) error {
	if !resourceIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidResourceID, id)
	}
	return nil
}

// ValidateLabel checks an annotation label. Labels may contain spaces but no
// path separators.
func ValidateLabel(label string) error {
	if !labelPattern.MatchString(label) || strings.Contains(label, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidResourceID, label)
	}
	return nil
}

// ValidateUpload checks a multipart document upload before a session is
// created from it.
func ValidateUpload(fileHeader *multipart.FileHeader, allowed []string) error {
	if fileHeader.Size == 0 {
		return ErrEmptyFile
	}
	if err := ValidateFileName(fileHeader.Filename, false); err != nil {
		return err
	}
	return ValidateExtension(FileExtension(fileHeader.Filename), allowed)
}

// ValidateExportFormat accepts one of ExportFormats, case-insensitively.
func ValidateExportFormat(format string) (string, error) {
	f := strings.ToLower(strings.TrimSpace(format))
	if f == "" {
		f = "pdf"
	}
	if !slices.Contains(ExportFormats, f) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFormat, format)
	}
	return f, nil
}
