package validation

import (
	"errors"
	"mime/multipart"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageMimeType(t *testing.T) {
	cases := map[string]string{
		"png":           "image/png",
		"PNG":           "image/png",
		"stamp.jpg":     "image/jpeg",
		"Approved.JPEG": "image/jpeg",
		"gif":           "image/gif",
	}
	for in, want := range cases {
		got, err := ImageMimeType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"bmp", "stamp.svg", "tiff", ""} {
		_, err := ImageMimeType(bad)
		assert.ErrorIs(t, err, ErrInvalidImageType, bad)

		var vErr *Error
		assert.True(t, errors.As(err, &vErr), bad)
	}
}

func TestValidateFileName(t *testing.T) {
	assert.NoError(t, ValidateFileName("sample.pdf", false))
	assert.NoError(t, ValidateFileName("contracts/2024/sample.pdf", true))

	bad := []string{"", "../secret.pdf", "a/../../b.pdf", "/etc/passwd", "..", "dir/file.pdf"}
	for _, name := range bad {
		assert.ErrorIs(t, ValidateFileName(name, name == "a/../../b.pdf"), ErrInvalidFileName, name)
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()

	p, err := SafeJoin(root, "sub/sample.pdf", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sub", "sample.pdf"), p)

	_, err = SafeJoin(root, "../escape.pdf", true)
	assert.Error(t, err)
}

func TestValidateExtension(t *testing.T) {
	assert.NoError(t, ValidateExtension("pdf", nil))
	assert.NoError(t, ValidateExtension("PDF", []string{"pdf", "docx"}))
	assert.ErrorIs(t, ValidateExtension("exe", []string{"pdf"}), ErrInvalidExtension)
	assert.ErrorIs(t, ValidateExtension("", nil), ErrInvalidExtension)
}

func TestValidateResourceIDAndLabel(t *testing.T) {
	assert.NoError(t, ValidateResourceID("6f1c2a0e-1b7d-4c1e-9a51-1f4b3a8d2c10"))
	assert.NoError(t, ValidateResourceID("terms_01"))
	for _, bad := range []string{"", "../x", "a/b", "with space", ".hidden"} {
		assert.ErrorIs(t, ValidateResourceID(bad), ErrInvalidResourceID, bad)
	}

	assert.NoError(t, ValidateLabel("Review Notes (v2)"))
	assert.Error(t, ValidateLabel("notes/../../x"))
}

func TestValidateUpload(t *testing.T) {
	ok := &multipart.FileHeader{Filename: "sample.pdf", Size: 10}
	assert.NoError(t, ValidateUpload(ok, []string{"pdf"}))

	assert.ErrorIs(t, ValidateUpload(&multipart.FileHeader{Filename: "a.pdf"}, nil), ErrEmptyFile)
	assert.ErrorIs(t, ValidateUpload(&multipart.FileHeader{Filename: "a.exe", Size: 1}, []string{"pdf"}), ErrInvalidExtension)
}

func TestValidateExportFormat(t *testing.T) {
	f, err := ValidateExportFormat("")
	require.NoError(t, err)
	assert.Equal(t, "pdf", f)

	f, err = ValidateExportFormat("TIFF")
	require.NoError(t, err)
	assert.Equal(t, "tiff", f)

	_, err = ValidateExportFormat("xls")
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
