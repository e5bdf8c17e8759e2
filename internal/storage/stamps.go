package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"time"
	"unicode/utf8"

	"viewer-backend/internal/idcodec"
	"viewer-backend/internal/models"
	"viewer-backend/internal/validation"
)

const stampFamily = "image_stamps"

// ImageStampStore serves image files from a flat directory. Stamp ids are the
// encoded file names, so no index is kept.
type ImageStampStore struct {
	Dir string
	// Extensions limits which files are listed and served.
	Extensions []string
}

func NewImageStampStore(dir string, extensions []string) *ImageStampStore {
	return &ImageStampStore{Dir: dir, Extensions: extensions}
}

// Stamp is one image file read from the store.
type Stamp struct {
	Name     string
	MimeType string
	ModTime  time.Time
	Data     []byte
}

func (s *ImageStampStore) allowed(name string) bool {
	ext := validation.FileExtension(name)
	if _, err := validation.ImageMimeType(ext); err != nil {
		return false
	}
	return len(s.Extensions) == 0 || slices.Contains(s.Extensions, ext)
}

// List returns the stamps sorted by display name.
func (s *ImageStampStore) List() (stamps []models.ImageStamp, err error) {
	defer func() { record(stampFamily, "list", err) }()

	names, err := readDir(s.Dir)
	if err != nil {
		return nil, &Error{Code: CodeListFailed, Cause: err}
	}

	stamps = []models.ImageStamp{}
	for _, name := range names {
		// Ids must decode back to the file name.
		if !s.allowed(name) || !utf8.ValidString(name) {
			continue
		}
		stamps = append(stamps, models.ImageStamp{ID: idcodec.Encode(name), DisplayName: name})
	}
	sort.Slice(stamps, func(i, j int) bool {
		return stamps[i].DisplayName < stamps[j].DisplayName
	})
	return stamps, nil
}

// Read loads the stamp addressed by an id produced by List. The MIME type is
// taken from the extension only.
func (s *ImageStampStore) Read(id string) (stamp *Stamp, err error) {
	defer func() { record(stampFamily, "get", err) }()

	name, err := idcodec.Decode(id)
	if err != nil {
		return nil, err
	}
	if err := validation.ValidateFileName(name, false); err != nil {
		return nil, err
	}
	mimeType, err := validation.ImageMimeType(validation.FileExtension(name))
	if err != nil {
		return nil, err
	}
	if !s.allowed(name) {
		return nil, fmt.Errorf("%w: %q", validation.ErrInvalidExtension, name)
	}

	p := filepath.Join(s.Dir, name)
	info, err := os.Stat(p)
	if err != nil {
		return nil, wrap(CodeReadFailed, id, err)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, wrap(CodeReadFailed, id, err)
	}

	return &Stamp{Name: name, MimeType: mimeType, ModTime: info.ModTime(), Data: data}, nil
}
