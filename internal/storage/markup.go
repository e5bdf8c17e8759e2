package storage

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"viewer-backend/internal/validation"
)

const markupFamily = "markup"

// MarkupStore keeps legacy annotation XML as
// {markupID}_{attachmentIndex}_{label}.xml. Saves overwrite the whole file.
type MarkupStore struct {
	Dir string
}

func NewMarkupStore(dir string) *MarkupStore {
	return &MarkupStore{Dir: dir}
}

func (s *MarkupStore) path(markupID string, attachmentIndex int, label string) (string, error) {
	if err := validation.ValidateResourceID(markupID); err != nil {
		return "", err
	}
	if err := validation.ValidateLabel(label); err != nil {
		return "", err
	}
	return filepath.Join(s.Dir, layerPrefix(markupID, attachmentIndex)+label+".xml"), nil
}

// Labels lists the annotation labels saved for the document, sorted.
func (s *MarkupStore) Labels(markupID string, attachmentIndex int) (labels []string, err error) {
	defer func() { record(markupFamily, "list", err) }()

	if err := validation.ValidateResourceID(markupID); err != nil {
		return nil, err
	}
	names, err := readDir(s.Dir)
	if err != nil {
		return nil, &Error{Code: CodeListFailed, Cause: err}
	}

	prefix := layerPrefix(markupID, attachmentIndex)
	labels = []string{}
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".xml") {
			continue
		}
		if label := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".xml"); label != "" {
			labels = append(labels, label)
		}
	}
	sort.Strings(labels)
	return labels, nil
}

func (s *MarkupStore) Load(markupID string, attachmentIndex int, label string) (data []byte, err error) {
	defer func() { record(markupFamily, "get", err) }()

	p, err := s.path(markupID, attachmentIndex, label)
	if err != nil {
		return nil, err
	}
	data, err = os.ReadFile(p)
	if err != nil {
		return nil, wrap(CodeReadFailed, label, err)
	}
	return data, nil
}

func (s *MarkupStore) Save(markupID string, attachmentIndex int, label string, data []byte) (err error) {
	defer func() { record(markupFamily, "save", err) }()

	p, err := s.path(markupID, attachmentIndex, label)
	if err != nil {
		return err
	}
	if err := writeFile(p, data); err != nil {
		return &Error{Code: CodeWriteFailed, ResourceID: label, Cause: err}
	}
	return nil
}
