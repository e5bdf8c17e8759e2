package storage

import (
	"os"
	"path/filepath"

	"viewer-backend/internal/validation"
)

// SearchTermsStore reads predefined search-term sets saved as {id}.json.
type SearchTermsStore struct {
	Dir string
}

func NewSearchTermsStore(dir string) *SearchTermsStore {
	return &SearchTermsStore{Dir: dir}
}

func (s *SearchTermsStore) Get(id string) (data []byte, err error) {
	defer func() { record("search_terms", "get", err) }()

	if err := validation.ValidateResourceID(id); err != nil {
		return nil, err
	}
	data, err = os.ReadFile(filepath.Join(s.Dir, id+".json"))
	if err != nil {
		return nil, wrap(CodeReadFailed, id, err)
	}
	return data, nil
}
