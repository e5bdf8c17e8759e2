package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"viewer-backend/internal/models"
	"viewer-backend/internal/validation"
)

const layerFamily = "layer_records"

// LayerStore is what the layer-record handler depends on.
type LayerStore interface {
	List(markupID string, attachmentIndex int) ([]models.LayerRecordSummary, error)
	Create(markupID string, attachmentIndex int, body []byte) (string, error)
	Get(markupID string, attachmentIndex int, id string) ([]byte, error)
	Replace(markupID string, attachmentIndex int, id string, body []byte) error
	Delete(markupID string, attachmentIndex int, id string) error
}

// LocalLayerStore keeps one JSON file per layer record:
// {markupID}_{attachmentIndex}_{layerRecordID}.json
type LocalLayerStore struct {
	Dir string
}

func NewLocalLayerStore(dir string) *LocalLayerStore {
	return &LocalLayerStore{Dir: dir}
}

func layerPrefix(markupID string, attachmentIndex int) string {
	return markupID + "_" + strconv.Itoa(attachmentIndex) + "_"
}

func (s *LocalLayerStore) path(markupID string, attachmentIndex int, id string) (string, error) {
	if err := validation.ValidateResourceID(markupID); err != nil {
		return "", err
	}
	if err := validation.ValidateResourceID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.Dir, layerPrefix(markupID, attachmentIndex)+id+".json"), nil
}

// layerSummaryFields are the only fields the store reads from a record.
type layerSummaryFields struct {
	Name            string `json:"name"`
	OriginalXMLName string `json:"originalXmlName"`
}

// List returns summaries for every record of the document. Files that are not
// valid JSON, or that vanish while listing, are skipped.
func (s *LocalLayerStore) List(markupID string, attachmentIndex int) (summaries []models.LayerRecordSummary, err error) {
	defer func() { record(layerFamily, "list", err) }()

	if err := validation.ValidateResourceID(markupID); err != nil {
		return nil, err
	}
	names, err := readDir(s.Dir)
	if err != nil {
		return nil, &Error{Code: CodeListFailed, Cause: err}
	}
	return s.summarize(layerPrefix(markupID, attachmentIndex), names)
}

func (s *LocalLayerStore) summarize(prefix string, names []string) ([]models.LayerRecordSummary, error) {
	summaries := []models.LayerRecordSummary{}
	for _, name := range names {
		if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json")
		if id == "" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.Dir, name))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, &Error{Code: CodeReadFailed, ResourceID: id, Cause: err}
		}

		if !json.Valid(data) {
			continue
		}
		var fields layerSummaryFields
		_ = json.Unmarshal(data, &fields)
		summaries = append(summaries, models.LayerRecordSummary{
			LayerRecordID:   id,
			Name:            fields.Name,
			OriginalXMLName: fields.OriginalXMLName,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].LayerRecordID < summaries[j].LayerRecordID
	})
	return summaries, nil
}

// Create writes body under a new random id and returns the id.
func (s *LocalLayerStore) Create(markupID string, attachmentIndex int, body []byte) (id string, err error) {
	defer func() { record(layerFamily, "create", err) }()

	id = uuid.New().String()
	p, err := s.path(markupID, attachmentIndex, id)
	if err != nil {
		return "", err
	}
	if err := writeFile(p, body); err != nil {
		return "", &Error{Code: CodeWriteFailed, ResourceID: id, Cause: err}
	}
	return id, nil
}

func (s *LocalLayerStore) Get(markupID string, attachmentIndex int, id string) (data []byte, err error) {
	defer func() { record(layerFamily, "get", err) }()

	p, err := s.path(markupID, attachmentIndex, id)
	if err != nil {
		return nil, err
	}
	data, err = os.ReadFile(p)
	if err != nil {
		return nil, wrap(CodeReadFailed, id, err)
	}
	return data, nil
}

// Replace overwrites an existing record. It never creates one.
func (s *LocalLayerStore) Replace(markupID string, attachmentIndex int, id string, body []byte) (err error) {
	defer func() { record(layerFamily, "replace", err) }()

	p, err := s.path(markupID, attachmentIndex, id)
	if err != nil {
		return err
	}
	if _, err := os.Stat(p); err != nil {
		return wrap(CodeWriteFailed, id, err)
	}
	if err := writeFile(p, body); err != nil {
		return &Error{Code: CodeWriteFailed, ResourceID: id, Cause: err}
	}
	return nil
}

func (s *LocalLayerStore) Delete(markupID string, attachmentIndex int, id string) (err error) {
	defer func() { record(layerFamily, "delete", err) }()

	p, err := s.path(markupID, attachmentIndex, id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		return wrap(CodeDeleteFailed, id, err)
	}
	return nil
}

var _ LayerStore = (*LocalLayerStore)(nil)
