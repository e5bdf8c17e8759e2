package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"viewer-backend/internal/config"
	"viewer-backend/internal/models"
	"viewer-backend/internal/storage"
	"viewer-backend/internal/validation"
)

// MethodOverrideHeader lets clients limited to GET and POST address PUT and
// DELETE operations.
const MethodOverrideHeader = "X-HTTP-Method-Override"

// SessionResolver maps a viewing session to the key its local files use.
type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (markupID string, attachmentIndex int, err error)
}

// LayerRecordHandler serves the layer-record collection of a session.
type LayerRecordHandler struct {
	Config   config.Source
	Sessions SessionResolver
}

func (h *LayerRecordHandler) Routes() []Route {
	return []Route{
		{
			Name:    "LayerRecords",
			Methods: []string{http.MethodGet, http.MethodPost},
			Path:    "/ViewingSession/{viewingSessionId}/MarkupLayers",
			Handler: h.Collection,
		},
		{
			Name:    "LayerRecord",
			Methods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete},
			Path:    "/ViewingSession/{viewingSessionId}/MarkupLayers/{layerRecordId}",
			Handler: h.Item,
		},
	}
}

// effectiveMethod returns the override header when present, else r.Method.
func effectiveMethod(r *http.Request) string {
	if m := strings.TrimSpace(r.Header.Get(MethodOverrideHeader)); m != "" {
		return strings.ToUpper(m)
	}
	return r.Method
}

func (h *LayerRecordHandler) store() (storage.LayerStore, error) {
	dir, err := config.RequirePath("storage.layer_records_path", h.Config.Current().Storage.LayerRecordsPath)
	if err != nil {
		return nil, err
	}
	return storage.NewLocalLayerStore(dir), nil
}

// Collection lists records (GET) or creates one (POST).
func (h *LayerRecordHandler) Collection(w http.ResponseWriter, r *http.Request) {
	method := effectiveMethod(r)
	if method != http.MethodGet && method != http.MethodPost {
		writeError(w, r, validation.ErrMethodNotSupported)
		return
	}

	store, err := h.store()
	if err != nil {
		writeError(w, r, err)
		return
	}
	markupID, idx, err := h.Sessions.Resolve(r.Context(), mux.Vars(r)["viewingSessionId"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	if method == http.MethodGet {
		summaries, err := store.List(markupID, idx)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, summaries)
		return
	}

	body, err := readJSONBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := store.Create(markupID, idx, body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, models.LayerRecordCreated{LayerRecordID: id})
}

// Item reads, replaces or deletes one record.
func (h *LayerRecordHandler) Item(w http.ResponseWriter, r *http.Request) {
	method := effectiveMethod(r)
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete:
	default:
		writeError(w, r, validation.ErrMethodNotSupported)
		return
	}

	store, err := h.store()
	if err != nil {
		writeError(w, r, err)
		return
	}
	vars := mux.Vars(r)
	id := vars["layerRecordId"]
	markupID, idx, err := h.Sessions.Resolve(r.Context(), vars["viewingSessionId"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch method {
	case http.MethodGet:
		data, err := store.Get(markupID, idx, id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeRaw(w, http.StatusOK, "application/json", data)

	case http.MethodPut, http.MethodPost:
		body, err := readJSONBody(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if err := store.Replace(markupID, idx, id, body); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, models.LayerRecordCreated{LayerRecordID: id})

	case http.MethodDelete:
		if err := store.Delete(markupID, idx, id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// readJSONBody reads a layer record body. It is stored verbatim but must be
// JSON, or listing would skip it.
func readJSONBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, validation.ErrInvalidJSON
	}
	return body, nil
}
