package handler

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"viewer-backend/internal/config"
	"viewer-backend/internal/models"
	"viewer-backend/internal/storage"
)

// MarkupHandler saves and loads legacy annotation XML.
type MarkupHandler struct {
	Config   config.Source
	Sessions SessionResolver
}

func (h *MarkupHandler) Routes() []Route {
	return []Route{
		{Name: "MarkupList", Methods: []string{http.MethodGet}, Path: "/ViewingSession/{viewingSessionId}/Markup", Handler: h.List},
		{Name: "MarkupLoad", Methods: []string{http.MethodGet}, Path: "/ViewingSession/{viewingSessionId}/Markup/{label}", Handler: h.Load},
		{Name: "MarkupSave", Methods: []string{http.MethodPost, http.MethodPut}, Path: "/ViewingSession/{viewingSessionId}/Markup/{label}", Handler: h.Save},
	}
}

func (h *MarkupHandler) scope(r *http.Request) (*storage.MarkupStore, string, int, error) {
	dir, err := config.RequirePath("storage.markup_path", h.Config.Current().Storage.MarkupPath)
	if err != nil {
		return nil, "", 0, err
	}
	markupID, idx, err := h.Sessions.Resolve(r.Context(), mux.Vars(r)["viewingSessionId"])
	if err != nil {
		return nil, "", 0, err
	}
	return storage.NewMarkupStore(dir), markupID, idx, nil
}

func (h *MarkupHandler) List(w http.ResponseWriter, r *http.Request) {
	store, markupID, idx, err := h.scope(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	labels, err := store.Labels(markupID, idx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.MarkupList{Annotations: labels})
}

func (h *MarkupHandler) Load(w http.ResponseWriter, r *http.Request) {
	store, markupID, idx, err := h.scope(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := store.Load(markupID, idx, mux.Vars(r)["label"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, "application/xml", data)
}

func (h *MarkupHandler) Save(w http.ResponseWriter, r *http.Request) {
	store, markupID, idx, err := h.scope(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := store.Save(markupID, idx, mux.Vars(r)["label"], data); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}
