package handler

import (
	"bytes"
	"encoding/base64"
	"net/http"

	"github.com/gorilla/mux"

	"viewer-backend/internal/config"
	"viewer-backend/internal/models"
	"viewer-backend/internal/storage"
	"viewer-backend/internal/validation"
)

// stampCacheControl lets browsers keep stamp images for a day.
const stampCacheControl = "public, max-age=86400"

// ResourceHandler serves image stamps and search terms from local folders.
type ResourceHandler struct {
	Config config.Source
}

func (h *ResourceHandler) Routes() []Route {
	return []Route{
		{Name: "ImageStampList", Methods: []string{http.MethodGet}, Path: "/ImageStampList", Handler: h.ImageStampList},
		{Name: "ImageStamp", Methods: []string{http.MethodGet}, Path: "/ImageStamp/{imageStampId}/Image", Handler: h.ImageStamp},
		{Name: "SearchTerms", Methods: []string{http.MethodGet}, Path: "/SearchTerms/{searchTermsId}", Handler: h.SearchTerms},
	}
}

func (h *ResourceHandler) stamps() (*storage.ImageStampStore, error) {
	cfg := h.Config.Current()
	dir, err := config.RequirePath("storage.image_stamps_path", cfg.Storage.ImageStampsPath)
	if err != nil {
		return nil, err
	}
	return storage.NewImageStampStore(dir, cfg.Validation.ImageStampExtensions), nil
}

func (h *ResourceHandler) ImageStampList(w http.ResponseWriter, r *http.Request) {
	store, err := h.stamps()
	if err != nil {
		writeError(w, r, err)
		return
	}
	stamps, err := store.List()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.ImageStampList{ImageStamps: stamps})
}

// ImageStamp returns the stamp as raw bytes (?format=image, the default) or
// as a base64 data URL (?format=base64).
func (h *ResourceHandler) ImageStamp(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "image"
	}
	if format != "image" && format != "base64" {
		writeError(w, r, validation.ErrInvalidFormat)
		return
	}

	store, err := h.stamps()
	if err != nil {
		writeError(w, r, err)
		return
	}
	stamp, err := store.Read(mux.Vars(r)["imageStampId"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	if format == "base64" {
		dataURL := "data:" + stamp.MimeType + ";base64," + base64.StdEncoding.EncodeToString(stamp.Data)
		writeJSON(w, http.StatusOK, models.ImageStampData{DataURL: dataURL})
		return
	}

	w.Header().Set("Content-Type", stamp.MimeType)
	w.Header().Set("Cache-Control", stampCacheControl)
	http.ServeContent(w, r, stamp.Name, stamp.ModTime, bytes.NewReader(stamp.Data))
}

func (h *ResourceHandler) SearchTerms(w http.ResponseWriter, r *http.Request) {
	dir, err := config.RequirePath("storage.search_terms_path", h.Config.Current().Storage.SearchTermsPath)
	if err != nil {
		writeError(w, r, err)
		return
	}
	data, err := storage.NewSearchTermsStore(dir).Get(mux.Vars(r)["searchTermsId"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, http.StatusOK, "application/json", data)
}
