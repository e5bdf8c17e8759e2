package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"viewer-backend/internal/config"
	"viewer-backend/internal/imaging"
	"viewer-backend/internal/models"
	"viewer-backend/internal/proxy"
	"viewer-backend/internal/validation"
)

// Converter starts content conversions on the imaging service.
type Converter interface {
	ConvertContent(ctx context.Context, fileID, format, affinityToken string) (int, []byte, error)
}

// Forwarder relays a request to the imaging service.
type Forwarder interface {
	Forward(w http.ResponseWriter, r *http.Request, opts proxy.Options)
}

// ExportHandler covers document export and the imaging-service resources the
// viewer downloads through this tier.
type ExportHandler struct {
	Config    config.Source
	Converter Converter
	Proxy     Forwarder
}

func (h *ExportHandler) Routes() []Route {
	return []Route{
		{Name: "StartExport", Methods: []string{http.MethodPost}, Path: "/ContentConverters", Handler: h.StartExport},
		{Name: "ExportStatus", Methods: []string{http.MethodGet}, Path: "/ContentConverters/{processId}", Handler: h.ExportStatus},
		{Name: "WorkFile", Methods: []string{http.MethodGet}, Path: "/WorkFile/{fileId}", Handler: h.WorkFile},
		{Name: "Proxy", Methods: []string{http.MethodGet, http.MethodPost}, Path: "/Proxy/{path:.+}", Handler: h.Passthrough},
	}
}

// StartExport converts a work file. The upstream status and body are relayed
// so the viewer can poll the returned process id.
func (h *ExportHandler) StartExport(w http.ResponseWriter, r *http.Request) {
	var req models.ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, validation.ErrInvalidJSON)
		return
	}
	if req.FileID == "" {
		writeError(w, r, validation.ErrMissingParameter)
		return
	}
	format, err := validation.ValidateExportFormat(req.Format)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status, body, err := h.Converter.ConvertContent(r.Context(), req.FileID, format, r.Header.Get(imaging.AffinityTokenHeader))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeRaw(w, status, "application/json", body)
}

func (h *ExportHandler) ExportStatus(w http.ResponseWriter, r *http.Request) {
	processID := mux.Vars(r)["processId"]
	if err := validation.ValidateResourceID(processID); err != nil {
		writeError(w, r, err)
		return
	}
	h.Proxy.Forward(w, r, proxy.Options{
		Route:                  "export_status",
		Base:                   proxy.BaseV2,
		Path:                   "contentConverters/" + processID,
		AllowedMethods:         []string{http.MethodGet},
		AllowedRequestHeaders:  []string{imaging.AffinityTokenHeader},
		AllowedResponseHeaders: []string{"Content-Type"},
		ExtraResponseHeaders:   http.Header{"Cache-Control": {"no-store"}},
	})
}

// WorkFile streams a converted file. The imaging service sets
// Content-Disposition when the viewer passes ContentDispositionFilename.
func (h *ExportHandler) WorkFile(w http.ResponseWriter, r *http.Request) {
	fileID := mux.Vars(r)["fileId"]
	if err := validation.ValidateResourceID(fileID); err != nil {
		writeError(w, r, err)
		return
	}
	cfg := h.Config.Current()
	h.Proxy.Forward(w, r, proxy.Options{
		Route:                  "work_file",
		Path:                   "WorkFile/" + fileID,
		AllowedMethods:         []string{http.MethodGet},
		AllowedQueryParams:     cfg.Proxy.AllowedQueryParams,
		AllowedRequestHeaders:  []string{imaging.AffinityTokenHeader},
		AllowedResponseHeaders: cfg.Proxy.AllowedResponseHeaders,
	})
}

// Passthrough relays any imaging service path with the configured allow-lists.
func (h *ExportHandler) Passthrough(w http.ResponseWriter, r *http.Request) {
	p := mux.Vars(r)["path"]
	if strings.Contains(p, "..") {
		writeError(w, r, validation.ErrInvalidResourceID)
		return
	}
	cfg := h.Config.Current()
	h.Proxy.Forward(w, r, proxy.Options{
		Route:                  "passthrough",
		Path:                   p,
		AllowedQueryParams:     cfg.Proxy.AllowedQueryParams,
		AllowedRequestHeaders:  cfg.Proxy.AllowedRequestHeaders,
		AllowedResponseHeaders: cfg.Proxy.AllowedResponseHeaders,
	})
}
