package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	"viewer-backend/internal/config"
	"viewer-backend/internal/idcodec"
	"viewer-backend/internal/imaging"
	"viewer-backend/internal/logging"
	"viewer-backend/internal/models"
	"viewer-backend/internal/service"
	"viewer-backend/internal/storage"
	"viewer-backend/internal/validation"
)

// relayedHeaders are copied from an upstream error response.
var relayedHeaders = []string{"Content-Type", "Cache-Control", imaging.AffinityTokenHeader}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("failed to encode response")
	}
}

func writeRaw(w http.ResponseWriter, status int, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError maps an error from any layer to its response.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.Ctx(r.Context())

	var (
		unavailable *imaging.UnavailableError
		protocol    *imaging.ProtocolError
		storageErr  *storage.Error
		invalid     *validation.Error
		missing     *config.MissingError
		remote      *service.RemoteFetchError
	)

	switch {
	case errors.As(err, &unavailable):
		status := http.StatusBadGateway
		if unavailable.Timeout() {
			status = http.StatusGatewayTimeout
		}
		log.Warn().Err(err).Msg("imaging service unavailable")
		writeJSON(w, status, models.ErrorResponse{Error: "UpstreamUnavailable", Message: err.Error()})

	case errors.As(err, &protocol):
		log.Warn().Err(err).Msg("imaging service returned an error")
		for _, h := range relayedHeaders {
			if v := protocol.Header.Get(h); v != "" {
				w.Header().Set(h, v)
			}
		}
		w.WriteHeader(protocol.StatusCode)
		_, _ = io.WriteString(w, protocol.Status)

	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, models.ErrorResponse{Error: "NotFound", Message: err.Error()})

	case errors.As(err, &storageErr):
		log.Error().Err(err).Msg("storage failure")
		writeJSON(w, storage.StatusStorageError, models.StorageErrorBody{
			ErrorCode:    storageErr.Code,
			ResourceID:   storageErr.ResourceID,
			ErrorDetails: storageErr.Details(),
		})

	case errors.As(err, &invalid),
		errors.Is(err, idcodec.ErrInvalidToken),
		errors.Is(err, idcodec.ErrUnknownIDPrefix):
		writeJSON(w, http.StatusBadRequest, models.ErrorResponse{Error: "BadRequest", Message: err.Error()})

	case errors.As(err, &missing):
		log.Error().Err(err).Msg("configuration value missing")
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "ConfigurationMissing", Message: err.Error()})

	case errors.Is(err, service.ErrBackgroundQueueFull), errors.Is(err, service.ErrPoolClosed):
		log.Warn().Err(err).Msg("background pool rejected session")
		writeJSON(w, http.StatusServiceUnavailable, models.ErrorResponse{Error: "BackgroundQueueFull", Message: err.Error()})

	case errors.As(err, &remote):
		log.Warn().Err(err).Msg("remote document fetch failed")
		writeJSON(w, http.StatusBadGateway, models.ErrorResponse{Error: "RemoteDocumentUnavailable", Message: err.Error()})

	default:
		log.Error().Err(err).Msg("unhandled error")
		writeJSON(w, http.StatusInternalServerError, models.ErrorResponse{Error: "InternalError", Message: err.Error()})
	}
}
