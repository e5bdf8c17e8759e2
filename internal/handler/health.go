package handler

import (
	"net/http"

	"viewer-backend/internal/config"
)

// BreakerReporter exposes the imaging client's circuit breaker state.
type BreakerReporter interface {
	BreakerState() string
}

type HealthHandler struct {
	Config  config.Source
	Breaker BreakerReporter
}

func (h *HealthHandler) Routes() []Route {
	return []Route{
		{Name: "Health", Methods: []string{http.MethodGet}, Path: "/health", Handler: h.Health},
	}
}

// Health is used by load balancers. It fails while the breaker is open since
// no viewer request can succeed then.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	state := h.Breaker.BreakerState()
	body := map[string]string{"status": "ok", "imaging_breaker": state}

	if h.Config.Current() == nil {
		body["status"] = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	if state == "open" {
		body["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}
