package handler

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Route is one structured route definition. Path uses gorilla/mux syntax
// for named segments, e.g. "/ViewingSession/{viewingSessionId}/SourceFile".
type Route struct {
	Name    string
	Methods []string
	Path    string
	Handler http.HandlerFunc
}

// RouteProvider is implemented by every handler.
type RouteProvider interface {
	Routes() []Route
}

// Register mounts the routes of every provider under prefix.
func Register(r *mux.Router, prefix string, providers ...RouteProvider) {
	sub := r
	if prefix != "" {
		sub = r.PathPrefix(prefix).Subrouter()
	}
	for _, p := range providers {
		for _, route := range p.Routes() {
			sub.HandleFunc(route.Path, route.Handler).Methods(route.Methods...).Name(route.Name)
		}
	}
}
