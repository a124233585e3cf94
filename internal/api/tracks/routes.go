package tracks

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the track metadata endpoints.
func RegisterRoutes(r *mux.Router, handler *Handler, auth func(http.Handler) http.Handler) {
	api := r.PathPrefix("/api/tracks").Subrouter()
	api.Use(logRequest, auth)

	api.HandleFunc("/search", handler.SearchTracks).Methods(http.MethodGet)
	api.HandleFunc("/{id}", handler.GetTrack).Methods(http.MethodGet)
}

func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[Track] %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
