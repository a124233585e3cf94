package rooms

import (
	"log"
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes mounts the room admin surface and the realtime gateway.
// auth wraps every HTTP route; the websocket endpoint validates its own
// token because it cannot respond through the middleware chain after the
// upgrade.
func RegisterRoutes(r *mux.Router, handler *Handler, auth func(http.Handler) http.Handler) {
	api := r.PathPrefix("/api/rooms").Subrouter()
	api.Use(logRequest, auth)

	api.HandleFunc("", handler.CreateOrGetRoom).Methods(http.MethodPost)
	api.HandleFunc("/{id}", handler.GetRoom).Methods(http.MethodGet)
	api.HandleFunc("/{id}/join", handler.JoinRoom).Methods(http.MethodPost)
	api.HandleFunc("/{id}/leave", handler.LeaveRoom).Methods(http.MethodPost)
	api.HandleFunc("/{id}/queue", handler.EnqueueTrack).Methods(http.MethodPost)
	api.HandleFunc("/{id}/play", handler.PlayTrack).Methods(http.MethodPost)
	api.HandleFunc("/{id}/skip", handler.SkipTrack).Methods(http.MethodPost)
	api.HandleFunc("/{id}/permissions", handler.SetPermission).Methods(http.MethodPost)

	r.HandleFunc("/ws/rooms", handler.ServeWS)
}

func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[Room] %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
