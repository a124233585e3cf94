package tracks

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/vinylsocial/vinyl-backend/internal/models"
	"github.com/vinylsocial/vinyl-backend/internal/storage"
)

const searchLimit = 25

// Handler serves track metadata lookups. Track ingestion and audio
// storage are a different service; the room engine only needs titles and
// durations from here.
type Handler struct {
	Store storage.Store
}

// SearchTracks matches title or artist against the q parameter.
func (h *Handler) SearchTracks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "q is required as a query parameter", http.StatusBadRequest)
		return
	}

	tracks, err := h.Store.SearchTracks(r.Context(), query, searchLimit)
	if err != nil {
		log.Printf("[Track] search %q failed: %v", query, err)
		http.Error(w, "Failed to search tracks", http.StatusInternalServerError)
		return
	}
	if tracks == nil {
		tracks = []*models.Track{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tracks)
}

// GetTrack returns one track by id.
func (h *Handler) GetTrack(w http.ResponseWriter, r *http.Request) {
	trackID, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || trackID <= 0 {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}

	track, err := h.Store.GetTrack(r.Context(), trackID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "Track not found", http.StatusNotFound)
		} else {
			log.Printf("[Track] get %d failed: %v", trackID, err)
			http.Error(w, "Failed to fetch track", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(track)
}
