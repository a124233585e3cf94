package models

// Track is playable track metadata. Upload and storage of the audio
// itself live outside this service; the engine only needs the duration
// to schedule auto-advance, and bumps PlayCount when a track starts.
type Track struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	Artist    string `json:"artist"`
	Duration  int    `json:"duration"` // seconds; 0 means unknown
	PlayCount int64  `json:"playCount"`
}
