package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/vinylsocial/vinyl-backend/internal/api/rooms"
	"github.com/vinylsocial/vinyl-backend/internal/api/tracks"
	"github.com/vinylsocial/vinyl-backend/internal/config"
	"github.com/vinylsocial/vinyl-backend/internal/middleware"
	"github.com/vinylsocial/vinyl-backend/internal/room"
	"github.com/vinylsocial/vinyl-backend/internal/storage"
	"github.com/vinylsocial/vinyl-backend/internal/storage/memory"
	"github.com/vinylsocial/vinyl-backend/internal/storage/postgres"
	"github.com/vinylsocial/vinyl-backend/internal/storage/valkeypresence"
	"github.com/vinylsocial/vinyl-backend/internal/ws"
)

func main() {
	cfg := config.Load()

	var store storage.Store
	if cfg.DatabaseURL != "" {
		pgStore, err := postgres.NewStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open store: %v", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		log.Println("[Main] DATABASE_URL not set, using in-memory store")
		store = memory.NewStore()
	}

	var presence *valkeypresence.Tracker
	if cfg.ValkeyAddr != "" {
		tracker, err := valkeypresence.NewTracker(cfg.ValkeyAddr)
		if err != nil {
			log.Printf("[Main] presence tracking disabled: %v", err)
		} else {
			presence = tracker
			defer tracker.Close()
		}
	}

	// Typed nils must not leak into the interfaces.
	var hubPresence ws.Presence
	var counter room.PresenceCounter
	if presence != nil {
		hubPresence = presence
		counter = presence
	}
	hub := ws.NewHub(hubPresence)
	registry := room.NewRegistry(store, hub, counter)
	go hub.Run()

	auth := middleware.Auth(cfg.JWTSecret)
	roomHandler := &rooms.Handler{Store: store, Registry: registry, Hub: hub, JWTSecret: cfg.JWTSecret}
	trackHandler := &tracks.Handler{Store: store}

	router := mux.NewRouter()
	router.Use(middleware.CORS(cfg.CORSOrigin))
	rooms.RegisterRoutes(router, roomHandler, auth)
	tracks.RegisterRoutes(router, trackHandler, auth)

	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"ok":        true,
			"message":   "Vinyl Social sync server",
			"liveRooms": registry.LiveRooms(),
		})
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("[Main] server started at :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[Main] shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("[Main] server shutdown: %v", err)
	}
	registry.Shutdown()
	log.Println("[Main] server closed")
}
