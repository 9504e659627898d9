// cmd/server/main.go
package main

import (
	"context"
	"net/http"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/scibowl/scibowl/internal/auth"
	"github.com/scibowl/scibowl/internal/cache"
	"github.com/scibowl/scibowl/internal/database"
	"github.com/scibowl/scibowl/internal/handlers"
	"github.com/scibowl/scibowl/internal/middleware"
	"github.com/scibowl/scibowl/internal/questions"
)

func main() {
	auth.Init()

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	qs, err := questions.Connect(context.Background())
	if err != nil {
		logger.Fatalf("failed to connect to question store: %v", err)
	}

	// Redis and Postgres are optional: without them rooms run with event
	// history and lifetime stats disabled.
	if err := cache.ConnectRedis(); err != nil {
		logger.Warnf("redis unavailable, room event history disabled: %v", err)
		cache.Rdb = nil
	}
	if err := database.ConnectDB(); err != nil {
		logger.Warnf("postgres unavailable, player stats disabled: %v", err)
		database.DB = nil
	}

	srv := handlers.NewRoomServer(qs)

	mux := http.NewServeMux()

	// session endpoint
	mux.HandleFunc("/api/login", handlers.LoginHandler)

	// room endpoints
	mux.Handle("/api/rooms", middleware.LogMiddleware(logger)(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet {
				srv.ListRoomsHandler(w, r)
				return
			}
			srv.CreateRoomHandler(w, r)
		},
	)))
	mux.Handle("/api/random-question", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.RandomQuestionHandler,
	)))
	mux.Handle("/api/stats", middleware.LogMiddleware(logger)(http.HandlerFunc(
		srv.StatsHandler,
	)))

	// room ws
	mux.Handle("/rooms/ws/", middleware.LogMiddleware(logger)(http.HandlerFunc(
		handlers.RoomWSHandler(logger, srv),
	)))

	addr := ":8080"
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}
	logger.Infof("Running on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Fatalf("server exited: %v", err)
	}
}
