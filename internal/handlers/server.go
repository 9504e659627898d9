// internal/handlers/server.go
package handlers

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/scibowl/scibowl/internal/database"
	"github.com/scibowl/scibowl/internal/models"
	"github.com/scibowl/scibowl/internal/questions"
	"github.com/scibowl/scibowl/internal/room"
)

// RoomServer holds the live room store and the question source shared by
// every HTTP and WebSocket handler.
type RoomServer struct {
	RoomStore *room.Store
	Questions *questions.Store
}

func NewRoomServer(qs *questions.Store) *RoomServer {
	return &RoomServer{
		RoomStore: room.NewStore(),
		Questions: qs,
	}
}

// GetOrCreateRoom returns the named room, wiring a fresh room to the
// server's question source and stats sink.
func (s *RoomServer) GetOrCreateRoom(name string, ownerID uuid.UUID, isPermanent bool, subjects []string) (*room.Room, bool) {
	return s.RoomStore.GetOrCreate(name, func() *room.Room {
		r := room.NewRoom(name, ownerID, isPermanent, subjects)
		r.GetRandomQuestions = func(ctx context.Context, f models.Filter, n int) ([]models.Question, error) {
			return s.Questions.Random(ctx, f, n)
		}
		r.GetPacket = func(ctx context.Context, setName string, packetNumber int) ([]models.Question, error) {
			return s.Questions.Packet(ctx, setName, packetNumber)
		}
		r.ReportStats = reportStats
		return r
	})
}

// reportStats folds scoring deltas into lifetime stats off the room lock.
// Rooms work fine without Postgres; failures are logged and dropped.
func reportStats(userID uuid.UUID, points, corrects, negs, tossupsHeard int) {
	if database.DB == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := database.UpsertPlayerStats(ctx, userID, points, corrects, negs, tossupsHeard); err != nil {
			log.WithError(err).WithField("user_id", userID).Warn("failed to upsert player stats")
		}
	}()
}
