// internal/handlers/room_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/scibowl/scibowl/internal/middleware"
	"github.com/scibowl/scibowl/internal/room"
)

// RoomWSHandler upgrades /rooms/ws/{name} connections and joins them to the
// named room, creating it if needed. The first user into a room owns it.
func RoomWSHandler(logger *logrus.Logger, s *RoomServer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr
		roomName := strings.TrimPrefix(r.URL.Path, "/rooms/ws/")
		if idx := strings.Index(roomName, "/"); idx != -1 {
			roomName = roomName[:idx]
		}
		if roomName == "" {
			http.Error(w, "missing room name", http.StatusBadRequest)
			return
		}

		// The guest cookie must be set before the upgrade; headers cannot be
		// written afterwards.
		userID, guest, err := EnsureGuestUser(w, r)
		if err != nil {
			logger.Warnf("user authentication failed for room %s: %v", roomName, err)
			http.Error(w, "authentication failed", http.StatusInternalServerError)
			return
		}
		username := r.URL.Query().Get("username")

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{"room"},
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != "room" {
			c.Close(BadSubprotocolError, "client must speak the room subprotocol")
			return
		}

		rm, created := s.GetOrCreateRoom(roomName, userID, false, nil)
		if created {
			logger.Infof("room %s created by user %v", roomName, userID)
		}

		ctx, cancel := context.WithCancel(r.Context())
		conn := &room.Conn{
			UserID:  userID,
			Guest:   guest,
			Cancel:  cancel,
			OutChan: make(chan map[string]interface{}, 32),
		}

		// The write pump must be draining before Connect so the admission
		// acks (or the refusal notice) actually reach the client.
		go writePump(ctx, c, conn, logger)

		if err := rm.Connect(conn, username); err != nil {
			// The room already wrote the enforcement notice; give the pump a
			// moment to flush it before closing.
			time.Sleep(100 * time.Millisecond)
			closeRefused(c, err)
			cancel()
			return
		}

		middleware.LogWebSocketConnect(logger, remoteAddr, roomName)

		readPump(ctx, c, rm, conn, logger)

		rm.Disconnect(conn)
		cancel()
		middleware.LogWebSocketDisconnect(logger, remoteAddr, roomName, nil)
	}
}

// closeRefused maps an admission error to its close code.
func closeRefused(c *websocket.Conn, err error) {
	switch {
	case errors.Is(err, room.ErrBanned), errors.Is(err, room.ErrKicked),
		errors.Is(err, room.ErrRoomLocked), errors.Is(err, room.ErrLoginRequired):
		c.Close(AdmissionRefusedError, err.Error())
	default:
		c.Close(websocket.StatusPolicyViolation, err.Error())
	}
}

// readPump feeds inbound frames to the room until the connection drops.
// Rate limiting and JSON validation happen inside the room, under its lock.
func readPump(ctx context.Context, c *websocket.Conn, rm *room.Room, conn *room.Conn, logger *logrus.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		typ, msg, err := c.Read(ctx)
		if err != nil {
			closeStatus := websocket.CloseStatus(err)
			if closeStatus != websocket.StatusNormalClosure &&
				closeStatus != websocket.StatusGoingAway &&
				!strings.Contains(err.Error(), "context canceled") {
				logger.Warnf("room %s: read error for user %v: %v", rm.Name, conn.UserID, err)
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		rm.HandleRaw(conn, msg)
	}
}

// writePump drains the connection's out-channel onto the wire and keeps the
// connection alive with periodic pings.
func writePump(ctx context.Context, c *websocket.Conn, conn *room.Conn, logger *logrus.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-conn.OutChan:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logger.Warnf("failed to marshal outgoing msg for user %v: %v", conn.UserID, err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Warnf("failed to ping user %v, assuming disconnect", conn.UserID)
				return
			}
		}
	}
}
