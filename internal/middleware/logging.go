// internal/middleware/logging.go

package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogMiddleware is an HTTP middleware that logs incoming requests using Logrus.
// Logs the method, path, and duration of each request; requests targeting a
// room carry the room name as its own field.
func LogMiddleware(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			path := r.URL.Path
			method := r.Method

			next.ServeHTTP(w, r)

			fields := logrus.Fields{
				"method":   method,
				"path":     path,
				"duration": time.Since(start),
				"remote":   r.RemoteAddr,
			}
			if room := roomFromPath(path); room != "" {
				fields["room"] = room
			}
			logger.WithFields(fields).Info("HTTP Request")
		})
	}
}

// roomFromPath extracts the room name from a /rooms/ws/{name} path.
func roomFromPath(path string) string {
	name, ok := strings.CutPrefix(path, "/rooms/ws/")
	if !ok {
		return ""
	}
	if idx := strings.Index(name, "/"); idx != -1 {
		name = name[:idx]
	}
	return name
}

// LogWebSocketConnect logs a message when a WebSocket client connects to a
// room. Typically called in your WebSocket handler once you accept an upgrade.
func LogWebSocketConnect(logger *logrus.Logger, remoteAddr, room string) {
	logger.WithFields(logrus.Fields{
		"remote": remoteAddr,
		"room":   room,
	}).Info("WebSocket connected")
}

// LogWebSocketDisconnect logs a message when a WebSocket client disconnects.
func LogWebSocketDisconnect(logger *logrus.Logger, remoteAddr, room string, err error) {
	fields := logrus.Fields{
		"remote": remoteAddr,
		"room":   room,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("WebSocket disconnected")
}
