// internal/middleware/logging_test.go
package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomFromPath(t *testing.T) {
	assert.Equal(t, "physics-night", roomFromPath("/rooms/ws/physics-night"))
	assert.Equal(t, "physics-night", roomFromPath("/rooms/ws/physics-night/extra"))
	assert.Equal(t, "", roomFromPath("/api/rooms"))
	assert.Equal(t, "", roomFromPath("/rooms/ws/"))
}

func TestLogMiddlewareTagsRoomRequests(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)

	handler := LogMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/rooms/ws/chem-club", nil))
	require.Len(t, hook.Entries, 1)
	assert.Equal(t, "chem-club", hook.LastEntry().Data["room"])

	hook.Reset()
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/rooms", nil))
	require.Len(t, hook.Entries, 1)
	_, tagged := hook.LastEntry().Data["room"]
	assert.False(t, tagged)
}
