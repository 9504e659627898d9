// internal/handlers/rooms.go
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/scibowl/scibowl/internal/database"
	"github.com/scibowl/scibowl/internal/models"
)

// CreateRoomHandler handles POST /api/rooms. The caller becomes the owner of
// a freshly created room; creating a name that already exists returns the
// existing room unchanged with 200 instead of 201.
func (s *RoomServer) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Name        string   `json:"name"`
		IsPermanent bool     `json:"isPermanent"`
		Subjects    []string `json:"subjects"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		http.Error(w, "missing room name", http.StatusBadRequest)
		return
	}

	userID, _, err := EnsureGuestUser(w, r)
	if err != nil {
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	rm, created := s.GetOrCreateRoom(req.Name, userID, req.IsPermanent, req.Subjects)

	rm.Mu.Lock()
	resp := map[string]interface{}{
		"name":        rm.Name,
		"ownerId":     rm.OwnerID.String(),
		"isPermanent": rm.IsPermanent,
		"public":      rm.Settings.Public,
	}
	rm.Mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if created {
		w.WriteHeader(http.StatusCreated)
	}
	json.NewEncoder(w).Encode(resp)
}

// ListRoomsHandler handles GET /api/rooms, listing public rooms only.
func (s *RoomServer) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	type roomInfo struct {
		Name        string `json:"name"`
		PlayerCount int    `json:"playerCount"`
		IsPermanent bool   `json:"isPermanent"`
	}
	out := []roomInfo{}
	for _, rm := range s.RoomStore.Rooms() {
		rm.Mu.Lock()
		if rm.Settings.Public {
			online := 0
			for _, p := range rm.Players {
				if p.Online {
					online++
				}
			}
			out = append(out, roomInfo{
				Name:        rm.Name,
				PlayerCount: online,
				IsPermanent: rm.IsPermanent,
			})
		}
		rm.Mu.Unlock()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"rooms": out})
}

// RandomQuestionHandler handles GET /api/random-question. Query params map
// onto the filter; an empty draw is a 404, not an empty list.
func (s *RoomServer) RandomQuestionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	q := r.URL.Query()
	filter := models.Filter{
		Randomize:       true,
		MaxReturnLength: 50,
	}
	if subjects := q.Get("subjects"); subjects != "" {
		filter.Subjects = strings.Split(subjects, ",")
	}
	if competitions := q.Get("competitions"); competitions != "" {
		filter.Competitions = strings.Split(competitions, ",")
	}
	if years := q.Get("years"); years != "" {
		for _, y := range strings.Split(years, ",") {
			if n, err := strconv.Atoi(y); err == nil {
				filter.Years = append(filter.Years, n)
			}
		}
	}
	if mcq := q.Get("isMcq"); mcq != "" {
		b := mcq == "true"
		filter.IsMcq = &b
	}
	if tossup := q.Get("isTossup"); tossup != "" {
		b := tossup == "true"
		filter.IsTossup = &b
	}
	n := 1
	if count := q.Get("count"); count != "" {
		if parsed, err := strconv.Atoi(count); err == nil && parsed > 0 {
			n = parsed
		}
	}

	qs, err := s.Questions.Random(r.Context(), filter, n)
	if err != nil {
		http.Error(w, "failed to query questions", http.StatusInternalServerError)
		return
	}
	if len(qs) == 0 {
		http.Error(w, "no questions found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"questions": qs})
}

// StatsHandler handles GET /api/stats, returning the caller's lifetime
// totals. 503 when Postgres is not configured.
func (s *RoomServer) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if database.DB == nil {
		http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		return
	}

	userID, _, err := EnsureGuestUser(w, r)
	if err != nil {
		http.Error(w, "authentication failed", http.StatusInternalServerError)
		return
	}

	points, corrects, negs, tossupsHeard, err := database.GetPlayerStats(r.Context(), userID)
	if err != nil {
		http.Error(w, "no stats recorded", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"userId":       userID.String(),
		"points":       points,
		"corrects":     corrects,
		"negs":         negs,
		"tossupsHeard": tossupsHeard,
	})
}
