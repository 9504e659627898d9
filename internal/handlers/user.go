// internal/handlers/user.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/scibowl/scibowl/internal/auth"
)

// EnsureGuestUser resolves the caller's identity from the auth_token cookie.
// A missing or invalid token mints a fresh guest identity and sets the
// cookie, so every visitor has a stable userId across tabs and reconnects.
func EnsureGuestUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool, error) {
	cookieHeader := r.Header.Get("Cookie")
	if strings.Contains(cookieHeader, "auth_token=") {
		token := extractCookieToken(cookieHeader, "auth_token")
		sub, guest, err := auth.AuthenticateJWT(token)
		if err == nil {
			userID, parseErr := uuid.Parse(sub)
			if parseErr == nil {
				return userID, guest, nil
			}
		}
		// Fall through and mint a new guest identity.
	}

	userID := uuid.New()
	token, err := auth.CreateJWT(userID.String(), true)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to create guest JWT: %w", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})
	return userID, true, nil
}

// LoginHandler issues a non-guest session for rooms that require login.
// Expects {"username": "..."} and returns the session cookie plus the
// assigned userId.
func LoginHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Username) == "" {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Reuse the caller's existing identity if they already hold one, so
	// logging in does not orphan their room state.
	userID := uuid.New()
	if cookieHeader := r.Header.Get("Cookie"); strings.Contains(cookieHeader, "auth_token=") {
		if sub, _, err := auth.AuthenticateJWT(extractCookieToken(cookieHeader, "auth_token")); err == nil {
			if existing, parseErr := uuid.Parse(sub); parseErr == nil {
				userID = existing
			}
		}
	}

	token, err := auth.CreateJWT(userID.String(), false)
	if err != nil {
		http.Error(w, "failed to create session", http.StatusInternalServerError)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "auth_token",
		Value:    token,
		HttpOnly: true,
		Path:     "/",
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"userId":   userID.String(),
		"username": req.Username,
	})
}
