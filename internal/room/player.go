// internal/room/player.go
package room

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

const maxUsernameLength = 24

// Player is one participant's per-room record. It is created on the first
// connection from a userId and survives disconnects (Online flips to false)
// until an explicit leave, kick or ban removes it.
type Player struct {
	UserID   uuid.UUID `json:"userId"`
	Username string    `json:"username"`
	Online   bool      `json:"online"`

	Points       int `json:"points"`
	Corrects     int `json:"corrects"`
	Negs         int `json:"negs"`
	TossupsHeard int `json:"tossupsHeard"`

	// Watermarks of what has already been flushed to lifetime stats, so a
	// flush only carries the delta since the previous one.
	reportedPoints   int
	reportedCorrects int
	reportedNegs     int
	reportedHeard    int
}

// NewPlayer returns an offline player with a placeholder username.
func NewPlayer(userID uuid.UUID) *Player {
	return &Player{
		UserID:   userID,
		Username: "user-" + userID.String()[:4],
	}
}

// sanitizeUsername strips control characters, collapses whitespace and clamps
// the length. An unusable name falls back to the placeholder.
func sanitizeUsername(userID uuid.UUID, raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	name := strings.Join(strings.Fields(b.String()), " ")
	if len(name) > maxUsernameLength {
		name = name[:maxUsernameLength]
	}
	if name == "" {
		name = "user-" + userID.String()[:4]
	}
	return name
}

// setUsername assigns a sanitized, collision-adjusted username to the player
// and returns the name actually used. Callers hold the room lock.
func (r *Room) setUsername(p *Player, raw string) string {
	name := sanitizeUsername(p.UserID, raw)
	taken := func(candidate string) bool {
		for _, other := range r.Players {
			if other.UserID != p.UserID && other.Username == candidate {
				return true
			}
		}
		return false
	}
	adjusted := name
	for i := 2; taken(adjusted); i++ {
		adjusted = fmt.Sprintf("%s (%d)", name, i)
	}
	p.Username = adjusted
	return adjusted
}
