// internal/room/moderation.go
package room

import (
	"time"

	"github.com/google/uuid"
)

const (
	// Ban and kick records expire once their age reaches banKickTTL; the
	// sweep runs on sweepInterval, and Connect re-checks expiry inline so a
	// record never outlives its TTL just because the sweep has not run yet.
	banKickTTL    = 30 * time.Minute
	sweepInterval = 5 * time.Minute

	votekickCooldown = 2 * time.Minute
)

// Votekick is one open kick vote against a target. Votes are deduplicated by
// voter.
type Votekick struct {
	TargetID    uuid.UUID
	InitiatorID uuid.UUID
	Created     time.Time
	votes       map[uuid.UUID]struct{}
}

// AddVote records a vote, reporting whether it was new.
func (v *Votekick) AddVote(userID uuid.UUID) bool {
	if _, ok := v.votes[userID]; ok {
		return false
	}
	v.votes[userID] = struct{}{}
	return true
}

// Count returns the number of distinct votes cast so far.
func (v *Votekick) Count() int {
	return len(v.votes)
}

// votekickThreshold is the number of votes needed to kick: at least half the
// online players, never fewer than two.
func votekickThreshold(online int) int {
	t := (online + 1) / 2
	if t < 2 {
		t = 2
	}
	return t
}

// bannedNow reports whether userID holds an unexpired ban. Lock held.
func (r *Room) bannedNow(userID uuid.UUID) bool {
	ts, ok := r.banned[userID]
	return ok && time.Since(ts) < banKickTTL
}

// kickedNow reports whether userID holds an unexpired kick. Lock held.
func (r *Room) kickedNow(userID uuid.UUID) bool {
	ts, ok := r.kicked[userID]
	return ok && time.Since(ts) < banKickTTL
}

// sweepLedgers drops every ban and kick record whose age has reached the
// TTL. Lock held.
func (r *Room) sweepLedgers(now time.Time) {
	for id, ts := range r.banned {
		if now.Sub(ts) >= banKickTTL {
			delete(r.banned, id)
		}
	}
	for id, ts := range r.kicked {
		if now.Sub(ts) >= banKickTTL {
			delete(r.kicked, id)
		}
	}
}

// ban removes a player and bars them from reconnecting until the record
// expires. Owner only; the owner cannot ban themselves. The confirm goes out
// to the whole room before the target's connection is closed, so every
// client learns of the removal even if the target drops instantly.
func (r *Room) ban(userID uuid.UUID, msg *Message) {
	if userID != r.OwnerID || msg.TargetID == r.OwnerID {
		return
	}
	target, ok := r.Players[msg.TargetID]
	if !ok {
		return
	}

	r.emit(map[string]interface{}{
		"type":           "confirm-ban",
		"targetId":       target.UserID.String(),
		"targetUsername": target.Username,
	})
	r.sendTo(target.UserID, map[string]interface{}{
		"type":        "enforcing-removal",
		"removalType": "ban",
	})
	r.banned[target.UserID] = time.Now()
	r.logEvent(userID, "ban", map[string]interface{}{"targetId": target.UserID.String()})

	targetID := target.UserID
	time.AfterFunc(removalGrace, func() {
		r.runSerialized(func() {
			r.removeUser(targetID)
		})
	})
}

// votekickInit opens a vote to kick target, with the initiator's vote
// counted. One open vote per target; initiators are rate limited by a
// cooldown so a single user cannot cycle votes against the room.
func (r *Room) votekickInit(userID, targetID uuid.UUID) {
	if userID == targetID || targetID == r.OwnerID {
		return
	}
	target, ok := r.Players[targetID]
	if !ok || !target.Online {
		return
	}
	if _, open := r.votekicks[targetID]; open {
		return
	}
	if last, ok := r.lastVotekick[userID]; ok && time.Since(last) < votekickCooldown {
		return
	}

	vk := &Votekick{
		TargetID:    targetID,
		InitiatorID: userID,
		Created:     time.Now(),
		votes:       map[uuid.UUID]struct{}{userID: {}},
	}
	r.votekicks[targetID] = vk
	r.lastVotekick[userID] = time.Now()

	initiator := r.Players[userID]
	r.emit(map[string]interface{}{
		"type":           "votekick-init",
		"targetId":       targetID.String(),
		"targetUsername": target.Username,
		"userId":         userID.String(),
		"username":       initiator.Username,
		"votes":          vk.Count(),
		"threshold":      votekickThreshold(r.onlineCount()),
	})
	r.logEvent(userID, "votekick-init", map[string]interface{}{"targetId": targetID.String()})
	r.maybeCompleteVotekick(vk)
}

// votekickVote adds one vote to an open votekick.
func (r *Room) votekickVote(userID, targetID uuid.UUID) {
	vk, ok := r.votekicks[targetID]
	if !ok || userID == targetID {
		return
	}
	if !vk.AddVote(userID) {
		return
	}
	target := r.Players[targetID]
	r.emit(map[string]interface{}{
		"type":           "votekick-vote",
		"targetId":       targetID.String(),
		"targetUsername": target.Username,
		"votes":          vk.Count(),
		"threshold":      votekickThreshold(r.onlineCount()),
	})
	r.maybeCompleteVotekick(vk)
}

// maybeCompleteVotekick enforces the kick once the vote count reaches the
// threshold. Lock held.
func (r *Room) maybeCompleteVotekick(vk *Votekick) {
	if vk.Count() < votekickThreshold(r.onlineCount()) {
		return
	}
	target, ok := r.Players[vk.TargetID]
	if !ok {
		delete(r.votekicks, vk.TargetID)
		return
	}

	delete(r.votekicks, vk.TargetID)
	r.emit(map[string]interface{}{
		"type":           "confirm-votekick",
		"targetId":       target.UserID.String(),
		"targetUsername": target.Username,
	})
	r.sendTo(target.UserID, map[string]interface{}{
		"type":        "enforcing-removal",
		"removalType": "kick",
	})
	r.kicked[target.UserID] = time.Now()
	r.logEvent(vk.InitiatorID, "votekick", map[string]interface{}{"targetId": target.UserID.String()})

	targetID := target.UserID
	time.AfterFunc(removalGrace, func() {
		r.runSerialized(func() {
			r.removeUser(targetID)
		})
	})
}
