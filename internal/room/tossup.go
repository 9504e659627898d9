// internal/room/tossup.go
package room

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scibowl/scibowl/internal/answer"
	"github.com/scibowl/scibowl/internal/models"
)

const fetchTimeout = 5 * time.Second

// next advances to a fresh question if the cycle allows it. Refusals are
// silent: a held buzz, an in-flight fetch, or skip disabled mid-reading all
// leave the room unchanged.
func (r *Room) next(userID uuid.UUID, msgType string) {
	if !r.allowed(userID) {
		return
	}
	if r.buzzedIn != uuid.Nil || r.queryingQuestion {
		return
	}
	if r.progress == ProgressReading && !r.Settings.Skip {
		return
	}

	r.queryingQuestion = true
	r.logEvent(userID, msgType, nil)
	go r.fetchQuestion()
}

// fetchQuestion pulls the next question off the active source and starts
// reading it. Runs outside the lock; re-acquires it to apply the result.
func (r *Room) fetchQuestion() {
	var q *models.Question
	var fetchErr error

	switch r.modeSnapshot() {
	case ModePacket:
		q = r.nextPacketQuestion()
	default:
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		filter := r.filterSnapshot()
		qs, err := r.GetRandomQuestions(ctx, filter, 1)
		fetchErr = err
		if err == nil && len(qs) > 0 {
			q = &qs[0]
		}
	}

	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.queryingQuestion = false
	if r.closed {
		return
	}
	if fetchErr != nil {
		r.logger.WithError(fetchErr).Error("failed to fetch question")
		r.emit(map[string]interface{}{"type": "no-questions-found"})
		return
	}
	if q == nil {
		r.emit(map[string]interface{}{"type": "no-questions-found"})
		return
	}
	r.startTossup(q)
}

func (r *Room) modeSnapshot() string {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	return r.Mode
}

func (r *Room) filterSnapshot() models.Filter {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	f := r.Query
	f.Subjects = r.categories.Subjects()
	return f
}

// nextPacketQuestion advances the packet cursor. Exhausting the packet
// yields nil, which surfaces as no-questions-found.
func (r *Room) nextPacketQuestion() *models.Question {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.packetIndex >= len(r.packet) {
		return nil
	}
	q := r.packet[r.packetIndex]
	r.packetIndex++
	return &q
}

// startTossup resets the cycle for a new question and begins reading it.
// Emission order is fixed: reset-question, question, then the first
// update-question from the pacer. Lock held.
func (r *Room) startTossup(q *models.Question) {
	r.pacer.Cancel()
	r.cancelDeadline()

	r.tossup = q
	r.questionSplit = strings.Fields(q.QuestionText)
	r.progress = ProgressReading
	r.paused = false
	r.buzzedIn = uuid.Nil
	r.buzzes = nil
	r.liveAnswer = ""

	for _, p := range r.Players {
		if p.Online {
			p.TossupsHeard++
		}
	}

	r.emit(map[string]interface{}{"type": "reset-question"})
	r.emit(map[string]interface{}{"type": "question", "question": r.sanitizedTossup()})
	r.pacer.Begin(r.questionSplit)
}

// sanitizedTossup copies the current question with the answer blanked unless
// it has been revealed. Lock held.
func (r *Room) sanitizedTossup() models.Question {
	q := *r.tossup
	if r.progress != ProgressAnswerRevealed {
		q.Answer = ""
	}
	return q
}

// emitWord is the pacer's emit hook. Lock held (pacer runs serialized).
func (r *Room) emitWord(word string) {
	r.emit(map[string]interface{}{"type": "update-question", "word": word})
}

// readingDone fires once after the final word. With the timer setting on,
// dead air after reading ends with an automatic reveal.
func (r *Room) readingDone() {
	if r.Settings.Timer {
		r.scheduleDeadline(deadAirDelay, r.revealAnswer)
	}
}

// pause toggles reading. Pausing cancels pending reveals; unpausing a
// question whose text already ran out reveals the answer immediately
// instead of re-reading.
func (r *Room) pause(userID uuid.UUID) {
	if !r.allowed(userID) {
		return
	}
	if r.progress != ProgressReading || r.buzzedIn != uuid.Nil {
		return
	}
	r.paused = !r.paused
	if r.paused {
		r.pacer.Cancel()
		r.cancelDeadline()
	}
	p := r.Players[userID]
	r.emit(map[string]interface{}{
		"type":     "pause",
		"paused":   r.paused,
		"userId":   userID.String(),
		"username": p.Username,
	})
	if !r.paused {
		if r.pacer.Finished() {
			r.revealAnswer()
		} else {
			r.pacer.Resume()
		}
	}
}

// canBuzz reports whether userID may buzz on the current question. Lock held.
func (r *Room) canBuzz(userID uuid.UUID) bool {
	if r.progress != ProgressReading || r.paused || r.buzzedIn != uuid.Nil {
		return false
	}
	if r.Settings.Rebuzz {
		return true
	}
	for _, id := range r.buzzes {
		if id == userID {
			return false
		}
	}
	return true
}

// buzz halts reading and gives userID the floor.
func (r *Room) buzz(userID uuid.UUID) {
	if !r.canBuzz(userID) {
		return
	}
	r.buzzedIn = userID
	r.buzzes = append(r.buzzes, userID)
	r.progress = ProgressBuzzed
	r.liveAnswer = ""
	r.pacer.Cancel()
	r.cancelDeadline()

	p := r.Players[userID]
	r.emit(map[string]interface{}{
		"type":     "buzz",
		"userId":   userID.String(),
		"username": p.Username,
	})
	r.logEvent(userID, "buzz", nil)

	if r.Settings.Timer {
		r.scheduleDeadline(answerWindow, func() {
			r.giveAnswer(userID, r.liveAnswer)
		})
	}
}

// giveAnswerLiveUpdate mirrors the buzzed player's keystrokes to the room.
func (r *Room) giveAnswerLiveUpdate(userID uuid.UUID, text string) {
	if r.buzzedIn != userID || r.progress != ProgressBuzzed {
		return
	}
	r.liveAnswer = text
	p := r.Players[userID]
	r.emit(map[string]interface{}{
		"type":        "give-answer-live-update",
		"givenAnswer": text,
		"userId":      userID.String(),
		"username":    p.Username,
	})
}

// giveAnswer judges the buzzed player's submission. Correct answers score
// and reveal; an interrupt (reading unfinished) costs a neg and reading
// resumes; a wrong answer after the text ran out just releases the floor.
func (r *Room) giveAnswer(userID uuid.UUID, given string) {
	if r.buzzedIn != userID || r.progress != ProgressBuzzed {
		return
	}
	r.cancelDeadline()

	p := r.Players[userID]
	res := answer.Validate(given, r.tossup.Answer, r.Settings.Strictness)

	points := 0
	if res.IsCorrect {
		points = 4
		p.Points += points
		p.Corrects++
	} else if !r.pacer.Finished() {
		points = -5
		p.Points += points
		p.Negs++
	}

	r.buzzedIn = uuid.Nil
	r.liveAnswer = ""

	r.emit(map[string]interface{}{
		"type":        "give-answer",
		"userId":      userID.String(),
		"username":    p.Username,
		"givenAnswer": given,
		"isCorrect":   res.IsCorrect,
		"matchType":   res.MatchType,
		"points":      points,
		"score":       p.Points,
	})
	r.logEvent(userID, "give-answer", map[string]interface{}{
		"givenAnswer": given,
		"isCorrect":   res.IsCorrect,
		"points":      points,
	})

	r.flushStats(p)

	if res.IsCorrect {
		r.revealAnswer()
		return
	}

	r.progress = ProgressReading
	if r.paused {
		return
	}
	if r.pacer.Finished() {
		r.readingDone()
	} else {
		r.pacer.Resume()
	}
}

// revealAnswer ends the question: remaining text and the answer go out to
// everyone. Lock held.
func (r *Room) revealAnswer() {
	if r.tossup == nil || r.progress == ProgressAnswerRevealed {
		return
	}
	r.pacer.Cancel()
	r.cancelDeadline()
	r.progress = ProgressAnswerRevealed
	r.buzzedIn = uuid.Nil
	r.emit(map[string]interface{}{
		"type":     "reveal-answer",
		"question": r.tossup.QuestionText,
		"answer":   r.tossup.Answer,
	})
}

// scheduleDeadline arms the single cycle deadline timer (dead-air reveal or
// answer window). The generation guard keeps a stale callback from firing
// into a later cycle. Lock held.
func (r *Room) scheduleDeadline(d time.Duration, fn func()) {
	r.cancelDeadline()
	gen := r.deadlineGen
	r.deadline = time.AfterFunc(d, func() {
		r.runSerialized(func() {
			if r.deadlineGen != gen {
				return
			}
			r.deadline = nil
			fn()
		})
	})
}

// cancelDeadline disarms any pending deadline. Lock held.
func (r *Room) cancelDeadline() {
	r.deadlineGen++
	if r.deadline != nil {
		r.deadline.Stop()
		r.deadline = nil
	}
}

// setMode switches between random-question and packet play. Switching to
// packet mode loads the named packet before announcing the change.
func (r *Room) setMode(userID uuid.UUID, msg *Message) {
	if !r.allowed(userID) {
		return
	}
	switch msg.Mode {
	case ModeRandom:
		r.Mode = ModeRandom
		r.packet = nil
		r.packetIndex = 0
		r.emit(map[string]interface{}{"type": "set-mode", "mode": ModeRandom, "userId": userID.String()})
	case ModePacket:
		if r.GetPacket == nil || r.queryingQuestion {
			return
		}
		r.queryingQuestion = true
		setName, packetNumber := msg.SetName, msg.PacketNumber
		go r.loadPacket(userID, setName, packetNumber)
	}
}

// loadPacket fetches a packet off the lock and applies it.
func (r *Room) loadPacket(userID uuid.UUID, setName string, packetNumber int) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	qs, err := r.GetPacket(ctx, setName, packetNumber)

	r.Mu.Lock()
	defer r.Mu.Unlock()
	r.queryingQuestion = false
	if r.closed {
		return
	}
	if err != nil {
		r.logger.WithError(err).Error("failed to load packet")
		r.emit(map[string]interface{}{"type": "no-questions-found"})
		return
	}
	if len(qs) == 0 {
		r.emit(map[string]interface{}{"type": "no-questions-found"})
		return
	}
	r.Mode = ModePacket
	r.setName = setName
	r.packetNumber = packetNumber
	r.packet = qs
	r.packetIndex = 0
	r.emit(map[string]interface{}{
		"type":         "set-mode",
		"mode":         ModePacket,
		"setName":      setName,
		"packetNumber": packetNumber,
		"userId":       userID.String(),
	})
}
