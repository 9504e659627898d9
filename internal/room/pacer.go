// internal/room/pacer.go
package room

import (
	"math"
	"strings"
	"time"
)

// Pacer reveals a question's text one word at a time, imitating a human
// reader. All of its methods must be called while the owning room's lock is
// held; the scheduled timer callback re-enters through run, which the room
// wires to a lock-acquiring trampoline.
//
// Pacing is anchored to an absolute expected timestamp so scheduler jitter
// does not accumulate across words.
type Pacer struct {
	run   func(fn func())
	emit  func(word string)
	done  func()
	speed func() int

	words    []string
	index    int
	gen      int
	expected time.Time
	timer    *time.Timer
}

// NewPacer wires a pacer to its room. run executes fn serialized against the
// room state, emit delivers the next word, done fires once after the final
// word, and speed reads the current reading-speed setting (0-100).
func NewPacer(run func(fn func()), emit func(word string), done func(), speed func() int) *Pacer {
	return &Pacer{run: run, emit: emit, done: done, speed: speed}
}

// WordDelay returns how long a reader dwells on a word before the next one.
// Longer words take longer; sentence-ending punctuation pauses more than a
// clause break. readingSpeed in [0,100], lower meaning slower.
func WordDelay(word string, readingSpeed int) time.Duration {
	if readingSpeed < 0 {
		readingSpeed = 0
	} else if readingSpeed > 100 {
		readingSpeed = 100
	}
	t := math.Log(float64(len(word))) + 1
	switch {
	case strings.HasSuffix(word, "."), strings.HasSuffix(word, "!"), strings.HasSuffix(word, "?"):
		t += 2
	case strings.HasSuffix(word, ","):
		t += 0.75
	}
	ms := t * 0.9 * float64(125-readingSpeed)
	return time.Duration(ms * float64(time.Millisecond))
}

// Begin starts reading the given words from the top, emitting the first word
// immediately. Any previous run is cancelled.
func (p *Pacer) Begin(words []string) {
	p.Cancel()
	p.words = words
	p.index = 0
	p.expected = time.Now()
	p.step()
}

// Resume continues from the current word after a pause. The anchor resets to
// now so the paused interval is not "owed".
func (p *Pacer) Resume() {
	p.Cancel()
	p.expected = time.Now()
	p.step()
}

// Cancel stops any pending reveal. Idempotent: cancelling an already-fired or
// already-cancelled timer is a no-op.
func (p *Pacer) Cancel() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Finished reports whether every word has been emitted.
func (p *Pacer) Finished() bool {
	return p.index >= len(p.words)
}

// step emits the word at the cursor and schedules the next reveal. Lock held.
func (p *Pacer) step() {
	if p.index >= len(p.words) {
		p.timer = nil
		if p.done != nil {
			p.done()
		}
		return
	}

	word := p.words[p.index]
	p.index++
	p.emit(word)

	p.expected = p.expected.Add(WordDelay(word, p.speed()))
	gen := p.gen
	p.timer = time.AfterFunc(time.Until(p.expected), func() {
		p.run(func() {
			// A stale timer (cancelled or superseded) must not emit.
			if p.gen != gen {
				return
			}
			p.step()
		})
	})
}
