// internal/room/pacer_test.go
package room

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWordDelayPunctuationWeights(t *testing.T) {
	plain := WordDelay("atom", 50)
	comma := WordDelay("atom,", 50)
	sentence := WordDelay("atom.", 50)

	assert.Greater(t, comma, plain)
	assert.Greater(t, sentence, comma)
}

func TestWordDelaySpeedScaling(t *testing.T) {
	slow := WordDelay("electron", 0)
	mid := WordDelay("electron", 50)
	fast := WordDelay("electron", 100)

	assert.Greater(t, slow, mid)
	assert.Greater(t, mid, fast)
	// At full speed the multiplier is 125-100=25, never zero.
	assert.Greater(t, fast, time.Duration(0))
}

func TestWordDelayClampsSpeed(t *testing.T) {
	assert.Equal(t, WordDelay("ion", 0), WordDelay("ion", -5))
	assert.Equal(t, WordDelay("ion", 100), WordDelay("ion", 150))
}

// pacerHarness serializes pacer callbacks the way a room lock would.
type pacerHarness struct {
	mu    sync.Mutex
	words []string
	done  bool
	pacer *Pacer
}

func newPacerHarness(speed int) *pacerHarness {
	h := &pacerHarness{}
	run := func(fn func()) {
		h.mu.Lock()
		defer h.mu.Unlock()
		fn()
	}
	h.pacer = NewPacer(run,
		func(word string) { h.words = append(h.words, word) },
		func() { h.done = true },
		func() int { return speed },
	)
	return h
}

func (h *pacerHarness) snapshot() ([]string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.words...), h.done
}

func TestPacerEmitsEveryWordInOrder(t *testing.T) {
	h := newPacerHarness(100)
	text := strings.Fields("alpha beta gamma")

	h.mu.Lock()
	h.pacer.Begin(text)
	got, _ := h.words, h.done
	require.Equal(t, []string{"alpha"}, got, "the first word is emitted immediately")
	h.mu.Unlock()

	require.Eventually(t, func() bool {
		_, done := h.snapshot()
		return done
	}, 5*time.Second, 10*time.Millisecond)

	words, _ := h.snapshot()
	assert.Equal(t, text, words)
	h.mu.Lock()
	assert.True(t, h.pacer.Finished())
	h.mu.Unlock()
}

func TestPacerCancelStopsEmission(t *testing.T) {
	h := newPacerHarness(100)
	text := strings.Fields("one two three four five six seven eight nine ten")

	h.mu.Lock()
	h.pacer.Begin(text)
	h.pacer.Cancel()
	h.mu.Unlock()

	time.Sleep(500 * time.Millisecond)
	words, done := h.snapshot()
	assert.Equal(t, []string{"one"}, words, "no words after cancel")
	assert.False(t, done)
}

func TestPacerResumeContinuesFromCursor(t *testing.T) {
	h := newPacerHarness(100)
	text := strings.Fields("one two three")

	h.mu.Lock()
	h.pacer.Begin(text)
	h.pacer.Cancel()
	h.pacer.Resume()
	h.mu.Unlock()

	require.Eventually(t, func() bool {
		_, done := h.snapshot()
		return done
	}, 5*time.Second, 10*time.Millisecond)

	words, _ := h.snapshot()
	assert.Equal(t, []string{"one", "two", "three"}, words)
}

func TestPacerCancelIdempotent(t *testing.T) {
	h := newPacerHarness(100)
	h.mu.Lock()
	h.pacer.Cancel()
	h.pacer.Cancel()
	h.pacer.Begin(strings.Fields("solo"))
	h.pacer.Cancel()
	h.pacer.Cancel()
	h.mu.Unlock()

	words, _ := h.snapshot()
	assert.Equal(t, []string{"solo"}, words)
}
