// internal/room/room_test.go
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scibowl/scibowl/internal/models"
)

// testClient collects a connection's outbound messages instead of sending
// them over WS.
type testClient struct {
	conn      *Conn
	cancelled atomic.Bool
}

func newTestClient(userID uuid.UUID) *testClient {
	tc := &testClient{}
	tc.conn = &Conn{
		UserID:  userID,
		OutChan: make(chan map[string]interface{}, 256),
		Cancel:  func() { tc.cancelled.Store(true) },
	}
	return tc
}

func (tc *testClient) drain() []map[string]interface{} {
	var out []map[string]interface{}
	for {
		select {
		case msg := <-tc.conn.OutChan:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func (tc *testClient) messagesOfType(msgType string) []map[string]interface{} {
	var out []map[string]interface{}
	for _, msg := range tc.drain() {
		if msg["type"] == msgType {
			out = append(out, msg)
		}
	}
	return out
}

func (tc *testClient) hasMessageOfType(msgType string) bool {
	return len(tc.messagesOfType(msgType)) > 0
}

func testQuestion(text string) models.Question {
	return models.Question{
		QuestionText: text,
		Answer:       "mitochondria",
		Subject:      "Biology",
		IsTossup:     true,
	}
}

// setupTestRoom creates a room with the given number of connected clients.
// The first client is the owner. The supplier serves a short fixed question.
func setupTestRoom(t *testing.T, numClients int) (*Room, []*testClient) {
	t.Helper()
	owner := uuid.New()
	r := NewRoom("test-room", owner, false, nil)
	t.Cleanup(r.Close)

	r.GetRandomQuestions = func(ctx context.Context, f models.Filter, n int) ([]models.Question, error) {
		return []models.Question{testQuestion("What organelle makes energy?")}, nil
	}

	clients := make([]*testClient, numClients)
	for i := 0; i < numClients; i++ {
		id := owner
		if i > 0 {
			id = uuid.New()
		}
		clients[i] = newTestClient(id)
		require.NoError(t, r.Connect(clients[i].conn, fmt.Sprintf("player-%d", i)))
	}
	for _, tc := range clients {
		tc.drain()
	}
	return r, clients
}

func TestConnectRegistersPlayerAndAcks(t *testing.T) {
	owner := uuid.New()
	r := NewRoom("ack-room", owner, false, nil)
	defer r.Close()
	r.GetRandomQuestions = func(ctx context.Context, f models.Filter, n int) ([]models.Question, error) {
		return nil, nil
	}

	tc := newTestClient(owner)
	require.NoError(t, r.Connect(tc.conn, "alice"))

	msgs := tc.drain()
	require.GreaterOrEqual(t, len(msgs), 4)
	assert.Equal(t, "connection-acknowledged", msgs[0]["type"])
	assert.Equal(t, "connection-acknowledged-query", msgs[1]["type"])
	assert.Equal(t, "connection-acknowledged-tossup", msgs[2]["type"])
	assert.Equal(t, "join", msgs[3]["type"])
	assert.Equal(t, true, msgs[3]["isNew"])

	r.Mu.Lock()
	p := r.Players[owner]
	r.Mu.Unlock()
	require.NotNil(t, p)
	assert.Equal(t, "alice", p.Username)
	assert.True(t, p.Online)
}

func TestStartEmitsQuestionOnce(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})

	r, clients := setupTestRoom(t, 1)
	r.GetRandomQuestions = func(ctx context.Context, f models.Filter, n int) ([]models.Question, error) {
		calls.Add(1)
		<-release
		return []models.Question{testQuestion("one two")}, nil
	}

	r.Dispatch(clients[0].conn.UserID, &Message{Type: "start"})
	// A second advance while the fetch is in flight must be refused.
	r.Dispatch(clients[0].conn.UserID, &Message{Type: "next"})
	close(release)
	time.Sleep(200 * time.Millisecond)

	assert.Equal(t, int32(1), calls.Load())
	msgs := clients[0].drain()
	var questions, resets int
	for _, msg := range msgs {
		switch msg["type"] {
		case "question":
			questions++
		case "reset-question":
			resets++
		}
	}
	assert.Equal(t, 1, questions)
	assert.Equal(t, 1, resets)
}

func TestQuestionHidesAnswerUntilReveal(t *testing.T) {
	r, clients := setupTestRoom(t, 1)
	r.Dispatch(clients[0].conn.UserID, &Message{Type: "start"})
	time.Sleep(200 * time.Millisecond)

	qs := clients[0].messagesOfType("question")
	require.Len(t, qs, 1)
	q, ok := qs[0]["question"].(models.Question)
	require.True(t, ok)
	assert.Empty(t, q.Answer)
}

func TestBuzzAndCorrectAnswerScores(t *testing.T) {
	r, clients := setupTestRoom(t, 2)
	userID := clients[1].conn.UserID

	r.Dispatch(clients[0].conn.UserID, &Message{Type: "start"})
	time.Sleep(200 * time.Millisecond)
	clients[1].drain()

	r.Dispatch(userID, &Message{Type: "buzz"})
	buzzes := clients[1].messagesOfType("buzz")
	require.Len(t, buzzes, 1)
	assert.Equal(t, userID.String(), buzzes[0]["userId"])

	r.Dispatch(userID, &Message{Type: "give-answer", GivenAnswer: "mitochondria"})
	msgs := clients[0].drain()
	var answered, revealed bool
	for _, msg := range msgs {
		switch msg["type"] {
		case "give-answer":
			answered = true
			assert.Equal(t, true, msg["isCorrect"])
			assert.Equal(t, 4, msg["points"])
		case "reveal-answer":
			revealed = true
			assert.Equal(t, "mitochondria", msg["answer"])
		}
	}
	assert.True(t, answered)
	assert.True(t, revealed)

	r.Mu.Lock()
	p := r.Players[userID]
	progress := r.progress
	r.Mu.Unlock()
	assert.Equal(t, 4, p.Points)
	assert.Equal(t, 1, p.Corrects)
	assert.Equal(t, ProgressAnswerRevealed, progress)
}

func TestInterruptWrongAnswerNegsAndResumes(t *testing.T) {
	r, clients := setupTestRoom(t, 1)
	userID := clients[0].conn.UserID
	r.GetRandomQuestions = func(ctx context.Context, f models.Filter, n int) ([]models.Question, error) {
		return []models.Question{testQuestion("alpha beta gamma delta epsilon zeta eta theta iota kappa")}, nil
	}
	r.Mu.Lock()
	r.Settings.ReadingSpeed = 0 // slowest, so the buzz interrupts mid-read
	r.Mu.Unlock()

	r.Dispatch(userID, &Message{Type: "start"})
	time.Sleep(200 * time.Millisecond)

	r.Dispatch(userID, &Message{Type: "buzz"})
	r.Dispatch(userID, &Message{Type: "give-answer", GivenAnswer: "wrong"})

	r.Mu.Lock()
	p := r.Players[userID]
	progress := r.progress
	r.Mu.Unlock()
	assert.Equal(t, -5, p.Points)
	assert.Equal(t, 1, p.Negs)
	assert.Equal(t, ProgressReading, progress, "reading should resume after an interrupt")
}

func TestPauseRefusedWhileBuzzed(t *testing.T) {
	r, clients := setupTestRoom(t, 2)
	r.Mu.Lock()
	r.Settings.ReadingSpeed = 0
	r.Mu.Unlock()

	r.Dispatch(clients[0].conn.UserID, &Message{Type: "start"})
	time.Sleep(200 * time.Millisecond)
	r.Dispatch(clients[1].conn.UserID, &Message{Type: "buzz"})
	clients[0].drain()

	r.Dispatch(clients[0].conn.UserID, &Message{Type: "pause"})
	assert.False(t, clients[0].hasMessageOfType("pause"))

	r.Mu.Lock()
	paused := r.paused
	r.Mu.Unlock()
	assert.False(t, paused)
}

func TestUnpauseAfterReadingFinishedRevealsImmediately(t *testing.T) {
	r, clients := setupTestRoom(t, 1)
	userID := clients[0].conn.UserID
	r.Mu.Lock()
	r.Settings.Timer = false
	r.Settings.ReadingSpeed = 100
	r.Mu.Unlock()

	r.Dispatch(userID, &Message{Type: "start"})
	require.Eventually(t, func() bool {
		r.Mu.Lock()
		defer r.Mu.Unlock()
		return r.progress == ProgressReading && r.pacer.Finished()
	}, 5*time.Second, 10*time.Millisecond)
	clients[0].drain()

	r.Dispatch(userID, &Message{Type: "pause"})
	r.Dispatch(userID, &Message{Type: "pause"})

	reveals := clients[0].messagesOfType("reveal-answer")
	require.Len(t, reveals, 1, "unpausing a fully read question reveals at once")
	assert.Equal(t, "mitochondria", reveals[0]["answer"])

	r.Mu.Lock()
	progress := r.progress
	r.Mu.Unlock()
	assert.Equal(t, ProgressAnswerRevealed, progress)
}

func TestDisconnectMidBuzzResolvesWithLiveAnswer(t *testing.T) {
	r, clients := setupTestRoom(t, 2)
	buzzer := clients[1].conn.UserID

	r.Dispatch(clients[0].conn.UserID, &Message{Type: "start"})
	time.Sleep(200 * time.Millisecond)

	r.Dispatch(buzzer, &Message{Type: "buzz"})
	r.Dispatch(buzzer, &Message{Type: "give-answer-live-update", GivenAnswer: "mitochondria"})
	clients[0].drain()

	r.Disconnect(clients[1].conn)

	answers := clients[0].messagesOfType("give-answer")
	require.Len(t, answers, 1, "the live answer is judged when the buzzer vanishes")
	assert.Equal(t, true, answers[0]["isCorrect"])

	r.Mu.Lock()
	progress := r.progress
	buzzedIn := r.buzzedIn
	p := r.Players[buzzer]
	r.Mu.Unlock()
	assert.NotEqual(t, ProgressBuzzed, progress, "the room must not stay buzzed")
	assert.Equal(t, uuid.Nil, buzzedIn)
	require.NotNil(t, p)
	assert.Equal(t, 4, p.Points)
}

func TestRebuzzDisabledBlocksSecondBuzz(t *testing.T) {
	r, clients := setupTestRoom(t, 1)
	userID := clients[0].conn.UserID
	r.GetRandomQuestions = func(ctx context.Context, f models.Filter, n int) ([]models.Question, error) {
		return []models.Question{testQuestion("alpha beta gamma delta epsilon zeta eta theta iota kappa")}, nil
	}
	r.Mu.Lock()
	r.Settings.ReadingSpeed = 0
	r.Settings.Rebuzz = false
	r.Mu.Unlock()

	r.Dispatch(userID, &Message{Type: "start"})
	time.Sleep(200 * time.Millisecond)

	r.Dispatch(userID, &Message{Type: "buzz"})
	r.Dispatch(userID, &Message{Type: "give-answer", GivenAnswer: "wrong"})
	clients[0].drain()

	r.Dispatch(userID, &Message{Type: "buzz"})
	assert.False(t, clients[0].hasMessageOfType("buzz"))
}

func TestBanEndToEnd(t *testing.T) {
	r, clients := setupTestRoom(t, 2)
	owner := clients[0].conn.UserID
	target := clients[1].conn.UserID

	r.Dispatch(owner, &Message{Type: "ban", TargetID: target})

	assert.True(t, clients[0].hasMessageOfType("confirm-ban"))
	removals := clients[1].messagesOfType("enforcing-removal")
	require.Len(t, removals, 1)
	assert.Equal(t, "ban", removals[0]["removalType"])

	// The target's connection closes and the player entry drops after the
	// grace delay.
	time.Sleep(removalGrace + 200*time.Millisecond)
	assert.True(t, clients[1].cancelled.Load())
	r.Mu.Lock()
	_, present := r.Players[target]
	r.Mu.Unlock()
	assert.False(t, present)

	// Reconnecting while the ban is live is refused before registration.
	tc := newTestClient(target)
	err := r.Connect(tc.conn, "sneaky")
	assert.ErrorIs(t, err, ErrBanned)
	removals = tc.messagesOfType("enforcing-removal")
	require.Len(t, removals, 1)
	assert.Equal(t, "ban", removals[0]["removalType"])
	r.Mu.Lock()
	_, present = r.Players[target]
	r.Mu.Unlock()
	assert.False(t, present)
}

func TestNonOwnerBanIgnored(t *testing.T) {
	r, clients := setupTestRoom(t, 2)
	owner := clients[0].conn.UserID
	other := clients[1].conn.UserID

	r.Dispatch(other, &Message{Type: "ban", TargetID: owner})

	assert.False(t, clients[0].hasMessageOfType("confirm-ban"))
	r.Mu.Lock()
	_, present := r.Players[owner]
	banned := len(r.banned)
	r.Mu.Unlock()
	assert.True(t, present)
	assert.Zero(t, banned)
}

func TestDuplicateConnectionNoticeGoesToNewTab(t *testing.T) {
	r, clients := setupTestRoom(t, 1)
	userID := clients[0].conn.UserID

	second := newTestClient(userID)
	require.NoError(t, r.Connect(second.conn, "player-0"))

	var noticed bool
	for _, msg := range second.drain() {
		if msg["type"] == "error" {
			noticed = true
		}
	}
	assert.True(t, noticed, "the new tab should receive the duplicate notice")
	assert.False(t, clients[0].cancelled.Load(), "the old tab survives until the grace delay")

	r.Mu.Lock()
	assert.Same(t, second.conn, r.conns[userID])
	r.Mu.Unlock()
}

func TestLockedRoomRefusesNewUsers(t *testing.T) {
	r, clients := setupTestRoom(t, 1)
	r.Dispatch(clients[0].conn.UserID, &Message{Type: "toggle-lock", Lock: true})

	stranger := newTestClient(uuid.New())
	err := r.Connect(stranger.conn, "stranger")
	assert.ErrorIs(t, err, ErrRoomLocked)
	r.Mu.Lock()
	_, present := r.Players[stranger.conn.UserID]
	r.Mu.Unlock()
	assert.False(t, present)

	// A player who was already in the room may reconnect past the lock.
	again := newTestClient(clients[0].conn.UserID)
	assert.NoError(t, r.Connect(again.conn, "player-0"))
}

func TestChatOnlyInPrivateRooms(t *testing.T) {
	r, clients := setupTestRoom(t, 2)
	owner := clients[0].conn.UserID

	r.Dispatch(owner, &Message{Type: "chat", Chat: "hello"})
	assert.False(t, clients[1].hasMessageOfType("chat"), "public rooms carry no chat")

	r.Dispatch(owner, &Message{Type: "toggle-public", Public: false})
	clients[1].drain()
	r.Dispatch(owner, &Message{Type: "chat", Chat: "hello again"})
	chats := clients[1].messagesOfType("chat")
	require.Len(t, chats, 1)
	assert.Equal(t, "hello again", chats[0]["message"])
}

func TestMalformedJSONDroppedSilently(t *testing.T) {
	r, clients := setupTestRoom(t, 1)
	r.HandleRaw(clients[0].conn, []byte("{not json"))
	assert.Empty(t, clients[0].drain())
}

func TestRateLimitStickyPerUsername(t *testing.T) {
	r, clients := setupTestRoom(t, 2)
	owner := clients[0].conn.UserID
	r.Dispatch(owner, &Message{Type: "toggle-public", Public: false})
	clients[1].drain()

	chat, err := json.Marshal(map[string]string{"type": "chat", "message": "spam"})
	require.NoError(t, err)
	for i := 0; i < rateLimitMax+1; i++ {
		r.HandleRaw(clients[0].conn, chat)
	}
	clients[1].drain()

	// Even after the window resets the mark holds.
	time.Sleep(rateLimitWindow + 50*time.Millisecond)
	r.HandleRaw(clients[0].conn, chat)
	assert.False(t, clients[1].hasMessageOfType("chat"))
}

func TestLeaveRemovesPlayer(t *testing.T) {
	r, clients := setupTestRoom(t, 2)
	leaver := clients[1].conn.UserID

	r.Dispatch(leaver, &Message{Type: "leave"})
	r.Mu.Lock()
	_, present := r.Players[leaver]
	r.Mu.Unlock()
	assert.False(t, present)
	assert.True(t, clients[0].hasMessageOfType("leave"))
}

func TestDisconnectKeepsPlayerOffline(t *testing.T) {
	r, clients := setupTestRoom(t, 2)
	userID := clients[1].conn.UserID

	r.Disconnect(clients[1].conn)
	r.Mu.Lock()
	p, present := r.Players[userID]
	r.Mu.Unlock()
	require.True(t, present)
	assert.False(t, p.Online)
}

func TestUsernameCollisionAdjusted(t *testing.T) {
	r, _ := setupTestRoom(t, 1)
	second := newTestClient(uuid.New())
	require.NoError(t, r.Connect(second.conn, "player-0"))

	r.Mu.Lock()
	p := r.Players[second.conn.UserID]
	r.Mu.Unlock()
	assert.Equal(t, "player-0 (2)", p.Username)
}

func TestControlledRoomRestrictsNonOwners(t *testing.T) {
	r, clients := setupTestRoom(t, 2)
	owner := clients[0].conn.UserID
	other := clients[1].conn.UserID

	r.Dispatch(owner, &Message{Type: "toggle-controlled", Controlled: true})
	clients[0].drain()

	r.Dispatch(other, &Message{Type: "start"})
	time.Sleep(100 * time.Millisecond)
	assert.False(t, clients[0].hasMessageOfType("question"))

	r.Dispatch(owner, &Message{Type: "start"})
	time.Sleep(200 * time.Millisecond)
	assert.True(t, clients[0].hasMessageOfType("question"))
}
