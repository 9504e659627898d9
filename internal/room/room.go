// internal/room/room.go
package room

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/scibowl/scibowl/internal/cache"
	"github.com/scibowl/scibowl/internal/models"
)

// Tossup cycle progress. Exactly one value is active per room.
type Progress string

const (
	ProgressNotStarted     Progress = "NOT_STARTED"
	ProgressReading        Progress = "READING"
	ProgressBuzzed         Progress = "BUZZED"
	ProgressAnswerRevealed Progress = "ANSWER_REVEALED"
)

// Play modes.
const (
	ModeRandom = "random questions"
	ModePacket = "packet"
)

const (
	rateLimitMax    = 50
	rateLimitWindow = time.Second

	duplicateTabGrace = 5 * time.Second
	removalGrace      = time.Second

	// deadAirDelay is how long after the last word the answer is revealed
	// when the timer setting is on. answerWindow bounds how long a buzzed
	// player may type before their live answer is submitted for them.
	deadAirDelay = 10 * time.Second
	answerWindow = 10 * time.Second
)

// Errors returned by Connect when admission is refused. The enforcement
// notice has already been written to the connection in every case.
var (
	ErrBanned        = errors.New("user is banned from this room")
	ErrKicked        = errors.New("user is kicked from this room")
	ErrRoomLocked    = errors.New("room is locked")
	ErrLoginRequired = errors.New("room requires a logged-in user")
)

// Settings holds every room option a message can toggle.
type Settings struct {
	Skip          bool `json:"skip"`
	ShowHistory   bool `json:"showHistory"`
	TypeToAnswer  bool `json:"typeToAnswer"`
	Timer         bool `json:"timer"`
	Rebuzz        bool `json:"rebuzz"`
	Strictness    int  `json:"strictness"`
	ReadingSpeed  int  `json:"readingSpeed"`
	Lock          bool `json:"lock"`
	LoginRequired bool `json:"loginRequired"`
	Public        bool `json:"public"`
	Controlled    bool `json:"controlled"`
}

func defaultSettings() Settings {
	return Settings{
		Skip:         true,
		ShowHistory:  true,
		TypeToAnswer: true,
		Timer:        true,
		Strictness:   7,
		ReadingSpeed: 50,
		Public:       true,
	}
}

// Message is one decoded inbound protocol message.
type Message struct {
	Type string `json:"type"`

	ShowHistory   bool     `json:"showHistory"`
	Timer         bool     `json:"timer"`
	TypeToAnswer  bool     `json:"typeToAnswer"`
	Rebuzz        bool     `json:"rebuzz"`
	Strictness    int      `json:"strictness"`
	ReadingSpeed  int      `json:"readingSpeed"`
	Subjects      []string `json:"subjects"`
	Lock          bool     `json:"lock"`
	LoginRequired bool     `json:"loginRequired"`
	Public        bool     `json:"public"`
	Controlled    bool     `json:"controlled"`

	TargetID       uuid.UUID `json:"targetId"`
	TargetUsername string    `json:"targetUsername"`
	Chat           string    `json:"message"`
	GivenAnswer    string    `json:"givenAnswer"`

	Mode         string `json:"mode"`
	SetName      string `json:"setName"`
	PacketNumber int    `json:"packetNumber"`
}

// Conn wraps a single user's live connection to a room. OutChan is drained
// by the transport's write pump; Cancel tears the transport down.
type Conn struct {
	UserID   uuid.UUID
	Username string
	Guest    bool
	Cancel   func()
	OutChan  chan map[string]interface{}
}

// Write pushes a message onto the connection's out-channel without blocking.
// A full or closed channel drops the message.
func (c *Conn) Write(msg map[string]interface{}) {
	select {
	case c.OutChan <- msg:
	default:
	}
}

// QuestionSupplier returns up to n random questions matching the filter.
// Zero results is a valid outcome, not an error.
type QuestionSupplier func(ctx context.Context, filter models.Filter, n int) ([]models.Question, error)

// PacketSupplier returns the questions of one named packet, in order.
type PacketSupplier func(ctx context.Context, setName string, packetNumber int) ([]models.Question, error)

// Room is a single trivia room. All state transitions are serialized through
// Mu: the dispatch entry points, the pacer's timer callbacks and the ledger
// sweep each take the lock, so a room behaves like a single-threaded event
// queue while distinct rooms run in parallel.
type Room struct {
	Name        string
	OwnerID     uuid.UUID
	IsPermanent bool

	Mu sync.Mutex

	Settings Settings
	Query    models.Filter
	Mode     string

	Players map[uuid.UUID]*Player

	conns       map[uuid.UUID]*Conn
	limiters    map[*Conn]*RateLimiter
	rateLimited map[string]bool // sticky by username for the room's lifetime

	banned       map[uuid.UUID]time.Time
	kicked       map[uuid.UUID]time.Time
	votekicks    map[uuid.UUID]*Votekick
	lastVotekick map[uuid.UUID]time.Time

	categories *CategoryManager

	// Tossup cycle state.
	progress         Progress
	tossup           *models.Question
	questionSplit    []string
	buzzedIn         uuid.UUID
	buzzes           []uuid.UUID
	liveAnswer       string
	paused           bool
	queryingQuestion bool

	pacer       *Pacer
	deadline    *time.Timer
	deadlineGen int

	// Packet-mode cursor.
	setName      string
	packetNumber int
	packet       []models.Question
	packetIndex  int

	// GetRandomQuestions and GetPacket are the question-supply capability.
	GetRandomQuestions QuestionSupplier
	GetPacket          PacketSupplier

	// OnEmpty is invoked (outside the lock) when the last connection leaves
	// a non-permanent room.
	OnEmpty func(name string)

	// ReportStats, when set, receives scoring deltas to fold into the
	// user's lifetime stats; it must not block.
	ReportStats func(userID uuid.UUID, points, corrects, negs, tossupsHeard int)

	logger     *logrus.Entry
	eventIndex int
	stop       chan struct{}
	closed     bool
}

// NewRoom builds a room owned by ownerID and starts its ledger sweep.
func NewRoom(name string, ownerID uuid.UUID, isPermanent bool, subjects []string) *Room {
	r := &Room{
		Name:        name,
		OwnerID:     ownerID,
		IsPermanent: isPermanent,
		Settings:    defaultSettings(),
		Mode:        ModeRandom,
		Query: models.Filter{
			Subjects:        subjects,
			Randomize:       true,
			MaxReturnLength: 50,
		},
		Players:      make(map[uuid.UUID]*Player),
		conns:        make(map[uuid.UUID]*Conn),
		limiters:     make(map[*Conn]*RateLimiter),
		rateLimited:  make(map[string]bool),
		banned:       make(map[uuid.UUID]time.Time),
		kicked:       make(map[uuid.UUID]time.Time),
		votekicks:    make(map[uuid.UUID]*Votekick),
		lastVotekick: make(map[uuid.UUID]time.Time),
		categories:   NewCategoryManager(subjects),
		progress:     ProgressNotStarted,
		logger:       logrus.WithField("room", name),
		stop:         make(chan struct{}),
	}
	r.pacer = NewPacer(r.runSerialized, r.emitWord, r.readingDone, func() int { return r.Settings.ReadingSpeed })
	go r.sweepLoop()
	return r
}

// runSerialized executes fn with the room lock held, unless the room has
// been closed in the meantime. Timer callbacks re-enter through here.
func (r *Room) runSerialized(fn func()) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.closed {
		return
	}
	fn()
}

// Close tears the room down: cancels timers, closes every connection and
// stops the sweep loop. Safe to call more than once.
func (r *Room) Close() {
	r.Mu.Lock()
	if r.closed {
		r.Mu.Unlock()
		return
	}
	r.closed = true
	r.pacer.Cancel()
	r.cancelDeadline()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[uuid.UUID]*Conn)
	r.Mu.Unlock()

	close(r.stop)
	for _, c := range conns {
		if c.Cancel != nil {
			c.Cancel()
		}
	}
}

// sweepLoop purges expired ban/kick records on a fixed interval.
func (r *Room) sweepLoop() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.Mu.Lock()
			r.sweepLedgers(time.Now())
			r.Mu.Unlock()
		}
	}
}

// allowed reports whether userID may drive the question cycle: in a
// controlled room only the owner may.
func (r *Room) allowed(userID uuid.UUID) bool {
	return userID == r.OwnerID || !r.Settings.Controlled
}

// emit broadcasts one message to every registered connection. Messages
// emitted under the same lock hold arrive in order on each connection.
func (r *Room) emit(msg map[string]interface{}) {
	for _, c := range r.conns {
		c.Write(msg)
	}
}

// sendTo writes a message to a single user's connection, if live.
func (r *Room) sendTo(userID uuid.UUID, msg map[string]interface{}) {
	if c, ok := r.conns[userID]; ok {
		c.Write(msg)
	}
}

// logEvent pushes a room event onto the Redis history queue, best effort.
// The room never blocks on the queue.
func (r *Room) logEvent(actor uuid.UUID, eventType string, payload map[string]interface{}) {
	r.eventIndex++
	if cache.Rdb == nil {
		return
	}
	rec := cache.RoomEventRecord{
		RoomName:    r.Name,
		EventIndex:  r.eventIndex,
		ActorUserID: actor,
		EventType:   eventType,
		Payload:     payload,
		Timestamp:   time.Now().UnixMilli(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := cache.PublishRoomEvent(ctx, rec); err != nil {
			r.logger.WithError(err).Debug("failed to publish room event")
		}
	}()
}

// HandleRaw is the inbound entry point for one connection's raw frame. It
// applies rate limiting before decoding; malformed JSON is dropped with no
// reply.
func (r *Room) HandleRaw(conn *Conn, data []byte) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.closed {
		return
	}
	if !r.admitEvent(conn, time.Now()) {
		return
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	r.dispatch(conn.UserID, &msg)
}

// admitEvent charges one inbound event against the connection's limiter.
// Tripping the limit marks the username; the mark is sticky for the room's
// lifetime and flagged traffic is dropped silently.
func (r *Room) admitEvent(conn *Conn, now time.Time) bool {
	username := conn.Username
	if p, ok := r.Players[conn.UserID]; ok {
		username = p.Username
	}
	limiter, ok := r.limiters[conn]
	if !ok {
		limiter = NewRateLimiter(rateLimitMax, rateLimitWindow)
		r.limiters[conn] = limiter
	}
	if !limiter.Allow(now) {
		if !r.rateLimited[username] {
			r.logger.WithField("username", username).Warn("rate limit exceeded, flagging user")
		}
		r.rateLimited[username] = true
	}
	return !r.rateLimited[username]
}

// Dispatch routes a decoded message. Exposed for callers that decode their
// own frames (tests, bots); transports normally use HandleRaw.
func (r *Room) Dispatch(userID uuid.UUID, msg *Message) {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.closed {
		return
	}
	r.dispatch(userID, msg)
}

// dispatch assumes the lock is held.
func (r *Room) dispatch(userID uuid.UUID, msg *Message) {
	if _, ok := r.Players[userID]; !ok {
		return
	}
	switch msg.Type {
	case "start", "next":
		r.next(userID, msg.Type)
	case "pause":
		r.pause(userID)
	case "toggle-show-history":
		r.toggleSetting(userID, msg.Type, "showHistory", msg.ShowHistory, &r.Settings.ShowHistory)
	case "toggle-timer":
		r.toggleSetting(userID, msg.Type, "timer", msg.Timer, &r.Settings.Timer)
	case "toggle-type-to-answer":
		r.toggleSetting(userID, msg.Type, "typeToAnswer", msg.TypeToAnswer, &r.Settings.TypeToAnswer)
	case "toggle-rebuzz":
		r.toggleSetting(userID, msg.Type, "rebuzz", msg.Rebuzz, &r.Settings.Rebuzz)
	case "set-strictness":
		r.setStrictness(userID, msg.Strictness)
	case "set-reading-speed":
		r.setReadingSpeed(userID, msg.ReadingSpeed)
	case "set-subjects":
		r.setSubjects(userID, msg.Subjects)
	case "toggle-lock":
		r.ownerToggle(userID, msg.Type, "lock", msg.Lock, &r.Settings.Lock)
	case "toggle-login-required":
		r.ownerToggle(userID, msg.Type, "loginRequired", msg.LoginRequired, &r.Settings.LoginRequired)
	case "toggle-public":
		r.ownerToggle(userID, msg.Type, "public", msg.Public, &r.Settings.Public)
	case "toggle-controlled":
		r.ownerToggle(userID, msg.Type, "controlled", msg.Controlled, &r.Settings.Controlled)
	case "ban":
		r.ban(userID, msg)
	case "votekick-init":
		r.votekickInit(userID, msg.TargetID)
	case "votekick-vote":
		r.votekickVote(userID, msg.TargetID)
	case "chat":
		r.chat(userID, "chat", msg.Chat)
	case "chat-live-update":
		r.chat(userID, "chat-live-update", msg.Chat)
	case "buzz":
		r.buzz(userID)
	case "give-answer":
		r.giveAnswer(userID, msg.GivenAnswer)
	case "give-answer-live-update":
		r.giveAnswerLiveUpdate(userID, msg.GivenAnswer)
	case "set-mode":
		r.setMode(userID, msg)
	case "leave":
		r.removeUser(userID)
	default:
		// Unknown message types are protocol noise; ignore without reply.
	}
}

// toggleSetting mutates one reader-facing settings field and echoes it
// tagged with the acting user.
func (r *Room) toggleSetting(userID uuid.UUID, msgType, field string, value bool, target *bool) {
	if !r.allowed(userID) {
		return
	}
	*target = value
	r.emit(map[string]interface{}{"type": msgType, field: value, "userId": userID.String()})
}

// ownerToggle mutates one moderation-facing settings field; owner only.
func (r *Room) ownerToggle(userID uuid.UUID, msgType, field string, value bool, target *bool) {
	if userID != r.OwnerID {
		return
	}
	*target = value
	r.emit(map[string]interface{}{"type": msgType, field: value, "userId": userID.String()})
}

func (r *Room) setStrictness(userID uuid.UUID, strictness int) {
	if !r.allowed(userID) {
		return
	}
	if strictness < 0 {
		strictness = 0
	} else if strictness > 20 {
		strictness = 20
	}
	r.Settings.Strictness = strictness
	r.emit(map[string]interface{}{"type": "set-strictness", "strictness": strictness, "userId": userID.String()})
}

func (r *Room) setReadingSpeed(userID uuid.UUID, speed int) {
	if !r.allowed(userID) {
		return
	}
	if speed < 0 {
		speed = 0
	} else if speed > 100 {
		speed = 100
	}
	r.Settings.ReadingSpeed = speed
	r.emit(map[string]interface{}{"type": "set-reading-speed", "readingSpeed": speed, "userId": userID.String()})
}

func (r *Room) setSubjects(userID uuid.UUID, subjects []string) {
	if !r.allowed(userID) {
		return
	}
	r.Query.Subjects = append([]string(nil), subjects...)
	r.categories.SetSubjects(subjects)
	r.emit(map[string]interface{}{"type": "set-subjects", "subjects": subjects, "userId": userID.String()})
}

// chat broadcasts a chat or live-typing message. Public rooms do not carry
// chat.
func (r *Room) chat(userID uuid.UUID, msgType, text string) {
	if r.Settings.Public || text == "" {
		return
	}
	p := r.Players[userID]
	r.emit(map[string]interface{}{
		"type":     msgType,
		"message":  text,
		"userId":   userID.String(),
		"username": p.Username,
	})
	if msgType == "chat" {
		r.logEvent(userID, "chat", map[string]interface{}{"message": text})
	}
}

// Connect admits a connection. On refusal the enforcement notice has been
// written to conn and an error describes the reason; no Player entry is
// created and the socket is not registered for that attempt.
func (r *Room) Connect(conn *Conn, username string) error {
	r.Mu.Lock()
	defer r.Mu.Unlock()
	if r.closed {
		return errors.New("room is closed")
	}

	r.sweepLedgers(time.Now())

	userID := conn.UserID
	if r.bannedNow(userID) {
		conn.Write(map[string]interface{}{"type": "enforcing-removal", "removalType": "ban"})
		return ErrBanned
	}
	if r.kickedNow(userID) {
		conn.Write(map[string]interface{}{"type": "enforcing-removal", "removalType": "kick"})
		return ErrKicked
	}

	_, returning := r.Players[userID]
	if r.Settings.Lock && !returning {
		conn.Write(map[string]interface{}{"type": "error", "message": "This room is locked"})
		return ErrRoomLocked
	}
	if r.Settings.LoginRequired && conn.Guest && userID != r.OwnerID {
		conn.Write(map[string]interface{}{"type": "error", "message": "This room requires you to be logged in"})
		return ErrLoginRequired
	}

	// Second tab from the same user: the new connection takes over and the
	// previous one is closed after a grace delay, never immediately.
	if old, ok := r.conns[userID]; ok && old != conn {
		conn.Write(map[string]interface{}{"type": "error", "message": "You joined on another tab"})
		delete(r.limiters, old)
		cancel := old.Cancel
		if cancel != nil {
			time.AfterFunc(duplicateTabGrace, cancel)
		}
	}

	p, ok := r.Players[userID]
	isNew := !ok
	if isNew {
		p = NewPlayer(userID)
		r.Players[userID] = p
	}
	p.Online = true
	name := r.setUsername(p, username)
	conn.Username = name
	r.conns[userID] = conn

	conn.Write(r.connectionAck(userID))
	conn.Write(r.queryAck())
	conn.Write(r.tossupAck())
	r.emit(map[string]interface{}{
		"type":     "join",
		"isNew":    isNew,
		"userId":   userID.String(),
		"username": name,
		"user":     *p,
	})
	r.logEvent(userID, "join", map[string]interface{}{"username": name, "isNew": isNew})
	return nil
}

// connectionAck builds the roster snapshot sent to a new connection.
func (r *Room) connectionAck(userID uuid.UUID) map[string]interface{} {
	players := make(map[string]*Player, len(r.Players))
	for id, p := range r.Players {
		players[id.String()] = p
	}
	buzzedIn := ""
	if r.buzzedIn != uuid.Nil {
		buzzedIn = r.buzzedIn.String()
	}
	msg := map[string]interface{}{
		"type":             "connection-acknowledged",
		"userId":           userID.String(),
		"ownerId":          r.OwnerID.String(),
		"players":          players,
		"isPermanent":      r.IsPermanent,
		"buzzedIn":         buzzedIn,
		"canBuzz":          r.canBuzz(userID),
		"mode":             r.Mode,
		"questionProgress": r.progress,
		"settings":         r.Settings,
	}
	if r.Mode == ModePacket {
		msg["setName"] = r.setName
		msg["packetNumber"] = r.packetNumber
	}
	return msg
}

func (r *Room) queryAck() map[string]interface{} {
	msg := map[string]interface{}{
		"type":            "connection-acknowledged-query",
		"subjects":        r.Query.Subjects,
		"competitions":    r.Query.Competitions,
		"years":           r.Query.Years,
		"isMcq":           r.Query.IsMcq,
		"isTossup":        r.Query.IsTossup,
		"randomize":       r.Query.Randomize,
		"caseSensitive":   r.Query.CaseSensitive,
		"maxReturnLength": r.Query.MaxReturnLength,
	}
	for k, v := range r.categories.Export() {
		msg[k] = v
	}
	return msg
}

func (r *Room) tossupAck() map[string]interface{} {
	msg := map[string]interface{}{"type": "connection-acknowledged-tossup"}
	if r.tossup != nil {
		msg["tossup"] = r.sanitizedTossup()
	}
	return msg
}

// Disconnect unregisters a connection. A user who vanishes mid-buzz has
// their live answer submitted first so the room never sticks in BUZZED. The
// player entry survives with Online=false.
func (r *Room) Disconnect(conn *Conn) {
	r.Mu.Lock()
	userID := conn.UserID
	registered, ok := r.conns[userID]
	if !ok || registered != conn {
		// Stale connection (already replaced by a newer tab).
		delete(r.limiters, conn)
		r.Mu.Unlock()
		return
	}
	if r.buzzedIn == userID {
		r.giveAnswer(userID, r.liveAnswer)
	}
	delete(r.conns, userID)
	delete(r.limiters, conn)
	var username string
	if p, ok := r.Players[userID]; ok {
		p.Online = false
		username = p.Username
		r.flushStats(p)
	}
	r.emit(map[string]interface{}{"type": "leave", "userId": userID.String(), "username": username})
	empty := len(r.conns) == 0
	onEmpty := r.OnEmpty
	permanent := r.IsPermanent
	r.Mu.Unlock()

	if empty && !permanent && onEmpty != nil {
		onEmpty(r.Name)
	}
}

// removeUser drops the player entry entirely (explicit leave, kick or ban)
// and closes the live connection if any. Lock held.
func (r *Room) removeUser(userID uuid.UUID) {
	if r.buzzedIn == userID {
		r.giveAnswer(userID, r.liveAnswer)
	}
	p, ok := r.Players[userID]
	if !ok {
		return
	}
	r.flushStats(p)
	delete(r.Players, userID)
	delete(r.votekicks, userID)
	if c, ok := r.conns[userID]; ok {
		delete(r.conns, userID)
		delete(r.limiters, c)
		if c.Cancel != nil {
			c.Cancel()
		}
	}
	r.emit(map[string]interface{}{"type": "leave", "userId": userID.String(), "username": p.Username})

	// The lock is held here, so the store callback runs on its own
	// goroutine; Close re-acquires the lock safely afterwards.
	if len(r.conns) == 0 && !r.IsPermanent && r.OnEmpty != nil {
		go r.OnEmpty(r.Name)
	}
}

// flushStats reports the player's unflushed scoring deltas and advances the
// watermarks. Lock held.
func (r *Room) flushStats(p *Player) {
	if r.ReportStats == nil {
		return
	}
	points := p.Points - p.reportedPoints
	corrects := p.Corrects - p.reportedCorrects
	negs := p.Negs - p.reportedNegs
	heard := p.TossupsHeard - p.reportedHeard
	if points == 0 && corrects == 0 && negs == 0 && heard == 0 {
		return
	}
	p.reportedPoints = p.Points
	p.reportedCorrects = p.Corrects
	p.reportedNegs = p.Negs
	p.reportedHeard = p.TossupsHeard
	r.ReportStats(p.UserID, points, corrects, negs, heard)
}

// OnlineCount reports how many players are currently online. Lock held.
func (r *Room) onlineCount() int {
	n := 0
	for _, p := range r.Players {
		if p.Online {
			n++
		}
	}
	return n
}
