package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"convo/domain"
)

// fakeServer is an in-process stand-in for the chat collaborator. It serves
// the conversation endpoints plus the duplex /ws/chat/{id}/ endpoint, and
// echoes every accepted message back to the connected channels of its
// conversation, like the real deployment does.
type fakeServer struct {
	mu            sync.Mutex
	conversations []wireConversation
	histories     map[string][]wireMessage
	channels      map[string][]*websocket.Conn
	clock         time.Time

	upgrader websocket.Upgrader
	server   *httptest.Server
}

type wireParticipant struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type wireMessage struct {
	ID          string          `json:"id"`
	Sender      wireParticipant `json:"sender"`
	MessageType string          `json:"message_type"`
	Content     string          `json:"content"`
	CreatedAt   time.Time       `json:"created_at"`
}

type wireConversation struct {
	ID           string            `json:"id"`
	Participants []wireParticipant `json:"participants"`
	LastMessage  *wireMessage      `json:"last_message"`
	UnreadCount  int               `json:"unread_count"`
}

func newFakeServer() *fakeServer {
	f := &fakeServer{
		histories: make(map[string][]wireMessage),
		channels:  make(map[string][]*websocket.Conn),
		clock:     time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat/conversations/", f.handleREST)
	mux.HandleFunc("/ws/chat/", f.handleChannel)
	f.server = httptest.NewServer(mux)
	return f
}

func (f *fakeServer) URL() string { return f.server.URL }

func (f *fakeServer) WebsocketURL() string {
	return "ws" + strings.TrimPrefix(f.server.URL, "http")
}

func (f *fakeServer) Close() {
	f.mu.Lock()
	for _, conns := range f.channels {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}
	f.mu.Unlock()
	f.server.Close()
}

// tick hands out strictly increasing timestamps so ordering in assertions
// never depends on wall-clock resolution.
func (f *fakeServer) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeServer) SeedConversation(id string, other wireParticipant, history ...wireMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv := wireConversation{
		ID: id,
		Participants: []wireParticipant{
			{ID: "alice", Username: "alice", DisplayName: "Alice"},
			other,
		},
	}
	if len(history) > 0 {
		conv.LastMessage = &history[len(history)-1]
	}
	f.conversations = append(f.conversations, conv)
	f.histories[id] = history
}

func (f *fakeServer) Message(sender wireParticipant, content string) wireMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return wireMessage{
		ID:          uuid.NewString(),
		Sender:      sender,
		MessageType: "text",
		Content:     content,
		CreatedAt:   f.tick(),
	}
}

// PushMessage appends a message to a conversation and broadcasts it to the
// conversation's connected channels, simulating a peer typing elsewhere.
func (f *fakeServer) PushMessage(conversationID string, msg wireMessage) {
	f.mu.Lock()
	f.histories[conversationID] = append(f.histories[conversationID], msg)
	conns := f.channels[conversationID]
	f.mu.Unlock()
	frame := map[string]any{"type": "message", "message": toFrameMessage(msg)}
	for _, conn := range conns {
		_ = conn.WriteJSON(frame)
	}
}

// DropChannels closes every connection of a conversation from the server
// side, simulating a network drop.
func (f *fakeServer) DropChannels(conversationID string) {
	f.mu.Lock()
	conns := f.channels[conversationID]
	f.channels[conversationID] = nil
	f.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (f *fakeServer) handleREST(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Token ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/chat/conversations/")
	switch {
	case rest == "" && r.Method == http.MethodGet:
		f.listConversations(w)
	case rest == "start/" && r.Method == http.MethodPost:
		f.startConversation(w, r)
	case strings.HasSuffix(rest, "/messages/") && r.Method == http.MethodGet:
		f.listMessages(w, strings.TrimSuffix(rest, "/messages/"))
	case strings.HasSuffix(rest, "/send/") && r.Method == http.MethodPost:
		f.acceptSend(w, r, strings.TrimSuffix(rest, "/send/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeServer) listConversations(w http.ResponseWriter) {
	f.mu.Lock()
	defer f.mu.Unlock()
	writeJSON(w, map[string]any{"success": true, "conversations": f.conversations})
}

func (f *fakeServer) startConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, conv := range f.conversations {
		for _, p := range conv.Participants {
			if p.ID == body.UserID {
				writeJSON(w, map[string]any{"success": true, "existing": true, "conversation": conv})
				return
			}
		}
	}
	conv := wireConversation{
		ID: uuid.NewString(),
		Participants: []wireParticipant{
			{ID: "alice", Username: "alice", DisplayName: "Alice"},
			{ID: body.UserID, Username: body.UserID, DisplayName: body.UserID},
		},
	}
	f.conversations = append(f.conversations, conv)
	f.histories[conv.ID] = nil
	writeJSON(w, map[string]any{"success": true, "existing": false, "conversation": conv})
}

func (f *fakeServer) listMessages(w http.ResponseWriter, conversationID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.histories[conversationID]; !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"success": true, "messages": f.histories[conversationID]})
}

func (f *fakeServer) acceptSend(w http.ResponseWriter, r *http.Request, conversationID string) {
	var body struct {
		MessageType string `json:"message_type"`
		Content     string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Content == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	msg := wireMessage{
		ID:          uuid.NewString(),
		Sender:      wireParticipant{ID: "alice", Username: "alice", DisplayName: "Alice"},
		MessageType: body.MessageType,
		Content:     body.Content,
		CreatedAt:   f.tick(),
	}
	f.histories[conversationID] = append(f.histories[conversationID], msg)
	f.mu.Unlock()
	writeJSON(w, map[string]any{"success": true, "message": msg})
}

func (f *fakeServer) handleChannel(w http.ResponseWriter, r *http.Request) {
	conversationID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/ws/chat/"), "/")
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	f.mu.Lock()
	f.channels[conversationID] = append(f.channels[conversationID], conn)
	f.mu.Unlock()

	go func() {
		defer conn.Close()
		for {
			var frame struct {
				Type     string `json:"type"`
				Content  string `json:"content"`
				SenderID string `json:"sender_id"`
			}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Type != "text" {
				continue
			}
			f.mu.Lock()
			msg := wireMessage{
				ID:          uuid.NewString(),
				Sender:      wireParticipant{ID: frame.SenderID, Username: frame.SenderID, DisplayName: frame.SenderID},
				MessageType: "text",
				Content:     frame.Content,
				CreatedAt:   f.tick(),
			}
			f.mu.Unlock()
			f.PushMessage(conversationID, msg)
		}
	}()
}

func toFrameMessage(msg wireMessage) map[string]any {
	return map[string]any{
		"id":              msg.ID,
		"sender_id":       msg.Sender.ID,
		"sender_username": msg.Sender.Username,
		"message_type":    msg.MessageType,
		"content":         msg.Content,
		"created_at":      msg.CreatedAt,
	}
}

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

// BaseSuite spins the fake server up once per suite and offers helpers to
// assert on timeline snapshots.
type BaseSuite struct {
	suite.Suite
	Config Config
	Server *fakeServer
}

func (s *BaseSuite) SetupSuite() {
	cfg, err := LoadConfig()
	s.Require().NoError(err)
	s.Config = cfg
	s.Server = newFakeServer()
}

func (s *BaseSuite) TearDownSuite() {
	if s.Server != nil {
		s.Server.Close()
	}
}

// WaitForTimeline polls a timeline snapshot until the predicate holds.
func (s *BaseSuite) WaitForTimeline(snapshot func() []domain.Message, predicate func([]domain.Message) bool) {
	s.Require().Eventually(func() bool {
		return predicate(snapshot())
	}, 5*time.Second, 20*time.Millisecond)
}

func withMessage(content string, state domain.DeliveryState) func([]domain.Message) bool {
	return func(messages []domain.Message) bool {
		for _, msg := range messages {
			if msg.Content == content && msg.State == state {
				return true
			}
		}
		return false
	}
}
