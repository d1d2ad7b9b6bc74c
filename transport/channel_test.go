package transport

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"convo/contract"
	"convo/domain/event"
	"convo/errors"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// startEndpoint runs a websocket endpoint and hands each accepted
// connection to the test through a channel.
func startEndpoint(t *testing.T) (*Dialer, chan *websocket.Conn) {
	t.Helper()
	conns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conns <- conn
	}))
	t.Cleanup(srv.Close)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	return NewDialer(wsURL, slog.Default()), conns
}

func TestChannel_Open_Transitions_To_Open(t *testing.T) {
	req := require.New(t)
	dialer, conns := startEndpoint(t)

	ch, err := dialer.Open(context.Background(), "conv-1")
	req.NoError(err)
	defer ch.Close()
	<-conns

	req.Equal(contract.StateOpen, ch.State())
}

func TestChannel_Dial_Failure_Is_Connection_Error(t *testing.T) {
	req := require.New(t)
	dialer := NewDialer("ws://127.0.0.1:1", slog.Default())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := dialer.Open(ctx, "conv-1")

	req.ErrorIs(err, errors.ErrConnectionFailed)
}

func TestChannel_Delivers_Inbound_Message_Events(t *testing.T) {
	req := require.New(t)
	dialer, conns := startEndpoint(t)

	ch, err := dialer.Open(context.Background(), "conv-1")
	req.NoError(err)
	defer ch.Close()
	server := <-conns

	// When the endpoint pushes a message frame
	at := time.Now().UTC().Truncate(time.Second)
	err = server.WriteJSON(map[string]any{
		"type": "message",
		"message": map[string]any{
			"id":              "m1",
			"sender_id":       "alice",
			"sender_username": "alice",
			"message_type":    "text",
			"content":         "hello",
			"created_at":      at,
		},
	})
	req.NoError(err)

	// Then a fully formed message event comes out of the channel
	select {
	case evt := <-ch.Events():
		received, ok := evt.(event.MessageReceived)
		req.True(ok)
		req.Equal("conv-1", received.Conversation)
		req.Equal("m1", received.Message.ID)
		req.Equal("alice", received.Message.Sender.ID)
		req.Equal("hello", received.Message.Content)
		req.True(received.Message.CreatedAt.Equal(at))
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestChannel_Ignores_Unknown_Frames(t *testing.T) {
	req := require.New(t)
	dialer, conns := startEndpoint(t)

	ch, err := dialer.Open(context.Background(), "conv-1")
	req.NoError(err)
	defer ch.Close()
	server := <-conns

	req.NoError(server.WriteJSON(map[string]any{"type": "typing"}))
	req.NoError(server.WriteJSON(map[string]any{
		"type": "message",
		"message": map[string]any{
			"id": "m1", "sender_id": "alice", "sender_username": "alice",
			"message_type": "text", "content": "after", "created_at": time.Now().UTC(),
		},
	}))

	select {
	case evt := <-ch.Events():
		received, ok := evt.(event.MessageReceived)
		req.True(ok)
		req.Equal("m1", received.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestChannel_Send_Writes_Text_Frame(t *testing.T) {
	req := require.New(t)
	dialer, conns := startEndpoint(t)

	ch, err := dialer.Open(context.Background(), "conv-1")
	req.NoError(err)
	defer ch.Close()
	server := <-conns

	req.NoError(ch.Send(context.Background(), "hello", "self"))

	var frame struct {
		Type     string `json:"type"`
		Content  string `json:"content"`
		SenderID string `json:"sender_id"`
	}
	req.NoError(server.ReadJSON(&frame))
	req.Equal("text", frame.Type)
	req.Equal("hello", frame.Content)
	req.Equal("self", frame.SenderID)
}

func TestChannel_Remote_Drop_Closes_With_Error(t *testing.T) {
	req := require.New(t)
	dialer, conns := startEndpoint(t)

	ch, err := dialer.Open(context.Background(), "conv-1")
	req.NoError(err)
	server := <-conns

	// When the endpoint drops the connection
	req.NoError(server.Close())

	// Then the channel reports closed with an error and never reconnects
	var closedEvent event.ChannelClosed
	deadline := time.After(2 * time.Second)
loop:
	for {
		select {
		case evt, ok := <-ch.Events():
			if !ok {
				break loop
			}
			if e, isClosed := evt.(event.ChannelClosed); isClosed {
				closedEvent = e
			}
		case <-deadline:
			t.Fatal("channel never closed")
		}
	}

	req.Error(closedEvent.Err)
	req.Equal(contract.StateClosed, ch.State())
	req.ErrorIs(ch.Send(context.Background(), "late", "self"), errors.ErrChannelNotOpen)
}

func TestChannel_Close_Is_Deliberate_And_Ends_Stream(t *testing.T) {
	req := require.New(t)
	dialer, conns := startEndpoint(t)

	ch, err := dialer.Open(context.Background(), "conv-1")
	req.NoError(err)
	<-conns

	ch.Close()

	var sawClosed bool
	for evt := range ch.Events() {
		if e, ok := evt.(event.ChannelClosed); ok {
			sawClosed = true
			req.NoError(e.Err)
		}
	}
	req.True(sawClosed)
	req.Equal(contract.StateClosed, ch.State())
}
