// Package api is the request/response client for the chat collaborator
// endpoints: conversation listing, conversation start, history retrieval,
// and the fallback send used when no live channel is usable.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"convo/domain"
	"convo/errors"
)

var validate = validator.New()

// Client talks to the REST chat API. Every response is wrapped in a
// {"success": bool, ...} envelope; success=false counts as a rejection even
// on a 200 status.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	token string
	log   *slog.Logger
}

func NewClient(baseURL, token string, log *slog.Logger) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		log:        log,
	}
}

type participantPayload struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type messagePayload struct {
	ID          string             `json:"id"`
	Sender      participantPayload `json:"sender"`
	MessageType string             `json:"message_type"`
	Content     string             `json:"content"`
	CreatedAt   time.Time          `json:"created_at"`
}

type conversationPayload struct {
	ID           string               `json:"id"`
	Participants []participantPayload `json:"participants"`
	LastMessage  *messagePayload      `json:"last_message"`
	UnreadCount  int                  `json:"unread_count"`
}

type startRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type sendRequest struct {
	MessageType string `json:"message_type" validate:"required,oneof=text image"`
	Content     string `json:"content" validate:"required"`
}

// ListConversations returns conversation summaries ordered by most recent
// activity descending, as the server lists them.
func (c *Client) ListConversations(ctx context.Context) ([]domain.Conversation, error) {
	var out struct {
		Success       bool                  `json:"success"`
		Conversations []conversationPayload `json:"conversations"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/chat/conversations/", nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("%w: listing conversations", errors.ErrServerRejected)
	}
	return lo.Map(out.Conversations, func(item conversationPayload, _ int) domain.Conversation {
		return toConversation(item)
	}), nil
}

// StartConversation starts (or reuses) a conversation with another user.
// The boolean reports whether the server already had one between the two
// participants, so the caller can avoid a duplicate store entry.
func (c *Client) StartConversation(ctx context.Context, otherUserID string) (domain.Conversation, bool, error) {
	req := startRequest{UserID: otherUserID}
	if err := validate.Struct(req); err != nil {
		return domain.Conversation{}, false, err
	}
	var out struct {
		Success      bool                `json:"success"`
		Existing     bool                `json:"existing"`
		Conversation conversationPayload `json:"conversation"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chat/conversations/start/", req, &out); err != nil {
		return domain.Conversation{}, false, err
	}
	if !out.Success {
		return domain.Conversation{}, false, fmt.Errorf("%w: starting conversation", errors.ErrServerRejected)
	}
	return toConversation(out.Conversation), out.Existing, nil
}

// GetMessages retrieves a conversation's history ordered oldest to newest.
func (c *Client) GetMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	var out struct {
		Success  bool             `json:"success"`
		Messages []messagePayload `json:"messages"`
	}
	path := fmt.Sprintf("/api/chat/conversations/%s/messages/", conversationID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("%w: fetching messages", errors.ErrServerRejected)
	}
	return lo.Map(out.Messages, func(item messagePayload, _ int) domain.Message {
		return toMessage(item, conversationID)
	}), nil
}

// SendMessage is the fallback delivery path. On success it returns the
// authoritative, server-confirmed message (real identifier and timestamp)
// used to resolve an optimistic entry.
func (c *Client) SendMessage(ctx context.Context, conversationID string, msgType domain.MessageType, content string) (domain.Message, error) {
	req := sendRequest{MessageType: string(msgType), Content: content}
	if err := validate.Struct(req); err != nil {
		return domain.Message{}, err
	}
	var out struct {
		Success bool           `json:"success"`
		Message messagePayload `json:"message"`
	}
	path := fmt.Sprintf("/api/chat/conversations/%s/send/", conversationID)
	if err := c.do(ctx, http.MethodPost, path, req, &out); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", errors.ErrDeliveryFailed, err)
	}
	if !out.Success {
		return domain.Message{}, fmt.Errorf("%w: send refused", errors.ErrServerRejected)
	}
	return toMessage(out.Message, conversationID), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.log.Warn("API request failed", "method", method, "path", path, "status", resp.StatusCode)
		return fmt.Errorf("%w: %s %s returned %d", errors.ErrServerRejected, method, path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func toConversation(payload conversationPayload) domain.Conversation {
	conv := domain.Conversation{
		ID:          payload.ID,
		UnreadCount: payload.UnreadCount,
	}
	for i, p := range payload.Participants {
		if i > 1 {
			break
		}
		conv.Participants[i] = domain.Participant(p)
	}
	if payload.LastMessage != nil {
		conv.LastMessage = lo.ToPtr(toMessage(*payload.LastMessage, payload.ID))
	}
	return conv
}

func toMessage(payload messagePayload, conversationID string) domain.Message {
	return domain.Message{
		ID:             payload.ID,
		ConversationID: conversationID,
		Sender:         domain.Participant(payload.Sender),
		Type:           domain.MessageType(payload.MessageType),
		Content:        payload.Content,
		CreatedAt:      payload.CreatedAt,
		State:          domain.StateConfirmed,
	}
}
