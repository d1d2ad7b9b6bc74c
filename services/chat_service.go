package services

import (
	"context"

	"convo/domain"
	"convo/observability"
	"convo/runtime"
)

type IChatService interface {
	Refresh(ctx context.Context) error
	Conversations() []domain.Conversation
	StartConversation(ctx context.Context, otherUserID string) (domain.Conversation, error)
	SelectConversation(ctx context.Context, conversationID string) error
	Compose(ctx context.Context, text string) (domain.Message, error)
	Timeline(conversationID string) []domain.Message
	Dismiss(conversationID, localID string)
	Stats() observability.Snapshot
	Close()
}

// ChatService is the surface the rest of the application talks to; it stays
// a thin pass-through over the coordinator.
type ChatService struct {
	coordinator *runtime.Coordinator
}

func NewChatService(c *runtime.Coordinator) *ChatService {
	return &ChatService{coordinator: c}
}

func (s *ChatService) Refresh(ctx context.Context) error {
	return s.coordinator.Refresh(ctx)
}

func (s *ChatService) Conversations() []domain.Conversation {
	return s.coordinator.Conversations()
}

func (s *ChatService) StartConversation(ctx context.Context, otherUserID string) (domain.Conversation, error) {
	return s.coordinator.Start(ctx, otherUserID)
}

func (s *ChatService) SelectConversation(ctx context.Context, conversationID string) error {
	return s.coordinator.Select(ctx, conversationID)
}

func (s *ChatService) Compose(ctx context.Context, text string) (domain.Message, error) {
	return s.coordinator.Compose(ctx, text)
}

func (s *ChatService) Timeline(conversationID string) []domain.Message {
	return s.coordinator.Timeline(conversationID)
}

func (s *ChatService) Dismiss(conversationID, localID string) {
	s.coordinator.Dismiss(conversationID, localID)
}

func (s *ChatService) Stats() observability.Snapshot {
	return s.coordinator.Stats()
}

func (s *ChatService) Close() {
	s.coordinator.Close()
}
