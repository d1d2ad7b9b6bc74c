//go:generate go run go.uber.org/mock/mockgen -source=message.go -destination=../mocks/mock_message_repository.go -package=mocks
package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"

	"convo/domain"
)

type IMessageRepository interface {
	StoreMessage(msg domain.Message) error
	GetMessages(conversationID string) ([]domain.Message, error)
}

// MessageRepository is the local message cache. Confirmed messages are
// persisted as they arrive so a timeline can still be seeded when history
// retrieval fails.
type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

// StoreMessage persists a confirmed message in BadgerDB.
// The key is formatted as "msg:{conversation_id}:{timestamp_padded}:{id}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using the server identifier as a collision
//     breaker if two messages arrive at the same nanosecond.
func (m MessageRepository) StoreMessage(msg domain.Message) error {
	if !msg.Confirmed() {
		// Optimistic entries never reach the cache; only server truth does.
		return nil
	}
	key := fmt.Sprintf("msg:%s:%019d:%s",
		msg.ConversationID,
		msg.CreatedAt.UnixNano(),
		msg.ID,
	)
	bytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), bytes)
	})
}

// GetMessages retrieves a conversation's cached messages using a prefix scan.
// Thanks to the padded timestamp in the key, messages come out oldest to
// newest. When a limit is configured, only the most recent ones are kept.
func (m MessageRepository) GetMessages(conversationID string) ([]domain.Message, error) {
	var messages []domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("msg:%s:", conversationID))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(value []byte) error {
				var msg domain.Message
				if err := json.Unmarshal(value, &msg); err != nil {
					return err
				}
				messages = append(messages, msg)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if m.limitMessages != nil && len(messages) > *m.limitMessages {
		m.log.Debug(fmt.Sprintf("Trimming cache read to the %d most recent messages", *m.limitMessages))
		messages = messages[len(messages)-*m.limitMessages:]
	}
	return messages, nil
}
