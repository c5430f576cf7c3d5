package chat

import (
	"context"
	"errors"
	"time"

	"github.com/taskora/taskora-backend/internal/shared"
	"gorm.io/gorm"
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&Conversation{}, &Message{})
}

// FindOrCreateConversation is symmetric in its arguments and idempotent. Under
// concurrent first contact the unique pair index rejects the second insert,
// and the loser re-reads the winner's row.
func (s *Store) FindOrCreateConversation(ctx context.Context, a, b string) (*Conversation, error) {
	if a == b {
		return nil, shared.ErrValidation
	}
	one, two := NormalizePair(a, b)

	conv, err := s.getByPair(ctx, one, two)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	conv = &Conversation{
		ID:        shared.NewID("conv_"),
		UserOneID: one,
		UserTwoID: two,
	}
	createErr := s.db.WithContext(ctx).Create(conv).Error
	if createErr == nil {
		return conv, nil
	}

	// Lost the race: the constraint fired, so the row now exists.
	if existing, err := s.getByPair(ctx, one, two); err == nil {
		return existing, nil
	}
	return nil, createErr
}

func (s *Store) getByPair(ctx context.Context, one, two string) (*Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).
		Where("user_one_id = ? AND user_two_id = ?", one, two).
		First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &conv, err
}

func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&conv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &conv, err
}

// AppendMessage persists the message and bumps the conversation's updated_at
// so conversation lists sort by recency.
func (s *Store) AppendMessage(ctx context.Context, conversationID, senderID, content string) (*Message, error) {
	msg := &Message{
		ID:             shared.NewID("msg_"),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(msg).Error; err != nil {
			return err
		}
		return tx.Model(&Conversation{}).
			Where("id = ?", conversationID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*Message, error) {
	var msg Message
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &msg, err
}

// GetMessages returns the full history ascending by creation time.
func (s *Store) GetMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	var messages []*Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error
	return messages, err
}

func (s *Store) LatestMessage(ctx context.Context, conversationID string) (*Message, error) {
	var msg Message
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, shared.ErrNotFound
	}
	return &msg, err
}

// ListConversations returns the user's conversations, most recent first.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	var conversations []*Conversation
	err := s.db.WithContext(ctx).
		Where("user_one_id = ? OR user_two_id = ?", userID, userID).
		Order("updated_at DESC").
		Find(&conversations).Error
	return conversations, err
}

// ListPartnerIDs returns every user who already shares a conversation with
// the subject. This is the default, always-privacy-safe broadcast audience.
func (s *Store) ListPartnerIDs(ctx context.Context, userID string) ([]string, error) {
	var conversations []*Conversation
	err := s.db.WithContext(ctx).
		Select("user_one_id", "user_two_id").
		Where("user_one_id = ? OR user_two_id = ?", userID, userID).
		Find(&conversations).Error
	if err != nil {
		return nil, err
	}

	partners := make([]string, 0, len(conversations))
	for _, conv := range conversations {
		partners = append(partners, conv.OtherParty(userID))
	}
	return partners, nil
}
