package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/interfaces"
	"github.com/ternarybob/chantier/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// ConversationStorage implements interfaces.ConversationStorage for Badger
type ConversationStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewConversationStorage creates a new ConversationStorage instance
func NewConversationStorage(db *BadgerDB, logger arbor.ILogger) *ConversationStorage {
	return &ConversationStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ConversationStorage) Get(ctx context.Context, userID string) (*models.Conversation, error) {
	var conv models.Conversation
	if err := s.db.Store().Get(userID, &conv); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", userID, interfaces.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

func (s *ConversationStorage) Save(ctx context.Context, conversation *models.Conversation) error {
	if conversation.UserID == "" {
		return fmt.Errorf("user ID is required")
	}
	if err := s.db.Store().Upsert(conversation.UserID, conversation); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

func (s *ConversationStorage) Delete(ctx context.Context, userID string) error {
	if err := s.db.Store().Delete(userID, &models.Conversation{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// ListInactiveSince returns the users whose last activity is strictly before cutoff
func (s *ConversationStorage) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	var convs []models.Conversation
	if err := s.db.Store().Find(&convs, nil); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	var users []string
	for i := range convs {
		if convs[i].LastActivityAt.Before(cutoff) {
			users = append(users, convs[i].UserID)
		}
	}
	return users, nil
}

// Stats counts conversations, those active since activeSince, and messages
func (s *ConversationStorage) Stats(ctx context.Context, activeSince time.Time) (*models.ConversationStats, error) {
	var convs []models.Conversation
	if err := s.db.Store().Find(&convs, nil); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	stats := &models.ConversationStats{Conversations: len(convs)}
	for i := range convs {
		if !convs[i].LastActivityAt.Before(activeSince) {
			stats.Active++
		}
		stats.Messages += len(convs[i].Messages)
	}
	return stats, nil
}
