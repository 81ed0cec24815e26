package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/chantier/internal/common"
	"github.com/ternarybob/chantier/internal/interfaces"
	"github.com/ternarybob/chantier/internal/models"
)

// userLock is a refcounted per-user mutex
type userLock struct {
	mu   sync.Mutex
	refs int
}

// Service is the per-user bounded, expiring message log. Every
// read-modify-write for one user runs under that user's lock; different
// users never contend.
type Service struct {
	storage     interfaces.ConversationStorage
	events      interfaces.EventService
	maxMessages int
	ttl         time.Duration
	logger      arbor.ILogger
	now         func() time.Time

	locksMu sync.Mutex
	locks   map[string]*userLock
}

// NewService creates a conversation service keeping at most maxMessages per
// user. ttl is the activity window used by Stats. events may be nil.
func NewService(storage interfaces.ConversationStorage, events interfaces.EventService, maxMessages int, ttl time.Duration, logger arbor.ILogger) *Service {
	if maxMessages < 1 {
		maxMessages = 1
	}
	return &Service{
		storage:     storage,
		events:      events,
		maxMessages: maxMessages,
		ttl:         ttl,
		logger:      logger,
		now:         time.Now,
		locks:       make(map[string]*userLock),
	}
}

func (s *Service) lock(userID string) func() {
	s.locksMu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &userLock{}
		s.locks[userID] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, userID)
		}
		s.locksMu.Unlock()
	}
}

func validateUser(op, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return interfaces.NewError(interfaces.KindInvalidInput, op, fmt.Errorf("%w: user id is required", interfaces.ErrInvalidInput))
	}
	return nil
}

// Load returns the user's messages oldest first, empty when none
func (s *Service) Load(ctx context.Context, userID string) ([]models.Message, error) {
	if err := validateUser("load conversation", userID); err != nil {
		return nil, err
	}

	conv, err := s.storage.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return []models.Message{}, nil
		}
		return nil, err
	}
	if conv.Messages == nil {
		return []models.Message{}, nil
	}
	return conv.Messages, nil
}

// Append adds message, evicting the oldest entries beyond the cap, and
// refreshes the conversation's last activity. It returns the stored message
// with its assigned id and timestamp.
func (s *Service) Append(ctx context.Context, userID string, message models.Message) (*models.Message, error) {
	if err := validateUser("append message", userID); err != nil {
		return nil, err
	}
	if !message.Type.IsValid() {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "append message", fmt.Errorf("%w: message type must be 'user' or 'assistant'", interfaces.ErrInvalidInput))
	}
	if strings.TrimSpace(message.Content) == "" {
		return nil, interfaces.NewError(interfaces.KindInvalidInput, "append message", fmt.Errorf("%w: message content is required", interfaces.ErrInvalidInput))
	}

	unlock := s.lock(userID)
	defer unlock()

	now := s.now()
	conv, err := s.storage.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, interfaces.ErrNotFound) {
			return nil, err
		}
		conv = &models.Conversation{UserID: userID, CreatedAt: now}
	}

	if message.ID == "" {
		message.ID = common.NewMessageID()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = now
	}

	conv.Messages = append(conv.Messages, message)
	if overflow := len(conv.Messages) - s.maxMessages; overflow > 0 {
		conv.Messages = append([]models.Message(nil), conv.Messages[overflow:]...)
	}
	conv.LastActivityAt = now

	if err := s.storage.Save(ctx, conv); err != nil {
		return nil, err
	}

	return &message, nil
}

// Clear deletes the user's conversation
func (s *Service) Clear(ctx context.Context, userID string) error {
	if err := validateUser("clear conversation", userID); err != nil {
		return err
	}

	unlock := s.lock(userID)
	defer unlock()

	return s.storage.Delete(ctx, userID)
}

// Stats counts conversations, those active within the ttl, and messages
func (s *Service) Stats(ctx context.Context) (*models.ConversationStats, error) {
	return s.storage.Stats(ctx, s.now().Add(-s.ttl))
}

// PurgeExpired deletes conversations idle for longer than ttl. Each candidate
// is re-read under its user's lock, so an append that lands first keeps the
// conversation alive. Safe to run repeatedly and alongside appends.
func (s *Service) PurgeExpired(ctx context.Context, ttl time.Duration) (int, error) {
	cutoff := s.now().Add(-ttl)

	candidates, err := s.storage.ListInactiveSince(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list inactive conversations: %w", err)
	}

	purged := 0
	for _, userID := range candidates {
		if err := ctx.Err(); err != nil {
			return purged, err
		}

		deleted, err := s.purgeIfExpired(ctx, userID, cutoff)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to purge conversation")
			continue
		}
		if deleted {
			purged++
		}
	}

	if purged > 0 {
		s.logger.Info().Int("purged", purged).Dur("ttl", ttl).Msg("Expired conversations purged")
		if s.events != nil {
			_ = s.events.Publish(ctx, interfaces.Event{
				Type:    interfaces.EventConversationPurged,
				Payload: map[string]interface{}{"purged": purged},
			})
		}
	}

	return purged, nil
}

func (s *Service) purgeIfExpired(ctx context.Context, userID string, cutoff time.Time) (bool, error) {
	unlock := s.lock(userID)
	defer unlock()

	conv, err := s.storage.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, interfaces.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !conv.LastActivityAt.Before(cutoff) {
		return false, nil
	}

	if err := s.storage.Delete(ctx, userID); err != nil {
		return false, err
	}
	return true, nil
}
