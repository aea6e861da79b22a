package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/BuddyCodez/SpeakSpace/internal/domain"
	"github.com/BuddyCodez/SpeakSpace/pkg/log"
)

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository creates a new GORM-based message repository.
func NewGormMessageRepository(db *gorm.DB) *GormMessageRepository {
	return &GormMessageRepository{db: db}
}

// Create persists a new message.
func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	l := log.Ctx(ctx)

	model := domain.MessageToModel(msg)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		l.Error().Err(err).Msg("failed to create message in db")
		return err
	}
	l.Debug().
		Str(log.FieldSessionID, msg.SessionID).
		Str(log.FieldMessageID, msg.ID).
		Msg("message created in db")
	return nil
}

// GetByID retrieves one message of a session.
func (r *GormMessageRepository) GetByID(ctx context.Context, sessionID, id string) (*domain.Message, error) {
	var model domain.MessageModel
	err := r.db.WithContext(ctx).
		First(&model, "session_id = ? AND id = ?", sessionID, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		log.Ctx(ctx).Error().Err(err).Str(log.FieldMessageID, id).Msg("failed to get message")
		return nil, err
	}
	return model.ToDomain(), nil
}

// GetByClientMessageID retrieves a message by its caller correlation id,
// scoped to one sender in one session. ErrNotFound when absent.
func (r *GormMessageRepository) GetByClientMessageID(ctx context.Context, sessionID, senderID, clientMessageID string) (*domain.Message, error) {
	var model domain.MessageModel
	err := r.db.WithContext(ctx).
		First(&model, "session_id = ? AND sender_id = ? AND client_message_id = ?",
			sessionID, senderID, clientMessageID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get message by client message id")
		return nil, err
	}
	return model.ToDomain(), nil
}

// Delete hard-removes one message of a session.
func (r *GormMessageRepository) Delete(ctx context.Context, sessionID, id string) error {
	result := r.db.WithContext(ctx).
		Where("session_id = ? AND id = ?", sessionID, id).
		Delete(&domain.MessageModel{})
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldMessageID, id).Msg("failed to delete message")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPage returns one newest-first page. Message ids are ULIDs, so the
// page after a cursor is everything with a smaller id. Fetches limit+1
// rows to learn whether another page exists.
func (r *GormMessageRepository) ListPage(ctx context.Context, sessionID, cursor string, limit int) ([]domain.Message, bool, error) {
	q := r.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if cursor != "" {
		q = q.Where("id < ?", cursor)
	}

	var models []domain.MessageModel
	err := q.Order("id DESC").Limit(limit + 1).Find(&models).Error
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to list messages")
		return nil, false, err
	}

	hasMore := len(models) > limit
	if hasMore {
		models = models[:limit]
	}
	messages := make([]domain.Message, 0, len(models))
	for i := range models {
		messages = append(messages, *models[i].ToDomain())
	}
	return messages, hasMore, nil
}

var _ MessageRepository = (*GormMessageRepository)(nil)
