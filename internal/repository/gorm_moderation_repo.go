package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/BuddyCodez/SpeakSpace/internal/domain"
	"github.com/BuddyCodez/SpeakSpace/pkg/log"
)

// GormModerationRepository implements ModerationRepository using GORM.
type GormModerationRepository struct {
	db *gorm.DB
}

// NewGormModerationRepository creates a new GORM-based moderation repository.
func NewGormModerationRepository(db *gorm.DB) *GormModerationRepository {
	return &GormModerationRepository{db: db}
}

// Create appends one audit record.
func (r *GormModerationRepository) Create(ctx context.Context, action *domain.ModerationAction) error {
	l := log.Ctx(ctx)

	model := domain.ModerationActionToModel(action)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		l.Error().Err(err).Msg("failed to create moderation action in db")
		return err
	}

	action.CreatedAt = model.CreatedAt
	l.Debug().
		Str(log.FieldSessionID, action.SessionID).
		Str("action_id", action.ID).
		Str("action_type", string(action.Type)).
		Msg("moderation action created in db")
	return nil
}

// ListBySession returns a session's audit trail, newest first. Action ids
// are KSUIDs, so id order is creation order.
func (r *GormModerationRepository) ListBySession(ctx context.Context, sessionID string) ([]domain.ModerationAction, error) {
	var models []domain.ModerationActionModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id DESC").
		Find(&models).Error
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to list moderation actions")
		return nil, err
	}

	actions := make([]domain.ModerationAction, 0, len(models))
	for i := range models {
		actions = append(actions, *models[i].ToDomain())
	}
	return actions, nil
}

var _ ModerationRepository = (*GormModerationRepository)(nil)
