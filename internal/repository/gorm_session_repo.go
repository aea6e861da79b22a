package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/BuddyCodez/SpeakSpace/internal/domain"
	"github.com/BuddyCodez/SpeakSpace/pkg/log"
)

// GormSessionRepository implements SessionRepository using GORM.
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a new GORM-based session repository.
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

// Create persists a new session.
func (r *GormSessionRepository) Create(ctx context.Context, session *domain.Session) error {
	l := log.Ctx(ctx)

	model := domain.SessionToModel(session)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		l.Error().Err(err).Msg("failed to create session in db")
		return err
	}

	session.CreatedAt = model.CreatedAt
	session.UpdatedAt = model.UpdatedAt
	l.Debug().Str(log.FieldSessionID, session.ID).Msg("session created in db")
	return nil
}

// GetByID retrieves a session by id.
func (r *GormSessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var model domain.SessionModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		log.Ctx(ctx).Error().Err(err).Str(log.FieldSessionID, id).Msg("failed to get session by id")
		return nil, err
	}
	return model.ToDomain(), nil
}

// GetByJoinCode retrieves a session by its join code.
func (r *GormSessionRepository) GetByJoinCode(ctx context.Context, code string) (*domain.Session, error) {
	var model domain.SessionModel
	err := r.db.WithContext(ctx).First(&model, "join_code = ?", code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get session by join code")
		return nil, err
	}
	return model.ToDomain(), nil
}

// Update persists session changes.
func (r *GormSessionRepository) Update(ctx context.Context, session *domain.Session) error {
	model := domain.SessionToModel(session)
	result := r.db.WithContext(ctx).Model(&domain.SessionModel{}).
		Where("id = ?", session.ID).
		Select("Title", "Description", "Modes", "Active", "EndedAt").
		Updates(model)
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str(log.FieldSessionID, session.ID).Msg("failed to update session")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

var _ SessionRepository = (*GormSessionRepository)(nil)
