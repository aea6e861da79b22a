package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/BuddyCodez/SpeakSpace/internal/domain"
	"github.com/BuddyCodez/SpeakSpace/pkg/log"
)

// GormMembershipRepository implements MembershipRepository using GORM.
type GormMembershipRepository struct {
	db *gorm.DB
}

// NewGormMembershipRepository creates a new GORM-based membership repository.
func NewGormMembershipRepository(db *gorm.DB) *GormMembershipRepository {
	return &GormMembershipRepository{db: db}
}

// Create persists a new membership row. The unique index on
// (session_id, user_id) rejects a second row for the same pair.
func (r *GormMembershipRepository) Create(ctx context.Context, m *domain.Membership) error {
	l := log.Ctx(ctx)

	model := domain.MembershipToModel(m)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		l.Error().Err(err).Msg("failed to create membership in db")
		return err
	}

	m.UpdatedAt = model.UpdatedAt
	l.Debug().
		Str(log.FieldSessionID, m.SessionID).
		Str(log.FieldUserID, m.UserID).
		Msg("membership created in db")
	return nil
}

// Update persists the full mutable state of a membership row.
func (r *GormMembershipRepository) Update(ctx context.Context, m *domain.Membership) error {
	model := domain.MembershipToModel(m)
	result := r.db.WithContext(ctx).Model(&domain.MembershipModel{}).
		Where("id = ?", m.ID).
		Select("DisplayName", "Role", "LeftAt", "IsBanned", "IsMuted", "MuteExpires").
		Updates(model)
	if result.Error != nil {
		log.Ctx(ctx).Error().Err(result.Error).Str("membership_id", m.ID).Msg("failed to update membership")
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Get retrieves the membership row for a (session, user) pair.
func (r *GormMembershipRepository) Get(ctx context.Context, sessionID, userID string) (*domain.Membership, error) {
	var model domain.MembershipModel
	err := r.db.WithContext(ctx).
		First(&model, "session_id = ? AND user_id = ?", sessionID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		log.Ctx(ctx).Error().Err(err).
			Str(log.FieldSessionID, sessionID).
			Str(log.FieldUserID, userID).
			Msg("failed to get membership")
		return nil, err
	}
	return model.ToDomain(), nil
}

// ListActive returns the session's current roster: not banned, not left.
func (r *GormMembershipRepository) ListActive(ctx context.Context, sessionID string) ([]domain.Membership, error) {
	var models []domain.MembershipModel
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND is_banned = ? AND left_at IS NULL", sessionID, false).
		Order("joined_at ASC").
		Find(&models).Error
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to list active memberships")
		return nil, err
	}
	return toMemberships(models), nil
}

// ListAll returns every membership row of a session, including banned and
// left members, for moderation views.
func (r *GormMembershipRepository) ListAll(ctx context.Context, sessionID string) ([]domain.Membership, error) {
	var models []domain.MembershipModel
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("joined_at ASC").
		Find(&models).Error
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldSessionID, sessionID).Msg("failed to list memberships")
		return nil, err
	}
	return toMemberships(models), nil
}

func toMemberships(models []domain.MembershipModel) []domain.Membership {
	memberships := make([]domain.Membership, 0, len(models))
	for i := range models {
		memberships = append(memberships, *models[i].ToDomain())
	}
	return memberships
}

var _ MembershipRepository = (*GormMembershipRepository)(nil)
