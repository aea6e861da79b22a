package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BuddyCodez/SpeakSpace/internal/domain"
	"github.com/BuddyCodez/SpeakSpace/pkg/log"
)

// GormUserRepository implements UserRepository using GORM.
type GormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository creates a new GORM-based user repository.
func NewGormUserRepository(db *gorm.DB) *GormUserRepository {
	return &GormUserRepository{db: db}
}

// Upsert inserts the profile mirror or refreshes display name and avatar
// when the row already exists.
func (r *GormUserRepository) Upsert(ctx context.Context, user *domain.User) error {
	model := domain.UserToModel(user)
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "avatar_url", "updated_at"}),
	}).Create(model).Error
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str(log.FieldUserID, user.ID).Msg("failed to upsert user")
		return err
	}
	return nil
}

// GetByID retrieves a user by id.
func (r *GormUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var model domain.UserModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		log.Ctx(ctx).Error().Err(err).Str(log.FieldUserID, id).Msg("failed to get user")
		return nil, err
	}
	return model.ToDomain(), nil
}

// GetByIDs retrieves users in bulk, keyed by id. Missing ids are simply
// absent from the result.
func (r *GormUserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	if len(ids) == 0 {
		return map[string]*domain.User{}, nil
	}

	var models []domain.UserModel
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to get users by ids")
		return nil, err
	}

	users := make(map[string]*domain.User, len(models))
	for i := range models {
		users[models[i].ID] = models[i].ToDomain()
	}
	return users, nil
}

var _ UserRepository = (*GormUserRepository)(nil)
