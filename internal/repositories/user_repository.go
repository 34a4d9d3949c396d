package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"social-chat/internal/models"
)

// UserRepository reads public user profiles owned by the account service.
type UserRepository interface {
	GetProfiles(ctx context.Context, userIDs []string) (map[string]models.UserProfile, error)
}

// UserRepo is a sqlx-backed UserRepository.
type UserRepo struct {
	db *sqlx.DB
}

// NewUserRepo constructs UserRepo.
func NewUserRepo(db *sqlx.DB) *UserRepo {
	return &UserRepo{db: db}
}

// GetProfiles returns the profiles of the given users keyed by id. Unknown ids are absent.
func (r *UserRepo) GetProfiles(ctx context.Context, userIDs []string) (map[string]models.UserProfile, error) {
	profiles := make(map[string]models.UserProfile, len(userIDs))
	if len(userIDs) == 0 {
		return profiles, nil
	}

	var rows []models.UserProfile
	if err := r.db.SelectContext(ctx, &rows, `SELECT id, user_name, name, avatar, is_verified FROM users WHERE id = ANY($1)`, pq.Array(userIDs)); err != nil {
		return nil, err
	}
	for _, p := range rows {
		profiles[p.ID] = p
	}
	return profiles, nil
}
