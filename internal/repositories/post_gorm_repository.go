package repositories

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"beast/internal/models"
)

// GORMPostRepository reads forum posts for the identity core.
type GORMPostRepository struct {
	db *gorm.DB
}

// NewGORMPostRepository creates a new instance of GORMPostRepository.
func NewGORMPostRepository(db *gorm.DB) *GORMPostRepository {
	return &GORMPostRepository{
		db: db,
	}
}

var _ PostCounter = (*GORMPostRepository)(nil)

// Create stores a post.
func (r *GORMPostRepository) Create(ctx context.Context, post *models.Post) error {
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return fmt.Errorf("failed to create post: %w", err)
	}
	return nil
}

// CountPostsFor counts the posts authored by userID.
func (r *GORMPostRepository) CountPostsFor(ctx context.Context, userID uint64) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Post{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count posts for user %d: %w", userID, err)
	}
	return count, nil
}
