package repositories

import (
	"context"
	"sync"

	"beast/internal/models"
)

// MockPostRepository is an in-memory PostCounter.
type MockPostRepository struct {
	posts  []models.Post
	nextID uint64
	mu     sync.RWMutex
}

// NewMockPostRepository creates a new instance of MockPostRepository.
func NewMockPostRepository() *MockPostRepository {
	return &MockPostRepository{}
}

var _ PostCounter = (*MockPostRepository)(nil)

// Create adds a post.
func (r *MockPostRepository) Create(ctx context.Context, post *models.Post) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	post.ID = r.nextID
	r.posts = append(r.posts, *post)
	return nil
}

// CountPostsFor counts the posts authored by userID.
func (r *MockPostRepository) CountPostsFor(ctx context.Context, userID uint64) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var n int64
	for _, p := range r.posts {
		if p.UserID == userID {
			n++
		}
	}
	return n, nil
}
