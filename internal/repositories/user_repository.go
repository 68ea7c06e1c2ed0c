package repositories

import (
	"context"
	"iter"
	"time"

	"beast/internal/models"
)

// PerPage is the page size used when streaming search results.
const PerPage = 50

// BootstrapFunc applies creation-time policy to a user about to be inserted.
// first is true only for the single account that claims the empty store.
type BootstrapFunc func(user *models.User, first bool)

// UserRepository defines the interface for user data access.
// Lookups that find nothing return models.ErrNotFound; unique collisions on
// email, display name, OpenID URL or login key return *models.UniquenessViolation.
type UserRepository interface {
	// Create inserts user. Within one atomic unit it determines whether the store is
	// still empty, claims the first-user marker if so, calls bootstrap, checks
	// uniqueness and writes. At most one Create ever observes first == true.
	Create(ctx context.Context, user *models.User, bootstrap BootstrapFunc) error
	// Update persists every client-settable field of an existing user.
	Update(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint64) (*models.User, error)
	GetByEmailAndHashAndActivation(ctx context.Context, email, hash string, activated bool) (*models.User, error)
	GetByLoginKey(ctx context.Context, key string) (*models.User, error)
	CountAll(ctx context.Context) (int64, error)
	// Search yields users whose display name or email contains query, ignoring case,
	// ordered by id. The sequence fetches lazily and may be ranged over again.
	Search(ctx context.Context, query string) iter.Seq2[*models.User, error]
	SeenSince(ctx context.Context, since time.Time) ([]models.User, error)
	UpdateLoginKey(ctx context.Context, id uint64, key string, expiresAt time.Time) error
	UpdateActivity(ctx context.Context, id uint64, lastLoginAt *time.Time, lastSeenAt time.Time) error
	UpdatePostsCount(ctx context.Context, id uint64, count int64) error
}

// PostCounter supplies the number of posts authored by a user.
type PostCounter interface {
	CountPostsFor(ctx context.Context, userID uint64) (int64, error)
}
