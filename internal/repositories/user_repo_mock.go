package repositories

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"beast/internal/models"
)

// MockUserRepository is an in-memory implementation of UserRepository.
// A single mutex makes every check-and-write atomic, including the first-user claim.
type MockUserRepository struct {
	users   map[uint64]models.User
	nextID  uint64
	claimed bool
	mu      sync.RWMutex
}

// NewMockUserRepository creates a new instance of MockUserRepository.
func NewMockUserRepository() *MockUserRepository {
	return &MockUserRepository{
		users: make(map[uint64]models.User),
	}
}

var _ UserRepository = (*MockUserRepository)(nil)

func sameValue(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

// conflict must be called with the lock held.
func (r *MockUserRepository) conflict(user *models.User) string {
	for _, existing := range r.users {
		if existing.ID == user.ID {
			continue
		}
		switch {
		case sameValue(user.Email, existing.Email):
			return models.FieldEmail
		case sameValue(user.DisplayNameKey, existing.DisplayNameKey):
			return models.FieldDisplayName
		case sameValue(user.OpenIDURL, existing.OpenIDURL):
			return models.FieldOpenIDURL
		case sameValue(user.LoginKey, existing.LoginKey):
			return "login_key"
		}
	}
	return ""
}

// Create adds a new user.
func (r *MockUserRepository) Create(ctx context.Context, user *models.User, bootstrap BootstrapFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	first := len(r.users) == 0 && !r.claimed
	if bootstrap != nil {
		bootstrap(user, first)
	}
	if field := r.conflict(user); field != "" {
		return &models.UniquenessViolation{Field: field}
	}

	r.nextID++
	now := time.Now().UTC()
	user.ID = r.nextID
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = *user
	if first {
		r.claimed = true
	}
	return nil
}

// Update modifies the client-settable fields of an existing user.
func (r *MockUserRepository) Update(ctx context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.users[user.ID]
	if !ok {
		return fmt.Errorf("user with ID %d not found for update: %w", user.ID, models.ErrNotFound)
	}
	if field := r.conflict(user); field != "" {
		return &models.UniquenessViolation{Field: field}
	}

	existing.Email = user.Email
	existing.DisplayName = user.DisplayName
	existing.DisplayNameKey = user.DisplayNameKey
	existing.OpenIDURL = user.OpenIDURL
	existing.PasswordHash = user.PasswordHash
	existing.UpdatedAt = time.Now().UTC()
	r.users[user.ID] = existing
	user.UpdatedAt = existing.UpdatedAt
	return nil
}

// GetByID returns a user by their ID.
func (r *MockUserRepository) GetByID(ctx context.Context, id uint64) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user with ID %d not found: %w", id, models.ErrNotFound)
	}
	return &user, nil
}

// find returns the lowest-id user accepted by match; the lock must be held.
func (r *MockUserRepository) find(match func(models.User) bool) (*models.User, bool) {
	var found *models.User
	for _, u := range r.users {
		if match(u) && (found == nil || u.ID < found.ID) {
			found = &u
		}
	}
	return found, found != nil
}

// GetByEmailAndHashAndActivation returns the user matching all three credentials.
func (r *MockUserRepository) GetByEmailAndHashAndActivation(ctx context.Context, email, hash string, activated bool) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.find(func(u models.User) bool {
		return sameValue(u.Email, &email) && u.PasswordHash == hash && u.Activated == activated
	})
	if !ok {
		return nil, fmt.Errorf("user with given credentials not found: %w", models.ErrNotFound)
	}
	return user, nil
}

// GetByLoginKey returns the user holding key.
func (r *MockUserRepository) GetByLoginKey(ctx context.Context, key string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.find(func(u models.User) bool {
		return key != "" && models.Deref(u.LoginKey) == key
	})
	if !ok {
		return nil, fmt.Errorf("user with login key not found: %w", models.ErrNotFound)
	}
	return user, nil
}

// CountAll returns the number of users.
func (r *MockUserRepository) CountAll(ctx context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.users)), nil
}

// Search yields matching users in id order, one page per lock acquisition.
func (r *MockUserRepository) Search(ctx context.Context, query string) iter.Seq2[*models.User, error] {
	needle := strings.ToLower(strings.TrimSpace(query))
	return func(yield func(*models.User, error) bool) {
		var lastID uint64
		for {
			page := r.page(needle, lastID)
			for i := range page {
				if !yield(&page[i], nil) {
					return
				}
			}
			if len(page) < PerPage {
				return
			}
			lastID = page[len(page)-1].ID
		}
	}
}

func (r *MockUserRepository) page(needle string, afterID uint64) []models.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []models.User
	for _, u := range r.users {
		if u.ID <= afterID {
			continue
		}
		if needle == "" ||
			strings.Contains(models.Deref(u.DisplayNameKey), needle) ||
			strings.Contains(models.Deref(u.Email), needle) {
			matches = append(matches, u)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	if len(matches) > PerPage {
		matches = matches[:PerPage]
	}
	return matches
}

// SeenSince returns users active after since, ordered by id.
func (r *MockUserRepository) SeenSince(ctx context.Context, since time.Time) ([]models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var users []models.User
	for _, u := range r.users {
		if u.LastSeenAt != nil && u.LastSeenAt.After(since) {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// UpdateLoginKey stores a regenerated login key and its expiry.
func (r *MockUserRepository) UpdateLoginKey(ctx context.Context, id uint64, key string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return fmt.Errorf("user with ID %d not found for login key update: %w", id, models.ErrNotFound)
	}
	user.LoginKey = &key
	user.LoginKeyExpiresAt = &expiresAt
	if field := r.conflict(&user); field != "" {
		return &models.UniquenessViolation{Field: field}
	}
	user.UpdatedAt = time.Now().UTC()
	r.users[id] = user
	return nil
}

// UpdateActivity records activity timestamps.
func (r *MockUserRepository) UpdateActivity(ctx context.Context, id uint64, lastLoginAt *time.Time, lastSeenAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return fmt.Errorf("user with ID %d not found for activity update: %w", id, models.ErrNotFound)
	}
	if lastLoginAt != nil {
		t := *lastLoginAt
		user.LastLoginAt = &t
	}
	user.LastSeenAt = &lastSeenAt
	r.users[id] = user
	return nil
}

// UpdatePostsCount overwrites the posts counter.
func (r *MockUserRepository) UpdatePostsCount(ctx context.Context, id uint64, count int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[id]
	if !ok {
		return fmt.Errorf("user with ID %d not found for posts count update: %w", id, models.ErrNotFound)
	}
	user.PostsCount = count
	r.users[id] = user
	return nil
}
