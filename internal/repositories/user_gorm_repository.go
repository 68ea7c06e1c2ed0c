package repositories

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"beast/internal/models"
)

// GORMUserRepository is a GORM implementation of UserRepository.
// The connection must be opened with TranslateError so duplicate keys map to gorm.ErrDuplicatedKey.
type GORMUserRepository struct {
	db *gorm.DB
}

// NewGORMUserRepository creates a new instance of GORMUserRepository.
func NewGORMUserRepository(db *gorm.DB) *GORMUserRepository {
	return &GORMUserRepository{
		db: db,
	}
}

var _ UserRepository = (*GORMUserRepository)(nil)

type uniqueColumn struct {
	field  string
	column string
	value  *string
}

func uniqueColumns(user *models.User) []uniqueColumn {
	return []uniqueColumn{
		{field: models.FieldEmail, column: "email", value: user.Email},
		{field: models.FieldDisplayName, column: "display_name_key", value: user.DisplayNameKey},
		{field: models.FieldOpenIDURL, column: "openid_url", value: user.OpenIDURL},
		{field: "login_key", column: "login_key", value: user.LoginKey},
	}
}

// findConflict returns the first unique field of user already held by another row.
func findConflict(tx *gorm.DB, user *models.User) (string, error) {
	for _, col := range uniqueColumns(user) {
		if col.value == nil {
			continue
		}
		var n int64
		err := tx.Model(&models.User{}).
			Where(col.column+" = ? AND id <> ?", *col.value, user.ID).
			Count(&n).Error
		if err != nil {
			return "", fmt.Errorf("failed to check %s uniqueness: %w", col.field, err)
		}
		if n > 0 {
			return col.field, nil
		}
	}
	return "", nil
}

// duplicateError converts a duplicate-key failure that slipped past the in-transaction
// checks (a concurrent committer won) into a UniquenessViolation.
func (r *GORMUserRepository) duplicateError(ctx context.Context, user *models.User) error {
	field, err := findConflict(r.db.WithContext(ctx), user)
	if err != nil || field == "" {
		field = "unknown"
	}
	return &models.UniquenessViolation{Field: field}
}

// Create inserts a new user, claiming the first-user marker when the table is empty.
func (r *GORMUserRepository) Create(ctx context.Context, user *models.User, bootstrap BootstrapFunc) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count users: %w", err)
		}

		first := false
		if count == 0 {
			claim := models.BootstrapClaim{ID: models.BootstrapClaimID, CreatedAt: time.Now().UTC()}
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&claim)
			if res.Error != nil {
				return fmt.Errorf("failed to claim first user: %w", res.Error)
			}
			first = res.RowsAffected == 1
		}
		if bootstrap != nil {
			bootstrap(user, first)
		}

		field, err := findConflict(tx, user)
		if err != nil {
			return err
		}
		if field != "" {
			return &models.UniquenessViolation{Field: field}
		}

		if err := tx.Create(user).Error; err != nil {
			return err
		}
		if first {
			if err := tx.Model(&models.BootstrapClaim{}).
				Where("id = ?", models.BootstrapClaimID).
				Update("user_id", user.ID).Error; err != nil {
				return fmt.Errorf("failed to record first user: %w", err)
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var uv *models.UniquenessViolation
	if errors.As(err, &uv) {
		return uv
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return r.duplicateError(ctx, user)
	}
	return fmt.Errorf("failed to create user: %w", err)
}

// Update writes all client-settable fields of an existing user.
func (r *GORMUserRepository) Update(ctx context.Context, user *models.User) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		field, err := findConflict(tx, user)
		if err != nil {
			return err
		}
		if field != "" {
			return &models.UniquenessViolation{Field: field}
		}

		res := tx.Model(&models.User{}).
			Where("id = ?", user.ID).
			Select("email", "display_name", "display_name_key", "openid_url", "password_hash").
			Updates(user)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrNotFound
		}
		return nil
	})
	if err == nil {
		return nil
	}

	var uv *models.UniquenessViolation
	switch {
	case errors.As(err, &uv):
		return uv
	case errors.Is(err, models.ErrNotFound):
		return fmt.Errorf("user with ID %d not found for update: %w", user.ID, models.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return r.duplicateError(ctx, user)
	}
	return fmt.Errorf("failed to update user: %w", err)
}

func (r *GORMUserRepository) first(ctx context.Context, what string, query string, args ...any) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where(query, args...).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user with %s not found: %w", what, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user by %s: %w", what, err)
	}
	return &user, nil
}

// GetByID retrieves a user by their ID from the database.
func (r *GORMUserRepository) GetByID(ctx context.Context, id uint64) (*models.User, error) {
	return r.first(ctx, fmt.Sprintf("ID %d", id), "id = ?", id)
}

// GetByEmailAndHashAndActivation retrieves a user matching all three credentials.
func (r *GORMUserRepository) GetByEmailAndHashAndActivation(ctx context.Context, email, hash string, activated bool) (*models.User, error) {
	return r.first(ctx, "given credentials",
		"email = ? AND password_hash = ? AND activated = ?", email, hash, activated)
}

// GetByLoginKey retrieves a user by their login key.
func (r *GORMUserRepository) GetByLoginKey(ctx context.Context, key string) (*models.User, error) {
	if key == "" {
		return nil, fmt.Errorf("user with empty login key: %w", models.ErrNotFound)
	}
	return r.first(ctx, "login key", "login_key = ?", key)
}

// CountAll returns the number of stored users.
func (r *GORMUserRepository) CountAll(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// escapeLike escapes LIKE wildcards so the query matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Search streams matching users page by page using keyset pagination on id.
// display_name_key and email are stored lowercased, so a lowercased pattern gives
// a case-insensitive match on both SQLite and PostgreSQL.
func (r *GORMUserRepository) Search(ctx context.Context, query string) iter.Seq2[*models.User, error] {
	needle := strings.ToLower(strings.TrimSpace(query))
	pattern := "%" + escapeLike(needle) + "%"
	return func(yield func(*models.User, error) bool) {
		var lastID uint64
		for {
			var page []models.User
			q := r.db.WithContext(ctx)
			if needle != "" {
				q = q.Where(`(display_name_key LIKE ? ESCAPE '\' OR email LIKE ? ESCAPE '\')`, pattern, pattern)
			}
			err := q.Where("id > ?", lastID).
				Order("id").
				Limit(PerPage).
				Find(&page).Error
			if err != nil {
				yield(nil, fmt.Errorf("failed to search users: %w", err))
				return
			}
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

// SeenSince returns users whose last activity is after since.
func (r *GORMUserRepository) SeenSince(ctx context.Context, since time.Time) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).Where("last_seen_at > ?", since).Order("id").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to get recently seen users: %w", err)
	}
	return users, nil
}

// UpdateLoginKey stores a regenerated login key and its expiry.
func (r *GORMUserRepository) UpdateLoginKey(ctx context.Context, id uint64, key string, expiresAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Updates(map[string]any{
		"login_key":            key,
		"login_key_expires_at": expiresAt,
	})
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return &models.UniquenessViolation{Field: "login_key"}
		}
		return fmt.Errorf("failed to update login key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user with ID %d not found for login key update: %w", id, models.ErrNotFound)
	}
	return nil
}

// UpdateActivity records activity timestamps without touching updated_at.
func (r *GORMUserRepository) UpdateActivity(ctx context.Context, id uint64, lastLoginAt *time.Time, lastSeenAt time.Time) error {
	columns := map[string]any{"last_seen_at": lastSeenAt}
	if lastLoginAt != nil {
		columns["last_login_at"] = *lastLoginAt
	}
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).UpdateColumns(columns)
	if res.Error != nil {
		return fmt.Errorf("failed to update activity: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user with ID %d not found for activity update: %w", id, models.ErrNotFound)
	}
	return nil
}

// UpdatePostsCount overwrites the denormalized posts counter.
func (r *GORMUserRepository) UpdatePostsCount(ctx context.Context, id uint64, count int64) error {
	res := r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).UpdateColumn("posts_count", count)
	if res.Error != nil {
		return fmt.Errorf("failed to update posts count: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("user with ID %d not found for posts count update: %w", id, models.ErrNotFound)
	}
	return nil
}
