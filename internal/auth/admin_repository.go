package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const adminUserColumns = `id, username, password_hash, role, enabled, created_at, updated_at`

// PostgresAdminUserRepository stores consultant accounts in admin_users.
type PostgresAdminUserRepository struct {
	db *sql.DB
}

// NewPostgresAdminUserRepository returns a repository over db.
func NewPostgresAdminUserRepository(db *sql.DB) *PostgresAdminUserRepository {
	return &PostgresAdminUserRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAdminUser(s rowScanner) (*AdminUser, error) {
	var user AdminUser
	var role string
	err := s.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&role,
		&user.Enabled,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	user.Role = Role(role)
	return &user, nil
}

func (r *PostgresAdminUserRepository) getOne(ctx context.Context, query string, arg any) (*AdminUser, error) {
	user, err := scanAdminUser(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query admin user: %w", err)
	}
	return user, nil
}

// GetByUsername returns ErrUserNotFound when no account has the username.
func (r *PostgresAdminUserRepository) GetByUsername(ctx context.Context, username string) (*AdminUser, error) {
	return r.getOne(ctx, `SELECT `+adminUserColumns+` FROM admin_users WHERE username = $1`, username)
}

func (r *PostgresAdminUserRepository) GetByID(ctx context.Context, id string) (*AdminUser, error) {
	return r.getOne(ctx, `SELECT `+adminUserColumns+` FROM admin_users WHERE id = $1`, id)
}

func (r *PostgresAdminUserRepository) Create(ctx context.Context, user *AdminUser) error {
	query := `
		INSERT INTO admin_users (` + adminUserColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.PasswordHash,
		string(user.Role),
		user.Enabled,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert admin user: %w", err)
	}

	return nil
}

func (r *PostgresAdminUserRepository) Update(ctx context.Context, user *AdminUser) error {
	query := `
		UPDATE admin_users
		SET username = $2, password_hash = $3, role = $4, enabled = $5, updated_at = $6
		WHERE id = $1
	`

	user.UpdatedAt = time.Now()
	result, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.PasswordHash,
		string(user.Role),
		user.Enabled,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update admin user: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (r *PostgresAdminUserRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM admin_users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete admin user: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrUserNotFound
	}

	return nil
}

func (r *PostgresAdminUserRepository) List(ctx context.Context) ([]*AdminUser, error) {
	query := `SELECT ` + adminUserColumns + ` FROM admin_users ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query admin users: %w", err)
	}
	defer rows.Close()

	var users []*AdminUser
	for rows.Next() {
		user, err := scanAdminUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan admin user: %w", err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}

// InMemoryAdminUserRepository is the single-process twin used when no
// database is configured and in tests.
type InMemoryAdminUserRepository struct {
	mu    sync.RWMutex
	users map[string]*AdminUser
}

// NewInMemoryAdminUserRepository seeds a single "admin" user whose password
// is seedPassword.
func NewInMemoryAdminUserRepository(seedPassword string) (*InMemoryAdminUserRepository, error) {
	repo := &InMemoryAdminUserRepository{
		users: make(map[string]*AdminUser),
	}

	hash, err := HashPassword(seedPassword)
	if err != nil {
		return nil, fmt.Errorf("hash seed password: %w", err)
	}
	now := time.Now()
	repo.users["admin"] = &AdminUser{
		ID:           "admin",
		Username:     "admin",
		PasswordHash: hash,
		Role:         RoleAdmin,
		Enabled:      true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	return repo, nil
}

func (r *InMemoryAdminUserRepository) GetByUsername(ctx context.Context, username string) (*AdminUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *InMemoryAdminUserRepository) GetByID(ctx context.Context, id string) (*AdminUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *user
	return &cp, nil
}

func (r *InMemoryAdminUserRepository) Create(ctx context.Context, user *AdminUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *InMemoryAdminUserRepository) Update(ctx context.Context, user *AdminUser) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[user.ID]; !ok {
		return ErrUserNotFound
	}
	user.UpdatedAt = time.Now()
	cp := *user
	r.users[user.ID] = &cp
	return nil
}

func (r *InMemoryAdminUserRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *InMemoryAdminUserRepository) List(ctx context.Context) ([]*AdminUser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*AdminUser, 0, len(r.users))
	for _, u := range r.users {
		cp := *u
		users = append(users, &cp)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	return users, nil
}
