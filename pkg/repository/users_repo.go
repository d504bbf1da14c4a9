package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/immigration-portal/pkg/domain"
)

const userColumns = `id, tenant_id, email, first_name, last_name, role, is_active, must_change_password,
	password_changed_at, failed_login_attempts, locked_until, mfa_enabled, last_login_at, created_at, updated_at`

// UsersRepository handles user persistence.
type UsersRepository struct {
	db *sql.DB
}

// NewUsersRepository creates a new users repository.
func NewUsersRepository(db *sql.DB) *UsersRepository {
	return &UsersRepository{db: db}
}

func scanUser(row interface{ Scan(...any) error }) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.ID, &user.TenantID, &user.Email, &user.FirstName, &user.LastName, &user.Role,
		&user.IsActive, &user.MustChangePassword, &user.PasswordChangedAt,
		&user.FailedLoginAttempts, &user.LockedUntil, &user.MFAEnabled, &user.LastLoginAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Create creates a new user.
func (r *UsersRepository) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (id, tenant_id, email, first_name, last_name, role, is_active,
		                   must_change_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := querier(ctx, r.db).ExecContext(ctx, query,
		user.ID, user.TenantID, user.Email, user.FirstName, user.LastName, user.Role, user.IsActive,
		user.MustChangePassword, user.CreatedAt, user.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return domain.ErrUserAlreadyExists
	}
	return err
}

// GetByID retrieves a user by ID without tenant scoping. Only authentication
// paths that have already established identity use it.
func (r *UsersRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(querier(ctx, r.db).QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a user by email.
func (r *UsersRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(querier(ctx, r.db).QueryRowContext(ctx, query, email))
}

// Get retrieves a user visible to scope.
func (r *UsersRepository) Get(ctx context.Context, scope domain.Scope, id uuid.UUID) (*domain.User, error) {
	clause, args := tenantClause(scope, "tenant_id", []any{id})
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1 AND ` + clause
	return scanUser(querier(ctx, r.db).QueryRowContext(ctx, query, args...))
}

// List returns users visible to scope matching filter, and the total count.
func (r *UsersRepository) List(ctx context.Context, scope domain.Scope, filter domain.UserFilter) ([]*domain.User, int, error) {
	clause, args := tenantClause(scope, "tenant_id", nil)
	where := []string{clause}
	if filter.Role != "" {
		args = append(args, filter.Role)
		where = append(where, fmt.Sprintf("role = $%d", len(args)))
	}
	if filter.IsActive != nil {
		args = append(args, *filter.IsActive)
		where = append(where, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, likePattern(s))
		n := len(args)
		where = append(where, fmt.Sprintf("(email ILIKE $%d OR first_name ILIKE $%d OR last_name ILIKE $%d)", n, n, n))
	}
	whereSQL := strings.Join(where, " AND ")

	var total int
	if err := querier(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE `+whereSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := filter.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM users WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userColumns, whereSQL, len(args)-1, len(args))

	rows, err := querier(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, user)
	}
	return users, total, rows.Err()
}

// ListActiveIDs returns ids of active users in a tenant visible to scope.
func (r *UsersRepository) ListActiveIDs(ctx context.Context, scope domain.Scope, tenantID uuid.UUID) ([]uuid.UUID, error) {
	clause, args := tenantClause(scope, "tenant_id", []any{tenantID})
	query := `SELECT id FROM users WHERE tenant_id = $1 AND is_active AND ` + clause
	rows, err := querier(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Update writes profile fields and role of a user visible to scope.
func (r *UsersRepository) Update(ctx context.Context, scope domain.Scope, user *domain.User) error {
	clause, args := tenantClause(scope, "tenant_id", []any{
		user.ID, user.FirstName, user.LastName, user.Role, time.Now(),
	})
	query := `
		UPDATE users
		SET first_name = $2, last_name = $3, role = $4, updated_at = $5
		WHERE id = $1 AND ` + clause
	res, err := querier(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrUserNotFound)
}

// SetActive activates or deactivates a user visible to scope.
func (r *UsersRepository) SetActive(ctx context.Context, scope domain.Scope, id uuid.UUID, active bool) error {
	clause, args := tenantClause(scope, "tenant_id", []any{id, active})
	query := `UPDATE users SET is_active = $2, updated_at = NOW() WHERE id = $1 AND ` + clause
	res, err := querier(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrUserNotFound)
}

// IncrementFailedLoginAttempts counts a failed login and locks the account
// once maxAttempts is reached. A lapsed lock restarts the count.
func (r *UsersRepository) IncrementFailedLoginAttempts(ctx context.Context, userID uuid.UUID, lockoutDuration time.Duration, maxAttempts int) error {
	query := `
		UPDATE users u
		SET failed_login_attempts = n.attempts,
		    locked_until = CASE
		        WHEN n.attempts >= $2 THEN NOW() + make_interval(secs => $3)
		        WHEN n.lapsed THEN NULL
		        ELSE u.locked_until
		    END,
		    updated_at = NOW()
		FROM (
		    SELECT id, COALESCE(locked_until <= NOW(), FALSE) AS lapsed,
		           CASE WHEN locked_until <= NOW() THEN 1 ELSE failed_login_attempts + 1 END AS attempts
		    FROM users
		    WHERE id = $1
		    FOR UPDATE
		) n
		WHERE u.id = n.id
	`
	_, err := querier(ctx, r.db).ExecContext(ctx, query, userID, maxAttempts, lockoutDuration.Seconds())
	return err
}

// RecordLogin resets the failure counter and stamps the last login.
func (r *UsersRepository) RecordLogin(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE users
		SET failed_login_attempts = 0,
		    locked_until = NULL,
		    last_login_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1
	`
	_, err := querier(ctx, r.db).ExecContext(ctx, query, userID)
	return err
}

// UpdateMFAEnabled updates the MFA enabled status for a user.
func (r *UsersRepository) UpdateMFAEnabled(ctx context.Context, userID uuid.UUID, enabled bool) error {
	query := `UPDATE users SET mfa_enabled = $2, updated_at = NOW() WHERE id = $1`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, userID, enabled)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrUserNotFound)
}

// MarkPasswordChanged stamps the change time and sets the must-change flag.
func (r *UsersRepository) MarkPasswordChanged(ctx context.Context, userID uuid.UUID, mustChange bool) error {
	query := `
		UPDATE users
		SET must_change_password = $2, password_changed_at = NOW(),
		    failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`
	res, err := querier(ctx, r.db).ExecContext(ctx, query, userID, mustChange)
	if err != nil {
		return err
	}
	return expectOne(res, domain.ErrUserNotFound)
}

// ExistsByEmail checks if a user exists by email.
func (r *UsersRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`
	var exists bool
	err := querier(ctx, r.db).QueryRowContext(ctx, query, email).Scan(&exists)
	return exists, err
}

// CountByRole counts active users with role across all tenants.
func (r *UsersRepository) CountByRole(ctx context.Context, role domain.Role) (int, error) {
	var n int
	err := querier(ctx, r.db).QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role = $1 AND is_active`, role).Scan(&n)
	return n, err
}
