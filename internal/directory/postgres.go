package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/authz-engine/tokenauth/internal/auth"
	"github.com/authz-engine/tokenauth/pkg/types"
)

// uniqueViolation is the PostgreSQL error code for unique constraint violations
const uniqueViolation = "23505"

// PostgresDirectory implements auth.UserStore using PostgreSQL.
// Roles are aggregated in the same query as the account, so every returned
// record is fully resolved.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a new PostgreSQL-backed user directory
func NewPostgresDirectory(db *sql.DB) (*PostgresDirectory, error) {
	if db == nil {
		return nil, errors.New("database connection is nil")
	}
	return &PostgresDirectory{db: db}, nil
}

// FindByUsername retrieves a user and its roles by exact username
func (d *PostgresDirectory) FindByUsername(ctx context.Context, username string) (*types.UserRecord, error) {
	query := `
		SELECT a.user_id, a.username, a.password, COALESCE(a.email, ''), a.disabled, a.created_at,
		       COALESCE(array_agg(r.role_name ORDER BY r.role_name)
		                FILTER (WHERE r.role_name IS NOT NULL), '{}') AS roles
		FROM accounts a
		LEFT JOIN account_roles ar ON ar.user_id = a.user_id
		LEFT JOIN roles r ON r.role_id = ar.role_id
		WHERE a.username = $1
		GROUP BY a.user_id
	`

	user := &types.UserRecord{}
	var roles []string

	err := d.db.QueryRowContext(ctx, query, username).Scan(
		&user.ID, &user.Username, &user.PasswordHash, &user.Email, &user.Disabled, &user.CreatedAt,
		pq.Array(&roles),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}

	if roles == nil {
		roles = []string{}
	}
	user.Roles = roles

	return user, nil
}

// CreateUser inserts a user and its role assignments in one transaction.
// Unknown role names are created on the fly.
func (d *PostgresDirectory) CreateUser(ctx context.Context, user *types.UserRecord) (*types.UserRecord, error) {
	if user == nil {
		return nil, errors.New("user is nil")
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	created := *user
	created.Roles = append([]string{}, user.Roles...)

	err = tx.QueryRowContext(ctx, `
		INSERT INTO accounts (username, password, email, disabled)
		VALUES ($1, $2, NULLIF($3, ''), $4)
		RETURNING user_id, created_at
	`, user.Username, user.PasswordHash, user.Email, user.Disabled).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, auth.ErrUsernameTaken
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}

	if err := assignRoles(ctx, tx, created.ID, created.Roles); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &created, nil
}

// SetRoles replaces the roles of a user. Outstanding tokens pick up the new
// roles on their next request.
func (d *PostgresDirectory) SetRoles(ctx context.Context, username string, roles ...string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var userID int64
	err = tx.QueryRowContext(ctx,
		`SELECT user_id FROM accounts WHERE username = $1 FOR UPDATE`, username).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("query account: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM account_roles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear roles: %w", err)
	}
	if err := assignRoles(ctx, tx, userID, roles); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// DeleteUser removes a user and its role assignments
func (d *PostgresDirectory) DeleteUser(ctx context.Context, username string) error {
	result, err := d.db.ExecContext(ctx, `DELETE FROM accounts WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return requireAffected(result)
}

// assignRoles links roles to a user, creating unknown role names on the fly
func assignRoles(ctx context.Context, tx *sql.Tx, userID int64, roles []string) error {
	if len(roles) == 0 {
		return nil
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO roles (role_name)
		SELECT unnest($1::text[])
		ON CONFLICT (role_name) DO NOTHING
	`, pq.Array(roles)); err != nil {
		return fmt.Errorf("ensure roles: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO account_roles (user_id, role_id)
		SELECT $1, role_id FROM roles WHERE role_name = ANY($2::text[])
		ON CONFLICT DO NOTHING
	`, userID, pq.Array(roles)); err != nil {
		return fmt.Errorf("assign roles: %w", err)
	}
	return nil
}

// SetDisabled enables or disables a user
func (d *PostgresDirectory) SetDisabled(ctx context.Context, username string, disabled bool) error {
	result, err := d.db.ExecContext(ctx,
		`UPDATE accounts SET disabled = $1 WHERE username = $2`, disabled, username)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}
	return requireAffected(result)
}

// requireAffected maps an update that touched no rows to ErrUserNotFound
func requireAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return auth.ErrUserNotFound
	}
	return nil
}

// Ping verifies the database is reachable
func (d *PostgresDirectory) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// isUniqueViolation checks if an error is a unique constraint violation
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation
}
