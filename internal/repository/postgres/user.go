package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/edufelip/meer-api/internal/domain"
	"github.com/edufelip/meer-api/pkg/database"
	apperrors "github.com/edufelip/meer-api/pkg/errors"
)

const uniqueViolation = "23505"

const userColumns = `id, email, display_name, photo_url, password_hash, created_at`

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts u and assigns the generated id and creation time.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) (err error) {
	query := `
		INSERT INTO auth_users (email, display_name, photo_url, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	ctx, end := database.TraceQuery(ctx, "insert_user", query)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, query, u.Email, u.DisplayName, u.PhotoURL, u.PasswordHash).
		Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM auth_users WHERE id = $1`
	return r.scanUser(ctx, "get_user_by_id", query, id)
}

// GetByEmail retrieves a user by email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM auth_users WHERE email = $1`
	return r.scanUser(ctx, "get_user_by_email", query, email)
}

func (r *UserRepository) scanUser(ctx context.Context, op, query string, args ...any) (u *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() {
		// A miss is an expected outcome, not a failed query.
		if errors.Is(err, apperrors.ErrNotFound) {
			end(nil)
			return
		}
		end(err)
	}()

	var row domain.User
	err = r.db.QueryRow(ctx, query, args...).Scan(
		&row.ID,
		&row.Email,
		&row.DisplayName,
		&row.PhotoURL,
		&row.PasswordHash,
		&row.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &row, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
