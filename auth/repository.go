package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"disputeflow/fieldcrypt"
)

var (
	// ErrUserNotFound signals that the user does not exist.
	ErrUserNotFound = errors.New("auth: user not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles data access for accounts.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
}

// CreateUserParams contains write parameters for creating users.
type CreateUserParams struct {
	Email        string
	Name         string
	PasswordHash string
}

// PGRepository implements Repository backed by PostgreSQL. All lookups by
// email go through the search token; the plaintext email never reaches a
// query parameter that the database could index or log.
type PGRepository struct {
	pool  *pgxpool.Pool
	codec *fieldcrypt.Codec
}

// NewRepository creates a PostgreSQL-backed account repository.
func NewRepository(pool *pgxpool.Pool, codec *fieldcrypt.Codec) *PGRepository {
	return &PGRepository{pool: pool, codec: codec}
}

// CreateUser inserts a new user with encrypted identity fields.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	nameEnc, err := r.codec.Encrypt(params.Name)
	if err != nil {
		return User{}, fmt.Errorf("auth: encrypt name: %w", err)
	}
	emailEnc, err := r.codec.Encrypt(params.Email)
	if err != nil {
		return User{}, fmt.Errorf("auth: encrypt email: %w", err)
	}

	const insertSQL = `
		INSERT INTO users (name_enc, email_enc, email_token, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name_enc, email_enc, password_hash, created_at, updated_at
	`

	user, err := r.scanUser(r.pool.QueryRow(ctx, insertSQL,
		nameEnc, emailEnc, r.codec.SearchToken(params.Email), params.PasswordHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}
	return user, nil
}

// GetUserByEmail retrieves a user via the email search token.
func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const selectSQL = `
		SELECT id, name_enc, email_enc, password_hash, created_at, updated_at
		FROM users
		WHERE email_token = $1
	`

	user, err := r.scanUser(r.pool.QueryRow(ctx, selectSQL, r.codec.SearchToken(email)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by email: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	const selectSQL = `
		SELECT id, name_enc, email_enc, password_hash, created_at, updated_at
		FROM users
		WHERE id = $1
	`

	user, err := r.scanUser(r.pool.QueryRow(ctx, selectSQL, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("auth: get user by id: %w", err)
	}
	return user, nil
}

func (r *PGRepository) scanUser(row pgx.Row) (User, error) {
	var (
		user     User
		nameEnc  []byte
		emailEnc []byte
	)
	err := row.Scan(
		&user.ID,
		&nameEnc,
		&emailEnc,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}

	if user.Name, err = r.codec.Decrypt(nameEnc); err != nil {
		return User{}, fmt.Errorf("auth: decrypt name: %w", err)
	}
	if user.Email, err = r.codec.Decrypt(emailEnc); err != nil {
		return User{}, fmt.Errorf("auth: decrypt email: %w", err)
	}
	return user, nil
}
