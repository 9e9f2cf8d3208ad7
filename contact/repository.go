package contact

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
	// ErrNotFound signals that the contact does not exist.
	ErrNotFound = errors.New("contact: not found")
	// ErrDuplicate signals an identical pending/accepted request already exists.
	ErrDuplicate = errors.New("contact: request already exists")
	// ErrSelfContact signals a request addressed to the requester's own email.
	ErrSelfContact = errors.New("contact: cannot request own email")
	// ErrNotRecipient signals a response from someone other than the addressee.
	ErrNotRecipient = errors.New("contact: not the recipient")
	// ErrAlreadyDecided signals a response to a non-pending request.
	ErrAlreadyDecided = errors.New("contact: request already decided")
)

// Repository handles data access for contacts.
type Repository interface {
	Create(ctx context.Context, requesterID, recipientEmail string) (Contact, error)
	Respond(ctx context.Context, contactID, recipientUserID, recipientEmail string, accept bool) (Contact, error)
	ListForUser(ctx context.Context, userID, userEmail string) ([]Contact, error)
	AcceptedBetween(ctx context.Context, userID, otherUserID string) (bool, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool  *pgxpool.Pool
	codec *fieldcrypt.Codec
}

func NewRepository(pool *pgxpool.Pool, codec *fieldcrypt.Codec) *PGRepository {
	return &PGRepository{pool: pool, codec: codec}
}

// Create inserts a pending contact request. The recipient need not be a
// registered user; the relation is keyed by the email search token until
// they respond.
func (r *PGRepository) Create(ctx context.Context, requesterID, recipientEmail string) (Contact, error) {
	token := r.codec.SearchToken(recipientEmail)

	var ownToken string
	if err := r.pool.QueryRow(ctx, `SELECT email_token FROM users WHERE id = $1`, requesterID).Scan(&ownToken); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, fmt.Errorf("contact: load requester: %w", err)
	}
	if ownToken == token {
		return Contact{}, ErrSelfContact
	}

	emailEnc, err := r.codec.Encrypt(recipientEmail)
	if err != nil {
		return Contact{}, fmt.Errorf("contact: encrypt recipient email: %w", err)
	}

	const insertSQL = `
		INSERT INTO contacts (requester_id, recipient_user_id, recipient_email_enc, recipient_email_token, status)
		VALUES ($1, (SELECT id FROM users WHERE email_token = $2), $3, $2, 'pending')
		RETURNING id, requester_id, recipient_user_id, recipient_email_enc, status::text, created_at, updated_at
	`

	rec, err := r.scanContact(r.pool.QueryRow(ctx, insertSQL, requesterID, token, emailEnc))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Contact{}, ErrDuplicate
		}
		return Contact{}, fmt.Errorf("contact: create: %w", err)
	}
	return rec, nil
}

// Respond records the recipient's decision. The responder must match the
// request's email token; responding also links their user id to the row so
// later dispute invitations can resolve it.
func (r *PGRepository) Respond(ctx context.Context, contactID, recipientUserID, recipientEmail string, accept bool) (Contact, error) {
	status := StatusRejected
	if accept {
		status = StatusAccepted
	}

	const updateSQL = `
		UPDATE contacts
		SET recipient_user_id = $2,
		    status = $3::contact_status,
		    updated_at = now()
		WHERE id = $1
		  AND recipient_email_token = $4
		  AND status = 'pending'
		RETURNING id, requester_id, recipient_user_id, recipient_email_enc, status::text, created_at, updated_at
	`

	rec, err := r.scanContact(r.pool.QueryRow(ctx, updateSQL,
		contactID, recipientUserID, status, r.codec.SearchToken(recipientEmail)))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Contact{}, fmt.Errorf("contact: respond: %w", err)
	}

	// Distinguish why the guarded update matched nothing.
	var (
		token string
		curr  string
	)
	switch err := r.pool.QueryRow(ctx, `SELECT recipient_email_token, status::text FROM contacts WHERE id = $1`, contactID).Scan(&token, &curr); {
	case errors.Is(err, pgx.ErrNoRows):
		return Contact{}, ErrNotFound
	case err != nil:
		return Contact{}, fmt.Errorf("contact: respond fetch: %w", err)
	}
	if token != r.codec.SearchToken(recipientEmail) {
		return Contact{}, ErrNotRecipient
	}
	return Contact{}, ErrAlreadyDecided
}

// ListForUser returns contacts where the user is either side of the relation.
func (r *PGRepository) ListForUser(ctx context.Context, userID, userEmail string) ([]Contact, error) {
	const query = `
		SELECT id, requester_id, recipient_user_id, recipient_email_enc, status::text, created_at, updated_at
		FROM contacts
		WHERE requester_id = $1 OR recipient_email_token = $2
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID, r.codec.SearchToken(userEmail))
	if err != nil {
		return nil, fmt.Errorf("contact: list: %w", err)
	}
	defer rows.Close()

	out := make([]Contact, 0, 8)
	for rows.Next() {
		rec, err := r.scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("contact: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contact: iterate: %w", err)
	}
	return out, nil
}

// AcceptedBetween reports whether an accepted contact links the two users in
// either direction.
func (r *PGRepository) AcceptedBetween(ctx context.Context, userID, otherUserID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM contacts
			WHERE status = 'accepted'
			  AND ((requester_id = $1 AND recipient_user_id = $2)
			    OR (requester_id = $2 AND recipient_user_id = $1))
		)
	`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, userID, otherUserID).Scan(&exists); err != nil {
		return false, fmt.Errorf("contact: accepted between: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) scanContact(row pgx.Row) (Contact, error) {
	var (
		rec      Contact
		emailEnc []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.RequesterID,
		&rec.RecipientUserID,
		&emailEnc,
		&rec.Status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Contact{}, err
	}
	if rec.RecipientEmail, err = r.codec.Decrypt(emailEnc); err != nil {
		return Contact{}, fmt.Errorf("contact: decrypt recipient email: %w", err)
	}
	return rec, nil
}
