package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"disputeflow/fieldcrypt"
)

// Store owns dispute persistence. Every sensitive column goes through the
// codec; plaintext never appears in a SQL parameter except as ciphertext
// input. Mutating helpers take a pgx.Tx so the engine can scope a whole
// transition to one transaction under one dispute row lock.
type Store struct {
	pool  *pgxpool.Pool
	codec *fieldcrypt.Codec
}

func NewStore(pool *pgxpool.Pool, codec *fieldcrypt.Codec) *Store {
	return &Store{pool: pool, codec: codec}
}

// lockDispute loads the dispute row FOR UPDATE. All concurrent transitions
// on the same dispute serialize on this lock, which is what makes the
// in-transaction round evaluation race-free.
func (s *Store) lockDispute(ctx context.Context, tx pgx.Tx, disputeID string) (Dispute, error) {
	const query = `
		SELECT id, creator_id, title_enc, status::text, current_round, created_at, updated_at
		FROM disputes
		WHERE id = $1
		FOR UPDATE
	`
	return s.scanDispute(tx.QueryRow(ctx, query, disputeID))
}

func (s *Store) getDispute(ctx context.Context, disputeID string) (Dispute, error) {
	const query = `
		SELECT id, creator_id, title_enc, status::text, current_round, created_at, updated_at
		FROM disputes
		WHERE id = $1
	`
	return s.scanDispute(s.pool.QueryRow(ctx, query, disputeID))
}

func (s *Store) scanDispute(row pgx.Row) (Dispute, error) {
	var (
		d        Dispute
		titleEnc []byte
	)
	err := row.Scan(&d.ID, &d.CreatorID, &titleEnc, &d.Status, &d.CurrentRound, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: load: %w", err)
	}
	if d.Title, err = s.codec.Decrypt(titleEnc); err != nil {
		return Dispute{}, fmt.Errorf("dispute: decrypt title: %w", err)
	}
	return d, nil
}

func (s *Store) insertDispute(ctx context.Context, tx pgx.Tx, creatorID, title string) (Dispute, error) {
	titleEnc, err := s.codec.Encrypt(title)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: encrypt title: %w", err)
	}

	const query = `
		INSERT INTO disputes (creator_id, title_enc)
		VALUES ($1, $2)
		RETURNING id, creator_id, title_enc, status::text, current_round, created_at, updated_at
	`
	return s.scanDispute(tx.QueryRow(ctx, query, creatorID, titleEnc))
}

func (s *Store) insertParticipant(ctx context.Context, tx pgx.Tx, disputeID, userID string, status ParticipantStatus) error {
	const query = `
		INSERT INTO dispute_participants (dispute_id, user_id, status)
		VALUES ($1, $2, $3::participant_status)
	`
	if _, err := tx.Exec(ctx, query, disputeID, userID, status); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyParticipant
		}
		return fmt.Errorf("dispute: insert participant: %w", err)
	}
	return nil
}

func (s *Store) getParticipantStatus(ctx context.Context, tx pgx.Tx, disputeID, userID string) (ParticipantStatus, error) {
	var status ParticipantStatus
	err := tx.QueryRow(ctx,
		`SELECT status::text FROM dispute_participants WHERE dispute_id = $1 AND user_id = $2`,
		disputeID, userID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrParticipantNotFound
		}
		return "", fmt.Errorf("dispute: load participant: %w", err)
	}
	return status, nil
}

func (s *Store) setParticipantStatus(ctx context.Context, tx pgx.Tx, disputeID, userID string, status ParticipantStatus) error {
	tag, err := tx.Exec(ctx, `
		UPDATE dispute_participants
		SET status = $3::participant_status, updated_at = now()
		WHERE dispute_id = $1 AND user_id = $2
	`, disputeID, userID, status)
	if err != nil {
		return fmt.Errorf("dispute: update participant status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

func (s *Store) deleteParticipant(ctx context.Context, tx pgx.Tx, disputeID, userID string) error {
	tag, err := tx.Exec(ctx,
		`DELETE FROM dispute_participants WHERE dispute_id = $1 AND user_id = $2`,
		disputeID, userID)
	if err != nil {
		return fmt.Errorf("dispute: delete participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrParticipantNotFound
	}
	return nil
}

// removeDepartureArtifacts deletes the departing user's pending input: their
// vote for the current round and any response the round has not yet consumed.
// Responses already put before the arbiter stay as history, so when the round
// is closed only staged follow-ups are removed.
func (s *Store) removeDepartureArtifacts(ctx context.Context, tx pgx.Tx, disputeID, userID string, round int, roundClosed bool) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM satisfaction_votes WHERE dispute_id = $1 AND user_id = $2 AND round >= $3`,
		disputeID, userID, round); err != nil {
		return fmt.Errorf("dispute: remove departing votes: %w", err)
	}
	respFrom := round
	if roundClosed {
		respFrom = round + 1
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM dispute_responses WHERE dispute_id = $1 AND user_id = $2 AND round >= $3`,
		disputeID, userID, respFrom); err != nil {
		return fmt.Errorf("dispute: remove departing responses: %w", err)
	}
	return nil
}

// upsertResponse stores a participant's narrative for a round. Resubmission
// overwrites in place: last writer wins on the (dispute, user, round) key.
func (s *Store) upsertResponse(ctx context.Context, tx pgx.Tx, disputeID, userID string, round int, body string) error {
	bodyEnc, err := s.codec.Encrypt(body)
	if err != nil {
		return fmt.Errorf("dispute: encrypt response: %w", err)
	}

	const query = `
		INSERT INTO dispute_responses (dispute_id, user_id, round, body_enc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dispute_id, user_id, round)
		DO UPDATE SET body_enc = EXCLUDED.body_enc, updated_at = now()
	`
	if _, err := tx.Exec(ctx, query, disputeID, userID, round, bodyEnc); err != nil {
		return fmt.Errorf("dispute: upsert response: %w", err)
	}
	return nil
}

// upsertVerdict runs outside the transition transactions, keyed on the
// (dispute, round) unique constraint so repeated generation attempts are
// idempotent.
func (s *Store) upsertVerdict(ctx context.Context, disputeID string, round int, body string) error {
	bodyEnc, err := s.codec.Encrypt(body)
	if err != nil {
		return fmt.Errorf("dispute: encrypt verdict: %w", err)
	}

	const query = `
		INSERT INTO dispute_verdicts (dispute_id, round, body_enc)
		VALUES ($1, $2, $3)
		ON CONFLICT (dispute_id, round)
		DO UPDATE SET body_enc = EXCLUDED.body_enc, updated_at = now()
	`
	if _, err := s.pool.Exec(ctx, query, disputeID, round, bodyEnc); err != nil {
		return fmt.Errorf("dispute: upsert verdict: %w", err)
	}
	return nil
}

func (s *Store) verdictExists(ctx context.Context, tx pgx.Tx, disputeID string, round int) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM dispute_verdicts WHERE dispute_id = $1 AND round = $2)`,
		disputeID, round).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dispute: check verdict: %w", err)
	}
	return exists, nil
}

func (s *Store) upsertVote(ctx context.Context, tx pgx.Tx, disputeID, userID string, round int, isSatisfied bool) error {
	const query = `
		INSERT INTO satisfaction_votes (dispute_id, user_id, round, is_satisfied)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (dispute_id, user_id, round)
		DO UPDATE SET is_satisfied = EXCLUDED.is_satisfied, updated_at = now()
	`
	if _, err := tx.Exec(ctx, query, disputeID, userID, round, isSatisfied); err != nil {
		return fmt.Errorf("dispute: upsert vote: %w", err)
	}
	return nil
}

func (s *Store) setDisputeStatus(ctx context.Context, tx pgx.Tx, disputeID string, status Status) error {
	if _, err := tx.Exec(ctx,
		`UPDATE disputes SET status = $2::dispute_status, updated_at = now() WHERE id = $1`,
		disputeID, status); err != nil {
		return fmt.Errorf("dispute: set status: %w", err)
	}
	return nil
}

// advanceRound opens the next round. The increment is computed in SQL from
// the locked row so it can only ever move forward by one.
func (s *Store) advanceRound(ctx context.Context, tx pgx.Tx, disputeID string) (int, error) {
	var round int
	err := tx.QueryRow(ctx, `
		UPDATE disputes
		SET current_round = current_round + 1,
		    status = 'incomplete',
		    updated_at = now()
		WHERE id = $1
		RETURNING current_round
	`, disputeID).Scan(&round)
	if err != nil {
		return 0, fmt.Errorf("dispute: advance round: %w", err)
	}
	return round, nil
}

func (s *Store) roundTally(ctx context.Context, tx pgx.Tx, disputeID string, round int) (roundTally, error) {
	const query = `
		SELECT COUNT(*) FILTER (WHERE p.status = 'invited'),
		       COUNT(*) FILTER (WHERE p.status = 'accepted'),
		       COUNT(*) FILTER (WHERE p.status = 'accepted' AND r.dispute_id IS NOT NULL)
		FROM dispute_participants p
		LEFT JOIN dispute_responses r
		  ON r.dispute_id = p.dispute_id AND r.user_id = p.user_id AND r.round = $2
		WHERE p.dispute_id = $1
	`
	var t roundTally
	if err := tx.QueryRow(ctx, query, disputeID, round).Scan(&t.StillInvited, &t.TotalAccepted, &t.RespondedAccepted); err != nil {
		return roundTally{}, fmt.Errorf("dispute: round tally: %w", err)
	}
	return t, nil
}

// voteTally counts only votes cast by currently accepted participants, so a
// row left behind by someone who since departed can never decide the round.
func (s *Store) voteTally(ctx context.Context, tx pgx.Tx, disputeID string, round int) (voteTally, error) {
	const query = `
		SELECT (SELECT COUNT(*) FROM dispute_participants WHERE dispute_id = $1 AND status = 'accepted'),
		       COUNT(*),
		       COUNT(*) FILTER (WHERE v.is_satisfied)
		FROM satisfaction_votes v
		JOIN dispute_participants p
		  ON p.dispute_id = v.dispute_id AND p.user_id = v.user_id AND p.status = 'accepted'
		WHERE v.dispute_id = $1 AND v.round = $2
	`
	var t voteTally
	if err := tx.QueryRow(ctx, query, disputeID, round).Scan(&t.TotalAccepted, &t.VotesIn, &t.Satisfied); err != nil {
		return voteTally{}, fmt.Errorf("dispute: vote tally: %w", err)
	}
	return t, nil
}

// reevaluateRound recomputes the completion predicate inside the caller's
// transaction and flips incomplete to evaluated when it holds. The guarded
// update means the flip happens exactly once per round no matter how many
// triggers race to it; the returned bool is true only for the writer that
// performed the flip.
func (s *Store) reevaluateRound(ctx context.Context, tx pgx.Tx, disputeID string, round int) (bool, error) {
	tally, err := s.roundTally(ctx, tx, disputeID, round)
	if err != nil {
		return false, err
	}
	if !tally.Complete() {
		return false, nil
	}

	tag, err := tx.Exec(ctx, `
		UPDATE disputes
		SET status = 'evaluated', updated_at = now()
		WHERE id = $1 AND status = 'incomplete'
	`, disputeID)
	if err != nil {
		return false, fmt.Errorf("dispute: mark evaluated: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) acceptedCount(ctx context.Context, tx pgx.Tx, disputeID string) (int, error) {
	var n int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM dispute_participants WHERE dispute_id = $1 AND status = 'accepted'`,
		disputeID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("dispute: accepted count: %w", err)
	}
	return n, nil
}

// acceptedContactExists checks the contact prerequisite for naming a user as
// a participant: an accepted contact must link the two users in either
// direction.
func (s *Store) acceptedContactExists(ctx context.Context, tx pgx.Tx, userID, otherUserID string) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM contacts
			WHERE status = 'accepted'
			  AND ((requester_id = $1 AND recipient_user_id = $2)
			    OR (requester_id = $2 AND recipient_user_id = $1))
		)
	`
	var exists bool
	if err := tx.QueryRow(ctx, query, userID, otherUserID).Scan(&exists); err != nil {
		return false, fmt.Errorf("dispute: check contact: %w", err)
	}
	return exists, nil
}

func (s *Store) deleteDispute(ctx context.Context, tx pgx.Tx, disputeID string) error {
	// Participants, responses, verdicts and votes cascade.
	if _, err := tx.Exec(ctx, `DELETE FROM disputes WHERE id = $1`, disputeID); err != nil {
		return fmt.Errorf("dispute: delete: %w", err)
	}
	return nil
}

func (s *Store) isParticipant(ctx context.Context, disputeID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM dispute_participants WHERE dispute_id = $1 AND user_id = $2)`,
		disputeID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dispute: check participant: %w", err)
	}
	return exists, nil
}

func (s *Store) listParticipants(ctx context.Context, disputeID string) ([]Participant, error) {
	const query = `
		SELECT p.id, p.dispute_id, p.user_id, u.name_enc, p.status::text, p.created_at
		FROM dispute_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.dispute_id = $1
		ORDER BY p.created_at
	`
	rows, err := s.pool.Query(ctx, query, disputeID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list participants: %w", err)
	}
	defer rows.Close()

	out := make([]Participant, 0, 4)
	for rows.Next() {
		var (
			p       Participant
			nameEnc []byte
		)
		if err := rows.Scan(&p.ID, &p.DisputeID, &p.UserID, &nameEnc, &p.Status, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan participant: %w", err)
		}
		if p.Name, err = s.codec.Decrypt(nameEnc); err != nil {
			return nil, fmt.Errorf("dispute: decrypt participant name: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate participants: %w", err)
	}
	return out, nil
}

// loadRounds assembles the decrypted per-round history up to and including
// maxRound.
func (s *Store) loadRounds(ctx context.Context, disputeID string, maxRound int) ([]Round, error) {
	rounds := make([]Round, maxRound)
	for i := range rounds {
		rounds[i].Number = i + 1
	}

	respRows, err := s.pool.Query(ctx, `
		SELECT user_id, round, body_enc, updated_at
		FROM dispute_responses
		WHERE dispute_id = $1 AND round <= $2
		ORDER BY round, created_at
	`, disputeID, maxRound)
	if err != nil {
		return nil, fmt.Errorf("dispute: list responses: %w", err)
	}
	defer respRows.Close()
	for respRows.Next() {
		var (
			r       Response
			bodyEnc []byte
		)
		if err := respRows.Scan(&r.UserID, &r.Round, &bodyEnc, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan response: %w", err)
		}
		if r.Body, err = s.codec.Decrypt(bodyEnc); err != nil {
			return nil, fmt.Errorf("dispute: decrypt response: %w", err)
		}
		rounds[r.Round-1].Responses = append(rounds[r.Round-1].Responses, r)
	}
	if err := respRows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate responses: %w", err)
	}

	verdictRows, err := s.pool.Query(ctx, `
		SELECT round, body_enc, created_at, updated_at
		FROM dispute_verdicts
		WHERE dispute_id = $1 AND round <= $2
		ORDER BY round
	`, disputeID, maxRound)
	if err != nil {
		return nil, fmt.Errorf("dispute: list verdicts: %w", err)
	}
	defer verdictRows.Close()
	for verdictRows.Next() {
		var (
			v       Verdict
			bodyEnc []byte
		)
		if err := verdictRows.Scan(&v.Round, &bodyEnc, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan verdict: %w", err)
		}
		if v.Body, err = s.codec.Decrypt(bodyEnc); err != nil {
			return nil, fmt.Errorf("dispute: decrypt verdict: %w", err)
		}
		rounds[v.Round-1].Verdict = &v
	}
	if err := verdictRows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate verdicts: %w", err)
	}

	voteRows, err := s.pool.Query(ctx, `
		SELECT user_id, round, is_satisfied, updated_at
		FROM satisfaction_votes
		WHERE dispute_id = $1 AND round <= $2
		ORDER BY round, created_at
	`, disputeID, maxRound)
	if err != nil {
		return nil, fmt.Errorf("dispute: list votes: %w", err)
	}
	defer voteRows.Close()
	for voteRows.Next() {
		var v SatisfactionVote
		if err := voteRows.Scan(&v.UserID, &v.Round, &v.IsSatisfied, &v.UpdatedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan vote: %w", err)
		}
		rounds[v.Round-1].Votes = append(rounds[v.Round-1].Votes, v)
	}
	if err := voteRows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate votes: %w", err)
	}

	return rounds, nil
}

func (s *Store) listForUser(ctx context.Context, userID string) ([]Dispute, error) {
	const query = `
		SELECT d.id, d.creator_id, d.title_enc, d.status::text, d.current_round, d.created_at, d.updated_at
		FROM disputes d
		JOIN dispute_participants p ON p.dispute_id = d.id
		WHERE p.user_id = $1
		ORDER BY d.created_at DESC
	`
	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list for user: %w", err)
	}
	defer rows.Close()

	out := make([]Dispute, 0, 8)
	for rows.Next() {
		d, err := s.scanDispute(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}
