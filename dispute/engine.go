package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals that the dispute does not exist.
	ErrNotFound = errors.New("dispute: not found")
	// ErrParticipantNotFound signals that the user is not attached to the dispute.
	ErrParticipantNotFound = errors.New("dispute: participant not found")
	// ErrPermissionDenied signals a creator-only or participant-only action by
	// someone else.
	ErrPermissionDenied = errors.New("dispute: permission denied")
	// ErrTerminalState signals an action against a concluded, cancelled or
	// rejected dispute.
	ErrTerminalState = errors.New("dispute: dispute is in a terminal state")
	// ErrNotIncomplete signals an action that requires an open response round.
	ErrNotIncomplete = errors.New("dispute: dispute is not collecting responses")
	// ErrNotEvaluated signals a satisfaction vote outside the voting phase.
	ErrNotEvaluated = errors.New("dispute: dispute is not awaiting satisfaction votes")
	// ErrNotAccepted signals a response or vote from a participant who has not
	// accepted the invitation.
	ErrNotAccepted = errors.New("dispute: participant has not accepted the invitation")
	// ErrNotInvited signals an invitation response from a participant whose
	// invitation is not pending.
	ErrNotInvited = errors.New("dispute: no pending invitation")
	// ErrVerdictMissing signals a satisfaction vote before the round's verdict
	// exists.
	ErrVerdictMissing = errors.New("dispute: no verdict for the current round")
	// ErrAlreadyParticipant signals a duplicate invitation, including inviting
	// oneself.
	ErrAlreadyParticipant = errors.New("dispute: user is already a participant")
	// ErrContactRequired signals an invitation to a user without an accepted
	// contact relation.
	ErrContactRequired = errors.New("dispute: accepted contact required to invite user")
	// ErrCreatorCannotLeave signals the creator attempting to leave instead of
	// deleting.
	ErrCreatorCannotLeave = errors.New("dispute: creator cannot leave own dispute")
	// ErrNoParticipants signals a creation request naming nobody.
	ErrNoParticipants = errors.New("dispute: at least one participant is required")
	// ErrTitleRequired signals a creation request with an empty title.
	ErrTitleRequired = errors.New("dispute: title is required")
)

// Engine drives disputes through their lifecycle. Every state-changing
// operation runs as one all-or-nothing transaction that locks the dispute
// row first, so round evaluation always sees the post-write state and the
// evaluated transition fires exactly once per round. Verdict generation is
// the only slow collaborator and runs strictly after commit.
type Engine struct {
	pool     *pgxpool.Pool
	store    *Store
	verdicts VerdictGenerator
}

func NewEngine(pool *pgxpool.Pool, store *Store, verdicts VerdictGenerator) *Engine {
	return &Engine{pool: pool, store: store, verdicts: verdicts}
}

// CreateDispute opens a dispute, inserting the creator as an accepted
// participant and every named user as invited, atomically. Each invitee must
// hold an accepted contact with the creator.
func (e *Engine) CreateDispute(ctx context.Context, creatorID, title string, participantUserIDs []string) (Dispute, error) {
	if len(participantUserIDs) == 0 {
		return Dispute{}, ErrNoParticipants
	}
	if title == "" {
		return Dispute{}, ErrTitleRequired
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := e.store.insertDispute(ctx, tx, creatorID, title)
	if err != nil {
		return Dispute{}, err
	}
	if err := e.store.insertParticipant(ctx, tx, d.ID, creatorID, ParticipantAccepted); err != nil {
		return Dispute{}, err
	}

	for _, userID := range participantUserIDs {
		if userID == creatorID {
			return Dispute{}, ErrAlreadyParticipant
		}
		ok, err := e.store.acceptedContactExists(ctx, tx, creatorID, userID)
		if err != nil {
			return Dispute{}, err
		}
		if !ok {
			return Dispute{}, ErrContactRequired
		}
		if err := e.store.insertParticipant(ctx, tx, d.ID, userID, ParticipantInvited); err != nil {
			return Dispute{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit create: %w", err)
	}
	return d, nil
}

// InviteParticipants adds invitations to an open dispute. Creator-only, and
// only while the dispute is still collecting responses.
func (e *Engine) InviteParticipants(ctx context.Context, disputeID, requesterID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return ErrNoParticipants
	}

	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin invite: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := e.store.lockDispute(ctx, tx, disputeID)
	if err != nil {
		return err
	}
	if d.CreatorID != requesterID {
		return ErrPermissionDenied
	}
	if d.Status.Terminal() {
		return ErrTerminalState
	}
	if d.Status != StatusIncomplete {
		return ErrNotIncomplete
	}

	for _, userID := range userIDs {
		if userID == requesterID {
			return ErrAlreadyParticipant
		}
		ok, err := e.store.acceptedContactExists(ctx, tx, requesterID, userID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrContactRequired
		}
		if err := e.store.insertParticipant(ctx, tx, disputeID, userID, ParticipantInvited); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit invite: %w", err)
	}
	return nil
}

// AcceptInvitation marks the participant accepted and re-evaluates the
// current round, since a status change can close it.
func (e *Engine) AcceptInvitation(ctx context.Context, disputeID, userID string) error {
	completed, d, err := e.resolveInvitation(ctx, disputeID, userID, true)
	if err != nil {
		return err
	}
	if completed {
		return e.generateVerdict(ctx, d, d.CurrentRound)
	}
	return nil
}

// RejectInvitation forces the whole dispute to rejected: consensus requires
// every named party, so one refusal ends the process.
func (e *Engine) RejectInvitation(ctx context.Context, disputeID, userID string) error {
	_, _, err := e.resolveInvitation(ctx, disputeID, userID, false)
	return err
}

func (e *Engine) resolveInvitation(ctx context.Context, disputeID, userID string, accept bool) (bool, Dispute, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return false, Dispute{}, fmt.Errorf("dispute: begin invitation response: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := e.store.lockDispute(ctx, tx, disputeID)
	if err != nil {
		return false, Dispute{}, err
	}
	if d.Status.Terminal() {
		return false, Dispute{}, ErrTerminalState
	}

	status, err := e.store.getParticipantStatus(ctx, tx, disputeID, userID)
	if err != nil {
		return false, Dispute{}, err
	}
	if status != ParticipantInvited {
		return false, Dispute{}, ErrNotInvited
	}

	completed := false
	if accept {
		if err := e.store.setParticipantStatus(ctx, tx, disputeID, userID, ParticipantAccepted); err != nil {
			return false, Dispute{}, err
		}
		if d.Status == StatusIncomplete {
			if completed, err = e.store.reevaluateRound(ctx, tx, disputeID, d.CurrentRound); err != nil {
				return false, Dispute{}, err
			}
		}
	} else {
		if err := e.store.setParticipantStatus(ctx, tx, disputeID, userID, ParticipantRejected); err != nil {
			return false, Dispute{}, err
		}
		if err := e.store.setDisputeStatus(ctx, tx, disputeID, StatusRejected); err != nil {
			return false, Dispute{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, Dispute{}, fmt.Errorf("dispute: commit invitation response: %w", err)
	}
	return completed, d, nil
}

// SubmitResponse upserts the participant's narrative for the current round
// and re-evaluates completion in the same transaction, under the dispute row
// lock. When the submission closes the round, the evaluated transition
// commits first and verdict generation runs afterwards; a generation error
// is returned alongside the committed result and is retryable via
// RegenerateVerdict.
func (e *Engine) SubmitResponse(ctx context.Context, disputeID, userID, text string) (ResponseResult, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return ResponseResult{}, fmt.Errorf("dispute: begin response: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := e.store.lockDispute(ctx, tx, disputeID)
	if err != nil {
		return ResponseResult{}, err
	}
	if d.Status.Terminal() {
		return ResponseResult{}, ErrTerminalState
	}
	if d.Status != StatusIncomplete {
		return ResponseResult{}, ErrNotIncomplete
	}

	status, err := e.store.getParticipantStatus(ctx, tx, disputeID, userID)
	if err != nil {
		return ResponseResult{}, err
	}
	if status != ParticipantAccepted {
		return ResponseResult{}, ErrNotAccepted
	}

	if err := e.store.upsertResponse(ctx, tx, disputeID, userID, d.CurrentRound, text); err != nil {
		return ResponseResult{}, err
	}

	completed, err := e.store.reevaluateRound(ctx, tx, disputeID, d.CurrentRound)
	if err != nil {
		return ResponseResult{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return ResponseResult{}, fmt.Errorf("dispute: commit response: %w", err)
	}

	result := ResponseResult{
		RoundCompleted: completed,
		CurrentRound:   d.CurrentRound,
		Status:         d.Status,
	}
	if completed {
		result.Status = StatusEvaluated
		if err := e.generateVerdict(ctx, d, d.CurrentRound); err != nil {
			return result, err
		}
	}
	return result, nil
}

// SubmitSatisfaction records the participant's vote on the current round's
// verdict. An optional follow-up narrative is pre-staged as their response
// for the next round inside the same transaction, so a freshly opened round
// can complete the instant it opens.
func (e *Engine) SubmitSatisfaction(ctx context.Context, disputeID, userID string, isSatisfied bool, followUpText string) (SatisfactionResult, error) {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return SatisfactionResult{}, fmt.Errorf("dispute: begin satisfaction: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := e.store.lockDispute(ctx, tx, disputeID)
	if err != nil {
		return SatisfactionResult{}, err
	}
	if d.Status.Terminal() {
		return SatisfactionResult{}, ErrTerminalState
	}
	if d.Status != StatusEvaluated {
		return SatisfactionResult{}, ErrNotEvaluated
	}

	pStatus, err := e.store.getParticipantStatus(ctx, tx, disputeID, userID)
	if err != nil {
		return SatisfactionResult{}, err
	}
	if pStatus != ParticipantAccepted {
		return SatisfactionResult{}, ErrNotAccepted
	}

	hasVerdict, err := e.store.verdictExists(ctx, tx, disputeID, d.CurrentRound)
	if err != nil {
		return SatisfactionResult{}, err
	}
	if !hasVerdict {
		return SatisfactionResult{}, ErrVerdictMissing
	}

	if err := e.store.upsertVote(ctx, tx, disputeID, userID, d.CurrentRound, isSatisfied); err != nil {
		return SatisfactionResult{}, err
	}
	if followUpText != "" {
		if err := e.store.upsertResponse(ctx, tx, disputeID, userID, d.CurrentRound+1, followUpText); err != nil {
			return SatisfactionResult{}, err
		}
	}

	status, round, nextRoundCompleted, err := e.settleVotes(ctx, tx, d)
	if err != nil {
		return SatisfactionResult{}, err
	}
	result := SatisfactionResult{
		Status:       status,
		CurrentRound: round,
		AllSatisfied: status == StatusConcluded,
	}

	if err := tx.Commit(ctx); err != nil {
		return SatisfactionResult{}, fmt.Errorf("dispute: commit satisfaction: %w", err)
	}

	if nextRoundCompleted {
		if err := e.generateVerdict(ctx, d, round); err != nil {
			return result, err
		}
	}
	return result, nil
}

// settleVotes applies the satisfaction aggregation for the locked dispute's
// current round inside the caller's transaction. A complete unanimous vote
// set concludes the dispute; a complete split opens the next round and
// re-evaluates it against any staged follow-ups. Returns the post-settlement
// status and round, and whether a freshly opened round completed immediately.
func (e *Engine) settleVotes(ctx context.Context, tx pgx.Tx, d Dispute) (Status, int, bool, error) {
	tally, err := e.store.voteTally(ctx, tx, d.ID, d.CurrentRound)
	if err != nil {
		return "", 0, false, err
	}

	switch tally.Outcome() {
	case outcomeConcluded:
		if err := e.store.setDisputeStatus(ctx, tx, d.ID, StatusConcluded); err != nil {
			return "", 0, false, err
		}
		return StatusConcluded, d.CurrentRound, false, nil
	case outcomeNextRound:
		round, err := e.store.advanceRound(ctx, tx, d.ID)
		if err != nil {
			return "", 0, false, err
		}
		completed, err := e.store.reevaluateRound(ctx, tx, d.ID, round)
		if err != nil {
			return "", 0, false, err
		}
		status := StatusIncomplete
		if completed {
			status = StatusEvaluated
		}
		return status, round, completed, nil
	}
	// Remaining votes pending; no transition.
	return StatusEvaluated, d.CurrentRound, false, nil
}

// RegenerateVerdict retries verdict generation for the current round. Usable
// by any participant while the dispute awaits satisfaction votes; the upsert
// on (dispute, round) makes repeated calls idempotent.
func (e *Engine) RegenerateVerdict(ctx context.Context, disputeID, requesterID string) error {
	d, err := e.store.getDispute(ctx, disputeID)
	if err != nil {
		return err
	}
	ok, err := e.store.isParticipant(ctx, disputeID, requesterID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrPermissionDenied
	}
	if d.Status != StatusEvaluated {
		return ErrNotEvaluated
	}
	return e.generateVerdict(ctx, d, d.CurrentRound)
}

// LeaveDispute removes a non-creator participant together with their pending
// vote and any response the round has not yet consumed. When fewer than two
// accepted participants remain there is nobody left to negotiate with, so
// the dispute cancels. Otherwise the departure can decide the current phase
// for the remaining participants: an open round is re-evaluated for
// completion, and a round awaiting votes is re-settled as if the departed
// user never voted.
func (e *Engine) LeaveDispute(ctx context.Context, disputeID, userID string) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin leave: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := e.store.lockDispute(ctx, tx, disputeID)
	if err != nil {
		return err
	}
	if d.Status.Terminal() {
		return ErrTerminalState
	}
	if d.CreatorID == userID {
		return ErrCreatorCannotLeave
	}

	if err := e.store.deleteParticipant(ctx, tx, disputeID, userID); err != nil {
		return err
	}
	if err := e.store.removeDepartureArtifacts(ctx, tx, disputeID, userID, d.CurrentRound, d.Status == StatusEvaluated); err != nil {
		return err
	}

	completed := false
	completedRound := d.CurrentRound
	remaining, err := e.store.acceptedCount(ctx, tx, disputeID)
	if err != nil {
		return err
	}
	if remaining <= 1 {
		if err := e.store.setDisputeStatus(ctx, tx, disputeID, StatusCancelled); err != nil {
			return err
		}
	} else {
		switch d.Status {
		case StatusIncomplete:
			if completed, err = e.store.reevaluateRound(ctx, tx, disputeID, d.CurrentRound); err != nil {
				return err
			}
		case StatusEvaluated:
			var round int
			if _, round, completed, err = e.settleVotes(ctx, tx, d); err != nil {
				return err
			}
			completedRound = round
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit leave: %w", err)
	}

	if completed {
		return e.generateVerdict(ctx, d, completedRound)
	}
	return nil
}

// DeleteDispute removes the dispute and all attached rows. Creator-only, and
// only while the dispute is still live.
func (e *Engine) DeleteDispute(ctx context.Context, disputeID, requesterID string) error {
	tx, err := e.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dispute: begin delete: %w", err)
	}
	defer tx.Rollback(ctx)

	d, err := e.store.lockDispute(ctx, tx, disputeID)
	if err != nil {
		return err
	}
	if d.CreatorID != requesterID {
		return ErrPermissionDenied
	}
	if d.Status.Terminal() {
		return ErrTerminalState
	}

	if err := e.store.deleteDispute(ctx, tx, disputeID); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("dispute: commit delete: %w", err)
	}
	return nil
}

// GetDispute returns the fully decrypted snapshot. Participant-only.
func (e *Engine) GetDispute(ctx context.Context, disputeID, requesterID string) (Detail, error) {
	d, err := e.store.getDispute(ctx, disputeID)
	if err != nil {
		return Detail{}, err
	}

	ok, err := e.store.isParticipant(ctx, disputeID, requesterID)
	if err != nil {
		return Detail{}, err
	}
	if !ok {
		return Detail{}, ErrPermissionDenied
	}

	participants, err := e.store.listParticipants(ctx, disputeID)
	if err != nil {
		return Detail{}, err
	}
	rounds, err := e.store.loadRounds(ctx, disputeID, d.CurrentRound)
	if err != nil {
		return Detail{}, err
	}

	return Detail{
		Dispute:      d,
		Participants: participants,
		Rounds:       rounds,
	}, nil
}

// ListDisputes returns every dispute the user participates in.
func (e *Engine) ListDisputes(ctx context.Context, userID string) ([]Dispute, error) {
	return e.store.listForUser(ctx, userID)
}
