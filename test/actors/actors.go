// Package actors contains the concurrent workloads used by the stress run.
// Each actor hammers one dispute through the engine API and treats guard
// rejections as expected contention, not failures.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"disputeflow/dispute"
)

func pause() {
	time.Sleep(time.Duration(5+rand.Intn(25)) * time.Millisecond)
}

func terminal(err error) bool {
	return errors.Is(err, dispute.ErrTerminalState) || errors.Is(err, dispute.ErrNotFound)
}

// Responder submits narratives for the current round in a tight loop.
// Resubmissions overwrite in place, so several responders racing on the same
// round exercise the exactly-once completion flip.
func Responder(ctx context.Context, eng *dispute.Engine, disputeID, userID string, stop <-chan struct{}) error {
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, err := eng.SubmitResponse(ctx, disputeID, userID, fmt.Sprintf("account %s #%d", userID, i))
		switch {
		case err == nil:
		case terminal(err):
			return nil
		case errors.Is(err, dispute.ErrNotIncomplete):
			// Round already closed; wait for the next one.
		case errors.Is(err, dispute.ErrVerdictGeneration):
			// Transition committed; generation is retried elsewhere.
		default:
			return fmt.Errorf("responder %s: %w", userID, err)
		}
		pause()
	}
}

// Voter casts unsatisfied votes, usually with a follow-up narrative, so the
// dispute keeps advancing rounds for the whole run.
func Voter(ctx context.Context, eng *dispute.Engine, disputeID, userID string, stop <-chan struct{}) error {
	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		followUp := ""
		if rand.Intn(2) == 0 {
			followUp = fmt.Sprintf("follow-up %s #%d", userID, i)
		}
		_, err := eng.SubmitSatisfaction(ctx, disputeID, userID, false, followUp)
		switch {
		case err == nil:
		case terminal(err):
			return nil
		case errors.Is(err, dispute.ErrNotEvaluated), errors.Is(err, dispute.ErrVerdictMissing):
			// Round still open or verdict not generated yet.
		case errors.Is(err, dispute.ErrVerdictGeneration):
		default:
			return fmt.Errorf("voter %s: %w", userID, err)
		}
		pause()
	}
}

// Reader fetches the decrypted snapshot continuously; any decryption or
// consistency failure surfaces as an error.
func Reader(ctx context.Context, eng *dispute.Engine, disputeID, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		detail, err := eng.GetDispute(ctx, disputeID, userID)
		switch {
		case err == nil:
			if detail.Dispute.CurrentRound < 1 {
				return fmt.Errorf("reader: round below 1: %d", detail.Dispute.CurrentRound)
			}
			if len(detail.Rounds) != detail.Dispute.CurrentRound {
				return fmt.Errorf("reader: %d rounds for current round %d", len(detail.Rounds), detail.Dispute.CurrentRound)
			}
		case terminal(err):
			return nil
		default:
			return fmt.Errorf("reader: %w", err)
		}
		pause()
	}
}

// Regenerator retries verdict generation whenever the dispute is awaiting
// votes, mimicking the recovery path after a generator outage.
func Regenerator(ctx context.Context, eng *dispute.Engine, disputeID, userID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		err := eng.RegenerateVerdict(ctx, disputeID, userID)
		switch {
		case err == nil:
		case terminal(err):
			return nil
		case errors.Is(err, dispute.ErrNotEvaluated):
		case errors.Is(err, dispute.ErrVerdictGeneration):
		default:
			return fmt.Errorf("regenerator: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}
