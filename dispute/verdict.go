package dispute

import (
	"context"
	"errors"
	"fmt"
)

// ErrVerdictGeneration wraps failures from the external generator. The
// evaluated transition is already durable when this is returned; callers
// retry via RegenerateVerdict.
var ErrVerdictGeneration = errors.New("dispute: verdict generation failed")

// Account is one participant's narrative as seen by the generator.
type Account struct {
	Round           int
	ParticipantName string
	Body            string
}

// VerdictContext is the fully decrypted input handed to the generator. The
// generator has no knowledge of encryption.
type VerdictContext struct {
	Title       string
	CreatorName string
	Accounts    []Account
}

// VerdictGenerator produces arbitration text for a round. Implementations
// are external (typically a language model behind an API) and may be slow;
// the engine never calls them while holding a dispute transaction.
type VerdictGenerator interface {
	Generate(ctx context.Context, vc VerdictContext) (string, error)
}

// buildVerdictContext assembles the decrypted accounts across all rounds up
// to and including round, ordered by round then submission time.
func (e *Engine) buildVerdictContext(ctx context.Context, d Dispute, round int) (VerdictContext, error) {
	participants, err := e.store.listParticipants(ctx, d.ID)
	if err != nil {
		return VerdictContext{}, err
	}
	names := make(map[string]string, len(participants))
	creatorName := ""
	for _, p := range participants {
		names[p.UserID] = p.Name
		if p.UserID == d.CreatorID {
			creatorName = p.Name
		}
	}

	rounds, err := e.store.loadRounds(ctx, d.ID, round)
	if err != nil {
		return VerdictContext{}, err
	}

	vc := VerdictContext{
		Title:       d.Title,
		CreatorName: creatorName,
	}
	for _, r := range rounds {
		for _, resp := range r.Responses {
			vc.Accounts = append(vc.Accounts, Account{
				Round:           resp.Round,
				ParticipantName: names[resp.UserID],
				Body:            resp.Body,
			})
		}
	}
	return vc, nil
}

// generateVerdict runs the external generator for one round and upserts the
// result. It is invoked only after the evaluated transition has committed,
// so a failure leaves the dispute evaluated with no verdict row and a retry
// simply overwrites on the (dispute, round) key.
func (e *Engine) generateVerdict(ctx context.Context, d Dispute, round int) error {
	if e.verdicts == nil {
		return fmt.Errorf("%w: no generator configured", ErrVerdictGeneration)
	}

	vc, err := e.buildVerdictContext(ctx, d, round)
	if err != nil {
		return err
	}

	text, err := e.verdicts.Generate(ctx, vc)
	if err != nil {
		return fmt.Errorf("%w: round %d: %v", ErrVerdictGeneration, round, err)
	}

	return e.store.upsertVerdict(ctx, d.ID, round, text)
}
