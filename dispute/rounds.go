package dispute

// roundTally holds the participant/response counts that decide whether a
// round is closed and ready for arbitration.
type roundTally struct {
	StillInvited      int
	TotalAccepted     int
	RespondedAccepted int
}

// Complete reports whether the round may close. All three conjuncts are
// required: an unresolved invitation must never let a round complete, and a
// round with zero accepted responders must never auto-complete.
func (t roundTally) Complete() bool {
	return t.StillInvited == 0 &&
		t.TotalAccepted == t.RespondedAccepted &&
		t.RespondedAccepted > 0
}

// voteTally holds the satisfaction counts for a round.
type voteTally struct {
	TotalAccepted int
	VotesIn       int
	Satisfied     int
}

// voteOutcome is the decision produced by a full set of satisfaction votes.
type voteOutcome int

const (
	outcomeAwaitVotes voteOutcome = iota
	outcomeConcluded
	outcomeNextRound
)

// Outcome decides what a satisfaction tally means. A transition happens only
// when the vote count matches the accepted roster exactly; a tally that
// disagrees with the roster never decides the round. Unanimity concludes the
// dispute and anything less opens the next round.
func (t voteTally) Outcome() voteOutcome {
	if t.TotalAccepted == 0 || t.VotesIn != t.TotalAccepted {
		return outcomeAwaitVotes
	}
	if t.Satisfied == t.TotalAccepted {
		return outcomeConcluded
	}
	return outcomeNextRound
}
