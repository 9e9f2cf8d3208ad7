package dispute

import "testing"

func TestRoundTally_Complete(t *testing.T) {
	cases := []struct {
		name  string
		tally roundTally
		want  bool
	}{
		{"all accepted responded", roundTally{StillInvited: 0, TotalAccepted: 2, RespondedAccepted: 2}, true},
		{"single responder", roundTally{StillInvited: 0, TotalAccepted: 1, RespondedAccepted: 1}, true},
		{"missing response", roundTally{StillInvited: 0, TotalAccepted: 2, RespondedAccepted: 1}, false},
		{"pending invitation blocks completion", roundTally{StillInvited: 1, TotalAccepted: 2, RespondedAccepted: 2}, false},
		{"zero responders never complete", roundTally{StillInvited: 0, TotalAccepted: 0, RespondedAccepted: 0}, false},
		{"invited only", roundTally{StillInvited: 3, TotalAccepted: 0, RespondedAccepted: 0}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.tally.Complete(); got != tc.want {
				t.Fatalf("Complete() = %v, want %v for %+v", got, tc.want, tc.tally)
			}
		})
	}
}

func TestVoteTally_Outcome(t *testing.T) {
	cases := []struct {
		name  string
		tally voteTally
		want  voteOutcome
	}{
		{"votes outstanding", voteTally{TotalAccepted: 3, VotesIn: 2, Satisfied: 2}, outcomeAwaitVotes},
		{"unanimous satisfaction concludes", voteTally{TotalAccepted: 3, VotesIn: 3, Satisfied: 3}, outcomeConcluded},
		{"one unsatisfied opens next round", voteTally{TotalAccepted: 3, VotesIn: 3, Satisfied: 2}, outcomeNextRound},
		{"all unsatisfied opens next round", voteTally{TotalAccepted: 2, VotesIn: 2, Satisfied: 0}, outcomeNextRound},
		{"no accepted participants never decides", voteTally{TotalAccepted: 0, VotesIn: 0, Satisfied: 0}, outcomeAwaitVotes},
		{"more votes than roster never decides", voteTally{TotalAccepted: 2, VotesIn: 3, Satisfied: 2}, outcomeAwaitVotes},
		{"single participant satisfied", voteTally{TotalAccepted: 1, VotesIn: 1, Satisfied: 1}, outcomeConcluded},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.tally.Outcome(); got != tc.want {
				t.Fatalf("Outcome() = %v, want %v for %+v", got, tc.want, tc.tally)
			}
		})
	}
}
