package dispute

import "time"

// Status represents the lifecycle of a dispute. Incomplete and evaluated are
// the two non-terminal states; the rest are terminal.
type Status string

const (
	StatusIncomplete Status = "incomplete"
	StatusEvaluated  Status = "evaluated"
	StatusConcluded  Status = "concluded"
	StatusCancelled  Status = "cancelled"
	StatusRejected   Status = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusConcluded, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// ParticipantStatus tracks a participant's invitation state.
type ParticipantStatus string

const (
	ParticipantInvited  ParticipantStatus = "invited"
	ParticipantAccepted ParticipantStatus = "accepted"
	ParticipantRejected ParticipantStatus = "rejected"
)

// Dispute mirrors the disputes table. Title is plaintext in memory only.
type Dispute struct {
	ID           string
	CreatorID    string
	Title        string
	Status       Status
	CurrentRound int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Participant joins a user to a dispute.
type Participant struct {
	ID        string
	DisputeID string
	UserID    string
	Name      string
	Status    ParticipantStatus
	CreatedAt time.Time
}

// Response is one participant's narrative for one round.
type Response struct {
	UserID    string
	Round     int
	Body      string
	UpdatedAt time.Time
}

// Verdict is the generated arbitration text for one round.
type Verdict struct {
	Round     int
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SatisfactionVote records a participant's reaction to a round's verdict.
type SatisfactionVote struct {
	UserID      string
	Round       int
	IsSatisfied bool
	UpdatedAt   time.Time
}

// Round groups everything that happened in one response/verdict/vote cycle.
type Round struct {
	Number    int
	Responses []Response
	Verdict   *Verdict
	Votes     []SatisfactionVote
}

// Detail is the fully decrypted snapshot returned to participants.
type Detail struct {
	Dispute      Dispute
	Participants []Participant
	Rounds       []Round
}

// ResponseResult reports the committed state after a response submission.
type ResponseResult struct {
	RoundCompleted bool
	CurrentRound   int
	Status         Status
}

// SatisfactionResult reports the committed state after a satisfaction vote.
// AllSatisfied is meaningful only once every accepted participant has voted,
// which is exactly when Status leaves evaluated.
type SatisfactionResult struct {
	Status       Status
	CurrentRound int
	AllSatisfied bool
}
