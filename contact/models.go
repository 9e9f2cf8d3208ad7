package contact

import "time"

// Status represents the lifecycle of a contact request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Contact is an undirected-intent relation between a requester and a
// recipient identified by email. The recipient may not hold an account yet;
// RecipientUserID stays nil until they respond. The recipient email is
// persisted only as ciphertext plus its search token.
type Contact struct {
	ID              string
	RequesterID     string
	RecipientUserID *string
	RecipientEmail  string
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
