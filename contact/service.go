package contact

import "context"

// RequestResult reports whether the addressee already holds an account, so
// the application layer can decide to send a signup invitation instead of an
// in-app notification.
type RequestResult struct {
	Contact         Contact
	RecipientExists bool
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Request(ctx context.Context, requesterID, recipientEmail string) (RequestResult, error) {
	rec, err := s.repo.Create(ctx, requesterID, recipientEmail)
	if err != nil {
		return RequestResult{}, err
	}
	return RequestResult{
		Contact:         rec,
		RecipientExists: rec.RecipientUserID != nil,
	}, nil
}

func (s *Service) Respond(ctx context.Context, contactID, userID, userEmail string, accept bool) (Contact, error) {
	return s.repo.Respond(ctx, contactID, userID, userEmail, accept)
}

func (s *Service) List(ctx context.Context, userID, userEmail string) ([]Contact, error) {
	return s.repo.ListForUser(ctx, userID, userEmail)
}

func (s *Service) AcceptedBetween(ctx context.Context, userID, otherUserID string) (bool, error) {
	return s.repo.AcceptedBetween(ctx, userID, otherUserID)
}
