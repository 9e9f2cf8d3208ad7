package dispute

import (
	"context"
	"errors"
	"testing"
)

// Creation input checks run before any storage access, so a bare engine is
// enough to exercise them.
func TestCreateDispute_InputValidation(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	ctx := context.Background()

	if _, err := e.CreateDispute(ctx, "creator", "Deposit dispute", nil); !errors.Is(err, ErrNoParticipants) {
		t.Fatalf("expected ErrNoParticipants, got %v", err)
	}
	if _, err := e.CreateDispute(ctx, "creator", "", []string{"other"}); !errors.Is(err, ErrTitleRequired) {
		t.Fatalf("expected ErrTitleRequired, got %v", err)
	}
}
