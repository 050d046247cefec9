package services

import (
	"context"

	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/internal/domain/ports"
)

// CarbonCopyService exposes the CC inbox: listing notices and marking them
// read. Notices are created by the executor as flows pass CC nodes.
type CarbonCopyService struct {
	store ports.CarbonCopyStore
}

// NewCarbonCopyService creates a new CarbonCopyService
func NewCarbonCopyService(store ports.CarbonCopyStore) *CarbonCopyService {
	return &CarbonCopyService{store: store}
}

// List returns a user's notices, newest first.
func (s *CarbonCopyService) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*models.CarbonCopy, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListCarbonCopiesByUser(ctx, userID, unreadOnly, limit)
}

// MarkRead flags a notice as read. Idempotent; only the notice owner can
// mark it (enforced by the store filtering on user id).
func (s *CarbonCopyService) MarkRead(ctx context.Context, id, userID string) error {
	return s.store.MarkCarbonCopyRead(ctx, id, userID)
}
