package services

import (
	"context"
	"log"
	"time"

	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/internal/domain/ports"
	apperrors "github.com/approveflow/backend/pkg/errors"
	"github.com/approveflow/backend/pkg/utils"
)

// DelegateService manages out-of-office delegation configs and applies them
// during task assignment.
type DelegateService struct {
	store ports.DelegateStore
	now   func() time.Time
}

// NewDelegateService creates a new DelegateService
func NewDelegateService(store ports.DelegateStore) *DelegateService {
	return &DelegateService{store: store, now: time.Now}
}

// Create validates and stores a new delegation config. Overlapping configs
// (same user, intersecting date range, intersecting scope) are rejected so
// assignment-time resolution stays deterministic.
func (s *DelegateService) Create(ctx context.Context, d *models.Delegate) error {
	if d.UserID == "" || d.DelegateID == "" {
		return apperrors.NewValidationError("delegate", "user and delegate are required")
	}
	if d.UserID == d.DelegateID {
		return apperrors.NewValidationError("delegate_id", "cannot delegate to yourself")
	}
	if d.EndDate.Before(d.StartDate) {
		return apperrors.NewValidationError("end_date", "end date is before start date")
	}
	if d.EndDate.Before(s.now()) {
		return apperrors.NewValidationError("end_date", "date range is entirely in the past")
	}

	existing, err := s.store.ListDelegatesByUser(ctx, d.UserID)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if !other.Active {
			continue
		}
		if d.OverlapsRange(other) && d.OverlapsScope(other) {
			return apperrors.NewStateConflictError("delegate", other.ID, "overlaps an existing delegation for the same scope and date range")
		}
	}

	if d.ID == "" {
		d.ID = utils.GenerateID()
	}
	d.Active = true
	d.CreatedAt = s.now()

	if err := s.store.InsertDelegate(ctx, d); err != nil {
		return err
	}
	log.Printf("✅ Delegate created: %s -> %s (%s, %s..%s)", d.UserID, d.DelegateID, d.Scope,
		d.StartDate.Format("2006-01-02"), d.EndDate.Format("2006-01-02"))
	return nil
}

// Deactivate cancels a delegation config. Only the owning user (or an admin)
// may do so; already-assigned tasks are not reassigned back.
func (s *DelegateService) Deactivate(ctx context.Context, id string, operator *models.UserSession) error {
	d, err := s.store.GetDelegate(ctx, id)
	if err != nil {
		return err
	}
	if d == nil {
		return apperrors.NewNotFoundError("delegate", id)
	}
	if d.UserID != operator.ID && !operator.IsAdmin {
		return apperrors.NewPermissionError("deactivate", "delegate")
	}
	if !d.Active {
		return nil
	}
	d.Active = false
	return s.store.UpdateDelegate(ctx, d)
}

// ListByUser returns all of a user's delegation configs.
func (s *DelegateService) ListByUser(ctx context.Context, userID string) ([]*models.Delegate, error) {
	return s.store.ListDelegatesByUser(ctx, userID)
}

// EffectiveAssignee resolves who actually receives a task intended for
// userID. When an active config matches the template/category, the delegate
// is substituted and the matched config returned; otherwise the original
// user stands. Ties on specificity go to the most recently created config.
func (s *DelegateService) EffectiveAssignee(ctx context.Context, userID, templateCode, category string) (string, *models.Delegate, error) {
	asOf := s.now()
	configs, err := s.store.ListActiveDelegates(ctx, userID, asOf)
	if err != nil {
		return "", nil, err
	}

	var best *models.Delegate
	bestSpec := 0
	for _, d := range configs {
		if !d.CoversDate(asOf) {
			continue
		}
		spec := d.MatchScope(templateCode, category)
		if spec > bestSpec {
			best = d
			bestSpec = spec
		}
	}
	if best == nil {
		return userID, nil, nil
	}
	return best.DelegateID, best, nil
}

// RecordSubstitution logs one exercised substitution for audit.
func (s *DelegateService) RecordSubstitution(ctx context.Context, d *models.Delegate, task *models.Task, originalID string) error {
	return s.store.AppendDelegateLog(ctx, &models.DelegateLog{
		ID:          utils.GenerateID(),
		DelegateID:  d.ID,
		TaskID:      task.ID,
		InstanceID:  task.InstanceID,
		OriginalID:  originalID,
		EffectiveID: d.DelegateID,
		CreatedAt:   s.now(),
	})
}
