package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/pkg/constants"
	apperrors "github.com/approveflow/backend/pkg/errors"
)

// fakeDelegateStore is a minimal in-memory DelegateStore.
type fakeDelegateStore struct {
	mu        sync.Mutex
	delegates map[string]*models.Delegate
	order     []string
	logs      []*models.DelegateLog
}

func newFakeDelegateStore() *fakeDelegateStore {
	return &fakeDelegateStore{delegates: make(map[string]*models.Delegate)}
}

func (s *fakeDelegateStore) InsertDelegate(ctx context.Context, d *models.Delegate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.delegates[d.ID] = d
	s.order = append(s.order, d.ID)
	return nil
}

func (s *fakeDelegateStore) UpdateDelegate(ctx context.Context, d *models.Delegate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.delegates[d.ID]; !ok {
		return fmt.Errorf("delegate %q not found", d.ID)
	}
	s.delegates[d.ID] = d
	return nil
}

func (s *fakeDelegateStore) GetDelegate(ctx context.Context, id string) (*models.Delegate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.delegates[id], nil
}

func (s *fakeDelegateStore) ListDelegatesByUser(ctx context.Context, userID string) ([]*models.Delegate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Delegate
	for _, id := range s.order {
		if d := s.delegates[id]; d.UserID == userID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeDelegateStore) ListActiveDelegates(ctx context.Context, userID string, asOf time.Time) ([]*models.Delegate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Delegate
	// Most recently created first.
	for i := len(s.order) - 1; i >= 0; i-- {
		d := s.delegates[s.order[i]]
		if d.UserID == userID && d.CoversDate(asOf) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeDelegateStore) AppendDelegateLog(ctx context.Context, entry *models.DelegateLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logs = append(s.logs, entry)
	return nil
}

func (s *fakeDelegateStore) GetDelegateLogByTask(ctx context.Context, taskID string) (*models.DelegateLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, l := range s.logs {
		if l.TaskID == taskID {
			return l, nil
		}
	}
	return nil, nil
}

func delegateFixture() (*DelegateService, *fakeDelegateStore, time.Time) {
	store := newFakeDelegateStore()
	svc := NewDelegateService(store)
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }
	return svc, store, now
}

func span(now time.Time, fromDays, toDays int) (time.Time, time.Time) {
	return now.AddDate(0, 0, fromDays), now.AddDate(0, 0, toDays)
}

func TestDelegateCreateValidation(t *testing.T) {
	svc, _, now := delegateFixture()
	start, end := span(now, 0, 5)

	tests := []struct {
		name     string
		delegate models.Delegate
	}{
		{"self delegation", models.Delegate{UserID: "u1", DelegateID: "u1", Scope: constants.DelegateScopeAll, StartDate: start, EndDate: end}},
		{"inverted range", models.Delegate{UserID: "u1", DelegateID: "u2", Scope: constants.DelegateScopeAll, StartDate: end, EndDate: start}},
		{"entirely past", models.Delegate{UserID: "u1", DelegateID: "u2", Scope: constants.DelegateScopeAll, StartDate: now.AddDate(0, 0, -10), EndDate: now.AddDate(0, 0, -5)}},
		{"missing delegate", models.Delegate{UserID: "u1", Scope: constants.DelegateScopeAll, StartDate: start, EndDate: end}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.delegate
			err := svc.Create(context.Background(), &d)
			assert.True(t, apperrors.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestDelegateCreateRejectsOverlap(t *testing.T) {
	svc, _, now := delegateFixture()
	start, end := span(now, 0, 5)

	first := &models.Delegate{UserID: "u1", DelegateID: "u2", Scope: constants.DelegateScopeAll, StartDate: start, EndDate: end}
	require.NoError(t, svc.Create(context.Background(), first))

	// Same user, intersecting range: ALL overlaps everything.
	second := &models.Delegate{UserID: "u1", DelegateID: "u3", Scope: constants.DelegateScopeTemplate, ScopeIDs: []string{"expense"}, StartDate: start.AddDate(0, 0, 3), EndDate: end.AddDate(0, 0, 3)}
	err := svc.Create(context.Background(), second)
	assert.True(t, apperrors.IsStateConflict(err), "expected conflict, got %v", err)

	// Disjoint range is fine.
	third := &models.Delegate{UserID: "u1", DelegateID: "u3", Scope: constants.DelegateScopeAll, StartDate: end.AddDate(0, 0, 1), EndDate: end.AddDate(0, 0, 7)}
	assert.NoError(t, svc.Create(context.Background(), third))
}

func TestEffectiveAssigneeSpecificity(t *testing.T) {
	svc, _, now := delegateFixture()
	start, end := span(now, -1, 5)

	all := &models.Delegate{UserID: "u1", DelegateID: "fallback", Scope: constants.DelegateScopeAll, StartDate: start, EndDate: end}
	require.NoError(t, svc.Create(context.Background(), all))
	// Deactivate so the template-scoped config can be created, then re-enable
	// both to exercise specificity (overlap guard only applies at creation).
	tpl := &models.Delegate{UserID: "u1", DelegateID: "expense-guy", Scope: constants.DelegateScopeTemplate, ScopeIDs: []string{"expense"}, StartDate: end.AddDate(0, 0, 1), EndDate: end.AddDate(0, 0, 7)}
	require.NoError(t, svc.Create(context.Background(), tpl))
	tpl.StartDate, tpl.EndDate = start, end

	got, matched, err := svc.EffectiveAssignee(context.Background(), "u1", "expense", "finance")
	require.NoError(t, err)
	assert.Equal(t, "expense-guy", got)
	require.NotNil(t, matched)
	assert.Equal(t, tpl.ID, matched.ID)

	// Non-matching template falls back to ALL scope.
	got, matched, err = svc.EffectiveAssignee(context.Background(), "u1", "leave", "hr")
	require.NoError(t, err)
	assert.Equal(t, "fallback", got)
	require.NotNil(t, matched)

	// No config for another user.
	got, matched, err = svc.EffectiveAssignee(context.Background(), "u2", "expense", "finance")
	require.NoError(t, err)
	assert.Equal(t, "u2", got)
	assert.Nil(t, matched)
}

func TestDeactivatePermissions(t *testing.T) {
	svc, store, now := delegateFixture()
	start, end := span(now, 0, 5)

	d := &models.Delegate{UserID: "u1", DelegateID: "u2", Scope: constants.DelegateScopeAll, StartDate: start, EndDate: end}
	require.NoError(t, svc.Create(context.Background(), d))

	err := svc.Deactivate(context.Background(), d.ID, &models.UserSession{ID: "stranger"})
	assert.True(t, apperrors.IsPermission(err))

	require.NoError(t, svc.Deactivate(context.Background(), d.ID, &models.UserSession{ID: "u1"}))
	assert.False(t, store.delegates[d.ID].Active)

	// Admin can deactivate anyone's config; repeated calls are no-ops.
	assert.NoError(t, svc.Deactivate(context.Background(), d.ID, &models.UserSession{ID: "admin", IsAdmin: true}))
}
