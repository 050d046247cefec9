package models

import (
	"time"

	"github.com/approveflow/backend/pkg/constants"
)

// Delegate is a time-bounded substitution rule: while active, tasks for
// UserID are assigned to DelegateID instead.
type Delegate struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	DelegateID string `json:"delegate_id"`

	Scope    string   `json:"scope"`               // ALL, TEMPLATE, CATEGORY
	ScopeIDs []string `json:"scope_ids,omitempty"` // Template codes or category names when scoped

	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Active    bool      `json:"active"`

	// NotifyOriginal sends the original user a notice after the delegate
	// acts (not at assignment time).
	NotifyOriginal bool `json:"notify_original"`

	CreatedAt time.Time `json:"created_at"`
}

// CoversDate reports whether the delegate's active range contains t
// (inclusive on both ends).
func (d *Delegate) CoversDate(t time.Time) bool {
	return d.Active && !t.Before(d.StartDate) && !t.After(d.EndDate)
}

// MatchScope reports whether the delegate applies to the given template code
// and category, and with which specificity. Higher specificity wins:
// TEMPLATE(3) > CATEGORY(2) > ALL(1); 0 means no match.
func (d *Delegate) MatchScope(templateCode, category string) int {
	switch d.Scope {
	case constants.DelegateScopeTemplate:
		for _, id := range d.ScopeIDs {
			if id == templateCode {
				return 3
			}
		}
		return 0
	case constants.DelegateScopeCategory:
		for _, id := range d.ScopeIDs {
			if id != "" && id == category {
				return 2
			}
		}
		return 0
	case constants.DelegateScopeAll:
		return 1
	default:
		return 0
	}
}

// OverlapsScope reports whether two delegate configs could both match some
// request. Used to enforce the no-overlapping-ranges invariant at creation.
func (d *Delegate) OverlapsScope(other *Delegate) bool {
	if d.Scope == constants.DelegateScopeAll || other.Scope == constants.DelegateScopeAll {
		return true
	}
	if d.Scope != other.Scope {
		// TEMPLATE and CATEGORY scopes select on different axes; a template
		// always has a category, so they can collide.
		return true
	}
	for _, a := range d.ScopeIDs {
		for _, b := range other.ScopeIDs {
			if a == b {
				return true
			}
		}
	}
	return false
}

// OverlapsRange reports whether the active date ranges intersect.
func (d *Delegate) OverlapsRange(other *Delegate) bool {
	return !d.EndDate.Before(other.StartDate) && !other.EndDate.Before(d.StartDate)
}

// DelegateLog records one substitution actually exercised, linking the task,
// both users and the originating config.
type DelegateLog struct {
	ID          string    `json:"id"`
	DelegateID  string    `json:"delegate_id"` // Delegate config id
	TaskID      string    `json:"task_id"`
	InstanceID  string    `json:"instance_id"`
	OriginalID  string    `json:"original_id"`
	EffectiveID string    `json:"effective_id"`
	CreatedAt   time.Time `json:"created_at"`
}
