package services

import (
	"time"

	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/pkg/constants"
)

// countersignTally is the pure per-node vote computation. It only looks at
// tasks of one (instance, node); the caller fetches them transactionally.
type countersignTally struct {
	total       int
	approved    int
	rejected    int
	pending     int
	pendingMain int // Pending excluding ADDED_AFTER stage
	afterDone   bool
}

// tallyNodeTasks aggregates the countable tasks at a node. Transferred,
// delegated and cancelled tasks do not vote; their replacements do.
func tallyNodeTasks(tasks []*models.Task) countersignTally {
	t := countersignTally{afterDone: true}
	for _, task := range tasks {
		if task.Type == constants.TaskTypeCC {
			continue
		}
		switch task.Status {
		case constants.TaskStatusTransferred,
			constants.TaskStatusDelegated,
			constants.TaskStatusCancelled:
			continue
		}

		t.total++
		switch task.Status {
		case constants.TaskStatusPending:
			t.pending++
			if task.Source == constants.AssignSourceAddedAfter {
				t.afterDone = false
			} else {
				t.pendingMain++
			}
		case constants.TaskStatusSkipped:
			// Counts toward total but neither approves nor rejects.
		default:
			switch task.Action {
			case constants.TaskActionApprove:
				t.approved++
			case constants.TaskActionReject, constants.TaskActionReturn:
				t.rejected++
			}
		}
	}
	return t
}

// mainSatisfied reports whether the node's main-stage approval requirement
// is met, ignoring ADDED_AFTER tasks. The moment this turns true, queued
// after-approvers become eligible.
func (t countersignTally) mainSatisfied(mode string) bool {
	switch mode {
	case constants.ApprovalModeOrSign:
		return t.approved >= 1
	default:
		// SINGLE, AND_SIGN, SEQUENTIAL: everyone countable approved.
		return t.pendingMain == 0 && t.rejected == 0
	}
}

// nodeSatisfied reports whether the node is fully done. ADDED_AFTER tasks
// gate completion in every mode: an after-approver must act even when the
// main stage is already decided.
func (t countersignTally) nodeSatisfied(mode string) bool {
	return t.mainSatisfied(mode) && t.afterDone
}

// nodeFailed reports whether the node's requirement can no longer be met.
func (t countersignTally) nodeFailed(mode string) bool {
	switch mode {
	case constants.ApprovalModeOrSign:
		return t.pending == 0 && t.approved == 0
	default:
		return t.rejected >= 1
	}
}

// toResult snapshots the tally into the stored aggregate row.
func (t countersignTally) toResult(instanceID, nodeID, mode string, now time.Time) *models.CountersignResult {
	final := constants.CountersignPending
	if t.nodeFailed(mode) {
		final = constants.CountersignFailed
	} else if t.nodeSatisfied(mode) {
		final = constants.CountersignPassed
	}
	return &models.CountersignResult{
		InstanceID:  instanceID,
		NodeID:      nodeID,
		Total:       t.total,
		Approved:    t.approved,
		Rejected:    t.rejected,
		Pending:     t.pending,
		FinalResult: final,
		UpdatedAt:   now,
	}
}

// nextSequentialTask returns the lowest-ordered pending main-stage task, used
// to enforce turn order under SEQUENTIAL mode. Nil when none remain.
func nextSequentialTask(tasks []*models.Task) *models.Task {
	var next *models.Task
	for _, task := range tasks {
		if !task.IsOpen() || task.Source == constants.AssignSourceAddedAfter {
			continue
		}
		if next == nil || task.OrderInNode < next.OrderInNode {
			next = task
		}
	}
	return next
}
