package services

import (
	"context"
	"log"

	"github.com/approveflow/backend/internal/domain"
	"github.com/approveflow/backend/internal/domain/events"
	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/pkg/constants"
	apperrors "github.com/approveflow/backend/pkg/errors"
)

// DelegateActedPayload notifies the original assignee after their delegate
// acted on a task.
type DelegateActedPayload struct {
	Instance   *models.Instance `json:"instance"`
	Task       *models.Task     `json:"task"`
	OriginalID string           `json:"original_id"`
}

// Approve completes a pending task with an approval vote and advances the
// node when its completion policy is satisfied.
func (e *WorkflowExecutor) Approve(ctx context.Context, taskID string, operator *models.UserSession, comment string) (*models.Instance, error) {
	var inst *models.Instance
	fx := &sideEffects{}
	err := e.store.RunInTransaction(ctx, func(txCtx context.Context) error {
		fx = &sideEffects{}
		task, loaded, expected, err := e.loadActionableTask(txCtx, taskID, operator)
		if err != nil {
			return err
		}
		inst = loaded
		node := inst.FlowSnapshot.NodeByID(task.NodeID)
		if node == nil {
			return apperrors.NewInternalError("task node missing from flow snapshot", nil)
		}

		tasks, err := e.store.ListTasksByNode(txCtx, inst.ID, node.ID)
		if err != nil {
			return err
		}
		if nodeMode(node) == constants.ApprovalModeSequential {
			if next := nextSequentialTask(tasks); next != nil && next.ID != task.ID {
				return apperrors.NewStateConflictError("task", task.ID, "an earlier approver in the sequence has not acted yet")
			}
		}

		e.completeTask(task, constants.TaskActionApprove, comment)
		if err := e.store.UpdateTask(txCtx, task); err != nil {
			return err
		}
		e.appendLog(txCtx, inst, task, constants.OpApprove, operator.ID, comment, inst.Status, node.ID)
		if err := e.notifyDelegateActed(txCtx, inst, task, fx); err != nil {
			return err
		}

		tally := tallyNodeTasks(refreshTask(tasks, task))
		mode := nodeMode(node)
		if err := e.store.UpsertCountersign(txCtx, tally.toResult(inst.ID, node.ID, mode, e.now())); err != nil {
			return err
		}

		if tally.nodeSatisfied(mode) {
			if err := e.completeNode(txCtx, inst, node, fx); err != nil {
				return err
			}
		} else if tally.mainSatisfied(mode) {
			// Main stage done; queued after-approvers become eligible.
			if err := e.notifyEligibleTasks(txCtx, inst, refreshTask(tasks, task), fx); err != nil {
				return err
			}
		} else if mode == constants.ApprovalModeSequential {
			// The next approver in the sequence becomes eligible now.
			if next := nextSequentialTask(refreshTask(tasks, task)); next != nil {
				if err := e.notifyEligibleTask(txCtx, inst, next, fx); err != nil {
					return err
				}
			}
		}

		return e.writeInstance(txCtx, inst, expected)
	})
	if err != nil {
		return nil, err
	}

	fx.flush(ctx, e.events)
	log.Printf("✅ Task approved: %s by %s, instance %s now %s", taskID, operator.ID, inst.ID, inst.Status)
	return inst, nil
}

// Reject completes a pending task with a rejection vote. A non-empty comment
// is mandatory. When the node's requirement can no longer be met, the node's
// reject policy decides where the instance goes.
func (e *WorkflowExecutor) Reject(ctx context.Context, taskID string, operator *models.UserSession, comment string) (*models.Instance, error) {
	if comment == "" {
		return nil, apperrors.NewValidationError("comment", "a rejection requires a comment")
	}

	var inst *models.Instance
	fx := &sideEffects{}
	err := e.store.RunInTransaction(ctx, func(txCtx context.Context) error {
		fx = &sideEffects{}
		task, loaded, expected, err := e.loadActionableTask(txCtx, taskID, operator)
		if err != nil {
			return err
		}
		inst = loaded
		node := inst.FlowSnapshot.NodeByID(task.NodeID)
		if node == nil {
			return apperrors.NewInternalError("task node missing from flow snapshot", nil)
		}

		e.completeTask(task, constants.TaskActionReject, comment)
		if err := e.store.UpdateTask(txCtx, task); err != nil {
			return err
		}
		e.appendLog(txCtx, inst, task, constants.OpReject, operator.ID, comment, inst.Status, node.ID)
		if err := e.notifyDelegateActed(txCtx, inst, task, fx); err != nil {
			return err
		}

		tasks, err := e.store.ListTasksByNode(txCtx, inst.ID, node.ID)
		if err != nil {
			return err
		}
		tally := tallyNodeTasks(tasks)
		mode := nodeMode(node)
		if err := e.store.UpsertCountersign(txCtx, tally.toResult(inst.ID, node.ID, mode, e.now())); err != nil {
			return err
		}

		if tally.nodeFailed(mode) {
			if err := e.applyRejectPolicy(txCtx, inst, node, operator, comment, fx); err != nil {
				return err
			}
		}
		return e.writeInstance(txCtx, inst, expected)
	})
	if err != nil {
		return nil, err
	}

	fx.flush(ctx, e.events)
	log.Printf("🔄 Task rejected: %s by %s, instance %s now %s", taskID, operator.ID, inst.ID, inst.Status)
	return inst, nil
}

// ReturnTo sends the instance back to an earlier node independent of the
// reject policy. The acting task completes with action=RETURN; the target
// node's tasks are created fresh.
func (e *WorkflowExecutor) ReturnTo(ctx context.Context, taskID, targetNodeID string, operator *models.UserSession, comment string) (*models.Instance, error) {
	var inst *models.Instance
	fx := &sideEffects{}
	err := e.store.RunInTransaction(ctx, func(txCtx context.Context) error {
		fx = &sideEffects{}
		task, loaded, expected, err := e.loadActionableTask(txCtx, taskID, operator)
		if err != nil {
			return err
		}
		inst = loaded
		flow := inst.FlowSnapshot
		node := flow.NodeByID(task.NodeID)
		if node == nil {
			return apperrors.NewInternalError("task node missing from flow snapshot", nil)
		}
		target := flow.NodeByID(targetNodeID)
		if target == nil {
			return apperrors.NewNotFoundError("node", targetNodeID)
		}
		if !flow.IsEarlier(targetNodeID, node.ID) {
			return apperrors.NewValidationError("target_node", "return target must be earlier in the flow")
		}

		e.completeTask(task, constants.TaskActionReturn, comment)
		if err := e.store.UpdateTask(txCtx, task); err != nil {
			return err
		}
		e.appendLog(txCtx, inst, task, constants.OpReturn, operator.ID, comment, inst.Status, node.ID)

		if err := e.reopenAt(txCtx, inst, target, fx); err != nil {
			return err
		}
		fx.publish(events.InstanceReturned, &InstanceEventPayload{Instance: inst, Operator: operator, Comment: comment})
		return e.writeInstance(txCtx, inst, expected)
	})
	if err != nil {
		return nil, err
	}

	fx.flush(ctx, e.events)
	return inst, nil
}

// applyRejectPolicy routes a decisively rejected node per its configuration.
func (e *WorkflowExecutor) applyRejectPolicy(txCtx context.Context, inst *models.Instance, node *models.NodeDefinition, operator *models.UserSession, comment string, fx *sideEffects) error {
	flow := inst.FlowSnapshot

	policy := node.RejectTo.Type
	if policy == "" {
		policy = constants.RejectToStart
	}

	switch policy {
	case constants.RejectToStart:
		return e.finalizeRejected(txCtx, inst, operator, comment, fx)

	case constants.RejectToPrev:
		prev := flow.PrevByOrder(node.Order)
		if prev == nil {
			return e.finalizeRejected(txCtx, inst, operator, comment, fx)
		}
		if err := e.reopenAt(txCtx, inst, prev, fx); err != nil {
			return err
		}
		fx.publish(events.InstanceReturned, &InstanceEventPayload{Instance: inst, Operator: operator, Comment: comment})
		return nil

	case constants.RejectToSpecific:
		target := flow.NodeByID(node.RejectTo.NodeID)
		if target == nil || !flow.IsEarlier(target.ID, node.ID) {
			return apperrors.NewValidationError("reject_to", "reject target must name an earlier node")
		}
		if err := e.reopenAt(txCtx, inst, target, fx); err != nil {
			return err
		}
		fx.publish(events.InstanceReturned, &InstanceEventPayload{Instance: inst, Operator: operator, Comment: comment})
		return nil

	case constants.RejectToNone:
		next, err := e.sm.Transition(domain.InstanceState(inst.Status), domain.TransitionTerminate)
		if err != nil {
			return apperrors.NewStateConflictError("instance", inst.ID, err.Error())
		}
		inst.Status = string(next)
		inst.CurrentNodeID = ""
		now := e.now()
		inst.CompletedAt = &now
		if err := e.cancelOpenTasks(txCtx, inst); err != nil {
			return err
		}
		fx.publish(events.InstanceTerminated, &InstanceEventPayload{Instance: inst, Operator: operator, Comment: comment})
		return nil

	default:
		return apperrors.NewValidationError("reject_to", "unknown reject policy "+policy)
	}
}

// finalizeRejected ends the instance as REJECTED.
func (e *WorkflowExecutor) finalizeRejected(txCtx context.Context, inst *models.Instance, operator *models.UserSession, comment string, fx *sideEffects) error {
	next, err := e.sm.Transition(domain.InstanceState(inst.Status), domain.TransitionReject)
	if err != nil {
		return apperrors.NewStateConflictError("instance", inst.ID, err.Error())
	}
	inst.Status = string(next)
	inst.CurrentNodeID = ""
	now := e.now()
	inst.CompletedAt = &now
	if err := e.cancelOpenTasks(txCtx, inst); err != nil {
		return err
	}

	if adapter := e.adapters.Get(inst.EntityType); adapter != nil && inst.EntityID != "" {
		captured := *inst
		fx.hook(func(hctx context.Context) error {
			return adapter.OnRejected(hctx, captured.EntityID, &captured)
		})
	}
	fx.publish(events.InstanceRejected, &InstanceEventPayload{Instance: inst, Operator: operator, Comment: comment})
	return nil
}

// reopenAt cancels every open task and re-enters an earlier node with fresh
// tasks. Prior task history stays in the audit log. An active parallel
// segment is abandoned wholesale.
func (e *WorkflowExecutor) reopenAt(txCtx context.Context, inst *models.Instance, target *models.NodeDefinition, fx *sideEffects) error {
	if err := e.cancelOpenTasks(txCtx, inst); err != nil {
		return err
	}
	inst.JoinExpected = 0
	inst.JoinArrived = 0

	cctx, err := e.contextFor(txCtx, inst)
	if err != nil {
		return err
	}
	return e.advanceInto(txCtx, inst, target, cctx, fx, 0)
}

// loadActionableTask fetches a task plus its instance and validates the
// shared preconditions of approve/reject/return: open task, live instance,
// acting user is the assignee.
func (e *WorkflowExecutor) loadActionableTask(txCtx context.Context, taskID string, operator *models.UserSession) (*models.Task, *models.Instance, int64, error) {
	task, err := e.store.GetTask(txCtx, taskID)
	if err != nil {
		return nil, nil, 0, err
	}
	if task == nil {
		return nil, nil, 0, apperrors.NewNotFoundError("task", taskID)
	}
	inst, err := e.store.GetInstance(txCtx, task.InstanceID)
	if err != nil {
		return nil, nil, 0, err
	}
	if inst == nil {
		return nil, nil, 0, apperrors.NewNotFoundError("instance", task.InstanceID)
	}
	if inst.Status != constants.InstanceStatusPending {
		return nil, nil, 0, apperrors.NewStateConflictError("instance", inst.ID, "instance is no longer pending ("+inst.Status+")")
	}
	if !task.IsOpen() {
		return nil, nil, 0, apperrors.NewStateConflictError("task", task.ID, "task already completed ("+task.Status+")")
	}
	if task.AssigneeID != operator.ID && operator.ID != constants.SystemOperatorID {
		return nil, nil, 0, apperrors.NewPermissionError("act on", "task")
	}
	if inst.FlowSnapshot == nil {
		return nil, nil, 0, apperrors.NewInternalError("instance has no flow snapshot", nil)
	}
	return task, inst, inst.Version, nil
}

func (e *WorkflowExecutor) completeTask(task *models.Task, action, comment string) {
	now := e.now()
	task.Status = constants.TaskStatusCompleted
	task.Action = action
	task.Comment = comment
	task.CompletedAt = &now
}

// notifyDelegateActed surfaces a post-hoc notice to the original assignee
// when a delegate finished their task and the config asks for it.
func (e *WorkflowExecutor) notifyDelegateActed(txCtx context.Context, inst *models.Instance, task *models.Task, fx *sideEffects) error {
	if task.Source != constants.AssignSourceDelegated {
		return nil
	}
	entry, err := e.store.GetDelegateLogByTask(txCtx, task.ID)
	if err != nil || entry == nil {
		return err
	}
	cfg, err := e.store.GetDelegate(txCtx, entry.DelegateID)
	if err != nil || cfg == nil || !cfg.NotifyOriginal {
		return err
	}
	fx.publish(events.DelegateActed, &DelegateActedPayload{Instance: inst, Task: task, OriginalID: entry.OriginalID})
	return nil
}

// notifyEligibleTasks notifies every still-pending, not-yet-notified task of
// the slice. At most one task transitions to eligible per operation in
// sequential mode; after-stage tasks can become eligible in a batch.
func (e *WorkflowExecutor) notifyEligibleTasks(txCtx context.Context, inst *models.Instance, tasks []*models.Task, fx *sideEffects) error {
	for _, t := range tasks {
		if !t.IsOpen() || t.NotifiedAt != nil {
			continue
		}
		if err := e.notifyEligibleTask(txCtx, inst, t, fx); err != nil {
			return err
		}
	}
	return nil
}

func (e *WorkflowExecutor) notifyEligibleTask(txCtx context.Context, inst *models.Instance, task *models.Task, fx *sideEffects) error {
	if task.NotifiedAt != nil {
		return nil
	}
	now := e.now()
	task.NotifiedAt = &now
	if err := e.store.UpdateTask(txCtx, task); err != nil {
		return err
	}
	fx.publish(events.TaskCreated, &TaskEventPayload{Instance: inst, Task: task})
	return nil
}

// refreshTask swaps the updated task into a previously listed slice so the
// tally sees the new status without a re-read.
func refreshTask(tasks []*models.Task, updated *models.Task) []*models.Task {
	out := make([]*models.Task, len(tasks))
	for i, t := range tasks {
		if t.ID == updated.ID {
			out[i] = updated
		} else {
			out[i] = t
		}
	}
	return out
}
