package services

import (
	"context"
	"fmt"
	"log"

	"github.com/approveflow/backend/internal/domain"
	"github.com/approveflow/backend/internal/domain/events"
	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/pkg/constants"
	apperrors "github.com/approveflow/backend/pkg/errors"
	"github.com/approveflow/backend/pkg/utils"
)

// Transfer hands a task to another user. The original task freezes as
// TRANSFERRED (it no longer votes); a replacement task opens at the same node
// and position.
func (e *WorkflowExecutor) Transfer(ctx context.Context, taskID, toUserID string, operator *models.UserSession, comment string) (*models.Task, error) {
	if toUserID == "" {
		return nil, apperrors.NewValidationError("to_user", "transfer target is required")
	}

	var replacement *models.Task
	fx := &sideEffects{}
	err := e.store.RunInTransaction(ctx, func(txCtx context.Context) error {
		fx = &sideEffects{}
		task, inst, expected, err := e.loadActionableTask(txCtx, taskID, operator)
		if err != nil {
			return err
		}
		node := inst.FlowSnapshot.NodeByID(task.NodeID)
		if node == nil {
			return apperrors.NewInternalError("task node missing from flow snapshot", nil)
		}
		if !node.CanTransfer {
			return apperrors.NewPermissionError("transfer", "task")
		}
		if toUserID == task.AssigneeID {
			return apperrors.NewValidationError("to_user", "task is already assigned to this user")
		}

		now := e.now()
		task.Status = constants.TaskStatusTransferred
		task.Comment = comment
		task.CompletedAt = &now
		if err := e.store.UpdateTask(txCtx, task); err != nil {
			return err
		}

		deptID, _ := e.directory.DepartmentOf(txCtx, toUserID)
		replacement = &models.Task{
			ID:           utils.GenerateID(),
			InstanceID:   inst.ID,
			NodeID:       task.NodeID,
			NodeName:     task.NodeName,
			Type:         task.Type,
			OrderInNode:  task.OrderInNode,
			AssigneeID:   toUserID,
			AssigneeDept: deptID,
			Weight:       task.Weight,
			Source:       constants.AssignSourceTransferred,
			Status:       constants.TaskStatusPending,
			DueAt:        e.dueTime(node, now),
			NotifiedAt:   &now,
			CreatedAt:    now,
		}
		if err := e.store.InsertTask(txCtx, replacement); err != nil {
			return err
		}

		e.appendLog(txCtx, inst, task, constants.OpTransfer, operator.ID,
			fmt.Sprintf("transferred to %s: %s", toUserID, comment), inst.Status, node.ID)
		fx.publish(events.TaskCreated, &TaskEventPayload{Instance: inst, Task: replacement})
		return e.writeInstance(txCtx, inst, expected)
	})
	if err != nil {
		return nil, err
	}

	fx.flush(ctx, e.events)
	log.Printf("🔄 Task transferred: %s -> %s by %s", taskID, toUserID, operator.ID)
	return replacement, nil
}

// AddApprovers inserts extra approvers relative to the acting task. BEFORE
// skips the acting task and the new approvers must clear first; AFTER queues
// them behind the node's normal completion.
func (e *WorkflowExecutor) AddApprovers(ctx context.Context, taskID string, approverIDs []string, position string, operator *models.UserSession, comment string) (*models.Instance, error) {
	if len(approverIDs) == 0 {
		return nil, apperrors.NewValidationError("approver_ids", "at least one approver is required")
	}
	if position != constants.AddPositionBefore && position != constants.AddPositionAfter {
		return nil, apperrors.NewValidationError("position", "position must be BEFORE or AFTER")
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
		if !node.CanAddApprover {
			return apperrors.NewPermissionError("add approver to", "task")
		}

		now := e.now()
		source, op := constants.AssignSourceAddedBefore, constants.OpAddApproverBefore
		if position == constants.AddPositionAfter {
			source, op = constants.AssignSourceAddedAfter, constants.OpAddApproverAfter
		}

		if position == constants.AddPositionBefore {
			// The acting approver steps aside until the added approvers clear.
			task.Status = constants.TaskStatusSkipped
			task.Comment = comment
			task.CompletedAt = &now
			if err := e.store.UpdateTask(txCtx, task); err != nil {
				return err
			}
		}

		for _, userID := range approverIDs {
			deptID, _ := e.directory.DepartmentOf(txCtx, userID)
			added := &models.Task{
				ID:           utils.GenerateID(),
				InstanceID:   inst.ID,
				NodeID:       node.ID,
				NodeName:     node.Name,
				Type:         task.Type,
				OrderInNode:  task.OrderInNode,
				AssigneeID:   userID,
				AssigneeDept: deptID,
				Weight:       1,
				Source:       source,
				Status:       constants.TaskStatusPending,
				DueAt:        e.dueTime(node, now),
				CreatedAt:    now,
			}
			// BEFORE approvers act immediately; AFTER approvers wait for the
			// main stage and are notified when it clears.
			if position == constants.AddPositionBefore {
				added.NotifiedAt = &now
				fx.publish(events.TaskCreated, &TaskEventPayload{Instance: inst, Task: added})
			}
			if err := e.store.InsertTask(txCtx, added); err != nil {
				return err
			}
		}

		e.appendLog(txCtx, inst, task, op, operator.ID, comment, inst.Status, node.ID)

		tasks, err := e.store.ListTasksByNode(txCtx, inst.ID, node.ID)
		if err != nil {
			return err
		}
		if err := e.store.UpsertCountersign(txCtx, tallyNodeTasks(tasks).toResult(inst.ID, node.ID, nodeMode(node), now)); err != nil {
			return err
		}
		return e.writeInstance(txCtx, inst, expected)
	})
	if err != nil {
		return nil, err
	}

	fx.flush(ctx, e.events)
	return inst, nil
}

// Withdraw pulls a pending instance back. Initiator only.
func (e *WorkflowExecutor) Withdraw(ctx context.Context, instanceID string, operator *models.UserSession) (*models.Instance, error) {
	var inst *models.Instance
	fx := &sideEffects{}
	err := e.store.RunInTransaction(ctx, func(txCtx context.Context) error {
		fx = &sideEffects{}
		loaded, err := e.store.GetInstance(txCtx, instanceID)
		if err != nil {
			return err
		}
		if loaded == nil {
			return apperrors.NewNotFoundError("instance", instanceID)
		}
		inst = loaded
		if inst.InitiatorID != operator.ID {
			return apperrors.NewPermissionError("withdraw", "instance")
		}
		expected := inst.Version

		before := inst.Status
		next, err := e.sm.Transition(domain.InstanceState(inst.Status), domain.TransitionWithdraw)
		if err != nil {
			return apperrors.NewStateConflictError("instance", inst.ID, err.Error())
		}
		inst.Status = string(next)
		beforeNode := inst.CurrentNodeID
		inst.CurrentNodeID = ""
		inst.JoinExpected, inst.JoinArrived = 0, 0
		now := e.now()
		inst.CompletedAt = &now

		if err := e.cancelOpenTasks(txCtx, inst); err != nil {
			return err
		}
		e.appendLog(txCtx, inst, nil, constants.OpWithdraw, operator.ID, "", before, beforeNode)

		if adapter := e.adapters.Get(inst.EntityType); adapter != nil && inst.EntityID != "" {
			captured := *inst
			fx.hook(func(hctx context.Context) error {
				return adapter.OnWithdrawn(hctx, captured.EntityID, &captured)
			})
		}
		fx.publish(events.InstanceWithdrawn, &InstanceEventPayload{Instance: inst, Operator: operator})
		return e.writeInstance(txCtx, inst, expected)
	})
	if err != nil {
		return nil, err
	}

	fx.flush(ctx, e.events)
	log.Printf("✅ Instance withdrawn: %s by %s", instanceID, operator.ID)
	return inst, nil
}

// Terminate is the administrative kill switch, allowed from any non-terminal
// state. The comment is mandatory: an audit row without a reason is useless.
func (e *WorkflowExecutor) Terminate(ctx context.Context, instanceID string, operator *models.UserSession, comment string) (*models.Instance, error) {
	if comment == "" {
		return nil, apperrors.NewValidationError("comment", "termination requires a comment")
	}
	if !operator.IsAdmin {
		return nil, apperrors.NewPermissionError("terminate", "instance")
	}

	var inst *models.Instance
	fx := &sideEffects{}
	err := e.store.RunInTransaction(ctx, func(txCtx context.Context) error {
		fx = &sideEffects{}
		loaded, err := e.store.GetInstance(txCtx, instanceID)
		if err != nil {
			return err
		}
		if loaded == nil {
			return apperrors.NewNotFoundError("instance", instanceID)
		}
		inst = loaded
		expected := inst.Version

		before := inst.Status
		next, err := e.sm.Transition(domain.InstanceState(inst.Status), domain.TransitionTerminate)
		if err != nil {
			return apperrors.NewStateConflictError("instance", inst.ID, err.Error())
		}
		inst.Status = string(next)
		beforeNode := inst.CurrentNodeID
		inst.CurrentNodeID = ""
		inst.JoinExpected, inst.JoinArrived = 0, 0
		now := e.now()
		inst.CompletedAt = &now

		if err := e.cancelOpenTasks(txCtx, inst); err != nil {
			return err
		}
		e.appendLog(txCtx, inst, nil, constants.OpTerminate, operator.ID, comment, before, beforeNode)
		fx.publish(events.InstanceTerminated, &InstanceEventPayload{Instance: inst, Operator: operator, Comment: comment})
		return e.writeInstance(txCtx, inst, expected)
	})
	if err != nil {
		return nil, err
	}

	fx.flush(ctx, e.events)
	log.Printf("⚠️ Instance terminated: %s by %s (%s)", instanceID, operator.ID, comment)
	return inst, nil
}

// HandleTimeout applies a node's timeout policy to an overdue task. Invoked
// by the sweeper; a task that already closed or an instance that already left
// PENDING is silently left alone.
func (e *WorkflowExecutor) HandleTimeout(ctx context.Context, taskID string) error {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task == nil || !task.IsOpen() {
		return nil
	}
	inst, err := e.store.GetInstance(ctx, task.InstanceID)
	if err != nil {
		return err
	}
	if inst == nil || inst.Status != constants.InstanceStatusPending || inst.FlowSnapshot == nil {
		return nil
	}
	node := inst.FlowSnapshot.NodeByID(task.NodeID)
	if node == nil {
		return nil
	}

	action := constants.TimeoutRemind
	if node.Timeout != nil && node.Timeout.Action != "" {
		action = node.Timeout.Action
	}
	system := &models.UserSession{ID: constants.SystemOperatorID, Name: "System"}

	switch action {
	case constants.TimeoutAutoPass:
		_, err := e.Approve(ctx, taskID, system, "auto-approved after timeout")
		return err

	case constants.TimeoutAutoReject:
		_, err := e.Reject(ctx, taskID, system, "auto-rejected after timeout")
		return err

	case constants.TimeoutEscalate:
		return e.escalateTask(ctx, taskID)

	default:
		return e.remindTask(ctx, taskID, node)
	}
}

// remindTask re-notifies the assignee and pushes the due time forward one
// policy period so the sweeper does not fire again immediately.
func (e *WorkflowExecutor) remindTask(ctx context.Context, taskID string, node *models.NodeDefinition) error {
	fx := &sideEffects{}
	err := e.store.RunInTransaction(ctx, func(txCtx context.Context) error {
		fx = &sideEffects{}
		task, err := e.store.GetTask(txCtx, taskID)
		if err != nil || task == nil || !task.IsOpen() {
			return err
		}
		inst, err := e.store.GetInstance(txCtx, task.InstanceID)
		if err != nil || inst == nil {
			return err
		}
		expected := inst.Version

		now := e.now()
		task.DueAt = e.dueTime(node, now)
		if err := e.store.UpdateTask(txCtx, task); err != nil {
			return err
		}
		e.appendLog(txCtx, inst, task, constants.OpTimeout, constants.SystemOperatorID,
			"reminder sent to "+task.AssigneeID, inst.Status, task.NodeID)
		fx.publish(events.TaskReminder, &TaskEventPayload{Instance: inst, Task: task})
		return e.writeInstance(txCtx, inst, expected)
	})
	if err != nil {
		return err
	}
	fx.flush(ctx, e.events)
	return nil
}

// escalateTask reassigns an overdue task to the assignee's manager and resets
// the due time. Without a resolvable manager it degrades to a reminder.
func (e *WorkflowExecutor) escalateTask(ctx context.Context, taskID string) error {
	fx := &sideEffects{}
	err := e.store.RunInTransaction(ctx, func(txCtx context.Context) error {
		fx = &sideEffects{}
		task, err := e.store.GetTask(txCtx, taskID)
		if err != nil || task == nil || !task.IsOpen() {
			return err
		}
		inst, err := e.store.GetInstance(txCtx, task.InstanceID)
		if err != nil || inst == nil {
			return err
		}
		expected := inst.Version
		node := inst.FlowSnapshot.NodeByID(task.NodeID)
		if node == nil {
			return nil
		}

		superior, err := e.directory.ManagerOf(txCtx, task.AssigneeID, 1)
		if err != nil || superior == "" || superior == task.AssigneeID {
			log.Printf("⚠️ Escalation for task %s found no superior of %s; reminding instead", task.ID, task.AssigneeID)
			now := e.now()
			task.DueAt = e.dueTime(node, now)
			if err := e.store.UpdateTask(txCtx, task); err != nil {
				return err
			}
			fx.publish(events.TaskReminder, &TaskEventPayload{Instance: inst, Task: task})
			return e.writeInstance(txCtx, inst, expected)
		}

		now := e.now()
		previous := task.AssigneeID
		task.AssigneeID = superior
		if deptID, err := e.directory.DepartmentOf(txCtx, superior); err == nil {
			task.AssigneeDept = deptID
		}
		task.DueAt = e.dueTime(node, now)
		task.NotifiedAt = &now
		if err := e.store.UpdateTask(txCtx, task); err != nil {
			return err
		}

		e.appendLog(txCtx, inst, task, constants.OpTimeout, constants.SystemOperatorID,
			fmt.Sprintf("escalated from %s to %s", previous, superior), inst.Status, task.NodeID)
		fx.publish(events.TaskCreated, &TaskEventPayload{Instance: inst, Task: task})
		return e.writeInstance(txCtx, inst, expected)
	})
	if err != nil {
		return err
	}
	fx.flush(ctx, e.events)
	return nil
}
