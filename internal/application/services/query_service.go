package services

import (
	"context"

	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/internal/domain/ports"
	"github.com/approveflow/backend/pkg/constants"
	apperrors "github.com/approveflow/backend/pkg/errors"
)

// NodeProgress is the per-node slice of an instance progress view: the node,
// what has happened at it, and the countersign aggregate when one exists.
type NodeProgress struct {
	NodeID      string                    `json:"node_id"`
	NodeName    string                    `json:"node_name"`
	Type        string                    `json:"type"`
	Mode        string                    `json:"mode,omitempty"`
	State       string                    `json:"state"` // WAITING, ACTIVE, DONE
	Tasks       []*models.Task            `json:"tasks,omitempty"`
	Countersign *models.CountersignResult `json:"countersign,omitempty"`
}

// InstanceProgress combines the instance with its node-by-node state and the
// audit trail. This is the single payload behind the detail page.
type InstanceProgress struct {
	Instance *models.Instance    `json:"instance"`
	Nodes    []*NodeProgress     `json:"nodes"`
	Logs     []*models.ActionLog `json:"logs"`
}

// QueryService serves the read side: inboxes, instance lists and the
// progress view. It never mutates state.
type QueryService struct {
	store ports.WorkflowStore
}

// NewQueryService creates a new QueryService
func NewQueryService(store ports.WorkflowStore) *QueryService {
	return &QueryService{store: store}
}

// PendingTasks returns the approval inbox for a user: open tasks that have
// been notified, newest due first (store order).
func (s *QueryService) PendingTasks(ctx context.Context, userID string, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListPendingTasksByAssignee(ctx, userID, limit)
}

// MyInstances returns requests the user initiated, newest first.
func (s *QueryService) MyInstances(ctx context.Context, userID string, limit int) ([]*models.Instance, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListInstancesByInitiator(ctx, userID, limit)
}

// Progress assembles the full progress view of one instance. Visible to the
// initiator, anyone who held a task on it, and admins.
func (s *QueryService) Progress(ctx context.Context, instanceID string, viewer *models.UserSession) (*InstanceProgress, error) {
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, apperrors.NewNotFoundError("instance", instanceID)
	}

	logs, err := s.store.ListActionLogs(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	progress := &InstanceProgress{Instance: inst, Logs: logs}
	if inst.FlowSnapshot == nil {
		// Draft: no routing happened yet, nothing to walk.
		if err := s.authorize(inst, nil, viewer); err != nil {
			return nil, err
		}
		return progress, nil
	}

	tasksByNode := make(map[string][]*models.Task)
	var allTasks []*models.Task
	for _, node := range inst.FlowSnapshot.Nodes {
		tasks, err := s.store.ListTasksByNode(ctx, instanceID, node.ID)
		if err != nil {
			return nil, err
		}
		tasksByNode[node.ID] = tasks
		allTasks = append(allTasks, tasks...)
	}
	if err := s.authorize(inst, allTasks, viewer); err != nil {
		return nil, err
	}

	for i := range inst.FlowSnapshot.Nodes {
		node := &inst.FlowSnapshot.Nodes[i]
		np := &NodeProgress{
			NodeID:   node.ID,
			NodeName: node.Name,
			Type:     node.Type,
			Mode:     node.Mode,
			Tasks:    tasksByNode[node.ID],
			State:    s.nodeState(inst, node, tasksByNode[node.ID]),
		}
		if node.Mode == constants.ApprovalModeAndSign ||
			node.Mode == constants.ApprovalModeOrSign ||
			node.Mode == constants.ApprovalModeSequential {
			cs, err := s.store.GetCountersign(ctx, instanceID, node.ID)
			if err != nil {
				return nil, err
			}
			np.Countersign = cs
		}
		progress.Nodes = append(progress.Nodes, np)
	}
	return progress, nil
}

// History returns the append-only audit trail of an instance.
func (s *QueryService) History(ctx context.Context, instanceID string, viewer *models.UserSession) ([]*models.ActionLog, error) {
	inst, err := s.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, apperrors.NewNotFoundError("instance", instanceID)
	}
	if !viewer.IsAdmin && inst.InitiatorID != viewer.ID {
		var tasks []*models.Task
		if inst.FlowSnapshot != nil {
			for _, node := range inst.FlowSnapshot.Nodes {
				nodeTasks, err := s.store.ListTasksByNode(ctx, instanceID, node.ID)
				if err != nil {
					return nil, err
				}
				tasks = append(tasks, nodeTasks...)
			}
		}
		if err := s.authorize(inst, tasks, viewer); err != nil {
			return nil, err
		}
	}
	return s.store.ListActionLogs(ctx, instanceID)
}

func (s *QueryService) authorize(inst *models.Instance, tasks []*models.Task, viewer *models.UserSession) error {
	if viewer.IsAdmin || inst.InitiatorID == viewer.ID {
		return nil
	}
	for _, task := range tasks {
		if task.AssigneeID == viewer.ID {
			return nil
		}
	}
	return apperrors.NewPermissionError("view", "instance")
}

// nodeState classifies a node for the progress timeline. Terminal instances
// freeze every node that never ran as WAITING.
func (s *QueryService) nodeState(inst *models.Instance, node *models.NodeDefinition, tasks []*models.Task) string {
	for _, task := range tasks {
		if task.IsOpen() {
			return "ACTIVE"
		}
	}
	if len(tasks) > 0 {
		return "DONE"
	}
	if inst.CurrentNodeID == node.ID && !inst.IsTerminal() {
		return "ACTIVE"
	}
	// Non-task nodes before the current position already ran.
	if current := inst.FlowSnapshot.NodeByID(inst.CurrentNodeID); current != nil && node.Order < current.Order {
		return "DONE"
	}
	if inst.IsTerminal() && inst.Status == constants.InstanceStatusApproved {
		return "DONE"
	}
	return "WAITING"
}
