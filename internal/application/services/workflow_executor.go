package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/approveflow/backend/internal/domain"
	"github.com/approveflow/backend/internal/domain/condition"
	"github.com/approveflow/backend/internal/domain/events"
	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/internal/domain/ports"
	"github.com/approveflow/backend/pkg/constants"
	apperrors "github.com/approveflow/backend/pkg/errors"
	"github.com/approveflow/backend/pkg/utils"
)

// WorkflowExecutor orchestrates every state transition of an approval
// instance. Each public operation executes as one transaction and finishes
// with a versioned instance write, so concurrent operations on the same
// instance serialize: the loser of a version race gets a StateConflictError
// and nothing is partially applied.
type WorkflowExecutor struct {
	store     ports.WorkflowStore
	router    *FlowRouter
	resolver  *ApproverResolver
	delegates *DelegateService
	adapters  *AdapterRegistry
	directory ports.Directory
	events    ports.EventPublisher
	sm        *domain.InstanceStateMachine
	now       func() time.Time
}

// NewWorkflowExecutor creates a new WorkflowExecutor
func NewWorkflowExecutor(
	store ports.WorkflowStore,
	router *FlowRouter,
	resolver *ApproverResolver,
	delegates *DelegateService,
	adapters *AdapterRegistry,
	directory ports.Directory,
	eventBus ports.EventPublisher,
) *WorkflowExecutor {
	return &WorkflowExecutor{
		store:     store,
		router:    router,
		resolver:  resolver,
		delegates: delegates,
		adapters:  adapters,
		directory: directory,
		events:    eventBus,
		sm:        domain.NewInstanceStateMachine(),
		now:       time.Now,
	}
}

// SubmitRequest carries everything submission needs.
type SubmitRequest struct {
	TemplateID    string                 `json:"template_id"`
	DraftID       string                 `json:"draft_id,omitempty"`
	EntityID      string                 `json:"entity_id"`
	FormData      map[string]interface{} `json:"form_data"`
	CarbonCopyIDs []string               `json:"carbon_copy_ids,omitempty"`
	Title         string                 `json:"title,omitempty"`
}

// sideEffects accumulates everything that must happen only after the
// transaction commits: event publication and adapter hooks. A rolled-back
// operation publishes nothing.
type sideEffects struct {
	events []pendingEvent
	hooks  []func(ctx context.Context) error
}

type pendingEvent struct {
	eventType events.EventType
	payload   interface{}
}

func (fx *sideEffects) publish(eventType events.EventType, payload interface{}) {
	fx.events = append(fx.events, pendingEvent{eventType: eventType, payload: payload})
}

func (fx *sideEffects) hook(fn func(ctx context.Context) error) {
	fx.hooks = append(fx.hooks, fn)
}

// flush runs the accumulated effects. Failures are logged, never returned:
// the state transition already committed.
func (fx *sideEffects) flush(ctx context.Context, bus ports.EventPublisher) {
	for _, fn := range fx.hooks {
		if err := fn(ctx); err != nil {
			log.Printf("⚠️ Post-commit adapter hook failed: %v", err)
		}
	}
	for _, ev := range fx.events {
		bus.PublishAsync(ev.eventType, ev.payload)
	}
}

// SaveDraft stores a not-yet-submitted instance. No flow is selected and no
// tasks exist while DRAFT.
func (e *WorkflowExecutor) SaveDraft(ctx context.Context, req *SubmitRequest, operator *models.UserSession) (*models.Instance, error) {
	tpl, err := e.loadPublishedTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	inst := &models.Instance{
		ID:          utils.GenerateID(),
		TemplateID:  tpl.ID,
		EntityType:  tpl.EntityType,
		EntityID:    req.EntityID,
		Title:       req.Title,
		Status:      constants.InstanceStatusDraft,
		InitiatorID: operator.ID,
		FormData:    req.FormData,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if inst.Title == "" {
		inst.Title = fmt.Sprintf("%s - %s", tpl.Name, operator.Name)
	}

	if err := e.store.InsertInstance(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

// Submit routes the request to a flow, freezes the flow snapshot onto the
// instance and opens the first node. Fails atomically when routing selects
// nothing or the adapter vetoes submission.
func (e *WorkflowExecutor) Submit(ctx context.Context, req *SubmitRequest, operator *models.UserSession) (*models.Instance, error) {
	tpl, err := e.loadPublishedTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}

	adapter := e.adapters.Get(tpl.EntityType)
	if adapter != nil && req.EntityID != "" {
		ok, reason, err := adapter.ValidateSubmit(ctx, req.EntityID)
		if err != nil {
			return nil, apperrors.NewExternalPortError("entity adapter", err)
		}
		if !ok {
			return nil, apperrors.NewValidationError("entity_id", reason)
		}
	}

	cctx, err := e.buildContext(ctx, tpl, req.EntityID, req.FormData, operator)
	if err != nil {
		return nil, err
	}

	flow, err := e.router.Select(ctx, tpl.ID, cctx)
	if err != nil {
		return nil, err
	}
	if flow == nil {
		return nil, apperrors.NewResolutionError("", "no applicable flow for template "+tpl.Code)
	}
	if len(flow.Nodes) == 0 {
		return nil, apperrors.NewResolutionError("", "flow "+flow.ID+" has no nodes")
	}

	title, summary := e.describeEntity(ctx, adapter, req, tpl, operator)

	var inst *models.Instance
	fx := &sideEffects{}
	err = e.store.RunInTransaction(ctx, func(txCtx context.Context) error {
		fx = &sideEffects{}
		now := e.now()

		var expectedVersion int64
		if req.DraftID != "" {
			draft, err := e.store.GetInstance(txCtx, req.DraftID)
			if err != nil {
				return err
			}
			if draft == nil {
				return apperrors.NewNotFoundError("instance", req.DraftID)
			}
			if draft.InitiatorID != operator.ID {
				return apperrors.NewPermissionError("submit", "instance")
			}
			if draft.Status != constants.InstanceStatusDraft {
				return apperrors.NewStateConflictError("instance", draft.ID, "already submitted")
			}
			inst = draft
			expectedVersion = draft.Version
			inst.FormData = req.FormData
		} else {
			inst = &models.Instance{
				ID:          utils.GenerateID(),
				TemplateID:  tpl.ID,
				EntityType:  tpl.EntityType,
				EntityID:    req.EntityID,
				Status:      constants.InstanceStatusDraft,
				InitiatorID: operator.ID,
				FormData:    req.FormData,
				Version:     1,
				CreatedAt:   now,
			}
			if err := e.store.InsertInstance(txCtx, inst); err != nil {
				return err
			}
			expectedVersion = inst.Version
		}

		next, err := e.sm.Transition(domain.InstanceState(inst.Status), domain.TransitionSubmit)
		if err != nil {
			return apperrors.NewStateConflictError("instance", inst.ID, err.Error())
		}
		inst.Status = string(next)
		inst.FlowID = flow.ID
		inst.FlowSnapshot = flow
		inst.Title = title
		inst.Summary = summary
		inst.SubmittedAt = &now

		e.appendLog(txCtx, inst, nil, constants.OpSubmit, operator.ID, "",
			constants.InstanceStatusDraft, "")

		// Initiator-specified carbon copies attach to no node.
		for _, ccUser := range req.CarbonCopyIDs {
			if err := e.createCarbonCopy(txCtx, inst, "", ccUser, fx); err != nil {
				return err
			}
		}

		if err := e.advanceInto(txCtx, inst, flow.FirstNode(), cctx, fx, 0); err != nil {
			return err
		}

		if err := e.writeInstance(txCtx, inst, expectedVersion); err != nil {
			return err
		}

		if adapter != nil && req.EntityID != "" {
			captured := *inst
			fx.hook(func(hctx context.Context) error {
				return adapter.OnSubmit(hctx, req.EntityID, &captured)
			})
		}
		fx.publish(events.InstanceSubmitted, &InstanceEventPayload{Instance: inst, Operator: operator})
		return nil
	})
	if err != nil {
		return nil, err
	}

	fx.flush(ctx, e.events)
	log.Printf("✅ Instance submitted: %s (%s) flow=%s status=%s", inst.ID, inst.Title, flow.ID, inst.Status)
	return inst, nil
}

// loadPublishedTemplate fetches a template and checks it accepts submissions.
func (e *WorkflowExecutor) loadPublishedTemplate(ctx context.Context, id string) (*models.Template, error) {
	tpl, err := e.store.GetTemplate(ctx, id)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, apperrors.NewNotFoundError("template", id)
	}
	if tpl.Status != constants.TemplateStatusPublished {
		return nil, apperrors.NewStateConflictError("template", id, "template is not published")
	}
	return tpl, nil
}

// buildContext assembles the namespaces conditions and expressions resolve
// against. Entity data comes from the adapter when one is registered.
func (e *WorkflowExecutor) buildContext(ctx context.Context, tpl *models.Template, entityID string, form map[string]interface{}, initiator *models.UserSession) (*condition.Context, error) {
	cctx := condition.NewContext()
	if form != nil {
		cctx.Form = form
	}
	cctx.Initiator = initiator.ToMap()
	now := e.now()
	cctx.Sys = map[string]interface{}{
		"date":          now.Format("2006-01-02"),
		"timestamp":     now.Unix(),
		"template_code": tpl.Code,
		"category":      tpl.Category,
	}

	if adapter := e.adapters.Get(tpl.EntityType); adapter != nil && entityID != "" {
		data, err := adapter.GetEntityData(ctx, entityID)
		if err != nil {
			return nil, apperrors.NewExternalPortError("entity adapter", err)
		}
		if data != nil {
			cctx.Entity = data
		}
	}
	return cctx, nil
}

// contextFor rebuilds the condition context for an in-flight instance.
func (e *WorkflowExecutor) contextFor(ctx context.Context, inst *models.Instance) (*condition.Context, error) {
	tpl, err := e.store.GetTemplate(ctx, inst.TemplateID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, apperrors.NewNotFoundError("template", inst.TemplateID)
	}
	initiator := &models.UserSession{ID: inst.InitiatorID}
	if u, err := e.directory.GetUser(ctx, inst.InitiatorID); err == nil && u != nil {
		initiator = u.Session()
	}
	return e.buildContext(ctx, tpl, inst.EntityID, inst.FormData, initiator)
}

func (e *WorkflowExecutor) describeEntity(ctx context.Context, adapter ports.EntityAdapter, req *SubmitRequest, tpl *models.Template, operator *models.UserSession) (string, string) {
	title := req.Title
	summary := ""
	if adapter != nil && req.EntityID != "" {
		if t, err := adapter.GenerateTitle(ctx, req.EntityID); err == nil && t != "" {
			title = t
		}
		if s, err := adapter.GenerateSummary(ctx, req.EntityID); err == nil {
			summary = s
		}
	}
	if title == "" {
		title = fmt.Sprintf("%s - %s", tpl.Name, operator.Name)
	}
	return title, summary
}

// advanceInto enters a node, following automatic nodes (CONDITION, CC,
// PARALLEL fan-out, satisfied JOIN, optional skips) until the instance rests
// on approval tasks, a join barrier or the end of the graph. hops guards
// against definition cycles.
func (e *WorkflowExecutor) advanceInto(txCtx context.Context, inst *models.Instance, node *models.NodeDefinition, cctx *condition.Context, fx *sideEffects, hops int) error {
	if node == nil {
		return e.finalizeApproved(txCtx, inst, fx)
	}
	if hops > constants.MaxGraphHops {
		return apperrors.NewInternalError("flow graph hop limit exceeded; definition likely cyclic", nil)
	}
	flow := inst.FlowSnapshot

	switch node.Type {
	case constants.NodeTypeCondition:
		target, err := e.pickBranch(flow, node, cctx)
		if err != nil {
			return err
		}
		return e.advanceInto(txCtx, inst, target, cctx, fx, hops+1)

	case constants.NodeTypeCC:
		if err := e.fanOutCarbonCopies(txCtx, inst, node, cctx, fx); err != nil {
			return err
		}
		return e.advanceInto(txCtx, inst, e.nextAfter(inst, node), cctx, fx, hops+1)

	case constants.NodeTypeParallel:
		if len(node.ParallelHeads) == 0 {
			return apperrors.NewResolutionError(node.ID, "parallel node has no branches")
		}
		inst.CurrentNodeID = node.ID
		inst.CurrentOrder = node.Order
		inst.JoinExpected = len(node.ParallelHeads)
		inst.JoinArrived = 0
		for _, headID := range node.ParallelHeads {
			head := flow.NodeByID(headID)
			if head == nil {
				return apperrors.NewResolutionError(node.ID, "parallel branch head "+headID+" not found")
			}
			if err := e.advanceInto(txCtx, inst, head, cctx, fx, hops+1); err != nil {
				return err
			}
		}
		return nil

	case constants.NodeTypeJoin:
		inst.JoinArrived++
		if inst.JoinArrived < inst.JoinExpected {
			// Barrier holds until every branch arrives.
			return nil
		}
		inst.JoinExpected = 0
		inst.JoinArrived = 0
		return e.advanceInto(txCtx, inst, e.nextAfter(inst, node), cctx, fx, hops+1)

	case constants.NodeTypeApproval:
		return e.enterApprovalNode(txCtx, inst, node, cctx, fx, hops)

	default:
		return apperrors.NewResolutionError(node.ID, "unknown node type "+node.Type)
	}
}

// pickBranch evaluates a CONDITION node's branch table in order; the first
// true condition wins, a nil condition matches unconditionally, no match
// falls to the default branch.
func (e *WorkflowExecutor) pickBranch(flow *models.FlowDefinition, node *models.NodeDefinition, cctx *condition.Context) (*models.NodeDefinition, error) {
	for _, branch := range node.Branches {
		if branch.Condition != nil && !condition.Evaluate(branch.Condition, cctx) {
			continue
		}
		target := flow.NodeByID(branch.NextNodeID)
		if target == nil {
			return nil, apperrors.NewResolutionError(node.ID, "branch target "+branch.NextNodeID+" not found")
		}
		return target, nil
	}
	if node.DefaultNextID != "" {
		target := flow.NodeByID(node.DefaultNextID)
		if target == nil {
			return nil, apperrors.NewResolutionError(node.ID, "default branch "+node.DefaultNextID+" not found")
		}
		return target, nil
	}
	return nil, apperrors.NewResolutionError(node.ID, "no branch matched and no default branch configured")
}

// nextAfter returns the node following the given one. Inside an active
// parallel segment branches link explicitly; outside, an explicit next wins
// over order-index succession.
func (e *WorkflowExecutor) nextAfter(inst *models.Instance, node *models.NodeDefinition) *models.NodeDefinition {
	flow := inst.FlowSnapshot
	if node.DefaultNextID != "" {
		return flow.NodeByID(node.DefaultNextID)
	}
	if inst.JoinExpected > 0 {
		// A branch without an explicit link converges on the join barrier.
		return flow.JoinNode()
	}
	return flow.NextByOrder(node.Order)
}

// enterApprovalNode resolves approvers and opens their tasks. Optional nodes
// with nobody resolved auto-skip; required nodes fail the whole operation.
func (e *WorkflowExecutor) enterApprovalNode(txCtx context.Context, inst *models.Instance, node *models.NodeDefinition, cctx *condition.Context, fx *sideEffects, hops int) error {
	approvers, err := e.resolver.Resolve(txCtx, node, cctx, inst.InitiatorID)
	if err != nil {
		if node.Optional {
			approvers = nil
		} else {
			return apperrors.NewResolutionError(node.ID, err.Error())
		}
	}
	if len(approvers) == 0 {
		if !node.Optional {
			return apperrors.NewResolutionError(node.ID, "no approver resolved for required node "+node.Name)
		}
		e.appendLog(txCtx, inst, nil, constants.OpSkip, constants.SystemOperatorID,
			"no approver resolved; optional node skipped", inst.Status, node.ID)
		return e.advanceInto(txCtx, inst, e.nextAfter(inst, node), cctx, fx, hops+1)
	}

	if inst.JoinExpected == 0 {
		inst.CurrentNodeID = node.ID
		inst.CurrentOrder = node.Order
	}

	tplCode, category := e.templateScope(txCtx, inst)
	now := e.now()
	for i, approver := range approvers {
		task := &models.Task{
			ID:          utils.GenerateID(),
			InstanceID:  inst.ID,
			NodeID:      node.ID,
			NodeName:    node.Name,
			Type:        taskTypeFor(node),
			OrderInNode: i,
			Weight:      approver.Weight,
			Source:      constants.AssignSourceNormal,
			Status:      constants.TaskStatusPending,
			CreatedAt:   now,
		}
		task.AssigneeID, task.AssigneeDept = approver.UserID, approver.DepartmentID
		task.DueAt = e.dueTime(node, now)

		// Delegation substitution happens at assignment time.
		effective, matched, err := e.delegates.EffectiveAssignee(txCtx, approver.UserID, tplCode, category)
		if err != nil {
			return err
		}
		if matched != nil {
			task.AssigneeID = effective
			task.Source = constants.AssignSourceDelegated
		}

		// Under SEQUENTIAL only the first assignee is immediately eligible;
		// the rest are notified as their turn arrives.
		if nodeMode(node) != constants.ApprovalModeSequential || i == 0 {
			task.NotifiedAt = &now
			fx.publish(events.TaskCreated, &TaskEventPayload{Instance: inst, Task: task})
		}

		if err := e.store.InsertTask(txCtx, task); err != nil {
			return err
		}
		if matched != nil {
			if err := e.delegates.RecordSubstitution(txCtx, matched, task, approver.UserID); err != nil {
				return err
			}
			e.appendLog(txCtx, inst, task, constants.OpDelegate, constants.SystemOperatorID,
				fmt.Sprintf("task delegated from %s to %s", approver.UserID, effective), inst.Status, node.ID)
		}
	}

	// Seed the vote aggregate so progress queries see the node immediately.
	tasks, err := e.store.ListTasksByNode(txCtx, inst.ID, node.ID)
	if err != nil {
		return err
	}
	return e.store.UpsertCountersign(txCtx, tallyNodeTasks(tasks).toResult(inst.ID, node.ID, nodeMode(node), now))
}

// fanOutCarbonCopies creates the notices of a CC node.
func (e *WorkflowExecutor) fanOutCarbonCopies(txCtx context.Context, inst *models.Instance, node *models.NodeDefinition, cctx *condition.Context, fx *sideEffects) error {
	recipients, err := e.resolver.Resolve(txCtx, node, cctx, inst.InitiatorID)
	if err != nil {
		return apperrors.NewResolutionError(node.ID, err.Error())
	}
	for _, r := range recipients {
		if err := e.createCarbonCopy(txCtx, inst, node.ID, r.UserID, fx); err != nil {
			return err
		}
	}
	return nil
}

func (e *WorkflowExecutor) createCarbonCopy(txCtx context.Context, inst *models.Instance, nodeID, userID string, fx *sideEffects) error {
	cc := &models.CarbonCopy{
		ID:         utils.GenerateID(),
		InstanceID: inst.ID,
		NodeID:     nodeID,
		UserID:     userID,
		CreatedAt:  e.now(),
	}
	if err := e.store.InsertCarbonCopy(txCtx, cc); err != nil {
		return err
	}
	e.appendLog(txCtx, inst, nil, constants.OpCarbonCopy, constants.SystemOperatorID, "copied to "+userID, inst.Status, nodeID)
	fx.publish(events.CarbonCopyCreated, &CarbonCopyPayload{Instance: inst, CarbonCopy: cc})
	return nil
}

// completeNode runs after a node's approval requirement is satisfied: skips
// leftover open tasks (OR_SIGN losers), then advances.
func (e *WorkflowExecutor) completeNode(txCtx context.Context, inst *models.Instance, node *models.NodeDefinition, fx *sideEffects) error {
	tasks, err := e.store.ListTasksByNode(txCtx, inst.ID, node.ID)
	if err != nil {
		return err
	}
	now := e.now()
	for _, task := range tasks {
		if !task.IsOpen() {
			continue
		}
		task.Status = constants.TaskStatusSkipped
		task.CompletedAt = &now
		if err := e.store.UpdateTask(txCtx, task); err != nil {
			return err
		}
	}

	cctx, err := e.contextFor(txCtx, inst)
	if err != nil {
		return err
	}
	return e.advanceInto(txCtx, inst, e.nextAfter(inst, node), cctx, fx, 0)
}

// finalizeApproved ends the flow: terminal APPROVED, completion timestamp,
// adapter and notification effects.
func (e *WorkflowExecutor) finalizeApproved(txCtx context.Context, inst *models.Instance, fx *sideEffects) error {
	next, err := e.sm.Transition(domain.InstanceState(inst.Status), domain.TransitionApprove)
	if err != nil {
		return apperrors.NewStateConflictError("instance", inst.ID, err.Error())
	}
	inst.Status = string(next)
	inst.CurrentNodeID = ""
	now := e.now()
	inst.CompletedAt = &now

	if adapter := e.adapters.Get(inst.EntityType); adapter != nil && inst.EntityID != "" {
		captured := *inst
		fx.hook(func(hctx context.Context) error {
			return adapter.OnApproved(hctx, captured.EntityID, &captured)
		})
	}
	fx.publish(events.InstanceApproved, &InstanceEventPayload{Instance: inst})
	return nil
}

// cancelOpenTasks marks every open task of the instance CANCELLED.
func (e *WorkflowExecutor) cancelOpenTasks(txCtx context.Context, inst *models.Instance) error {
	tasks, err := e.store.ListOpenTasksByInstance(txCtx, inst.ID)
	if err != nil {
		return err
	}
	now := e.now()
	for _, task := range tasks {
		task.Status = constants.TaskStatusCancelled
		task.CompletedAt = &now
		if err := e.store.UpdateTask(txCtx, task); err != nil {
			return err
		}
	}
	return nil
}

// writeInstance performs the versioned instance write every operation ends
// with. Bumping the version even on logically unchanged instances is what
// serializes concurrent operations.
func (e *WorkflowExecutor) writeInstance(txCtx context.Context, inst *models.Instance, expectedVersion int64) error {
	inst.Version = expectedVersion + 1
	inst.UpdatedAt = e.now()
	return e.store.UpdateInstance(txCtx, inst, expectedVersion)
}

// appendLog writes one audit row. Log write failures are surfaced: audit is
// part of the transaction, not best-effort.
func (e *WorkflowExecutor) appendLog(txCtx context.Context, inst *models.Instance, task *models.Task, op, operatorID, comment, beforeStatus, beforeNodeID string) {
	entry := &models.ActionLog{
		ID:           utils.GenerateID(),
		InstanceID:   inst.ID,
		Operation:    op,
		OperatorID:   operatorID,
		Comment:      comment,
		BeforeStatus: beforeStatus,
		AfterStatus:  inst.Status,
		BeforeNodeID: beforeNodeID,
		AfterNodeID:  inst.CurrentNodeID,
		CreatedAt:    e.now(),
	}
	if task != nil {
		entry.TaskID = task.ID
	}
	if err := e.store.AppendActionLog(txCtx, entry); err != nil {
		log.Printf("❌ Action log append failed for instance %s op %s: %v", inst.ID, op, err)
	}
}

// templateScope returns the template code and category used for delegate
// scope matching.
func (e *WorkflowExecutor) templateScope(ctx context.Context, inst *models.Instance) (string, string) {
	tpl, err := e.store.GetTemplate(ctx, inst.TemplateID)
	if err != nil || tpl == nil {
		return "", ""
	}
	return tpl.Code, tpl.Category
}

func (e *WorkflowExecutor) dueTime(node *models.NodeDefinition, from time.Time) *time.Time {
	hours := constants.DefaultTaskDueHours
	if node.Timeout != nil && node.Timeout.Hours > 0 {
		hours = node.Timeout.Hours
	}
	due := from.Add(time.Duration(hours) * time.Hour)
	return &due
}

func nodeMode(node *models.NodeDefinition) string {
	if node.Mode == "" {
		return constants.ApprovalModeSingle
	}
	return node.Mode
}

func taskTypeFor(node *models.NodeDefinition) string {
	if node.Approver.Strategy == constants.StrategyMultiDept && len(node.EvaluationSchema) > 0 {
		return constants.TaskTypeEvaluation
	}
	return constants.TaskTypeApproval
}
