package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approveflow/backend/internal/domain/condition"
	"github.com/approveflow/backend/internal/domain/events"
	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/pkg/constants"
	apperrors "github.com/approveflow/backend/pkg/errors"
	"github.com/approveflow/backend/pkg/expression"
)

type executorFixture struct {
	executor *WorkflowExecutor
	store    *memStore
	dir      *fakeDirectory
	bus      *recordingBus
	now      time.Time
}

func newExecutorFixture(t *testing.T) *executorFixture {
	t.Helper()
	store := newMemStore()
	dir := newFakeDirectory()
	bus := &recordingBus{}

	dir.addDepartment("eng", "", "eng-head")
	dir.addDepartment("finance", "", "cfo")
	dir.addUser("ivan", "eng", "eng-head")
	dir.addUser("alice", "eng", "eng-head")
	dir.addUser("bob", "finance", "cfo")
	dir.addUser("carol", "finance", "cfo")
	dir.addUser("dave", "eng", "eng-head")
	dir.addUser("eng-head", "eng", "")
	dir.addUser("cfo", "finance", "")

	engine := expression.NewEngine()
	resolver := NewApproverResolver(dir, engine)
	delegates := NewDelegateService(store)
	router := NewFlowRouter(store, engine)

	executor := NewWorkflowExecutor(store, router, resolver, delegates, NewAdapterRegistry(), dir, bus)

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	executor.now = func() time.Time { return now }
	delegates.now = func() time.Time { return now }

	store.templates["tpl-1"] = &models.Template{
		ID:         "tpl-1",
		Code:       "expense",
		Name:       "Expense Claim",
		Version:    1,
		Status:     constants.TemplateStatusPublished,
		EntityType: "expense",
		Category:   "finance",
	}

	return &executorFixture{executor: executor, store: store, dir: dir, bus: bus, now: now}
}

func approvalNode(id string, order int, mode string, users ...string) models.NodeDefinition {
	return models.NodeDefinition{
		ID:    id,
		Order: order,
		Name:  id,
		Type:  constants.NodeTypeApproval,
		Mode:  mode,
		Approver: models.ApproverConfig{
			Strategy: constants.StrategyFixedUser,
			UserIDs:  users,
		},
		RejectTo: models.RejectPolicy{Type: constants.RejectToStart},
	}
}

func (f *executorFixture) addFlow(flow *models.FlowDefinition) {
	flow.TemplateID = "tpl-1"
	f.store.flows[flow.ID] = flow
}

func (f *executorFixture) submit(t *testing.T, form map[string]interface{}) *models.Instance {
	t.Helper()
	inst, err := f.executor.Submit(context.Background(), &SubmitRequest{
		TemplateID: "tpl-1",
		FormData:   form,
	}, &models.UserSession{ID: "ivan", Name: "Ivan"})
	require.NoError(t, err)
	return inst
}

func (f *executorFixture) openTaskFor(t *testing.T, instanceID, assignee string) *models.Task {
	t.Helper()
	for _, id := range f.store.taskOrder {
		task := f.store.tasks[id]
		if task.InstanceID == instanceID && task.AssigneeID == assignee && task.IsOpen() {
			cp := *task
			return &cp
		}
	}
	t.Fatalf("no open task for %s on instance %s", assignee, instanceID)
	return nil
}

func session(id string) *models.UserSession {
	return &models.UserSession{ID: id, Name: id}
}

func TestSubmitOpensFirstNode(t *testing.T) {
	f := newExecutorFixture(t)
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{approvalNode("n1", 1, constants.ApprovalModeSingle, "alice")},
	})

	inst := f.submit(t, map[string]interface{}{"amount": 100})

	assert.Equal(t, constants.InstanceStatusPending, inst.Status)
	assert.Equal(t, "flow-1", inst.FlowID)
	assert.Equal(t, "n1", inst.CurrentNodeID)
	require.NotNil(t, inst.FlowSnapshot)

	task := f.openTaskFor(t, inst.ID, "alice")
	assert.Equal(t, constants.AssignSourceNormal, task.Source)
	assert.NotNil(t, task.DueAt)
	assert.NotNil(t, task.NotifiedAt)

	logs, _ := f.store.ListActionLogs(context.Background(), inst.ID)
	require.NotEmpty(t, logs)
	assert.Equal(t, constants.OpSubmit, logs[0].Operation)

	assert.Len(t, f.bus.byType(events.TaskCreated), 1)
	assert.Len(t, f.bus.byType(events.InstanceSubmitted), 1)
}

func TestSubmitFailsAtomicallyWithoutFlow(t *testing.T) {
	f := newExecutorFixture(t)

	_, err := f.executor.Submit(context.Background(), &SubmitRequest{TemplateID: "tpl-1"}, session("ivan"))
	assert.True(t, apperrors.IsResolution(err), "expected resolution error, got %v", err)
	assert.Empty(t, f.store.instances)
	assert.Empty(t, f.store.tasks)
}

func TestRoutingPrefersMatchingRuleOverDefault(t *testing.T) {
	f := newExecutorFixture(t)
	f.addFlow(&models.FlowDefinition{
		ID: "flow-default", IsDefault: true,
		Nodes: []models.NodeDefinition{approvalNode("d1", 1, constants.ApprovalModeSingle, "alice")},
	})
	f.addFlow(&models.FlowDefinition{
		ID:    "flow-huge",
		Nodes: []models.NodeDefinition{approvalNode("h1", 1, constants.ApprovalModeSingle, "cfo")},
	})
	f.addFlow(&models.FlowDefinition{
		ID:    "flow-large",
		Nodes: []models.NodeDefinition{approvalNode("l1", 1, constants.ApprovalModeSingle, "cfo")},
	})
	f.store.rules = []*models.RoutingRule{
		{ID: "r1", TemplateID: "tpl-1", Priority: 1, Active: true, FlowID: "flow-huge",
			Condition: condition.Leaf("form.amount", condition.OpGt, 100000)},
		{ID: "r2", TemplateID: "tpl-1", Priority: 2, Active: true, FlowID: "flow-large",
			Condition: condition.Leaf("form.amount", condition.OpGt, 10000)},
	}

	inst := f.submit(t, map[string]interface{}{"amount": 15000})
	assert.Equal(t, "flow-large", inst.FlowID)

	inst = f.submit(t, map[string]interface{}{"amount": 50})
	assert.Equal(t, "flow-default", inst.FlowID)
}

func TestAndSignAdvancesOnlyWhenAllApprove(t *testing.T) {
	f := newExecutorFixture(t)
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{
			approvalNode("n1", 1, constants.ApprovalModeAndSign, "alice", "bob"),
			approvalNode("n2", 2, constants.ApprovalModeSingle, "carol"),
		},
	})

	inst := f.submit(t, nil)

	_, err := f.executor.Approve(context.Background(), f.openTaskFor(t, inst.ID, "alice").ID, session("alice"), "ok")
	require.NoError(t, err)

	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, constants.InstanceStatusPending, current.Status)
	assert.Equal(t, "n1", current.CurrentNodeID)

	cs, _ := f.store.GetCountersign(context.Background(), inst.ID, "n1")
	require.NotNil(t, cs)
	assert.Equal(t, 2, cs.Total)
	assert.Equal(t, 1, cs.Approved)
	assert.Equal(t, 1, cs.Pending)
	assert.Equal(t, constants.CountersignPending, cs.FinalResult)

	_, err = f.executor.Approve(context.Background(), f.openTaskFor(t, inst.ID, "bob").ID, session("bob"), "ok")
	require.NoError(t, err)

	current, _ = f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, "n2", current.CurrentNodeID)
	cs, _ = f.store.GetCountersign(context.Background(), inst.ID, "n1")
	assert.Equal(t, constants.CountersignPassed, cs.FinalResult)
	f.openTaskFor(t, inst.ID, "carol")
}

func TestOrSignFirstApprovalWinsAndSkipsRest(t *testing.T) {
	f := newExecutorFixture(t)
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{approvalNode("n1", 1, constants.ApprovalModeOrSign, "alice", "bob")},
	})

	inst := f.submit(t, nil)
	bobTask := f.openTaskFor(t, inst.ID, "bob")

	_, err := f.executor.Approve(context.Background(), f.openTaskFor(t, inst.ID, "alice").ID, session("alice"), "lgtm")
	require.NoError(t, err)

	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, constants.InstanceStatusApproved, current.Status)

	stored, _ := f.store.GetTask(context.Background(), bobTask.ID)
	assert.Equal(t, constants.TaskStatusSkipped, stored.Status)

	// The loser of the race gets a clean conflict, not a double advancement.
	_, err = f.executor.Approve(context.Background(), bobTask.ID, session("bob"), "me too")
	assert.True(t, apperrors.IsStateConflict(err), "expected conflict, got %v", err)
	assert.Len(t, f.bus.byType(events.InstanceApproved), 1)
}

func TestRejectRequiresComment(t *testing.T) {
	f := newExecutorFixture(t)
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{approvalNode("n1", 1, constants.ApprovalModeSingle, "alice")},
	})
	inst := f.submit(t, nil)
	task := f.openTaskFor(t, inst.ID, "alice")

	_, err := f.executor.Reject(context.Background(), task.ID, session("alice"), "")
	assert.True(t, apperrors.IsValidation(err))

	// Nothing changed.
	stored, _ := f.store.GetTask(context.Background(), task.ID)
	assert.Equal(t, constants.TaskStatusPending, stored.Status)
	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, constants.InstanceStatusPending, current.Status)
}

func TestRejectToStartEndsInstance(t *testing.T) {
	f := newExecutorFixture(t)
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{approvalNode("n1", 1, constants.ApprovalModeSingle, "alice")},
	})
	inst := f.submit(t, nil)

	_, err := f.executor.Reject(context.Background(), f.openTaskFor(t, inst.ID, "alice").ID, session("alice"), "not justified")
	require.NoError(t, err)

	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, constants.InstanceStatusRejected, current.Status)
	assert.NotNil(t, current.CompletedAt)
	assert.Len(t, f.bus.byType(events.InstanceRejected), 1)

	open, _ := f.store.ListOpenTasksByInstance(context.Background(), inst.ID)
	assert.Empty(t, open)
}

func TestRejectToPrevReopensPreviousNode(t *testing.T) {
	f := newExecutorFixture(t)
	n2 := approvalNode("n2", 2, constants.ApprovalModeSingle, "bob")
	n2.RejectTo = models.RejectPolicy{Type: constants.RejectToPrev}
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{
			approvalNode("n1", 1, constants.ApprovalModeSingle, "alice"),
			n2,
		},
	})

	inst := f.submit(t, nil)
	_, err := f.executor.Approve(context.Background(), f.openTaskFor(t, inst.ID, "alice").ID, session("alice"), "ok")
	require.NoError(t, err)

	_, err = f.executor.Reject(context.Background(), f.openTaskFor(t, inst.ID, "bob").ID, session("bob"), "fix the numbers")
	require.NoError(t, err)

	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, constants.InstanceStatusPending, current.Status)
	assert.Equal(t, "n1", current.CurrentNodeID)

	// Fresh task at n1; alice's original completed task is untouched.
	fresh := f.openTaskFor(t, inst.ID, "alice")
	tasks, _ := f.store.ListTasksByNode(context.Background(), inst.ID, "n1")
	assert.Len(t, tasks, 2)
	assert.Equal(t, constants.TaskStatusPending, fresh.Status)
}

func TestConditionNodeRoutesByFormData(t *testing.T) {
	f := newExecutorFixture(t)
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{
			{
				ID: "gate", Order: 1, Name: "amount gate", Type: constants.NodeTypeCondition,
				Branches: []models.ConditionBranch{
					{Condition: condition.Leaf("form.amount", condition.OpGt, 10000), NextNodeID: "big"},
				},
				DefaultNextID: "small",
			},
			approvalNode("big", 2, constants.ApprovalModeSingle, "cfo"),
			approvalNode("small", 3, constants.ApprovalModeSingle, "alice"),
		},
	})

	inst := f.submit(t, map[string]interface{}{"amount": 15000})
	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, "big", current.CurrentNodeID)
	f.openTaskFor(t, inst.ID, "cfo")

	inst = f.submit(t, map[string]interface{}{"amount": 500})
	current, _ = f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, "small", current.CurrentNodeID)
}

func TestWithdrawOnlyByInitiatorWhilePending(t *testing.T) {
	f := newExecutorFixture(t)
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{approvalNode("n1", 1, constants.ApprovalModeSingle, "alice")},
	})
	inst := f.submit(t, nil)

	_, err := f.executor.Withdraw(context.Background(), inst.ID, session("alice"))
	assert.True(t, apperrors.IsPermission(err))

	withdrawn, err := f.executor.Withdraw(context.Background(), inst.ID, session("ivan"))
	require.NoError(t, err)
	assert.Equal(t, constants.InstanceStatusWithdrawn, withdrawn.Status)

	open, _ := f.store.ListOpenTasksByInstance(context.Background(), inst.ID)
	assert.Empty(t, open)

	// Terminal states are absorbing.
	_, err = f.executor.Withdraw(context.Background(), inst.ID, session("ivan"))
	assert.True(t, apperrors.IsStateConflict(err))
}

func TestDelegateSubstitutionAtAssignment(t *testing.T) {
	f := newExecutorFixture(t)
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{approvalNode("n1", 1, constants.ApprovalModeSingle, "alice")},
	})
	require.NoError(t, f.store.InsertDelegate(context.Background(), &models.Delegate{
		ID: "dg-1", UserID: "alice", DelegateID: "dave",
		Scope:          constants.DelegateScopeAll,
		StartDate:      f.now.AddDate(0, 0, -1),
		EndDate:        f.now.AddDate(0, 0, 5),
		Active:         true,
		NotifyOriginal: true,
	}))

	inst := f.submit(t, nil)

	task := f.openTaskFor(t, inst.ID, "dave")
	assert.Equal(t, constants.AssignSourceDelegated, task.Source)

	entry, _ := f.store.GetDelegateLogByTask(context.Background(), task.ID)
	require.NotNil(t, entry)
	assert.Equal(t, "alice", entry.OriginalID)
	assert.Equal(t, "dave", entry.EffectiveID)

	_, err := f.executor.Approve(context.Background(), task.ID, session("dave"), "approved on behalf")
	require.NoError(t, err)

	acted := f.bus.byType(events.DelegateActed)
	require.Len(t, acted, 1)
	payload := acted[0].payload.(*DelegateActedPayload)
	assert.Equal(t, "alice", payload.OriginalID)
}

func TestTransferReplacesTask(t *testing.T) {
	f := newExecutorFixture(t)
	n1 := approvalNode("n1", 1, constants.ApprovalModeSingle, "alice")
	n1.CanTransfer = true
	f.addFlow(&models.FlowDefinition{ID: "flow-1", IsDefault: true, Nodes: []models.NodeDefinition{n1}})

	inst := f.submit(t, nil)
	original := f.openTaskFor(t, inst.ID, "alice")

	replacement, err := f.executor.Transfer(context.Background(), original.ID, "bob", session("alice"), "out of office")
	require.NoError(t, err)
	assert.Equal(t, "bob", replacement.AssigneeID)
	assert.Equal(t, constants.AssignSourceTransferred, replacement.Source)

	stored, _ := f.store.GetTask(context.Background(), original.ID)
	assert.Equal(t, constants.TaskStatusTransferred, stored.Status)

	// The transferred-away task no longer votes; bob finishes the node.
	_, err = f.executor.Approve(context.Background(), replacement.ID, session("bob"), "ok")
	require.NoError(t, err)
	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, constants.InstanceStatusApproved, current.Status)
}

func TestTransferRequiresNodePermission(t *testing.T) {
	f := newExecutorFixture(t)
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{approvalNode("n1", 1, constants.ApprovalModeSingle, "alice")},
	})
	inst := f.submit(t, nil)

	_, err := f.executor.Transfer(context.Background(), f.openTaskFor(t, inst.ID, "alice").ID, "bob", session("alice"), "")
	assert.True(t, apperrors.IsPermission(err))
}

func TestAddApproverBeforeGatesNode(t *testing.T) {
	f := newExecutorFixture(t)
	n1 := approvalNode("n1", 1, constants.ApprovalModeSingle, "alice")
	n1.CanAddApprover = true
	f.addFlow(&models.FlowDefinition{ID: "flow-1", IsDefault: true, Nodes: []models.NodeDefinition{n1}})

	inst := f.submit(t, nil)
	original := f.openTaskFor(t, inst.ID, "alice")

	_, err := f.executor.AddApprovers(context.Background(), original.ID, []string{"bob"}, constants.AddPositionBefore, session("alice"), "need finance first")
	require.NoError(t, err)

	stored, _ := f.store.GetTask(context.Background(), original.ID)
	assert.Equal(t, constants.TaskStatusSkipped, stored.Status)

	added := f.openTaskFor(t, inst.ID, "bob")
	assert.Equal(t, constants.AssignSourceAddedBefore, added.Source)

	_, err = f.executor.Approve(context.Background(), added.ID, session("bob"), "ok")
	require.NoError(t, err)
	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, constants.InstanceStatusApproved, current.Status)
}

func TestAddApproverAfterQueuesBehindMainStage(t *testing.T) {
	f := newExecutorFixture(t)
	n1 := approvalNode("n1", 1, constants.ApprovalModeSingle, "alice")
	n1.CanAddApprover = true
	f.addFlow(&models.FlowDefinition{ID: "flow-1", IsDefault: true, Nodes: []models.NodeDefinition{n1}})

	inst := f.submit(t, nil)
	original := f.openTaskFor(t, inst.ID, "alice")

	_, err := f.executor.AddApprovers(context.Background(), original.ID, []string{"bob"}, constants.AddPositionAfter, session("alice"), "double-check after me")
	require.NoError(t, err)

	// The after-approver is queued, not yet notified.
	queued := f.openTaskFor(t, inst.ID, "bob")
	assert.Nil(t, queued.NotifiedAt)

	_, err = f.executor.Approve(context.Background(), original.ID, session("alice"), "ok")
	require.NoError(t, err)

	// Main stage done but the node holds for the after-approver.
	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, constants.InstanceStatusPending, current.Status)
	queued, _ = f.store.GetTask(context.Background(), queued.ID)
	assert.NotNil(t, queued.NotifiedAt)

	_, err = f.executor.Approve(context.Background(), queued.ID, session("bob"), "confirmed")
	require.NoError(t, err)
	current, _ = f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, constants.InstanceStatusApproved, current.Status)
}

func TestSequentialEnforcesTurnOrder(t *testing.T) {
	f := newExecutorFixture(t)
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{approvalNode("n1", 1, constants.ApprovalModeSequential, "alice", "bob")},
	})

	inst := f.submit(t, nil)
	bobTask := f.openTaskFor(t, inst.ID, "bob")
	assert.Nil(t, bobTask.NotifiedAt)

	_, err := f.executor.Approve(context.Background(), bobTask.ID, session("bob"), "ok")
	assert.True(t, apperrors.IsStateConflict(err), "expected turn-order conflict, got %v", err)

	_, err = f.executor.Approve(context.Background(), f.openTaskFor(t, inst.ID, "alice").ID, session("alice"), "ok")
	require.NoError(t, err)

	bobTask, _ = f.store.GetTask(context.Background(), bobTask.ID)
	assert.NotNil(t, bobTask.NotifiedAt)

	_, err = f.executor.Approve(context.Background(), bobTask.ID, session("bob"), "ok")
	require.NoError(t, err)
	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, constants.InstanceStatusApproved, current.Status)
}

func TestTerminateIsAdminOnlyWithComment(t *testing.T) {
	f := newExecutorFixture(t)
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{approvalNode("n1", 1, constants.ApprovalModeSingle, "alice")},
	})
	inst := f.submit(t, nil)

	_, err := f.executor.Terminate(context.Background(), inst.ID, session("alice"), "because")
	assert.True(t, apperrors.IsPermission(err))

	admin := &models.UserSession{ID: "root", IsAdmin: true}
	_, err = f.executor.Terminate(context.Background(), inst.ID, admin, "")
	assert.True(t, apperrors.IsValidation(err))

	terminated, err := f.executor.Terminate(context.Background(), inst.ID, admin, "policy violation")
	require.NoError(t, err)
	assert.Equal(t, constants.InstanceStatusTerminated, terminated.Status)
}

func TestParallelSegmentJoinsBeforeAdvancing(t *testing.T) {
	f := newExecutorFixture(t)
	branchA := approvalNode("pa", 2, constants.ApprovalModeSingle, "alice")
	branchA.DefaultNextID = "join"
	branchB := approvalNode("pb", 3, constants.ApprovalModeSingle, "bob")
	branchB.DefaultNextID = "join"
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{
			{ID: "fork", Order: 1, Name: "fork", Type: constants.NodeTypeParallel, ParallelHeads: []string{"pa", "pb"}},
			branchA,
			branchB,
			{ID: "join", Order: 4, Name: "join", Type: constants.NodeTypeJoin},
			approvalNode("final", 5, constants.ApprovalModeSingle, "carol"),
		},
	})

	inst := f.submit(t, nil)
	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, "fork", current.CurrentNodeID)
	assert.Equal(t, 2, current.JoinExpected)

	// Both branch tasks open concurrently.
	aliceTask := f.openTaskFor(t, inst.ID, "alice")
	f.openTaskFor(t, inst.ID, "bob")

	_, err := f.executor.Approve(context.Background(), aliceTask.ID, session("alice"), "ok")
	require.NoError(t, err)
	current, _ = f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, 1, current.JoinArrived)
	assert.Equal(t, constants.InstanceStatusPending, current.Status)

	_, err = f.executor.Approve(context.Background(), f.openTaskFor(t, inst.ID, "bob").ID, session("bob"), "ok")
	require.NoError(t, err)
	current, _ = f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, "final", current.CurrentNodeID)
	assert.Equal(t, 0, current.JoinExpected)
	f.openTaskFor(t, inst.ID, "carol")
}

func TestTimeoutAutoPassActsAsSystem(t *testing.T) {
	f := newExecutorFixture(t)
	n1 := approvalNode("n1", 1, constants.ApprovalModeSingle, "alice")
	n1.Timeout = &models.TimeoutPolicy{Hours: 24, Action: constants.TimeoutAutoPass}
	f.addFlow(&models.FlowDefinition{ID: "flow-1", IsDefault: true, Nodes: []models.NodeDefinition{n1}})

	inst := f.submit(t, nil)
	task := f.openTaskFor(t, inst.ID, "alice")

	require.NoError(t, f.executor.HandleTimeout(context.Background(), task.ID))

	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, constants.InstanceStatusApproved, current.Status)

	stored, _ := f.store.GetTask(context.Background(), task.ID)
	assert.Equal(t, constants.TaskActionApprove, stored.Action)

	logs, _ := f.store.ListActionLogs(context.Background(), inst.ID)
	var sawSystemApprove bool
	for _, l := range logs {
		if l.Operation == constants.OpApprove && l.OperatorID == constants.SystemOperatorID {
			sawSystemApprove = true
		}
	}
	assert.True(t, sawSystemApprove)
}

func TestTimeoutRemindPushesDueTime(t *testing.T) {
	f := newExecutorFixture(t)
	n1 := approvalNode("n1", 1, constants.ApprovalModeSingle, "alice")
	n1.Timeout = &models.TimeoutPolicy{Hours: 24, Action: constants.TimeoutRemind}
	f.addFlow(&models.FlowDefinition{ID: "flow-1", IsDefault: true, Nodes: []models.NodeDefinition{n1}})

	inst := f.submit(t, nil)
	task := f.openTaskFor(t, inst.ID, "alice")
	originalDue := *task.DueAt

	require.NoError(t, f.executor.HandleTimeout(context.Background(), task.ID))

	stored, _ := f.store.GetTask(context.Background(), task.ID)
	assert.Equal(t, constants.TaskStatusPending, stored.Status)
	assert.True(t, stored.DueAt.After(originalDue) || stored.DueAt.Equal(originalDue))
	assert.Len(t, f.bus.byType(events.TaskReminder), 1)
}

func TestTimeoutEscalateReassignsToManager(t *testing.T) {
	f := newExecutorFixture(t)
	n1 := approvalNode("n1", 1, constants.ApprovalModeSingle, "alice")
	n1.Timeout = &models.TimeoutPolicy{Hours: 24, Action: constants.TimeoutEscalate}
	f.addFlow(&models.FlowDefinition{ID: "flow-1", IsDefault: true, Nodes: []models.NodeDefinition{n1}})

	inst := f.submit(t, nil)
	task := f.openTaskFor(t, inst.ID, "alice")

	require.NoError(t, f.executor.HandleTimeout(context.Background(), task.ID))

	stored, _ := f.store.GetTask(context.Background(), task.ID)
	assert.Equal(t, "eng-head", stored.AssigneeID)
	assert.Equal(t, constants.TaskStatusPending, stored.Status)
}

func TestOptionalNodeSkipsWhenNobodyResolves(t *testing.T) {
	f := newExecutorFixture(t)
	optional := models.NodeDefinition{
		ID: "opt", Order: 1, Name: "optional reviewer", Type: constants.NodeTypeApproval,
		Mode:     constants.ApprovalModeSingle,
		Optional: true,
		Approver: models.ApproverConfig{Strategy: constants.StrategyRole, Roles: []string{"nonexistent"}},
	}
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{optional, approvalNode("n2", 2, constants.ApprovalModeSingle, "bob")},
	})

	inst := f.submit(t, nil)
	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, "n2", current.CurrentNodeID)

	logs, _ := f.store.ListActionLogs(context.Background(), inst.ID)
	var sawSkip bool
	for _, l := range logs {
		if l.Operation == constants.OpSkip {
			sawSkip = true
		}
	}
	assert.True(t, sawSkip)
}

func TestRequiredNodeFailsWhenNobodyResolves(t *testing.T) {
	f := newExecutorFixture(t)
	required := models.NodeDefinition{
		ID: "req", Order: 1, Name: "reviewer", Type: constants.NodeTypeApproval,
		Mode:     constants.ApprovalModeSingle,
		Approver: models.ApproverConfig{Strategy: constants.StrategyRole, Roles: []string{"nonexistent"}},
	}
	f.addFlow(&models.FlowDefinition{ID: "flow-1", IsDefault: true, Nodes: []models.NodeDefinition{required}})

	_, err := f.executor.Submit(context.Background(), &SubmitRequest{TemplateID: "tpl-1"}, session("ivan"))
	assert.True(t, apperrors.IsResolution(err), "expected resolution error, got %v", err)
}

func TestCCNodeCreatesNoticesAndAdvances(t *testing.T) {
	f := newExecutorFixture(t)
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{
			{
				ID: "cc", Order: 1, Name: "notify finance", Type: constants.NodeTypeCC,
				Approver: models.ApproverConfig{Strategy: constants.StrategyFixedUser, UserIDs: []string{"carol"}},
			},
			approvalNode("n2", 2, constants.ApprovalModeSingle, "alice"),
		},
	})

	inst := f.submit(t, nil)
	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, "n2", current.CurrentNodeID)

	copies, _ := f.store.ListCarbonCopiesByUser(context.Background(), "carol", true, 10)
	require.Len(t, copies, 1)
	assert.Equal(t, "cc", copies[0].NodeID)

	published := f.bus.byType(events.CarbonCopyCreated)
	require.Len(t, published, 1)
	payload, ok := published[0].payload.(*CarbonCopyPayload)
	require.True(t, ok)
	assert.Equal(t, "carol", payload.CarbonCopy.UserID)
}

func TestConcurrentDuplicateApprovalsAdvanceOnce(t *testing.T) {
	f := newExecutorFixture(t)
	f.addFlow(&models.FlowDefinition{
		ID: "flow-1", IsDefault: true,
		Nodes: []models.NodeDefinition{
			approvalNode("n1", 1, constants.ApprovalModeSingle, "alice"),
			approvalNode("n2", 2, constants.ApprovalModeSingle, "bob"),
		},
	})

	inst := f.submit(t, nil)
	task := f.openTaskFor(t, inst.ID, "alice")

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.executor.Approve(context.Background(), task.ID, session("alice"), "ok")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var wins, conflicts int
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, apperrors.IsStateConflict(err), "unexpected error: %v", err)
		conflicts++
	}
	assert.Equal(t, 1, wins, "exactly one approval may take effect")
	assert.Equal(t, attempts-1, conflicts)

	current, _ := f.store.GetInstance(context.Background(), inst.ID)
	assert.Equal(t, constants.InstanceStatusPending, current.Status)
	assert.Equal(t, "n2", current.CurrentNodeID)
	assert.Equal(t, inst.Version+1, current.Version, "only the winning write bumps the version")

	var open int
	for _, id := range f.store.taskOrder {
		if tk := f.store.tasks[id]; tk.NodeID == "n2" && tk.IsOpen() {
			open++
		}
	}
	assert.Equal(t, 1, open, "the next node must open exactly one task")
}
