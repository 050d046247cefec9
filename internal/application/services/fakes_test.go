package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/approveflow/backend/internal/domain/events"
	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/internal/domain/ports"
	apperrors "github.com/approveflow/backend/pkg/errors"
)

// Interface conformance for the test doubles.
var (
	_ ports.WorkflowStore  = (*memStore)(nil)
	_ ports.Directory      = (*fakeDirectory)(nil)
	_ ports.EventPublisher = (*recordingBus)(nil)
)

// fakeDirectory is an in-memory org chart for service tests.
type fakeDirectory struct {
	users       map[string]*models.User       // id -> user
	roles       map[string][]string           // role -> member ids
	departments map[string]*models.Department // id -> department
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:       make(map[string]*models.User),
		roles:       make(map[string][]string),
		departments: make(map[string]*models.Department),
	}
}

func (d *fakeDirectory) addUser(id, deptID, managerID string) {
	d.users[id] = &models.User{ID: id, Name: id, DepartmentID: deptID, ManagerID: managerID, IsActive: true}
}

func (d *fakeDirectory) addDepartment(id, parentID, headID string) {
	d.departments[id] = &models.Department{ID: id, Name: id, ParentID: parentID, HeadID: headID}
}

func (d *fakeDirectory) GetUser(ctx context.Context, userID string) (*models.User, error) {
	u, ok := d.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %q not found", userID)
	}
	return u, nil
}

func (d *fakeDirectory) RoleMembers(ctx context.Context, role string) ([]string, error) {
	return d.roles[role], nil
}

func (d *fakeDirectory) DepartmentOf(ctx context.Context, userID string) (string, error) {
	u, ok := d.users[userID]
	if !ok {
		return "", fmt.Errorf("user %q not found", userID)
	}
	return u.DepartmentID, nil
}

func (d *fakeDirectory) DepartmentHead(ctx context.Context, departmentID string, levelsUp int) (string, error) {
	dept, ok := d.departments[departmentID]
	if !ok {
		return "", fmt.Errorf("department %q not found", departmentID)
	}
	for i := 0; i < levelsUp; i++ {
		if dept.ParentID == "" {
			break
		}
		parent, ok := d.departments[dept.ParentID]
		if !ok {
			break
		}
		dept = parent
	}
	if dept.HeadID == "" {
		return "", fmt.Errorf("department %q has no head", dept.ID)
	}
	return dept.HeadID, nil
}

func (d *fakeDirectory) ManagerOf(ctx context.Context, userID string, levels int) (string, error) {
	current, ok := d.users[userID]
	if !ok {
		return "", fmt.Errorf("user %q not found", userID)
	}
	for i := 0; i < levels; i++ {
		if current.ManagerID == "" {
			if i == 0 {
				return "", fmt.Errorf("user %q has no manager", userID)
			}
			break
		}
		next, ok := d.users[current.ManagerID]
		if !ok {
			return "", fmt.Errorf("manager %q not found", current.ManagerID)
		}
		current = next
	}
	return current.ID, nil
}

// memStore is an in-memory ports.WorkflowStore. Instances and tasks are
// stored and returned as copies so version checks behave like a real store.
type memStore struct {
	*fakeDelegateStore

	mu   sync.Mutex // guards the collections below
	txMu sync.Mutex // serializes transactions, like a SERIALIZABLE store

	templates map[string]*models.Template
	flows     map[string]*models.FlowDefinition
	rules     []*models.RoutingRule

	instances map[string]*models.Instance
	tasks     map[string]*models.Task
	taskOrder []string

	countersigns map[string]*models.CountersignResult
	actionLogs   []*models.ActionLog
	carbonCopies []*models.CarbonCopy
}

func newMemStore() *memStore {
	return &memStore{
		fakeDelegateStore: newFakeDelegateStore(),
		templates:         make(map[string]*models.Template),
		flows:             make(map[string]*models.FlowDefinition),
		instances:         make(map[string]*models.Instance),
		tasks:             make(map[string]*models.Task),
		countersigns:      make(map[string]*models.CountersignResult),
	}
}

func (s *memStore) RunInTransaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(ctx)
}

func (s *memStore) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.templates[id], nil
}

func (s *memStore) ListTemplates(ctx context.Context) ([]*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Template
	for _, t := range s.templates {
		out = append(out, t)
	}
	return out, nil
}

func (s *memStore) SaveTemplate(ctx context.Context, tpl *models.Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.templates[tpl.ID] = tpl
	return nil
}

func (s *memStore) GetFlow(ctx context.Context, id string) (*models.FlowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.flows[id], nil
}

func (s *memStore) ListFlows(ctx context.Context, templateID string) ([]*models.FlowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.FlowDefinition
	for _, f := range s.flows {
		if f.TemplateID == templateID {
			out = append(out, f)
		}
	}
	return out, nil
}

func (s *memStore) GetDefaultFlow(ctx context.Context, templateID string) (*models.FlowDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range s.flows {
		if f.TemplateID == templateID && f.IsDefault {
			return f, nil
		}
	}
	return nil, nil
}

func (s *memStore) SaveFlow(ctx context.Context, flow *models.FlowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[flow.ID] = flow
	return nil
}

func (s *memStore) ListRoutingRules(ctx context.Context, templateID string) ([]*models.RoutingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.RoutingRule
	for _, r := range s.rules {
		if r.TemplateID == templateID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (s *memStore) SaveRoutingRule(ctx context.Context, rule *models.RoutingRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rules = append(s.rules, rule)
	return nil
}

func (s *memStore) InsertInstance(ctx context.Context, inst *models.Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *inst
	s.instances[inst.ID] = &cp
	return nil
}

func (s *memStore) GetInstance(ctx context.Context, id string) (*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, nil
	}
	cp := *inst
	return &cp, nil
}

func (s *memStore) UpdateInstance(ctx context.Context, inst *models.Instance, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.instances[inst.ID]
	if !ok {
		return apperrors.NewNotFoundError("instance", inst.ID)
	}
	if stored.Version != expectedVersion {
		return apperrors.NewStateConflictError("instance", inst.ID, "version conflict")
	}
	cp := *inst
	s.instances[inst.ID] = &cp
	return nil
}

func (s *memStore) ListInstancesByInitiator(ctx context.Context, initiatorID string, limit int) ([]*models.Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Instance
	for _, inst := range s.instances {
		if inst.InitiatorID == initiatorID {
			cp := *inst
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) InsertTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *task
	s.tasks[task.ID] = &cp
	s.taskOrder = append(s.taskOrder, task.ID)
	return nil
}

func (s *memStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) UpdateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		return apperrors.NewNotFoundError("task", task.ID)
	}
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *memStore) ListTasksByNode(ctx context.Context, instanceID, nodeID string) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Task
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if t.InstanceID == instanceID && t.NodeID == nodeID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ListOpenTasksByInstance(ctx context.Context, instanceID string) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Task
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if t.InstanceID == instanceID && t.IsOpen() {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ListPendingTasksByAssignee(ctx context.Context, assigneeID string, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Task
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if t.AssigneeID == assigneeID && t.IsOpen() && t.NotifiedAt != nil {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ListDueTasks(ctx context.Context, before time.Time, limit int) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Task
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if t.IsOpen() && t.DueAt != nil && t.DueAt.Before(before) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) UpsertCountersign(ctx context.Context, result *models.CountersignResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *result
	s.countersigns[result.InstanceID+"/"+result.NodeID] = &cp
	return nil
}

func (s *memStore) GetCountersign(ctx context.Context, instanceID, nodeID string) (*models.CountersignResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.countersigns[instanceID+"/"+nodeID], nil
}

func (s *memStore) AppendActionLog(ctx context.Context, entry *models.ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.actionLogs = append(s.actionLogs, entry)
	return nil
}

func (s *memStore) ListActionLogs(ctx context.Context, instanceID string) ([]*models.ActionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.ActionLog
	for _, l := range s.actionLogs {
		if l.InstanceID == instanceID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *memStore) InsertCarbonCopy(ctx context.Context, cc *models.CarbonCopy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.carbonCopies = append(s.carbonCopies, cc)
	return nil
}

func (s *memStore) ListCarbonCopiesByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*models.CarbonCopy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.CarbonCopy
	for _, cc := range s.carbonCopies {
		if cc.UserID != userID {
			continue
		}
		if unreadOnly && cc.Read {
			continue
		}
		out = append(out, cc)
	}
	return out, nil
}

func (s *memStore) MarkCarbonCopyRead(ctx context.Context, id, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, cc := range s.carbonCopies {
		if cc.ID == id && cc.UserID == userID {
			cc.Read = true
			now := time.Now()
			cc.ReadAt = &now
			return nil
		}
	}
	return apperrors.NewNotFoundError("carbon copy", id)
}

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []recordedEvent
}

type recordedEvent struct {
	eventType events.EventType
	payload   interface{}
}

func (b *recordingBus) Subscribe(eventType events.EventType, handler ports.EventHandler) func() {
	return func() {}
}

func (b *recordingBus) Publish(ctx context.Context, eventType events.EventType, payload interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, recordedEvent{eventType, payload})
	return nil
}

func (b *recordingBus) PublishAsync(eventType events.EventType, payload interface{}) {
	_ = b.Publish(context.Background(), eventType, payload)
}

func (b *recordingBus) byType(eventType events.EventType) []recordedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []recordedEvent
	for _, ev := range b.events {
		if ev.eventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}
