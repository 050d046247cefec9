package models

import (
	"time"

	"github.com/approveflow/backend/pkg/constants"
)

// Instance is one running (or terminal) execution of a flow for one business
// entity. Mutated only by the workflow executor; never deleted.
type Instance struct {
	ID          string `json:"id"`
	TemplateID  string `json:"template_id"`
	FlowID      string `json:"flow_id,omitempty"` // Empty while DRAFT; routing is final at submission
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
	Title       string `json:"title"`
	Summary     string `json:"summary,omitempty"`
	Status      string `json:"status"`
	InitiatorID string `json:"initiator_id"`

	CurrentNodeID string `json:"current_node_id,omitempty"`
	CurrentOrder  int    `json:"current_order"`

	FormData map[string]interface{} `json:"form_data,omitempty"`

	// FlowSnapshot freezes the node graph at submission time so a
	// republished template never affects an in-flight instance.
	FlowSnapshot *FlowDefinition `json:"flow_snapshot,omitempty"`

	// JOIN barrier bookkeeping for the active parallel segment.
	JoinExpected int `json:"join_expected,omitempty"`
	JoinArrived  int `json:"join_arrived,omitempty"`

	// Version is the optimistic concurrency token. Every state-changing
	// operation re-reads it and writes version+1; a mismatch loses the race.
	Version int64 `json:"version"`

	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsTerminal reports whether the instance has reached an absorbing state.
func (i *Instance) IsTerminal() bool {
	switch i.Status {
	case constants.InstanceStatusApproved,
		constants.InstanceStatusRejected,
		constants.InstanceStatusWithdrawn,
		constants.InstanceStatusTerminated:
		return true
	}
	return false
}

// Task is one unit of required action by one assignee at one node.
type Task struct {
	ID         string `json:"id"`
	InstanceID string `json:"instance_id"`
	NodeID     string `json:"node_id"`
	NodeName   string `json:"node_name,omitempty"`
	Type       string `json:"type"` // APPROVAL, CC, EVALUATION

	OrderInNode int `json:"order_in_node"` // Countersign/sequential position

	AssigneeID   string `json:"assignee_id"`
	AssigneeDept string `json:"assignee_dept,omitempty"`
	Weight       int    `json:"weight,omitempty"`
	Source       string `json:"source"` // NORMAL, DELEGATED, TRANSFERRED, ADDED_BEFORE, ADDED_AFTER

	Status  string `json:"status"`
	Action  string `json:"action,omitempty"` // APPROVE, REJECT, RETURN once completed
	Comment string `json:"comment,omitempty"`

	DueAt       *time.Time `json:"due_at,omitempty"`
	NotifiedAt  *time.Time `json:"notified_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// IsOpen reports whether the task still awaits its assignee.
func (t *Task) IsOpen() bool {
	return t.Status == constants.TaskStatusPending
}

// CountersignResult is the per (instance, node) vote aggregate for
// AND_SIGN/OR_SIGN/MULTI_DEPT nodes. Recomputed transactionally on every task
// completion at that node.
type CountersignResult struct {
	InstanceID  string    `json:"instance_id"`
	NodeID      string    `json:"node_id"`
	Total       int       `json:"total"`
	Approved    int       `json:"approved"`
	Rejected    int       `json:"rejected"`
	Pending     int       `json:"pending"`
	FinalResult string    `json:"final_result"` // PENDING, PASSED, FAILED
	UpdatedAt   time.Time `json:"updated_at"`
}

// CarbonCopy is a read-only notice to a user with read/unread state.
type CarbonCopy struct {
	ID         string     `json:"id"`
	InstanceID string     `json:"instance_id"`
	NodeID     string     `json:"node_id,omitempty"` // Empty for submission-time copies
	UserID     string     `json:"user_id"`
	Read       bool       `json:"read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ActionLog is one append-only audit row per accepted operation, capturing
// before/after status and node.
type ActionLog struct {
	ID           string    `json:"id"`
	InstanceID   string    `json:"instance_id"`
	TaskID       string    `json:"task_id,omitempty"`
	Operation    string    `json:"operation"`
	OperatorID   string    `json:"operator_id"`
	Comment      string    `json:"comment,omitempty"`
	BeforeStatus string    `json:"before_status"`
	AfterStatus  string    `json:"after_status"`
	BeforeNodeID string    `json:"before_node_id,omitempty"`
	AfterNodeID  string    `json:"after_node_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Notification is the payload handed to the notification port.
type Notification struct {
	Type       string `json:"type"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	ReceiverID string `json:"receiver_id"`
	InstanceID string `json:"instance_id"`
	TaskID     string `json:"task_id,omitempty"`
}

// Approver is one resolved (user, department, weight) entry in node order.
type Approver struct {
	UserID       string `json:"user_id"`
	DepartmentID string `json:"department_id,omitempty"`
	Weight       int    `json:"weight,omitempty"`
}
