package models

import (
	"encoding/json"
	"time"

	"github.com/approveflow/backend/internal/domain/condition"
	"github.com/approveflow/backend/pkg/constants"
)

// Template is a versioned definition of an approvable business-request type.
// Immutable once published except via a new version.
type Template struct {
	ID          string          `json:"id"`
	Code        string          `json:"code"` // Stable across versions
	Name        string          `json:"name"`
	Version     int             `json:"version"`
	Status      string          `json:"status"` // Draft, Published, Disabled
	EntityType  string          `json:"entity_type"`
	Category    string          `json:"category,omitempty"`
	FormSchema  json.RawMessage `json:"form_schema,omitempty"` // JSON Schema, validated at publish
	Description *string         `json:"description,omitempty"`
	CreatedByID string          `json:"created_by_id"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// FlowDefinition is one concrete approval graph for a Template. Exactly one
// flow per template may be the default.
type FlowDefinition struct {
	ID         string           `json:"id"`
	TemplateID string           `json:"template_id"`
	Name       string           `json:"name"`
	IsDefault  bool             `json:"is_default"`
	Nodes      []NodeDefinition `json:"nodes"`
}

// NodeDefinition is a vertex in a flow graph.
type NodeDefinition struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Name  string `json:"name"`
	Type  string `json:"type"`           // APPROVAL, CC, CONDITION, PARALLEL, JOIN
	Mode  string `json:"mode,omitempty"` // SINGLE, OR_SIGN, AND_SIGN, SEQUENTIAL

	Approver ApproverConfig `json:"approver,omitempty"`

	// Optional nodes auto-skip when resolution yields nobody; required nodes
	// fail node-entry instead.
	Optional bool `json:"optional,omitempty"`

	// CONDITION nodes: ordered branch table, first true condition wins.
	Branches []ConditionBranch `json:"branches,omitempty"`
	// Explicit next node; also the CONDITION default branch. Empty means
	// "next by order index".
	DefaultNextID string `json:"default_next_id,omitempty"`
	// PARALLEL nodes: entry node of each concurrent branch.
	ParallelHeads []string `json:"parallel_heads,omitempty"`

	RejectTo RejectPolicy `json:"reject_to"`

	CanAddApprover bool `json:"can_add_approver,omitempty"`
	CanTransfer    bool `json:"can_transfer,omitempty"`
	CanDelegate    bool `json:"can_delegate,omitempty"`

	Timeout *TimeoutPolicy `json:"timeout,omitempty"`

	// MULTI_DEPT countersign: per-department evaluation form schema.
	EvaluationSchema json.RawMessage `json:"evaluation_schema,omitempty"`
}

// ApproverConfig is a tagged variant: Strategy selects which parameter fields
// apply. Validated at flow-publish time, never at execution time.
type ApproverConfig struct {
	Strategy string `json:"strategy"`

	UserIDs     []string `json:"user_ids,omitempty"`     // FIXED_USER
	Roles       []string `json:"roles,omitempty"`        // ROLE
	Levels      int      `json:"levels,omitempty"`       // DEPARTMENT_HEAD / DIRECT_MANAGER: hierarchy levels to walk
	FormField   string   `json:"form_field,omitempty"`   // FORM_FIELD: form key holding a user id
	Departments []string `json:"departments,omitempty"`  // MULTI_DEPT
	ResolverKey string   `json:"resolver_key,omitempty"` // DYNAMIC: registered external resolver
	Expression  string   `json:"expression,omitempty"`   // DYNAMIC: expression yielding a user id
}

// ConditionBranch maps a condition to the next node. A nil condition matches
// unconditionally.
type ConditionBranch struct {
	Condition  *condition.Expr `json:"condition,omitempty"`
	NextNodeID string          `json:"next_node_id"`
}

// RejectPolicy controls where a rejection sends the instance.
type RejectPolicy struct {
	Type   string `json:"type"`              // START, PREV, SPECIFIC, NONE
	NodeID string `json:"node_id,omitempty"` // SPECIFIC target
}

// TimeoutPolicy configures the action taken when a task's due time elapses.
type TimeoutPolicy struct {
	Hours  int    `json:"hours"`
	Action string `json:"action"` // REMIND, AUTO_PASS, AUTO_REJECT, ESCALATE
}

// RoutingRule maps a condition to a target flow. Priority order defines
// evaluation order; the first rule whose condition is true wins.
type RoutingRule struct {
	ID         string          `json:"id"`
	TemplateID string          `json:"template_id"`
	Priority   int             `json:"priority"`
	Condition  *condition.Expr `json:"condition,omitempty"`
	Expression string          `json:"expression,omitempty"` // expression-mode alternative to Condition
	FlowID     string          `json:"flow_id"`
	Active     bool            `json:"active"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Graph helpers on the flow snapshot. The executor only ever reads the graph
// through these.

// NodeByID returns the node with the given id, or nil.
func (f *FlowDefinition) NodeByID(id string) *NodeDefinition {
	for i := range f.Nodes {
		if f.Nodes[i].ID == id {
			return &f.Nodes[i]
		}
	}
	return nil
}

// FirstNode returns the node with the lowest order index, or nil for an empty
// flow.
func (f *FlowDefinition) FirstNode() *NodeDefinition {
	var first *NodeDefinition
	for i := range f.Nodes {
		if first == nil || f.Nodes[i].Order < first.Order {
			first = &f.Nodes[i]
		}
	}
	return first
}

// NextByOrder returns the node with the smallest order strictly greater than
// the given order, or nil at the end of the graph.
func (f *FlowDefinition) NextByOrder(order int) *NodeDefinition {
	var next *NodeDefinition
	for i := range f.Nodes {
		if f.Nodes[i].Order <= order {
			continue
		}
		if next == nil || f.Nodes[i].Order < next.Order {
			next = &f.Nodes[i]
		}
	}
	return next
}

// PrevByOrder returns the node with the largest order strictly smaller than
// the given order, or nil at the start of the graph.
func (f *FlowDefinition) PrevByOrder(order int) *NodeDefinition {
	var prev *NodeDefinition
	for i := range f.Nodes {
		if f.Nodes[i].Order >= order {
			continue
		}
		if prev == nil || f.Nodes[i].Order > prev.Order {
			prev = &f.Nodes[i]
		}
	}
	return prev
}

// IsEarlier reports whether node a comes before node b in flow order. Used to
// validate SPECIFIC reject targets.
func (f *FlowDefinition) IsEarlier(aID, bID string) bool {
	a, b := f.NodeByID(aID), f.NodeByID(bID)
	return a != nil && b != nil && a.Order < b.Order
}

// JoinNode returns the JOIN node of the flow, or nil. Flows hold at most one
// parallel segment (enforced at publish).
func (f *FlowDefinition) JoinNode() *NodeDefinition {
	for i := range f.Nodes {
		if f.Nodes[i].Type == constants.NodeTypeJoin {
			return &f.Nodes[i]
		}
	}
	return nil
}
