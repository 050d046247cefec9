package condition

import (
	"fmt"
	"strings"
)

// Leaf operators. This is the closed operator set; anything else fails
// validation at flow-publish time.
const (
	OpEq       = "eq"
	OpNe       = "ne"
	OpGt       = "gt"
	OpGe       = "ge"
	OpLt       = "lt"
	OpLe       = "le"
	OpIn       = "in"
	OpNotIn    = "not_in"
	OpBetween  = "between"
	OpContains = "contains"
	OpIsNull   = "is_null"
	OpNotNull  = "not_null"
)

// Group logic operators
const (
	LogicAnd = "AND"
	LogicOr  = "OR"
)

// Expr is a condition expression tree node. A node is either a group
// (Logic + Items) or a leaf (Field + Op + Value); a node carrying both is
// invalid.
type Expr struct {
	Logic string  `json:"logic,omitempty"`
	Items []*Expr `json:"items,omitempty"`

	Field string      `json:"field,omitempty"`
	Op    string      `json:"op,omitempty"`
	Value interface{} `json:"value,omitempty"`
}

// IsGroup reports whether the node is an AND/OR group.
func (e *Expr) IsGroup() bool {
	return e != nil && e.Logic != ""
}

// And builds an AND group. Convenience for tests and seed data.
func And(items ...*Expr) *Expr {
	return &Expr{Logic: LogicAnd, Items: items}
}

// Or builds an OR group.
func Or(items ...*Expr) *Expr {
	return &Expr{Logic: LogicOr, Items: items}
}

// Leaf builds a leaf comparison.
func Leaf(field, op string, value interface{}) *Expr {
	return &Expr{Field: field, Op: op, Value: value}
}

var validOps = map[string]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGe: true, OpLt: true, OpLe: true,
	OpIn: true, OpNotIn: true, OpBetween: true, OpContains: true,
	OpIsNull: true, OpNotNull: true,
}

// Validate checks an expression tree structurally. Called at publish time so
// execution never sees an unsupported operator.
func Validate(e *Expr) error {
	if e == nil {
		return nil
	}
	if e.IsGroup() {
		logic := strings.ToUpper(e.Logic)
		if logic != LogicAnd && logic != LogicOr {
			return fmt.Errorf("unsupported logic operator %q", e.Logic)
		}
		if e.Field != "" || e.Op != "" {
			return fmt.Errorf("condition node mixes group logic %q with leaf field %q", e.Logic, e.Field)
		}
		for _, item := range e.Items {
			if item == nil {
				return fmt.Errorf("group %q contains a nil item", e.Logic)
			}
			if err := Validate(item); err != nil {
				return err
			}
		}
		return nil
	}

	if e.Field == "" {
		return fmt.Errorf("condition leaf missing field")
	}
	if !validOps[e.Op] {
		return fmt.Errorf("unsupported condition operator %q on field %q", e.Op, e.Field)
	}
	switch e.Op {
	case OpBetween:
		pair, ok := toSlice(e.Value)
		if !ok || len(pair) != 2 {
			return fmt.Errorf("between on field %q requires a [low, high] pair", e.Field)
		}
	case OpIn, OpNotIn:
		if _, ok := toSlice(e.Value); !ok {
			return fmt.Errorf("%s on field %q requires a list value", e.Op, e.Field)
		}
	}
	return nil
}

func toSlice(v interface{}) ([]interface{}, bool) {
	switch s := v.(type) {
	case []interface{}:
		return s, true
	case []string:
		out := make([]interface{}, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	case []float64:
		out := make([]interface{}, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	case []int:
		out := make([]interface{}, len(s))
		for i, item := range s {
			out[i] = item
		}
		return out, true
	default:
		return nil, false
	}
}
