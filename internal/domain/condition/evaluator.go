package condition

import (
	"strings"

	"github.com/approveflow/backend/pkg/utils"
)

// Evaluate runs an expression tree against a context. It never raises: a
// missing field makes its leaf false (unless the operator is a null check),
// and an unsupported operator makes its leaf false. A nil expression is
// vacuously true.
func Evaluate(e *Expr, ctx *Context) bool {
	if e == nil {
		return true
	}

	if e.IsGroup() {
		switch strings.ToUpper(e.Logic) {
		case LogicAnd:
			// Empty AND is true
			for _, item := range e.Items {
				if !Evaluate(item, ctx) {
					return false
				}
			}
			return true
		case LogicOr:
			// Empty OR is false
			for _, item := range e.Items {
				if Evaluate(item, ctx) {
					return true
				}
			}
			return false
		default:
			return false
		}
	}

	return evaluateLeaf(e, ctx)
}

func evaluateLeaf(e *Expr, ctx *Context) bool {
	val, exists := ctx.Resolve(e.Field)

	switch e.Op {
	case OpIsNull:
		return !exists
	case OpNotNull:
		return exists
	}
	if !exists {
		return false
	}

	switch e.Op {
	case OpEq:
		return valuesEqual(val, e.Value)
	case OpNe:
		return !valuesEqual(val, e.Value)
	case OpGt:
		cmp, ok := compare(val, e.Value)
		return ok && cmp > 0
	case OpGe:
		cmp, ok := compare(val, e.Value)
		return ok && cmp >= 0
	case OpLt:
		cmp, ok := compare(val, e.Value)
		return ok && cmp < 0
	case OpLe:
		cmp, ok := compare(val, e.Value)
		return ok && cmp <= 0
	case OpIn:
		return inSet(val, e.Value)
	case OpNotIn:
		return !inSet(val, e.Value)
	case OpBetween:
		pair, ok := toSlice(e.Value)
		if !ok || len(pair) != 2 {
			return false
		}
		low, okLow := compare(val, pair[0])
		high, okHigh := compare(val, pair[1])
		// Inclusive range
		return okLow && okHigh && low >= 0 && high <= 0
	case OpContains:
		return contains(val, e.Value)
	default:
		return false
	}
}

// valuesEqual compares numerically when both sides are numbers, otherwise by
// string rendering ("5" == 5 holds, which is what form data needs).
func valuesEqual(a, b interface{}) bool {
	fa, okA := utils.ToFloat(a)
	fb, okB := utils.ToFloat(b)
	if okA && okB {
		return fa == fb
	}
	return utils.ToString(a) == utils.ToString(b)
}

// compare returns -1/0/1 like strings.Compare. The second return is false
// when the two values are not comparable.
func compare(a, b interface{}) (int, bool) {
	fa, okA := utils.ToFloat(a)
	fb, okB := utils.ToFloat(b)
	if okA && okB {
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	// ISO dates and plain strings compare lexically
	sa, sb := utils.ToString(a), utils.ToString(b)
	if sa == "" || sb == "" {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func inSet(val, set interface{}) bool {
	items, ok := toSlice(set)
	if !ok {
		return false
	}
	for _, item := range items {
		if valuesEqual(val, item) {
			return true
		}
	}
	return false
}

// contains does substring matching on strings and membership on list fields.
func contains(val, needle interface{}) bool {
	if items, ok := toSlice(val); ok {
		for _, item := range items {
			if valuesEqual(item, needle) {
				return true
			}
		}
		return false
	}
	return strings.Contains(utils.ToString(val), utils.ToString(needle))
}
