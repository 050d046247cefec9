package expression

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Engine is a wrapper around expr-lang/expr used for expression-mode routing
// conditions and dynamic approver formulas. Compiled programs are cached per
// expression string.
type Engine struct {
	programCache map[string]*vm.Program
	functions    map[string]func(params ...interface{}) (interface{}, error)
	mu           sync.RWMutex
}

// NewEngine creates a new expression engine
func NewEngine() *Engine {
	return &Engine{
		programCache: make(map[string]*vm.Program),
		functions:    make(map[string]func(params ...interface{}) (interface{}, error)),
	}
}

// Evaluate compiles (if needed) and runs an expression against the given environment
func (e *Engine) Evaluate(expression string, env map[string]interface{}) (interface{}, error) {
	program, err := e.getProgram(expression, env)
	if err != nil {
		return nil, err
	}

	output, err := expr.Run(program, env)
	if err != nil {
		return nil, err
	}
	return output, nil
}

// EvaluateBool evaluates an expression and coerces the result to a boolean.
// A non-boolean result is an error, not a silent false.
func (e *Engine) EvaluateBool(expression string, env map[string]interface{}) (bool, error) {
	out, err := e.Evaluate(expression, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to a boolean (got %T)", expression, out)
	}
	return b, nil
}

// RegisterFunction registers a custom function
func (e *Engine) RegisterFunction(name string, fn func(params ...interface{}) (interface{}, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.functions == nil {
		e.functions = make(map[string]func(params ...interface{}) (interface{}, error))
	}
	e.functions[name] = fn
	// Clear cache as available functions changed
	e.programCache = make(map[string]*vm.Program)
}

// Validate compiles an expression without running it. Used at flow-publish
// time so malformed conditions never reach execution.
func (e *Engine) Validate(expression string, env map[string]interface{}) error {
	_, err := e.getProgram(expression, env)
	return err
}

func (e *Engine) getProgram(expression string, env map[string]interface{}) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.programCache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double check
	if prog, ok := e.programCache[expression]; ok {
		return prog, nil
	}

	options := []expr.Option{
		expr.Env(env),
		expr.Function("TODAY", func(params ...interface{}) (interface{}, error) {
			return time.Now().Format("2006-01-02"), nil
		}),
		expr.Function("NOW", func(params ...interface{}) (interface{}, error) {
			return time.Now().Format("2006-01-02 15:04:05"), nil
		}),
		expr.Function("LEN", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("LEN requires 1 argument")
			}
			s, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("LEN argument must be string")
			}
			return len(s), nil
		}),
		expr.Function("UPPER", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("UPPER requires 1 argument")
			}
			s, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("UPPER argument must be string")
			}
			return strings.ToUpper(s), nil
		}),
		expr.Function("LOWER", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("LOWER requires 1 argument")
			}
			s, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("LOWER argument must be string")
			}
			return strings.ToLower(s), nil
		}),
		expr.Function("IF", func(params ...interface{}) (interface{}, error) {
			if len(params) != 3 {
				return nil, fmt.Errorf("IF requires 3 arguments (condition, true_value, false_value)")
			}
			cond, ok := params[0].(bool)
			if !ok {
				return nil, fmt.Errorf("IF condition must be boolean")
			}
			if cond {
				return params[1], nil
			}
			return params[2], nil
		}),
		expr.Function("DAYS_BETWEEN", func(params ...interface{}) (interface{}, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("DAYS_BETWEEN requires 2 arguments (from, to)")
			}
			from, err := parseDate(params[0])
			if err != nil {
				return nil, fmt.Errorf("DAYS_BETWEEN arg 1: %v", err)
			}
			to, err := parseDate(params[1])
			if err != nil {
				return nil, fmt.Errorf("DAYS_BETWEEN arg 2: %v", err)
			}
			return int(to.Sub(from).Hours() / 24), nil
		}),
	}

	// Add custom functions
	for name, fn := range e.functions {
		options = append(options, expr.Function(name, fn))
	}

	program, err := expr.Compile(expression, options...)
	if err != nil {
		return nil, err
	}

	e.programCache[expression] = program
	return program, nil
}

func parseDate(v interface{}) (time.Time, error) {
	switch val := v.(type) {
	case time.Time:
		return val, nil
	case string:
		if t, err := time.Parse("2006-01-02", val); err == nil {
			return t, nil
		}
		if t, err := time.Parse("2006-01-02 15:04:05", val); err == nil {
			return t, nil
		}
		return time.Time{}, fmt.Errorf("invalid date format %q", val)
	default:
		return time.Time{}, fmt.Errorf("not a date: %T", v)
	}
}
