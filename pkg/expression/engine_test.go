package expression

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEngine_Evaluate(t *testing.T) {
	e := NewEngine()

	tests := []struct {
		name     string
		expr     string
		env      map[string]interface{}
		expected interface{}
		wantErr  bool
	}{
		{
			name:     "Simple Math",
			expr:     "1 + 1",
			env:      nil,
			expected: 2,
		},
		{
			name:     "Amount Threshold",
			expr:     "form.amount > 10000",
			env:      map[string]interface{}{"form": map[string]interface{}{"amount": 15000}},
			expected: true,
		},
		{
			name:     "Nested Access",
			expr:     "initiator.department == 'Finance'",
			env:      map[string]interface{}{"initiator": map[string]interface{}{"department": "Finance"}},
			expected: true,
		},
		{
			name:     "Date Function",
			expr:     "TODAY()",
			env:      nil,
			expected: time.Now().Format("2006-01-02"),
		},
		{
			name:     "String Function",
			expr:     "UPPER(form.category)",
			env:      map[string]interface{}{"form": map[string]interface{}{"category": "travel"}},
			expected: "TRAVEL",
		},
		{
			name:     "Ternary",
			expr:     "form.amount > 500 ? 'large' : 'small'",
			env:      map[string]interface{}{"form": map[string]interface{}{"amount": 80}},
			expected: "small",
		},
		{
			name:     "Days Between",
			expr:     "DAYS_BETWEEN('2025-01-01', '2025-01-11')",
			env:      nil,
			expected: 10,
		},
		{
			name:    "Syntax Error",
			expr:    "form.amount >",
			env:     map[string]interface{}{"form": map[string]interface{}{}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(tt.expr, tt.env)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestEngine_EvaluateBool(t *testing.T) {
	e := NewEngine()

	ok, err := e.EvaluateBool("form.amount >= 100", map[string]interface{}{
		"form": map[string]interface{}{"amount": 100},
	})
	assert.NoError(t, err)
	assert.True(t, ok)

	// Non-boolean result is an error, not false
	_, err = e.EvaluateBool("form.amount", map[string]interface{}{
		"form": map[string]interface{}{"amount": 100},
	})
	assert.Error(t, err)
}

func TestEngine_RegisterFunction(t *testing.T) {
	e := NewEngine()
	e.RegisterFunction("DOUBLE", func(params ...interface{}) (interface{}, error) {
		n, _ := params[0].(int)
		return n * 2, nil
	})

	got, err := e.Evaluate("DOUBLE(21)", nil)
	assert.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestEngine_Validate(t *testing.T) {
	e := NewEngine()
	env := map[string]interface{}{"form": map[string]interface{}{}}

	assert.NoError(t, e.Validate("form.amount > 1", env))
	assert.Error(t, e.Validate("form.amount >>", env))
}
