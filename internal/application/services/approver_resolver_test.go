package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approveflow/backend/internal/domain/condition"
	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/pkg/constants"
	"github.com/approveflow/backend/pkg/expression"
)

func resolverFixture() (*ApproverResolver, *fakeDirectory) {
	dir := newFakeDirectory()
	dir.addDepartment("eng", "", "eng-head")
	dir.addDepartment("eng-backend", "eng", "backend-head")
	dir.addDepartment("finance", "", "cfo")
	dir.addUser("alice", "eng-backend", "backend-head")
	dir.addUser("backend-head", "eng-backend", "eng-head")
	dir.addUser("eng-head", "eng", "")
	dir.addUser("cfo", "finance", "")
	dir.addUser("bob", "finance", "cfo")
	dir.roles["finance_approver"] = []string{"cfo", "bob"}

	return NewApproverResolver(dir, expression.NewEngine()), dir
}

func TestResolveFixedUsers(t *testing.T) {
	resolver, _ := resolverFixture()

	node := &models.NodeDefinition{Approver: models.ApproverConfig{
		Strategy: constants.StrategyFixedUser,
		UserIDs:  []string{"alice", "bob"},
	}}

	got, err := resolver.Resolve(context.Background(), node, condition.NewContext(), "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].UserID)
	assert.Equal(t, "eng-backend", got[0].DepartmentID)
	assert.Equal(t, "bob", got[1].UserID)
}

func TestResolveRoleDeduplicates(t *testing.T) {
	resolver, dir := resolverFixture()
	dir.roles["audit"] = []string{"bob"}

	node := &models.NodeDefinition{Approver: models.ApproverConfig{
		Strategy: constants.StrategyRole,
		Roles:    []string{"finance_approver", "audit"},
	}}

	got, err := resolver.Resolve(context.Background(), node, condition.NewContext(), "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "cfo", got[0].UserID)
	assert.Equal(t, "bob", got[1].UserID)
}

func TestResolveDepartmentHead(t *testing.T) {
	resolver, _ := resolverFixture()

	tests := []struct {
		name     string
		levels   int
		expected string
	}{
		{"own department head", 0, "backend-head"},
		{"one level up", 1, "eng-head"},
		{"beyond tree root clamps", 5, "eng-head"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			node := &models.NodeDefinition{Approver: models.ApproverConfig{
				Strategy: constants.StrategyDepartmentHead,
				Levels:   tt.levels,
			}}
			got, err := resolver.Resolve(context.Background(), node, condition.NewContext(), "alice")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, tt.expected, got[0].UserID)
		})
	}
}

func TestResolveDirectManagerDefaultsToOneLevel(t *testing.T) {
	resolver, _ := resolverFixture()

	node := &models.NodeDefinition{Approver: models.ApproverConfig{
		Strategy: constants.StrategyDirectManager,
	}}

	got, err := resolver.Resolve(context.Background(), node, condition.NewContext(), "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "backend-head", got[0].UserID)
}

func TestResolveFormField(t *testing.T) {
	resolver, _ := resolverFixture()

	node := &models.NodeDefinition{Approver: models.ApproverConfig{
		Strategy:  constants.StrategyFormField,
		FormField: "reviewer",
	}}

	cctx := condition.NewContext()
	cctx.Form["reviewer"] = "bob"
	got, err := resolver.Resolve(context.Background(), node, cctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].UserID)

	// Missing field resolves nobody, it is not an error.
	got, err = resolver.Resolve(context.Background(), node, condition.NewContext(), "alice")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolveMultiDeptTagsDepartments(t *testing.T) {
	resolver, _ := resolverFixture()

	node := &models.NodeDefinition{Approver: models.ApproverConfig{
		Strategy:    constants.StrategyMultiDept,
		Departments: []string{"eng-backend", "finance"},
	}}

	got, err := resolver.Resolve(context.Background(), node, condition.NewContext(), "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "backend-head", got[0].UserID)
	assert.Equal(t, "eng-backend", got[0].DepartmentID)
	assert.Equal(t, "cfo", got[1].UserID)
	assert.Equal(t, "finance", got[1].DepartmentID)
}

func TestResolveDynamicExpression(t *testing.T) {
	resolver, _ := resolverFixture()

	node := &models.NodeDefinition{Approver: models.ApproverConfig{
		Strategy:   constants.StrategyDynamic,
		Expression: `form.amount > 1000 ? "cfo" : "bob"`,
	}}

	cctx := condition.NewContext()
	cctx.Form["amount"] = 5000
	got, err := resolver.Resolve(context.Background(), node, cctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "cfo", got[0].UserID)
}

func TestResolveDynamicResolverKey(t *testing.T) {
	resolver, _ := resolverFixture()
	resolver.SetDynamicResolver(dynamicResolverFunc(func(ctx context.Context, key string, form map[string]interface{}) ([]models.Approver, error) {
		assert.Equal(t, "contract_owner", key)
		return []models.Approver{{UserID: "alice", Weight: 1}}, nil
	}))

	node := &models.NodeDefinition{Approver: models.ApproverConfig{
		Strategy:    constants.StrategyDynamic,
		ResolverKey: "contract_owner",
	}}

	got, err := resolver.Resolve(context.Background(), node, condition.NewContext(), "bob")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "alice", got[0].UserID)
}

type dynamicResolverFunc func(ctx context.Context, key string, form map[string]interface{}) ([]models.Approver, error)

func (f dynamicResolverFunc) ResolveApprovers(ctx context.Context, key string, form map[string]interface{}) ([]models.Approver, error) {
	return f(ctx, key, form)
}
