package ports

import (
	"context"
	"time"

	"github.com/approveflow/backend/internal/domain/models"
)

// TxRunner executes a function as one atomic, serializable unit. State read
// inside fn via the returned context observes and participates in the same
// transaction; fn returning an error rolls everything back.
type TxRunner interface {
	RunInTransaction(ctx context.Context, fn func(txCtx context.Context) error) error
}

// DefinitionStore is the immutable-at-runtime configuration side: templates,
// flow definitions and routing rules. Read-only during execution.
type DefinitionStore interface {
	GetTemplate(ctx context.Context, id string) (*models.Template, error)
	ListTemplates(ctx context.Context) ([]*models.Template, error)
	SaveTemplate(ctx context.Context, tpl *models.Template) error

	GetFlow(ctx context.Context, id string) (*models.FlowDefinition, error)
	ListFlows(ctx context.Context, templateID string) ([]*models.FlowDefinition, error)
	// GetDefaultFlow returns nil (no error) when the template has no default.
	GetDefaultFlow(ctx context.Context, templateID string) (*models.FlowDefinition, error)
	SaveFlow(ctx context.Context, flow *models.FlowDefinition) error

	// ListRoutingRules returns active rules ordered by priority ascending,
	// ties broken by creation order.
	ListRoutingRules(ctx context.Context, templateID string) ([]*models.RoutingRule, error)
	SaveRoutingRule(ctx context.Context, rule *models.RoutingRule) error
}

// InstanceStore holds mutable instance rows. UpdateInstance applies
// optimistic concurrency: it writes only when the stored version equals
// expectedVersion and returns a StateConflictError otherwise.
type InstanceStore interface {
	InsertInstance(ctx context.Context, inst *models.Instance) error
	GetInstance(ctx context.Context, id string) (*models.Instance, error)
	UpdateInstance(ctx context.Context, inst *models.Instance, expectedVersion int64) error
	ListInstancesByInitiator(ctx context.Context, initiatorID string, limit int) ([]*models.Instance, error)
}

// TaskStore holds task rows.
type TaskStore interface {
	InsertTask(ctx context.Context, task *models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	ListTasksByNode(ctx context.Context, instanceID, nodeID string) ([]*models.Task, error)
	ListOpenTasksByInstance(ctx context.Context, instanceID string) ([]*models.Task, error)
	ListPendingTasksByAssignee(ctx context.Context, assigneeID string, limit int) ([]*models.Task, error)
	// ListDueTasks returns open tasks whose due time has elapsed as of the
	// given moment. Consumed by the timeout sweeper.
	ListDueTasks(ctx context.Context, before time.Time, limit int) ([]*models.Task, error)
}

// CountersignStore keeps the per (instance, node) vote aggregate.
type CountersignStore interface {
	UpsertCountersign(ctx context.Context, result *models.CountersignResult) error
	GetCountersign(ctx context.Context, instanceID, nodeID string) (*models.CountersignResult, error)
}

// ActionLogStore is append-only audit. Rows are never mutated or deleted.
type ActionLogStore interface {
	AppendActionLog(ctx context.Context, entry *models.ActionLog) error
	ListActionLogs(ctx context.Context, instanceID string) ([]*models.ActionLog, error)
}

// CarbonCopyStore keeps read-only notices with read/unread state.
type CarbonCopyStore interface {
	InsertCarbonCopy(ctx context.Context, cc *models.CarbonCopy) error
	ListCarbonCopiesByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*models.CarbonCopy, error)
	MarkCarbonCopyRead(ctx context.Context, id, userID string) error
}

// DelegateStore keeps delegate configs and the log of exercised
// substitutions.
type DelegateStore interface {
	InsertDelegate(ctx context.Context, d *models.Delegate) error
	UpdateDelegate(ctx context.Context, d *models.Delegate) error
	GetDelegate(ctx context.Context, id string) (*models.Delegate, error)
	ListDelegatesByUser(ctx context.Context, userID string) ([]*models.Delegate, error)
	// ListActiveDelegates returns configs for the user whose active range
	// contains asOf, most recently created first.
	ListActiveDelegates(ctx context.Context, userID string, asOf time.Time) ([]*models.Delegate, error)
	AppendDelegateLog(ctx context.Context, entry *models.DelegateLog) error
	// GetDelegateLogByTask returns the substitution behind a delegated task,
	// or nil when the task was assigned directly.
	GetDelegateLogByTask(ctx context.Context, taskID string) (*models.DelegateLog, error)
}

// WorkflowStore bundles everything the executor needs behind one
// transactional boundary. Implementations must guarantee that all methods
// called under the same RunInTransaction context are atomic together.
type WorkflowStore interface {
	TxRunner
	DefinitionStore
	InstanceStore
	TaskStore
	CountersignStore
	ActionLogStore
	CarbonCopyStore
	DelegateStore
}
