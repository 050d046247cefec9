package services

import (
	"github.com/approveflow/backend/internal/domain/ports"
	"github.com/approveflow/backend/pkg/expression"
)

// ServiceManager orchestrates all services with dependency injection
type ServiceManager struct {
	store ports.WorkflowStore

	// Core services
	EventBus     *EventBus
	Adapters     *AdapterRegistry
	Directory    ports.Directory
	Auth         *AuthService
	Definitions  *DefinitionService
	Router       *FlowRouter
	Resolver     *ApproverResolver
	Delegates    *DelegateService
	Executor     *WorkflowExecutor
	QuerySvc     *QueryService
	CarbonCopies *CarbonCopyService
	Notification *NotificationService
	Sweeper      *TimeoutSweeper
}

// ServiceManagerOptions carries the pluggable edges of the engine. Every
// field is optional; zero values select the built-in implementations.
type ServiceManagerOptions struct {
	// Directory overrides the built-in directory backed by the user tables.
	Directory ports.Directory
	// Notifier receives outbound notifications; nil logs them.
	Notifier ports.Notifier
	// Dynamic resolves DYNAMIC-strategy approvers by resolver key.
	Dynamic ports.DynamicApproverResolver
	// SweepSpec is the cron spec of the timeout sweeper; empty means every
	// minute.
	SweepSpec string
}

// NewServiceManager creates a new service manager with all dependencies wired
func NewServiceManager(store ports.WorkflowStore, users ports.UserStore, opts ServiceManagerOptions) *ServiceManager {
	sm := &ServiceManager{store: store}

	// Initialize services in dependency order
	sm.EventBus = NewEventBus()
	sm.Adapters = NewAdapterRegistry()

	sm.Directory = opts.Directory
	if sm.Directory == nil {
		sm.Directory = NewDirectoryService(users)
	}

	exprEngine := expression.NewEngine()
	sm.Auth = NewAuthService(users)
	sm.Definitions = NewDefinitionService(store, exprEngine)
	sm.Router = NewFlowRouter(store, exprEngine)
	sm.Resolver = NewApproverResolver(sm.Directory, exprEngine)
	if opts.Dynamic != nil {
		sm.Resolver.SetDynamicResolver(opts.Dynamic)
	}
	sm.Delegates = NewDelegateService(store)

	sm.Executor = NewWorkflowExecutor(store, sm.Router, sm.Resolver, sm.Delegates, sm.Adapters, sm.Directory, sm.EventBus)

	sm.QuerySvc = NewQueryService(store)
	sm.CarbonCopies = NewCarbonCopyService(store)

	sm.Notification = NewNotificationService(opts.Notifier)
	sm.Notification.RegisterHandlers(sm.EventBus)

	sm.Sweeper = NewTimeoutSweeper(store, sm.Executor, opts.SweepSpec)

	return sm
}

// Start launches background workers. Call after the HTTP layer is wired.
func (sm *ServiceManager) Start() error {
	return sm.Sweeper.Start()
}

// Stop shuts background workers down and drains in-flight event handlers.
func (sm *ServiceManager) Stop() {
	sm.Sweeper.Stop()
	sm.EventBus.Close()
}
