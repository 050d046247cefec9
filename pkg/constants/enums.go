package constants

// Instance status constants
const (
	InstanceStatusDraft      = "DRAFT"
	InstanceStatusPending    = "PENDING"
	InstanceStatusApproved   = "APPROVED"
	InstanceStatusRejected   = "REJECTED"
	InstanceStatusWithdrawn  = "WITHDRAWN"
	InstanceStatusTerminated = "TERMINATED"
)

// Node type constants
const (
	NodeTypeApproval  = "APPROVAL"
	NodeTypeCC        = "CC"
	NodeTypeCondition = "CONDITION"
	NodeTypeParallel  = "PARALLEL"
	NodeTypeJoin      = "JOIN"
)

// Approval mode constants
const (
	ApprovalModeSingle     = "SINGLE"
	ApprovalModeOrSign     = "OR_SIGN"
	ApprovalModeAndSign    = "AND_SIGN"
	ApprovalModeSequential = "SEQUENTIAL"
)

// Approver resolution strategies
const (
	StrategyFixedUser         = "FIXED_USER"
	StrategyRole              = "ROLE"
	StrategyDepartmentHead    = "DEPARTMENT_HEAD"
	StrategyDirectManager     = "DIRECT_MANAGER"
	StrategyFormField         = "FORM_FIELD"
	StrategyInitiatorDeptHead = "INITIATOR_DEPT_HEAD"
	StrategyMultiDept         = "MULTI_DEPT"
	StrategyDynamic           = "DYNAMIC"
)

// Task type constants
const (
	TaskTypeApproval   = "APPROVAL"
	TaskTypeCC         = "CC"
	TaskTypeEvaluation = "EVALUATION"
)

// Task status constants
const (
	TaskStatusPending     = "PENDING"
	TaskStatusCompleted   = "COMPLETED"
	TaskStatusTransferred = "TRANSFERRED"
	TaskStatusDelegated   = "DELEGATED"
	TaskStatusSkipped     = "SKIPPED"
	TaskStatusExpired     = "EXPIRED"
	TaskStatusCancelled   = "CANCELLED"
)

// Task actions recorded on completion
const (
	TaskActionApprove = "APPROVE"
	TaskActionReject  = "REJECT"
	TaskActionReturn  = "RETURN"
)

// Task assignment sources
const (
	AssignSourceNormal      = "NORMAL"
	AssignSourceDelegated   = "DELEGATED"
	AssignSourceTransferred = "TRANSFERRED"
	AssignSourceAddedBefore = "ADDED_BEFORE"
	AssignSourceAddedAfter  = "ADDED_AFTER"
)

// Add-approver positions
const (
	AddPositionBefore = "BEFORE"
	AddPositionAfter  = "AFTER"
)

// Rejection policies (where the instance goes when a node rejects)
const (
	RejectToStart    = "START"
	RejectToPrev     = "PREV"
	RejectToSpecific = "SPECIFIC"
	RejectToNone     = "NONE"
)

// Countersign aggregate results
const (
	CountersignPending = "PENDING"
	CountersignPassed  = "PASSED"
	CountersignFailed  = "FAILED"
)

// Timeout actions
const (
	TimeoutRemind     = "REMIND"
	TimeoutAutoPass   = "AUTO_PASS"
	TimeoutAutoReject = "AUTO_REJECT"
	TimeoutEscalate   = "ESCALATE"
)

// Delegate scope constants
const (
	DelegateScopeAll      = "ALL"
	DelegateScopeTemplate = "TEMPLATE"
	DelegateScopeCategory = "CATEGORY"
)

// Action log operations
const (
	OpSubmit            = "SUBMIT"
	OpApprove           = "APPROVE"
	OpReject            = "REJECT"
	OpReturn            = "RETURN"
	OpTransfer          = "TRANSFER"
	OpDelegate          = "DELEGATE"
	OpAddApproverBefore = "ADD_APPROVER_BEFORE"
	OpAddApproverAfter  = "ADD_APPROVER_AFTER"
	OpWithdraw          = "WITHDRAW"
	OpTerminate         = "TERMINATE"
	OpTimeout           = "TIMEOUT"
	OpCarbonCopy        = "CARBON_COPY"
	OpSkip              = "SKIP"
)

// Template status constants
const (
	TemplateStatusDraft     = "Draft"
	TemplateStatusPublished = "Published"
	TemplateStatusDisabled  = "Disabled"
)

// Notification types
const (
	NotifyTaskPending      = "TASK_PENDING"
	NotifyInstanceApproved = "INSTANCE_APPROVED"
	NotifyInstanceRejected = "INSTANCE_REJECTED"
	NotifyCarbonCopy       = "CARBON_COPY"
	NotifyDelegateActed    = "DELEGATE_ACTED"
	NotifyTaskReminder     = "TASK_REMINDER"
)

// SystemOperatorID is the actor recorded for engine-initiated operations
// (timeout auto-pass/auto-reject).
const SystemOperatorID = "system"
