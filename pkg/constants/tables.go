package constants

// Table names - every engine record type has one table; repositories never
// interpolate user input into these.
const (
	TableTemplate    = "af_template"
	TableFlow        = "af_flow"
	TableRoutingRule = "af_routing_rule"
	TableInstance    = "af_instance"
	TableTask        = "af_task"
	TableCountersign = "af_countersign_result"
	TableCarbonCopy  = "af_carbon_copy"
	TableDelegate    = "af_delegate"
	TableDelegateLog = "af_delegate_log"
	TableActionLog   = "af_action_log"
	TableUser        = "af_user"
	TableDepartment  = "af_department"
)

// Context keys
const (
	ContextKeyUser = "user"
)

// HTTP header names
const (
	HeaderAuthorization = "Authorization"
)

// Response envelope keys
const (
	ResponseError = "error"
	ResponseData  = "data"
	FieldMessage  = "message"
)
