package constants

// Default values for engine operations
const (
	DefaultUserName = "Unknown"
	SystemUserName  = "System" // Used when operations are performed without a user context

	// MaxOrgWalkDepth bounds manager-of chain walks so a cyclic directory
	// cannot hang resolution.
	MaxOrgWalkDepth = 10

	// MaxGraphHops bounds node-to-node traversal within one advancement so a
	// miswired branch table cannot loop forever.
	MaxGraphHops = 64

	// DefaultTaskDueHours applies when a node has a timeout action but no
	// explicit duration.
	DefaultTaskDueHours = 72

	// TimeoutSweepBatchSize caps how many overdue tasks one sweep handles;
	// the remainder waits for the next tick.
	TimeoutSweepBatchSize = 200
)
