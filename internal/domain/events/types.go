package events

// EventType defines the type of event in the system
type EventType string

const (
	// Instance lifecycle events
	InstanceSubmitted  EventType = "instance.submitted"
	InstanceApproved   EventType = "instance.approved"
	InstanceRejected   EventType = "instance.rejected"
	InstanceWithdrawn  EventType = "instance.withdrawn"
	InstanceTerminated EventType = "instance.terminated"
	InstanceReturned   EventType = "instance.returned"

	// Task events
	TaskCreated  EventType = "task.created"
	TaskReminder EventType = "task.reminder"

	// Notice events
	CarbonCopyCreated EventType = "carboncopy.created"
	DelegateActed     EventType = "delegate.acted"

	// System Events
	SystemStartup EventType = "system.startup"
)

// String returns the string representation of the event type
func (e EventType) String() string {
	return string(e)
}
