package services

import (
	"context"
	"fmt"
	"log"

	"github.com/approveflow/backend/internal/domain/events"
	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/internal/domain/ports"
	"github.com/approveflow/backend/pkg/constants"
)

// NotificationService bridges engine events to the outbound notification
// port. Delivery is fire-and-forget: a failed send is logged and dropped,
// never retried into the committed state transition.
type NotificationService struct {
	notifier ports.Notifier
}

// NewNotificationService creates a new NotificationService
func NewNotificationService(notifier ports.Notifier) *NotificationService {
	if notifier == nil {
		notifier = &LogNotifier{}
	}
	return &NotificationService{notifier: notifier}
}

// RegisterHandlers subscribes to the lifecycle events that produce outbound
// notices.
func (s *NotificationService) RegisterHandlers(bus ports.EventPublisher) {
	bus.Subscribe(events.TaskCreated, s.onTaskCreated)
	bus.Subscribe(events.TaskReminder, s.onTaskReminder)
	bus.Subscribe(events.InstanceApproved, s.onInstanceApproved)
	bus.Subscribe(events.InstanceRejected, s.onInstanceRejected)
	bus.Subscribe(events.CarbonCopyCreated, s.onCarbonCopy)
	bus.Subscribe(events.DelegateActed, s.onDelegateActed)
}

func (s *NotificationService) onTaskCreated(ctx context.Context, payload interface{}) error {
	p, ok := payload.(*TaskEventPayload)
	if !ok || p.Task == nil {
		return nil
	}
	s.send(ctx, &models.Notification{
		Type:       constants.NotifyTaskPending,
		Title:      "New approval task",
		Content:    fmt.Sprintf("%s awaits your approval at %s", p.Instance.Title, p.Task.NodeName),
		ReceiverID: p.Task.AssigneeID,
		InstanceID: p.Instance.ID,
		TaskID:     p.Task.ID,
	})
	return nil
}

func (s *NotificationService) onTaskReminder(ctx context.Context, payload interface{}) error {
	p, ok := payload.(*TaskEventPayload)
	if !ok || p.Task == nil {
		return nil
	}
	s.send(ctx, &models.Notification{
		Type:       constants.NotifyTaskReminder,
		Title:      "Approval task overdue",
		Content:    fmt.Sprintf("%s is still waiting for you at %s", p.Instance.Title, p.Task.NodeName),
		ReceiverID: p.Task.AssigneeID,
		InstanceID: p.Instance.ID,
		TaskID:     p.Task.ID,
	})
	return nil
}

func (s *NotificationService) onInstanceApproved(ctx context.Context, payload interface{}) error {
	p, ok := payload.(*InstanceEventPayload)
	if !ok || p.Instance == nil {
		return nil
	}
	s.send(ctx, &models.Notification{
		Type:       constants.NotifyInstanceApproved,
		Title:      "Request approved",
		Content:    fmt.Sprintf("%s has been approved", p.Instance.Title),
		ReceiverID: p.Instance.InitiatorID,
		InstanceID: p.Instance.ID,
	})
	return nil
}

func (s *NotificationService) onInstanceRejected(ctx context.Context, payload interface{}) error {
	p, ok := payload.(*InstanceEventPayload)
	if !ok || p.Instance == nil {
		return nil
	}
	content := fmt.Sprintf("%s has been rejected", p.Instance.Title)
	if p.Operator != nil {
		content = fmt.Sprintf("%s has been rejected by %s: %s", p.Instance.Title, p.Operator.Name, p.Comment)
	}
	s.send(ctx, &models.Notification{
		Type:       constants.NotifyInstanceRejected,
		Title:      "Request rejected",
		Content:    content,
		ReceiverID: p.Instance.InitiatorID,
		InstanceID: p.Instance.ID,
	})
	return nil
}

func (s *NotificationService) onCarbonCopy(ctx context.Context, payload interface{}) error {
	p, ok := payload.(*CarbonCopyPayload)
	if !ok || p.Instance == nil || p.CarbonCopy == nil {
		return nil
	}
	// The unread inbox is the durable channel; this notice is just the nudge.
	s.send(ctx, &models.Notification{
		Type:       constants.NotifyCarbonCopy,
		Title:      "You were copied on a request",
		Content:    p.Instance.Title,
		ReceiverID: p.CarbonCopy.UserID,
		InstanceID: p.Instance.ID,
	})
	return nil
}

func (s *NotificationService) onDelegateActed(ctx context.Context, payload interface{}) error {
	p, ok := payload.(*DelegateActedPayload)
	if !ok || p.Task == nil {
		return nil
	}
	s.send(ctx, &models.Notification{
		Type:       constants.NotifyDelegateActed,
		Title:      "Your delegate acted on a task",
		Content:    fmt.Sprintf("%s handled %s on your behalf", p.Task.AssigneeID, p.Instance.Title),
		ReceiverID: p.OriginalID,
		InstanceID: p.Instance.ID,
		TaskID:     p.Task.ID,
	})
	return nil
}

func (s *NotificationService) send(ctx context.Context, n *models.Notification) {
	if err := s.notifier.Send(ctx, n); err != nil {
		log.Printf("⚠️ Notification delivery failed (%s to %s): %v", n.Type, n.ReceiverID, err)
	}
}

// LogNotifier is the default notifier: it writes notices to the process log.
// Deployments plug a real channel (email, IM webhook) behind ports.Notifier.
type LogNotifier struct{}

func (l *LogNotifier) Send(ctx context.Context, n *models.Notification) error {
	log.Printf("📣 [%s] to=%s instance=%s: %s", n.Type, n.ReceiverID, n.InstanceID, n.Title)
	return nil
}
