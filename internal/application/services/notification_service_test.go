package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approveflow/backend/internal/domain/events"
	"github.com/approveflow/backend/internal/domain/models"
	"github.com/approveflow/backend/pkg/constants"
)

// captureNotifier records every notice it is asked to deliver.
type captureNotifier struct {
	mu   sync.Mutex
	sent []*models.Notification
	err  error
}

func (c *captureNotifier) Send(ctx context.Context, n *models.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureNotifier) all() []*models.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*models.Notification(nil), c.sent...)
}

func newNotificationFixture(t *testing.T) (*EventBus, *captureNotifier) {
	t.Helper()
	bus := NewEventBus()
	notifier := &captureNotifier{}
	NewNotificationService(notifier).RegisterHandlers(bus)
	return bus, notifier
}

func TestCarbonCopyNoticeTargetsRecipient(t *testing.T) {
	bus, notifier := newNotificationFixture(t)

	inst := &models.Instance{ID: "inst-1", Title: "Travel expense", InitiatorID: "alice"}
	cc := &models.CarbonCopy{ID: "cc-1", InstanceID: "inst-1", UserID: "carol"}
	require.NoError(t, bus.Publish(context.Background(), events.CarbonCopyCreated,
		&CarbonCopyPayload{Instance: inst, CarbonCopy: cc}))

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, constants.NotifyCarbonCopy, sent[0].Type)
	assert.Equal(t, "carol", sent[0].ReceiverID, "notice goes to the copied user, not the initiator")
	assert.Equal(t, "inst-1", sent[0].InstanceID)
}

func TestTaskCreatedNoticeTargetsAssignee(t *testing.T) {
	bus, notifier := newNotificationFixture(t)

	inst := &models.Instance{ID: "inst-2", Title: "Purchase request"}
	task := &models.Task{ID: "task-1", InstanceID: "inst-2", NodeName: "Manager review", AssigneeID: "bob"}
	require.NoError(t, bus.Publish(context.Background(), events.TaskCreated,
		&TaskEventPayload{Instance: inst, Task: task}))

	sent := notifier.all()
	require.Len(t, sent, 1)
	assert.Equal(t, constants.NotifyTaskPending, sent[0].Type)
	assert.Equal(t, "bob", sent[0].ReceiverID)
	assert.Equal(t, "task-1", sent[0].TaskID)
}

func TestMalformedPayloadsAreIgnored(t *testing.T) {
	bus, notifier := newNotificationFixture(t)

	require.NoError(t, bus.Publish(context.Background(), events.CarbonCopyCreated, "not a payload"))
	require.NoError(t, bus.Publish(context.Background(), events.CarbonCopyCreated,
		&CarbonCopyPayload{Instance: &models.Instance{ID: "inst-3"}}))

	assert.Empty(t, notifier.all())
}

func TestDeliveryFailureDoesNotPropagate(t *testing.T) {
	bus, notifier := newNotificationFixture(t)
	notifier.err = errors.New("smtp down")

	inst := &models.Instance{ID: "inst-4", Title: "Leave request", InitiatorID: "alice"}
	require.NoError(t, bus.Publish(context.Background(), events.InstanceApproved,
		&InstanceEventPayload{Instance: inst}))
	assert.Empty(t, notifier.all())
}
