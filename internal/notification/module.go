package notification

import (
	"context"
	"fmt"

	"insight_backoffice_backend/internal/events"
	"insight_backoffice_backend/internal/imports/repository"
	"insight_backoffice_backend/platform/logger"
)

// Module subscribes to terminal failure events and emails operators.
type Module struct {
	sender Sender
	log    *logger.Logger
}

// New creates the notification module.
func New(sender Sender, log *logger.Logger) *Module {
	return &Module{sender: sender, log: log}
}

// Name returns the module identifier.
func (m *Module) Name() string { return "notification" }

// RegisterHandlers subscribes to the failure events on the bus.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.ImportJobFinished{}.EventName(), m)
	bus.Subscribe(events.ReplicationItemFailed{}.EventName(), m)
	m.log.Info("notification module registered event handlers")
}

// Handle routes events to the appropriate alert.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.ImportJobFinished:
		return m.handleImportJobFinished(ctx, e)
	case events.ReplicationItemFailed:
		return m.handleReplicationItemFailed(ctx, e)
	default:
		m.log.Warn("unhandled event type", "event", event.EventName())
		return nil
	}
}

func (m *Module) handleImportJobFinished(ctx context.Context, e events.ImportJobFinished) error {
	if e.Status != repository.StatusFailed {
		return nil
	}

	subject := fmt.Sprintf("CSV import failed: %s", e.FileName)
	body := fmt.Sprintf(
		"Import job %s for organization %s failed.\n\nFile: %s\nError: %s\n",
		e.JobID, e.OrganizationID, e.FileName, e.Error,
	)
	if err := m.sender.SendAlert(ctx, subject, body); err != nil {
		m.log.Error("failed to send import failure alert", "jobId", e.JobID, "error", err)
		return err
	}
	m.log.Info("import failure alert sent", "jobId", e.JobID)
	return nil
}

func (m *Module) handleReplicationItemFailed(ctx context.Context, e events.ReplicationItemFailed) error {
	subject := fmt.Sprintf("Replication gave up on deal %s", e.DealID)
	body := fmt.Sprintf(
		"Replication queue item %s for organization %s failed after %d attempts.\n\nDeal: %s\nLast error: %s\n",
		e.QueueItemID, e.OrganizationID, e.Attempts, e.DealID, e.LastError,
	)
	if err := m.sender.SendAlert(ctx, subject, body); err != nil {
		m.log.Error("failed to send replication failure alert", "queueItemId", e.QueueItemID, "error", err)
		return err
	}
	m.log.Info("replication failure alert sent", "queueItemId", e.QueueItemID)
	return nil
}
