package notification

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"insight_backoffice_backend/internal/events"
	"insight_backoffice_backend/internal/imports/repository"
	"insight_backoffice_backend/platform/logger"
)

type testSender struct {
	subjects []string
	bodies   []string
	err      error
}

func (s *testSender) SendAlert(_ context.Context, subject, body string) error {
	if s.err != nil {
		return s.err
	}
	s.subjects = append(s.subjects, subject)
	s.bodies = append(s.bodies, body)
	return nil
}

func TestHandleImportJobFinishedAlertsOnFailure(t *testing.T) {
	sender := &testSender{}
	m := New(sender, logger.New("development"))

	err := m.Handle(context.Background(), events.ImportJobFinished{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: uuid.New(),
		JobID:          uuid.New(),
		FileName:       "deals.csv",
		Status:         repository.StatusFailed,
		Error:          "parse csv: read header: unexpected EOF",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(sender.subjects) != 1 {
		t.Fatalf("alerts = %d, want 1", len(sender.subjects))
	}
	if sender.subjects[0] != "CSV import failed: deals.csv" {
		t.Errorf("subject = %q", sender.subjects[0])
	}
}

func TestHandleImportJobFinishedIgnoresSuccess(t *testing.T) {
	sender := &testSender{}
	m := New(sender, logger.New("development"))

	err := m.Handle(context.Background(), events.ImportJobFinished{
		BaseEvent: events.NewBaseEvent(),
		JobID:     uuid.New(),
		FileName:  "deals.csv",
		Status:    repository.StatusCompleted,
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(sender.subjects) != 0 {
		t.Errorf("completed imports must not alert, got %d", len(sender.subjects))
	}
}

func TestHandleReplicationItemFailedAlerts(t *testing.T) {
	sender := &testSender{}
	m := New(sender, logger.New("development"))

	err := m.Handle(context.Background(), events.ReplicationItemFailed{
		BaseEvent:      events.NewBaseEvent(),
		OrganizationID: uuid.New(),
		QueueItemID:    uuid.New(),
		DealID:         uuid.New(),
		Attempts:       3,
		LastError:      "target stage missing",
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(sender.subjects) != 1 {
		t.Fatalf("alerts = %d, want 1", len(sender.subjects))
	}
}

func TestHandlePropagatesSenderErrors(t *testing.T) {
	sender := &testSender{err: errors.New("smtp down")}
	m := New(sender, logger.New("development"))

	err := m.Handle(context.Background(), events.ReplicationItemFailed{
		BaseEvent:   events.NewBaseEvent(),
		QueueItemID: uuid.New(),
		DealID:      uuid.New(),
	})
	if err == nil {
		t.Fatal("expected error from failing sender")
	}
}
