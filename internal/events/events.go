package events

import "github.com/google/uuid"

// TransactionPromoted fires when the orphan promoter confirms a speculative sale.
type TransactionPromoted struct {
	BaseEvent
	TransactionID  uuid.UUID
	OrganizationID uuid.UUID
	ExternalID     string
	NetValue       string
}

// EventName returns the event identifier.
func (TransactionPromoted) EventName() string { return "transactions.promoted" }

// DealReplicated fires when the replication engine copies a deal into another pipeline.
type DealReplicated struct {
	BaseEvent
	OrganizationID uuid.UUID
	RuleID         uuid.UUID
	SourceDealID   uuid.UUID
	TargetDealID   uuid.UUID
}

// EventName returns the event identifier.
func (DealReplicated) EventName() string { return "replication.deal_replicated" }

// ReplicationItemFailed fires when a queue item exhausts its retry budget.
type ReplicationItemFailed struct {
	BaseEvent
	OrganizationID uuid.UUID
	QueueItemID    uuid.UUID
	DealID         uuid.UUID
	Attempts       int
	LastError      string
}

// EventName returns the event identifier.
func (ReplicationItemFailed) EventName() string { return "replication.item_failed" }

// ImportJobFinished fires when a background CSV import reaches a terminal state.
type ImportJobFinished struct {
	BaseEvent
	OrganizationID uuid.UUID
	JobID          uuid.UUID
	FileName       string
	Status         string
	Error          string
}

// EventName returns the event identifier.
func (ImportJobFinished) EventName() string { return "imports.job_finished" }
