package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// TaskImportJob processes one persisted CSV import job.
const TaskImportJob = "imports.process_job"

// TaskReplicationDrain drains the replication retry queue across organizations.
const TaskReplicationDrain = "replication.drain_queue"

// ImportJobPayload identifies the job a worker should run.
type ImportJobPayload struct {
	JobID          string `json:"jobId"`
	OrganizationID string `json:"organizationId"`
}

// NewImportJobTask builds the asynq task for an import job.
func NewImportJobTask(payload ImportJobPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskImportJob, data), nil
}

// ParseImportJobPayload decodes an import job task.
func ParseImportJobPayload(task *asynq.Task) (ImportJobPayload, error) {
	var payload ImportJobPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ImportJobPayload{}, err
	}
	return payload, nil
}

// NewReplicationDrainTask builds the queue drain task. It carries no payload;
// the worker drains every organization with pending items.
func NewReplicationDrainTask() *asynq.Task {
	return asynq.NewTask(TaskReplicationDrain, nil)
}
