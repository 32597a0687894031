// Package transport defines the distribution HTTP contracts and the roster
// entry shape shared with the YAML roster file.
package transport

import "github.com/google/uuid"

// WorkerQuota is one roster entry: a worker and the number of deals they
// receive per distribution pass.
type WorkerQuota struct {
	ID    uuid.UUID `yaml:"id" json:"id" validate:"required"`
	Name  string    `yaml:"name" json:"name" validate:"required"`
	Email string    `yaml:"email" json:"email" validate:"required,email"`
	Quota int       `yaml:"quota" json:"quota" validate:"required,gt=0"`
}

// DistributeRequest optionally overrides the configured roster for one run.
type DistributeRequest struct {
	Workers []WorkerQuota `json:"workers" validate:"omitempty,dive"`
}

// WorkerAssignment reports how many deals one worker received.
type WorkerAssignment struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Assigned int    `json:"assigned"`
}

// ItemError is one failed assignment.
type ItemError struct {
	DealID uuid.UUID `json:"deal_id"`
	Error  string    `json:"error"`
}

// DistributeResponse is the distributor's run report.
type DistributeResponse struct {
	Success           bool               `json:"success"`
	Message           string             `json:"message"`
	Updated           int                `json:"updated"`
	ActivitiesCreated int                `json:"activities_created"`
	Errors            []ItemError        `json:"errors,omitempty"`
	Distribution      []WorkerAssignment `json:"distribution"`
}
