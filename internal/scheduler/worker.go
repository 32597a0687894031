package scheduler

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"insight_backoffice_backend/platform/config"
	"insight_backoffice_backend/platform/logger"
)

// ImportJobProcessor runs one persisted import job to completion.
type ImportJobProcessor interface {
	ProcessJob(ctx context.Context, organizationID, jobID uuid.UUID) error
}

// QueueDrainer processes pending replication queue items.
type QueueDrainer interface {
	DrainPending(ctx context.Context) error
}

// Worker consumes background tasks.
type Worker struct {
	server      *asynq.Server
	mux         *asynq.ServeMux
	imports     ImportJobProcessor
	replication QueueDrainer
	log         *logger.Logger
}

// NewWorker creates the asynq server with handlers for the import and
// replication tasks.
func NewWorker(cfg config.SchedulerConfig, imports ImportJobProcessor, replication QueueDrainer, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 10
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server:      server,
		mux:         mux,
		imports:     imports,
		replication: replication,
		log:         log,
	}

	mux.HandleFunc(TaskImportJob, w.handleImportJob)
	mux.HandleFunc(TaskReplicationDrain, w.handleReplicationDrain)

	return w, nil
}

// Run serves tasks until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}

func (w *Worker) handleImportJob(ctx context.Context, task *asynq.Task) error {
	if w.imports == nil {
		return nil
	}

	payload, err := ParseImportJobPayload(task)
	if err != nil {
		return err
	}

	jobID, err := uuid.Parse(payload.JobID)
	if err != nil {
		return err
	}

	orgID, err := uuid.Parse(payload.OrganizationID)
	if err != nil {
		return err
	}

	w.log.JobEvent("import", jobID.String(), "started")
	if err := w.imports.ProcessJob(ctx, orgID, jobID); err != nil {
		w.log.JobEvent("import", jobID.String(), "failed")
		return err
	}
	w.log.JobEvent("import", jobID.String(), "finished")
	return nil
}

func (w *Worker) handleReplicationDrain(ctx context.Context, _ *asynq.Task) error {
	if w.replication == nil {
		return nil
	}
	return w.replication.DrainPending(ctx)
}
