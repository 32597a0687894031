// Package service implements the CSV import pipeline: parse, resolve lookup
// caches, and upsert deals in throttled chunks.
package service

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"insight_backoffice_backend/internal/contacts"
	"insight_backoffice_backend/internal/deals"
	"insight_backoffice_backend/internal/events"
	"insight_backoffice_backend/internal/imports/repository"
	"insight_backoffice_backend/internal/imports/transport"
	"insight_backoffice_backend/internal/match"
	"insight_backoffice_backend/internal/scheduler"
	"insight_backoffice_backend/internal/storage"
	"insight_backoffice_backend/platform/apperr"
	"insight_backoffice_backend/platform/config"
	"insight_backoffice_backend/platform/logger"
)

// JobStore abstracts import job persistence.
type JobStore interface {
	Create(ctx context.Context, organizationID, originID uuid.UUID, fileKey, fileName string, createdBy *uuid.UUID) (uuid.UUID, error)
	Get(ctx context.Context, organizationID, id uuid.UUID) (repository.Job, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, totalRows int) (bool, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, processed, imported, updated, skipped, errorCount int) error
	Finish(ctx context.Context, id uuid.UUID, status string, details []repository.RowError, jobErr *string) error
}

// DealStore is the slice of the deal ledger the importer needs.
type DealStore interface {
	UpsertByExternalID(ctx context.Context, deal deals.Deal) (bool, error)
	ListStages(ctx context.Context, organizationID uuid.UUID) ([]deals.Stage, error)
}

// JobEnqueuer schedules background import jobs.
type JobEnqueuer interface {
	EnqueueImportJob(ctx context.Context, payload scheduler.ImportJobPayload) error
}

// Upload is one incoming CSV file.
type Upload struct {
	FileName    string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// Service runs CSV imports, synchronously for small files and as persisted
// background jobs for large ones.
type Service struct {
	jobs     JobStore
	deals    DealStore
	contacts contacts.Store
	storage  storage.Service
	bucket   string
	tasks    JobEnqueuer
	cfg      config.ImportConfig
	bus      events.Bus
	log      *logger.Logger
}

// New creates the import service. storage and tasks may be nil; without them
// every import runs synchronously.
func New(jobs JobStore, dealStore DealStore, contactStore contacts.Store, store storage.Service, bucket string, tasks JobEnqueuer, cfg config.ImportConfig, bus events.Bus, log *logger.Logger) *Service {
	return &Service{
		jobs:     jobs,
		deals:    dealStore,
		contacts: contactStore,
		storage:  store,
		bucket:   bucket,
		tasks:    tasks,
		cfg:      cfg,
		bus:      bus,
		log:      log,
	}
}

// Import handles an uploaded file. Files above the async threshold are stored
// and processed in the background; the second return value carries the job
// reference in that case.
func (s *Service) Import(ctx context.Context, organizationID uuid.UUID, createdBy *uuid.UUID, originID uuid.UUID, upload Upload) (*transport.ImportResponse, *transport.AsyncResponse, error) {
	if s.storage != nil && s.tasks != nil && upload.Size > s.cfg.GetImportAsyncThresholdBytes() {
		async, err := s.startJob(ctx, organizationID, createdBy, originID, upload)
		if err != nil {
			return nil, nil, err
		}
		return nil, async, nil
	}

	start := time.Now()
	parsed, err := Parse(upload.Reader)
	if err != nil {
		return nil, nil, apperr.Validation(fmt.Sprintf("parse csv: %v", err))
	}

	stats, err := s.run(ctx, organizationID, originID, parsed, nil)
	if err != nil {
		return nil, nil, err
	}
	stats.DurationSeconds = time.Since(start).Seconds()

	return &transport.ImportResponse{Success: true, Stats: stats}, nil, nil
}

// Job returns the polled status of a background import.
func (s *Service) Job(ctx context.Context, organizationID, jobID uuid.UUID) (repository.Job, error) {
	return s.jobs.Get(ctx, organizationID, jobID)
}

// ProcessJob runs one persisted job to completion. Input errors finish the
// job as failed without an asynq retry; infrastructure errors propagate so
// the task is retried.
func (s *Service) ProcessJob(ctx context.Context, organizationID, jobID uuid.UUID) error {
	job, err := s.jobs.Get(ctx, organizationID, jobID)
	if err != nil {
		return err
	}

	object, err := s.storage.DownloadFile(ctx, s.bucket, job.FileKey)
	if err != nil {
		return fmt.Errorf("download import file: %w", err)
	}
	defer object.Close()

	parsed, err := Parse(object)
	if err != nil {
		return s.finishJob(ctx, job, repository.StatusFailed, nil, err.Error())
	}

	total := len(parsed.Rows) + parsed.Skipped
	claimed, err := s.jobs.MarkProcessing(ctx, jobID, total)
	if err != nil {
		return err
	}
	if !claimed {
		// Another worker already ran this job.
		return nil
	}

	progress := func(processed, imported, updated, skipped, errorCount int) {
		if err := s.jobs.UpdateProgress(ctx, jobID, processed, imported, updated, skipped, errorCount); err != nil {
			s.log.DatabaseError("update import progress", err)
		}
	}

	stats, err := s.run(ctx, organizationID, job.OriginID, parsed, progress)
	if err != nil {
		return s.finishJob(ctx, job, repository.StatusFailed, stats.ErrorDetails, err.Error())
	}

	return s.finishJob(ctx, job, repository.StatusCompleted, stats.ErrorDetails, "")
}

func (s *Service) startJob(ctx context.Context, organizationID uuid.UUID, createdBy *uuid.UUID, originID uuid.UUID, upload Upload) (*transport.AsyncResponse, error) {
	if err := s.storage.ValidateContentType(upload.ContentType); err != nil {
		return nil, apperr.Validation(err.Error())
	}
	if err := s.storage.ValidateFileSize(upload.Size); err != nil {
		return nil, apperr.Validation(err.Error())
	}

	folder := fmt.Sprintf("%s/%s", organizationID, originID)
	fileKey, err := s.storage.UploadFile(ctx, s.bucket, folder, upload.FileName, upload.ContentType, upload.Reader, upload.Size)
	if err != nil {
		return nil, fmt.Errorf("store import file: %w", err)
	}

	jobID, err := s.jobs.Create(ctx, organizationID, originID, fileKey, upload.FileName, createdBy)
	if err != nil {
		return nil, err
	}

	err = s.tasks.EnqueueImportJob(ctx, scheduler.ImportJobPayload{
		JobID:          jobID.String(),
		OrganizationID: organizationID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("enqueue import job: %w", err)
	}

	s.log.JobEvent("import", jobID.String(), repository.StatusPending)
	return &transport.AsyncResponse{
		Success: true,
		JobID:   jobID,
		Status:  repository.StatusPending,
		Message: "file accepted; poll the job status for progress",
	}, nil
}

// run executes the chunked upsert pass. The progress callback, when non-nil,
// is invoked after every chunk.
func (s *Service) run(ctx context.Context, organizationID, originID uuid.UUID, parsed ParseResult, progress func(processed, imported, updated, skipped, errorCount int)) (transport.Stats, error) {
	resolver, err := contacts.NewResolver(ctx, s.contacts, organizationID)
	if err != nil {
		return transport.Stats{}, fmt.Errorf("load contact caches: %w", err)
	}

	stageByName, defaultStage, err := s.loadStages(ctx, organizationID, originID)
	if err != nil {
		return transport.Stats{}, err
	}

	stats := transport.Stats{
		Total:        len(parsed.Rows) + parsed.Skipped,
		Skipped:      parsed.Skipped,
		ErrorDetails: []repository.RowError{},
	}

	chunkSize := s.cfg.GetImportChunkSize()
	delay := s.cfg.GetImportChunkDelay()
	processed := parsed.Skipped

	for offset := 0; offset < len(parsed.Rows); offset += chunkSize {
		end := offset + chunkSize
		if end > len(parsed.Rows) {
			end = len(parsed.Rows)
		}

		for _, row := range parsed.Rows[offset:end] {
			processed++
			if err := s.importRow(ctx, organizationID, originID, row, resolver, stageByName, defaultStage, &stats); err != nil {
				s.log.RecordError("import row", row.ExternalID, err)
				stats.Errors++
				stats.ErrorDetails = append(stats.ErrorDetails, repository.RowError{
					Line:       row.Line,
					ExternalID: row.ExternalID,
					Error:      err.Error(),
				})
			}
		}

		if progress != nil {
			progress(processed, stats.Imported, stats.Updated, stats.Skipped, stats.Errors)
		}
		if delay > 0 && end < len(parsed.Rows) {
			time.Sleep(delay)
		}
	}

	s.log.BatchRun("csv_import", stats.Total, stats.Skipped, stats.Errors)
	return stats, nil
}

func (s *Service) importRow(ctx context.Context, organizationID, originID uuid.UUID, row Row, resolver *contacts.Resolver, stageByName map[string]uuid.UUID, defaultStage uuid.UUID, stats *transport.Stats) error {
	value, err := parseValue(row.Value)
	if err != nil {
		return err
	}

	contactName := row.ContactName
	if contactName == "" {
		contactName = row.Name
	}
	contactID, err := resolver.Resolve(ctx, contactName, row.Email, row.Phone)
	if err != nil {
		return fmt.Errorf("resolve contact: %w", err)
	}

	stageID := defaultStage
	if row.StageName != "" {
		if id, ok := stageByName[match.Normalize(row.StageName)]; ok {
			stageID = id
		}
	}

	deal := deals.Deal{
		OrganizationID: organizationID,
		Name:           row.Name,
		Value:          value,
		ContactID:      contactID,
		OriginID:       originID,
		StageID:        stageID,
		Tags:           row.Tags,
		CustomFields:   customFields(row.Custom),
	}
	if row.ExternalID != "" {
		deal.ExternalID = &row.ExternalID
	}
	if deal.Name == "" {
		deal.Name = row.ExternalID
	}

	inserted, err := s.deals.UpsertByExternalID(ctx, deal)
	if err != nil {
		return err
	}
	if inserted {
		stats.Imported++
	} else {
		stats.Updated++
	}
	return nil
}

func (s *Service) loadStages(ctx context.Context, organizationID, originID uuid.UUID) (map[string]uuid.UUID, uuid.UUID, error) {
	stages, err := s.deals.ListStages(ctx, organizationID)
	if err != nil {
		return nil, uuid.Nil, fmt.Errorf("load stage caches: %w", err)
	}

	byName := make(map[string]uuid.UUID)
	var defaultStage uuid.UUID
	for _, stage := range stages {
		if stage.OriginID != originID {
			continue
		}
		byName[match.Normalize(stage.Name)] = stage.ID
		if defaultStage == uuid.Nil {
			defaultStage = stage.ID
		}
	}
	if defaultStage == uuid.Nil {
		return nil, uuid.Nil, apperr.Validation("origin has no stages to import into")
	}
	return byName, defaultStage, nil
}

func (s *Service) finishJob(ctx context.Context, job repository.Job, status string, details []repository.RowError, cause string) error {
	var jobErr *string
	if cause != "" {
		jobErr = &cause
	}
	if err := s.jobs.Finish(ctx, job.ID, status, details, jobErr); err != nil {
		return err
	}

	if s.bus != nil {
		s.bus.Publish(ctx, events.ImportJobFinished{
			BaseEvent:      events.NewBaseEvent(),
			OrganizationID: job.OrganizationID,
			JobID:          job.ID,
			FileName:       job.FileName,
			Status:         status,
			Error:          cause,
		})
	}
	return nil
}

// parseValue reads a monetary amount, accepting both dot and comma decimal
// separators. Empty input is zero.
func parseValue(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	if strings.Contains(trimmed, ",") && !strings.Contains(trimmed, ".") {
		trimmed = strings.ReplaceAll(trimmed, ",", ".")
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid value %q", raw)
	}
	return value, nil
}

func customFields(raw map[string]string) deals.CustomFields {
	if len(raw) == 0 {
		return nil
	}
	fields := make(deals.CustomFields, len(raw))
	for k, v := range raw {
		fields[k] = deals.StringField(v)
	}
	return fields
}
