package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"insight_backoffice_backend/internal/contacts"
	"insight_backoffice_backend/internal/deals"
	"insight_backoffice_backend/internal/events"
	"insight_backoffice_backend/internal/imports/repository"
	"insight_backoffice_backend/internal/scheduler"
	platformevents "insight_backoffice_backend/platform/events"
	"insight_backoffice_backend/platform/logger"
)

type fakeJobs struct {
	jobs      map[uuid.UUID]*repository.Job
	claimDeny bool
	progress  []int
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{jobs: map[uuid.UUID]*repository.Job{}}
}

func (f *fakeJobs) Create(_ context.Context, organizationID, originID uuid.UUID, fileKey, fileName string, createdBy *uuid.UUID) (uuid.UUID, error) {
	id := uuid.New()
	f.jobs[id] = &repository.Job{
		ID:             id,
		OrganizationID: organizationID,
		OriginID:       originID,
		FileKey:        fileKey,
		FileName:       fileName,
		Status:         repository.StatusPending,
		CreatedBy:      createdBy,
	}
	return id, nil
}

func (f *fakeJobs) Get(_ context.Context, _, id uuid.UUID) (repository.Job, error) {
	job, ok := f.jobs[id]
	if !ok {
		return repository.Job{}, fmt.Errorf("job %s not found", id)
	}
	return *job, nil
}

func (f *fakeJobs) MarkProcessing(_ context.Context, id uuid.UUID, totalRows int) (bool, error) {
	if f.claimDeny {
		return false, nil
	}
	job := f.jobs[id]
	if job.Status != repository.StatusPending {
		return false, nil
	}
	job.Status = repository.StatusProcessing
	job.TotalRows = totalRows
	return true, nil
}

func (f *fakeJobs) UpdateProgress(_ context.Context, id uuid.UUID, processed, imported, updated, skipped, errorCount int) error {
	job := f.jobs[id]
	job.ProcessedRows = processed
	job.ImportedRows = imported
	job.UpdatedRows = updated
	job.SkippedRows = skipped
	job.ErrorCount = errorCount
	f.progress = append(f.progress, processed)
	return nil
}

func (f *fakeJobs) Finish(_ context.Context, id uuid.UUID, status string, details []repository.RowError, jobErr *string) error {
	job := f.jobs[id]
	job.Status = status
	job.ErrorDetails = details
	job.Error = jobErr
	return nil
}

type fakeDeals struct {
	stages   []deals.Stage
	existing map[string]bool
	upserts  []deals.Deal
	failKey  string
}

func (f *fakeDeals) UpsertByExternalID(_ context.Context, deal deals.Deal) (bool, error) {
	key := deal.Name
	if deal.ExternalID != nil {
		key = *deal.ExternalID
	}
	if key == f.failKey && f.failKey != "" {
		return false, fmt.Errorf("constraint violation on %s", key)
	}
	f.upserts = append(f.upserts, deal)
	if f.existing[key] {
		return false, nil
	}
	if f.existing == nil {
		f.existing = map[string]bool{}
	}
	f.existing[key] = true
	return true, nil
}

func (f *fakeDeals) ListStages(_ context.Context, _ uuid.UUID) ([]deals.Stage, error) {
	return f.stages, nil
}

type fakeContacts struct {
	created int
}

func (f *fakeContacts) ListByOrganization(_ context.Context, _ uuid.UUID) ([]contacts.Contact, error) {
	return nil, nil
}

func (f *fakeContacts) Create(_ context.Context, _ contacts.Contact) (uuid.UUID, error) {
	f.created++
	return uuid.New(), nil
}

func (f *fakeContacts) Touch(_ context.Context, _, _ uuid.UUID, _, _ string) error {
	return nil
}

type fakeStorage struct {
	objects map[string][]byte
}

func (f *fakeStorage) UploadFile(_ context.Context, _, folder, fileName, _ string, reader io.Reader, _ int64) (string, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	key := folder + "/" + fileName
	if f.objects == nil {
		f.objects = map[string][]byte{}
	}
	f.objects[key] = data
	return key, nil
}

func (f *fakeStorage) DownloadFile(_ context.Context, _, fileKey string) (io.ReadCloser, error) {
	data, ok := f.objects[fileKey]
	if !ok {
		return nil, fmt.Errorf("object %s not found", fileKey)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStorage) EnsureBucketExists(_ context.Context, _ string) error { return nil }

func (f *fakeStorage) ValidateContentType(_ string) error { return nil }

func (f *fakeStorage) ValidateFileSize(_ int64) error { return nil }

type fakeEnqueuer struct {
	payloads []scheduler.ImportJobPayload
}

func (f *fakeEnqueuer) EnqueueImportJob(_ context.Context, payload scheduler.ImportJobPayload) error {
	f.payloads = append(f.payloads, payload)
	return nil
}

type capturingBus struct {
	events []platformevents.Event
}

func (b *capturingBus) Publish(_ context.Context, e platformevents.Event) {
	b.events = append(b.events, e)
}

func (b *capturingBus) PublishSync(_ context.Context, e platformevents.Event) error {
	b.events = append(b.events, e)
	return nil
}
func (b *capturingBus) Subscribe(string, platformevents.Handler) {}

type importTestConfig struct {
	threshold int64
}

func (c importTestConfig) GetImportChunkSize() int            { return 2 }
func (c importTestConfig) GetImportChunkDelay() time.Duration { return 0 }
func (c importTestConfig) GetImportAsyncThresholdBytes() int64 {
	if c.threshold > 0 {
		return c.threshold
	}
	return 1 << 20
}

func stagesFor(originID uuid.UUID, names ...string) []deals.Stage {
	stages := make([]deals.Stage, 0, len(names))
	for i, name := range names {
		stages = append(stages, deals.Stage{
			ID:       uuid.New(),
			OriginID: originID,
			Name:     name,
			Position: i,
		})
	}
	return stages
}

func upload(body string) Upload {
	return Upload{
		FileName:    "deals.csv",
		ContentType: "text/csv",
		Size:        int64(len(body)),
		Reader:      strings.NewReader(body),
	}
}

func TestImportSyncInsertsAndUpdates(t *testing.T) {
	orgID := uuid.New()
	originID := uuid.New()
	dealStore := &fakeDeals{
		stages:   stagesFor(originID, "Novo", "Qualificado"),
		existing: map[string]bool{"ext-2": true},
	}
	svc := New(newFakeJobs(), dealStore, &fakeContacts{}, nil, "", nil, importTestConfig{}, nil, logger.New("development"))

	body := strings.Join([]string{
		"external_id,name,value,email,stage",
		"ext-1,New Deal,100.50,new@example.com,Qualificado",
		"ext-2,Known Deal,200,known@example.com,",
		",,,,",
	}, "\n")

	resp, async, err := svc.Import(context.Background(), orgID, nil, originID, upload(body))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if async != nil {
		t.Fatal("small file must import synchronously")
	}
	if !resp.Success {
		t.Error("expected success")
	}

	stats := resp.Stats
	if stats.Total != 3 || stats.Imported != 1 || stats.Updated != 1 || stats.Skipped != 1 || stats.Errors != 0 {
		t.Errorf("stats = %+v", stats)
	}

	first := dealStore.upserts[0]
	if first.ExternalID == nil || *first.ExternalID != "ext-1" {
		t.Fatalf("unexpected first upsert: %+v", first)
	}
	if first.StageID != dealStore.stages[1].ID {
		t.Errorf("named stage must be matched, got %s", first.StageID)
	}
	if first.ContactID == nil {
		t.Error("contact must be resolved")
	}
	if first.Value.String() != "100.5" {
		t.Errorf("value = %s", first.Value)
	}

	second := dealStore.upserts[1]
	if second.StageID != dealStore.stages[0].ID {
		t.Errorf("missing stage must fall back to the first one, got %s", second.StageID)
	}
}

func TestImportRecordsRowErrors(t *testing.T) {
	orgID := uuid.New()
	originID := uuid.New()
	dealStore := &fakeDeals{stages: stagesFor(originID, "Novo")}
	svc := New(newFakeJobs(), dealStore, &fakeContacts{}, nil, "", nil, importTestConfig{}, nil, logger.New("development"))

	body := strings.Join([]string{
		"external_id,name,value",
		"ext-1,Good,10",
		"ext-2,Bad,not-a-number",
	}, "\n")

	resp, _, err := svc.Import(context.Background(), orgID, nil, originID, upload(body))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	stats := resp.Stats
	if stats.Imported != 1 || stats.Errors != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if len(stats.ErrorDetails) != 1 {
		t.Fatalf("error details = %v", stats.ErrorDetails)
	}
	detail := stats.ErrorDetails[0]
	if detail.Line != 3 || detail.ExternalID != "ext-2" {
		t.Errorf("detail = %+v", detail)
	}
}

func TestImportRequiresStagesForOrigin(t *testing.T) {
	orgID := uuid.New()
	originID := uuid.New()
	dealStore := &fakeDeals{stages: stagesFor(uuid.New(), "Other Pipeline")}
	svc := New(newFakeJobs(), dealStore, &fakeContacts{}, nil, "", nil, importTestConfig{}, nil, logger.New("development"))

	body := "external_id,name\next-1,Deal"
	_, _, err := svc.Import(context.Background(), orgID, nil, originID, upload(body))
	if err == nil {
		t.Fatal("expected error when the origin has no stages")
	}
}

func TestImportCapturesCustomFields(t *testing.T) {
	orgID := uuid.New()
	originID := uuid.New()
	dealStore := &fakeDeals{stages: stagesFor(originID, "Novo")}
	svc := New(newFakeJobs(), dealStore, &fakeContacts{}, nil, "", nil, importTestConfig{}, nil, logger.New("development"))

	body := "external_id,name,utm_source\next-1,Deal,google"
	if _, _, err := svc.Import(context.Background(), orgID, nil, originID, upload(body)); err != nil {
		t.Fatalf("Import: %v", err)
	}

	fields := dealStore.upserts[0].CustomFields
	value, ok := fields["utm_source"]
	if !ok {
		t.Fatalf("custom fields = %v", fields)
	}
	if text, _ := value.AsString(); text != "google" {
		t.Errorf("utm_source = %q", text)
	}
}

func TestImportAboveThresholdGoesAsync(t *testing.T) {
	orgID := uuid.New()
	originID := uuid.New()
	jobs := newFakeJobs()
	store := &fakeStorage{}
	tasks := &fakeEnqueuer{}
	dealStore := &fakeDeals{stages: stagesFor(originID, "Novo")}
	svc := New(jobs, dealStore, &fakeContacts{}, store, "imports", tasks, importTestConfig{threshold: 8}, nil, logger.New("development"))

	body := "external_id,name\next-1,Big Deal"
	sync, async, err := svc.Import(context.Background(), orgID, nil, originID, upload(body))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if sync != nil {
		t.Error("large file must not import inline")
	}
	if async == nil {
		t.Fatal("expected async response")
	}
	if async.Status != repository.StatusPending {
		t.Errorf("status = %s", async.Status)
	}
	if len(tasks.payloads) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(tasks.payloads))
	}
	if tasks.payloads[0].JobID != async.JobID.String() {
		t.Errorf("payload job id = %s, want %s", tasks.payloads[0].JobID, async.JobID)
	}
	if len(dealStore.upserts) != 0 {
		t.Error("nothing may be written before the worker runs")
	}
}

func TestProcessJobRunsToCompletion(t *testing.T) {
	orgID := uuid.New()
	originID := uuid.New()
	jobs := newFakeJobs()
	store := &fakeStorage{}
	tasks := &fakeEnqueuer{}
	bus := &capturingBus{}
	dealStore := &fakeDeals{stages: stagesFor(originID, "Novo")}
	svc := New(jobs, dealStore, &fakeContacts{}, store, "imports", tasks, importTestConfig{threshold: 8}, bus, logger.New("development"))

	body := strings.Join([]string{
		"external_id,name,value",
		"ext-1,First,10",
		"ext-2,Second,20",
		"ext-3,Third,30",
	}, "\n")
	_, async, err := svc.Import(context.Background(), orgID, nil, originID, upload(body))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	if err := svc.ProcessJob(context.Background(), orgID, async.JobID); err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}

	job := jobs.jobs[async.JobID]
	if job.Status != repository.StatusCompleted {
		t.Errorf("status = %s, want completed", job.Status)
	}
	if job.TotalRows != 3 || job.ImportedRows != 3 || job.ErrorCount != 0 {
		t.Errorf("job = %+v", job)
	}
	// Chunk size is 2, so three rows report progress twice.
	if len(jobs.progress) != 2 {
		t.Errorf("progress updates = %d, want 2", len(jobs.progress))
	}

	var finished bool
	for _, e := range bus.events {
		if done, ok := e.(events.ImportJobFinished); ok && done.Status == repository.StatusCompleted {
			finished = true
		}
	}
	if !finished {
		t.Error("expected a job finished event")
	}
}

func TestProcessJobSkipsAlreadyClaimedJob(t *testing.T) {
	orgID := uuid.New()
	originID := uuid.New()
	jobs := newFakeJobs()
	store := &fakeStorage{}
	tasks := &fakeEnqueuer{}
	dealStore := &fakeDeals{stages: stagesFor(originID, "Novo")}
	svc := New(jobs, dealStore, &fakeContacts{}, store, "imports", tasks, importTestConfig{threshold: 8}, nil, logger.New("development"))

	body := "external_id,name\next-1,Deal"
	_, async, err := svc.Import(context.Background(), orgID, nil, originID, upload(body))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}

	jobs.claimDeny = true
	if err := svc.ProcessJob(context.Background(), orgID, async.JobID); err != nil {
		t.Fatalf("ProcessJob: %v", err)
	}
	if len(dealStore.upserts) != 0 {
		t.Error("an unclaimed job must not write anything")
	}
}

func TestParseValue(t *testing.T) {
	cases := []struct {
		in   string
		want string
		err  bool
	}{
		{"1500.00", "1500", false},
		{"1234,56", "1234.56", false},
		{"1,234.56", "1234.56", true},
		{"", "0", false},
		{"abc", "", true},
	}
	for _, tc := range cases {
		got, err := parseValue(tc.in)
		if tc.err {
			if err == nil {
				t.Errorf("parseValue(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseValue(%q): %v", tc.in, err)
			continue
		}
		if got.String() != tc.want {
			t.Errorf("parseValue(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
