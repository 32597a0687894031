package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	activityrepo "insight_backoffice_backend/internal/activities/repository"
	"insight_backoffice_backend/internal/deals"
	"insight_backoffice_backend/internal/replication/repository"
	"insight_backoffice_backend/internal/replication/transport"
	platformevents "insight_backoffice_backend/platform/events"
	"insight_backoffice_backend/platform/logger"
)

func strPtr(s string) *string { return &s }

func ruleWith(condType string, cond repository.Condition) repository.Rule {
	var ct *string
	if condType != "" {
		ct = strPtr(condType)
	}
	return repository.Rule{
		ID:             uuid.New(),
		Name:           "test rule",
		TargetOriginID: uuid.New(),
		TargetStageID:  uuid.New(),
		ConditionType:  ct,
		Condition:      cond,
	}
}

func TestMatchesUnconditionalRule(t *testing.T) {
	deal := deals.Deal{Name: "anything"}
	if !Matches(ruleWith("", repository.Condition{}), deal) {
		t.Error("rule without condition type must match every deal")
	}
	if !Matches(ruleWith(repository.ConditionProductName, repository.Condition{}), deal) {
		t.Error("rule with empty value list must match every deal")
	}
}

func TestMatchesProductName(t *testing.T) {
	deal := deals.Deal{Name: "Kit Solar Residencial 5kWp"}

	contains := ruleWith(repository.ConditionProductName, repository.Condition{
		Operator: repository.OperatorContains,
		Values:   []string{"solar"},
	})
	if !Matches(contains, deal) {
		t.Error("case-insensitive substring must match")
	}

	exact := ruleWith(repository.ConditionProductName, repository.Condition{
		Operator: repository.OperatorExact,
		Values:   []string{"kit solar residencial 5kwp"},
	})
	if !Matches(exact, deal) {
		t.Error("case-insensitive exact must match")
	}

	exactMiss := ruleWith(repository.ConditionProductName, repository.Condition{
		Operator: repository.OperatorExact,
		Values:   []string{"solar"},
	})
	if Matches(exactMiss, deal) {
		t.Error("exact operator must not do substring matching")
	}
}

func TestMatchesTags(t *testing.T) {
	deal := deals.Deal{Tags: []string{"vip", "solar"}}

	anyHit := ruleWith(repository.ConditionTags, repository.Condition{
		Mode: repository.TagModeAny,
		Tags: []string{"solar", "roofing"},
	})
	if !Matches(anyHit, deal) {
		t.Error("any-of with one shared tag must match")
	}

	allMiss := ruleWith(repository.ConditionTags, repository.Condition{
		Mode: repository.TagModeAll,
		Tags: []string{"solar", "roofing"},
	})
	if Matches(allMiss, deal) {
		t.Error("all-of with a missing tag must not match")
	}

	allHit := ruleWith(repository.ConditionTags, repository.Condition{
		Mode: repository.TagModeAll,
		Tags: []string{"VIP", "solar"},
	})
	if !Matches(allHit, deal) {
		t.Error("all-of is case-insensitive")
	}
}

func TestMatchesCustomField(t *testing.T) {
	deal := deals.Deal{CustomFields: deals.CustomFields{
		"utm_source": deals.StringField("Facebook Ads"),
	}}

	hit := ruleWith(repository.ConditionCustomField, repository.Condition{
		Field:    "utm_source",
		Operator: repository.OperatorContains,
		Values:   []string{"facebook"},
	})
	if !Matches(hit, deal) {
		t.Error("custom field substring must match")
	}

	missingField := ruleWith(repository.ConditionCustomField, repository.Condition{
		Field:  "utm_medium",
		Values: []string{"facebook"},
	})
	if Matches(missingField, deal) {
		t.Error("absent custom field must not match")
	}
}

type fakeStore struct {
	mu         sync.Mutex
	rules      []repository.Rule
	audits     int
	queue      []repository.QueueItem
	failCounts map[uuid.UUID]int
	markedDone []uuid.UUID
}

func (f *fakeStore) ListActiveRules(_ context.Context, _, _, _ uuid.UUID) ([]repository.Rule, error) {
	return f.rules, nil
}
func (f *fakeStore) ListRules(_ context.Context, _ uuid.UUID) ([]repository.Rule, error) {
	return f.rules, nil
}
func (f *fakeStore) GetRule(_ context.Context, _, _ uuid.UUID) (repository.Rule, error) {
	return repository.Rule{}, errors.New("not implemented")
}
func (f *fakeStore) CreateRule(_ context.Context, r repository.Rule) (repository.Rule, error) {
	return r, nil
}
func (f *fakeStore) UpdateRule(_ context.Context, r repository.Rule) (repository.Rule, error) {
	return r, nil
}
func (f *fakeStore) DeleteRule(_ context.Context, _, _ uuid.UUID) error { return nil }
func (f *fakeStore) RecordAudit(_ context.Context, _, _, _, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits++
	return nil
}
func (f *fakeStore) Enqueue(_ context.Context, orgID, dealID uuid.UUID) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := repository.QueueItem{ID: uuid.New(), OrganizationID: orgID, DealID: dealID, Status: repository.QueuePending, UpdatedAt: time.Now()}
	f.queue = append(f.queue, item)
	return item.ID, nil
}
func (f *fakeStore) ClaimPending(_ context.Context, orgID uuid.UUID, limit int) ([]repository.QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var claimed []repository.QueueItem
	for i := range f.queue {
		if f.queue[i].OrganizationID == orgID && f.queue[i].Status == repository.QueuePending && len(claimed) < limit {
			f.queue[i].Status = repository.QueueProcessing
			f.queue[i].UpdatedAt = time.Now()
			claimed = append(claimed, f.queue[i])
		}
	}
	return claimed, nil
}
func (f *fakeStore) OrganizationsWithPending(_ context.Context) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var orgs []uuid.UUID
	for _, item := range f.queue {
		if item.Status == repository.QueuePending && !seen[item.OrganizationID] {
			seen[item.OrganizationID] = true
			orgs = append(orgs, item.OrganizationID)
		}
	}
	return orgs, nil
}
func (f *fakeStore) ReclaimStale(_ context.Context, olderThan time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	reclaimed := 0
	for i := range f.queue {
		if f.queue[i].Status == repository.QueueProcessing && f.queue[i].UpdatedAt.Before(cutoff) {
			f.queue[i].Status = repository.QueuePending
			f.queue[i].UpdatedAt = time.Now()
			reclaimed++
		}
	}
	return reclaimed, nil
}
func (f *fakeStore) MarkCompleted(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markedDone = append(f.markedDone, id)
	f.setStatus(id, repository.QueueCompleted)
	return nil
}
func (f *fakeStore) MarkFailed(_ context.Context, id uuid.UUID, _ string) (string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCounts == nil {
		f.failCounts = make(map[uuid.UUID]int)
	}
	f.failCounts[id]++
	attempts := f.failCounts[id]
	status := repository.QueuePending
	if attempts >= repository.MaxAttempts {
		status = repository.QueueFailed
	}
	f.setStatus(id, status)
	return status, attempts, nil
}
// setStatus is called with f.mu held.
func (f *fakeStore) setStatus(id uuid.UUID, status string) {
	for i := range f.queue {
		if f.queue[i].ID == id {
			f.queue[i].Status = status
		}
	}
}

type fakeDealStore struct {
	mu         sync.Mutex
	deals      map[uuid.UUID]deals.Deal
	replicas   map[string]uuid.UUID
	created    []deals.Deal
	replicaErr error
}

func replicaKey(source, origin uuid.UUID) string {
	return source.String() + "/" + origin.String()
}

func (f *fakeDealStore) GetByID(_ context.Context, _, id uuid.UUID) (deals.Deal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.deals[id]
	if !ok {
		return deals.Deal{}, errors.New("deal not found")
	}
	return d, nil
}

func (f *fakeDealStore) CreateReplica(_ context.Context, replica deals.Deal) (uuid.UUID, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replicaErr != nil {
		return uuid.Nil, false, f.replicaErr
	}
	key := replicaKey(*replica.ReplicatedFromDealID, replica.OriginID)
	if f.replicas == nil {
		f.replicas = make(map[string]uuid.UUID)
	}
	if id, ok := f.replicas[key]; ok {
		return id, false, nil
	}
	id := uuid.New()
	f.replicas[key] = id
	replica.ID = id
	f.created = append(f.created, replica)
	return id, true, nil
}

type fakeActivityLog struct {
	mu      sync.Mutex
	entries []activityrepo.Activity
}

func (f *fakeActivityLog) Log(_ context.Context, a activityrepo.Activity) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, a)
	return uuid.New(), nil
}

type capturingBus struct {
	mu     sync.Mutex
	events []platformevents.Event
}

func (b *capturingBus) Publish(_ context.Context, e platformevents.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *capturingBus) PublishSync(_ context.Context, e platformevents.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
	return nil
}
func (b *capturingBus) Subscribe(string, platformevents.Handler) {}

func newFixture(store *fakeStore, dealStore *fakeDealStore) (*Service, *fakeActivityLog, *capturingBus) {
	activityLog := &fakeActivityLog{}
	bus := &capturingBus{}
	return New(store, dealStore, activityLog, bus, logger.New("development")), activityLog, bus
}

func TestProcessDealCreatesReplica(t *testing.T) {
	orgID := uuid.New()
	deal := deals.Deal{
		ID:             uuid.New(),
		OrganizationID: orgID,
		Name:           "Kit Solar",
		Tags:           []string{"vip"},
		CustomFields:   deals.CustomFields{"utm_source": deals.StringField("ads")},
	}
	rule := ruleWith("", repository.Condition{})
	rule.CopyCustomFields = true

	store := &fakeStore{rules: []repository.Rule{rule}}
	dealStore := &fakeDealStore{deals: map[uuid.UUID]deals.Deal{deal.ID: deal}}
	svc, activityLog, bus := newFixture(store, dealStore)

	result, err := svc.ProcessDeal(context.Background(), orgID, deal.ID, nil)
	if err != nil {
		t.Fatalf("process deal: %v", err)
	}

	if result.Replications != 1 {
		t.Fatalf("replications = %d, want 1", result.Replications)
	}
	replica := dealStore.created[0]
	if replica.ReplicatedFromDealID == nil || *replica.ReplicatedFromDealID != deal.ID {
		t.Error("replica must carry the lineage pointer")
	}
	if replica.OriginID != rule.TargetOriginID || replica.StageID != rule.TargetStageID {
		t.Error("replica must land in the rule's target pipeline stage")
	}
	if _, ok := replica.CustomFields["utm_source"]; !ok {
		t.Error("copy_custom_fields rule must carry custom fields over")
	}
	if len(activityLog.entries) != 2 {
		t.Errorf("activity entries = %d, want 2 (source and target)", len(activityLog.entries))
	}
	if store.audits != 1 {
		t.Errorf("audit rows = %d, want 1", store.audits)
	}
	if len(bus.events) != 1 {
		t.Errorf("events published = %d, want 1", len(bus.events))
	}
}

func TestProcessDealSkipsReplicaSource(t *testing.T) {
	orgID := uuid.New()
	source := uuid.New()
	replica := deals.Deal{
		ID:                   uuid.New(),
		OrganizationID:       orgID,
		Name:                 "Kit Solar",
		ReplicatedFromDealID: &source,
	}

	store := &fakeStore{rules: []repository.Rule{ruleWith("", repository.Condition{})}}
	dealStore := &fakeDealStore{deals: map[uuid.UUID]deals.Deal{replica.ID: replica}}
	svc, _, _ := newFixture(store, dealStore)

	result, err := svc.ProcessDeal(context.Background(), orgID, replica.ID, nil)
	if err != nil {
		t.Fatalf("process deal: %v", err)
	}

	if result.Replications != 0 {
		t.Fatalf("replications = %d, want 0 for a replica source", result.Replications)
	}
	if len(dealStore.created) != 0 {
		t.Error("no replica of a replica may be created")
	}
}

func TestProcessDealIsIdempotent(t *testing.T) {
	orgID := uuid.New()
	deal := deals.Deal{ID: uuid.New(), OrganizationID: orgID, Name: "Kit Solar"}

	store := &fakeStore{rules: []repository.Rule{ruleWith("", repository.Condition{})}}
	dealStore := &fakeDealStore{deals: map[uuid.UUID]deals.Deal{deal.ID: deal}}
	svc, _, _ := newFixture(store, dealStore)

	first, err := svc.ProcessDeal(context.Background(), orgID, deal.ID, nil)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := svc.ProcessDeal(context.Background(), orgID, deal.ID, nil)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if first.Replications != 1 || second.Replications != 0 {
		t.Fatalf("replications = %d then %d, want 1 then 0", first.Replications, second.Replications)
	}
	if len(dealStore.created) != 1 {
		t.Errorf("created replicas = %d, want 1", len(dealStore.created))
	}
}

func TestProcessDealContinuesPastRuleFailure(t *testing.T) {
	orgID := uuid.New()
	deal := deals.Deal{ID: uuid.New(), OrganizationID: orgID, Name: "Kit Solar"}

	store := &fakeStore{rules: []repository.Rule{
		ruleWith("", repository.Condition{}),
		ruleWith("", repository.Condition{}),
	}}
	dealStore := &fakeDealStore{
		deals:      map[uuid.UUID]deals.Deal{deal.ID: deal},
		replicaErr: errors.New("insert failed"),
	}
	svc, _, _ := newFixture(store, dealStore)

	result, err := svc.ProcessDeal(context.Background(), orgID, deal.ID, nil)
	if err != nil {
		t.Fatalf("rule failures must not abort the run: %v", err)
	}

	if result.Success {
		t.Error("result must report failure when a rule errored")
	}
	if len(result.Details) != 2 {
		t.Errorf("details = %d, want one per failed rule", len(result.Details))
	}
}

func TestRunRequiresDealOrQueue(t *testing.T) {
	svc, _, _ := newFixture(&fakeStore{}, &fakeDealStore{})
	_, err := svc.Run(context.Background(), uuid.New(), transport.RunRequest{}, nil)
	if err == nil {
		t.Fatal("expected validation error for an empty request")
	}
}

func TestQueueRetriesUntilFailed(t *testing.T) {
	orgID := uuid.New()
	dealID := uuid.New()

	store := &fakeStore{}
	if _, err := store.Enqueue(context.Background(), orgID, dealID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Deal store holds no deals, so every attempt fails.
	dealStore := &fakeDealStore{deals: map[uuid.UUID]deals.Deal{}}
	svc, _, bus := newFixture(store, dealStore)

	for i := 0; i < repository.MaxAttempts; i++ {
		resp, err := svc.Run(context.Background(), orgID, transport.RunRequest{ProcessQueue: true}, nil)
		if err != nil {
			t.Fatalf("drain %d: %v", i+1, err)
		}
		if resp.Processed != 1 {
			t.Fatalf("drain %d processed = %d, want 1", i+1, resp.Processed)
		}
	}

	if got := store.queue[0].Status; got != repository.QueueFailed {
		t.Fatalf("status after %d attempts = %s, want %s", repository.MaxAttempts, got, repository.QueueFailed)
	}

	var failures int
	for _, e := range bus.events {
		if e.EventName() == "replication.item_failed" {
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("item_failed events = %d, want exactly 1 on budget exhaustion", failures)
	}

	// A failed item is never claimed again.
	resp, err := svc.Run(context.Background(), orgID, transport.RunRequest{ProcessQueue: true}, nil)
	if err != nil {
		t.Fatalf("drain after failure: %v", err)
	}
	if resp.Processed != 0 {
		t.Errorf("processed = %d, want 0 after terminal failure", resp.Processed)
	}
}

func TestDrainPendingCoversEveryOrganization(t *testing.T) {
	orgA := uuid.New()
	orgB := uuid.New()
	dealA := deals.Deal{ID: uuid.New(), OrganizationID: orgA, Name: "Kit Solar"}
	dealB := deals.Deal{ID: uuid.New(), OrganizationID: orgB, Name: "Kit Solar"}

	store := &fakeStore{rules: []repository.Rule{ruleWith("", repository.Condition{})}}
	for _, d := range []deals.Deal{dealA, dealB} {
		if _, err := store.Enqueue(context.Background(), d.OrganizationID, d.ID); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	dealStore := &fakeDealStore{deals: map[uuid.UUID]deals.Deal{dealA.ID: dealA, dealB.ID: dealB}}
	svc, _, _ := newFixture(store, dealStore)

	if err := svc.DrainPending(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}

	for i, item := range store.queue {
		if item.Status != repository.QueueCompleted {
			t.Errorf("item %d status = %s, want %s", i, item.Status, repository.QueueCompleted)
		}
	}
}

func TestRunQueuesFailedDealForRetry(t *testing.T) {
	orgID := uuid.New()
	deal := deals.Deal{ID: uuid.New(), OrganizationID: orgID, Name: "Kit Solar"}

	store := &fakeStore{rules: []repository.Rule{ruleWith("", repository.Condition{})}}
	dealStore := &fakeDealStore{
		deals:      map[uuid.UUID]deals.Deal{deal.ID: deal},
		replicaErr: errors.New("target origin unavailable"),
	}
	svc, _, _ := newFixture(store, dealStore)

	resp, err := svc.Run(context.Background(), orgID, transport.RunRequest{DealID: &deal.ID}, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if resp.Results[0].Success {
		t.Fatal("result must report the rule failure")
	}

	if len(store.queue) != 1 {
		t.Fatalf("queue length = %d, want 1", len(store.queue))
	}
	item := store.queue[0]
	if item.DealID != deal.ID || item.Status != repository.QueuePending {
		t.Fatalf("queued item = %+v, want pending item for deal %s", item, deal.ID)
	}

	// Once the target recovers, a drain finishes the queued work.
	dealStore.replicaErr = nil
	if err := svc.DrainPending(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := store.queue[0].Status; got != repository.QueueCompleted {
		t.Errorf("status after drain = %s, want %s", got, repository.QueueCompleted)
	}
}

func TestRunDoesNotQueueSuccessfulDeal(t *testing.T) {
	orgID := uuid.New()
	deal := deals.Deal{ID: uuid.New(), OrganizationID: orgID, Name: "Kit Solar"}

	store := &fakeStore{rules: []repository.Rule{ruleWith("", repository.Condition{})}}
	dealStore := &fakeDealStore{deals: map[uuid.UUID]deals.Deal{deal.ID: deal}}
	svc, _, _ := newFixture(store, dealStore)

	if _, err := svc.Run(context.Background(), orgID, transport.RunRequest{DealID: &deal.ID}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(store.queue) != 0 {
		t.Errorf("queue length = %d, want 0", len(store.queue))
	}
}

func TestDrainPendingReclaimsStaleProcessingItems(t *testing.T) {
	orgID := uuid.New()
	deal := deals.Deal{ID: uuid.New(), OrganizationID: orgID, Name: "Kit Solar"}

	store := &fakeStore{rules: []repository.Rule{ruleWith("", repository.Condition{})}}
	if _, err := store.Enqueue(context.Background(), orgID, deal.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// A worker claimed the item and died an hour ago.
	store.queue[0].Status = repository.QueueProcessing
	store.queue[0].UpdatedAt = time.Now().Add(-time.Hour)

	dealStore := &fakeDealStore{deals: map[uuid.UUID]deals.Deal{deal.ID: deal}}
	svc, _, _ := newFixture(store, dealStore)

	if err := svc.DrainPending(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := store.queue[0].Status; got != repository.QueueCompleted {
		t.Errorf("status = %s, want %s", got, repository.QueueCompleted)
	}
}

func TestDrainPendingLeavesFreshProcessingItems(t *testing.T) {
	orgID := uuid.New()
	deal := deals.Deal{ID: uuid.New(), OrganizationID: orgID, Name: "Kit Solar"}

	store := &fakeStore{rules: []repository.Rule{ruleWith("", repository.Condition{})}}
	if _, err := store.Enqueue(context.Background(), orgID, deal.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	store.queue[0].Status = repository.QueueProcessing
	store.queue[0].UpdatedAt = time.Now()

	dealStore := &fakeDealStore{deals: map[uuid.UUID]deals.Deal{deal.ID: deal}}
	svc, _, _ := newFixture(store, dealStore)

	if err := svc.DrainPending(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if got := store.queue[0].Status; got != repository.QueueProcessing {
		t.Errorf("status = %s, want it left in %s for its worker", got, repository.QueueProcessing)
	}
}

func TestQueueCompletesSuccessfulItem(t *testing.T) {
	orgID := uuid.New()
	deal := deals.Deal{ID: uuid.New(), OrganizationID: orgID, Name: "Kit Solar"}

	store := &fakeStore{rules: []repository.Rule{ruleWith("", repository.Condition{})}}
	if _, err := store.Enqueue(context.Background(), orgID, deal.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	dealStore := &fakeDealStore{deals: map[uuid.UUID]deals.Deal{deal.ID: deal}}
	svc, _, _ := newFixture(store, dealStore)

	resp, err := svc.Run(context.Background(), orgID, transport.RunRequest{ProcessQueue: true}, nil)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}

	if resp.Processed != 1 {
		t.Fatalf("processed = %d, want 1", resp.Processed)
	}
	if got := store.queue[0].Status; got != repository.QueueCompleted {
		t.Errorf("status = %s, want %s", got, repository.QueueCompleted)
	}
	if len(store.markedDone) != 1 {
		t.Errorf("completed items = %d, want 1", len(store.markedDone))
	}
}
