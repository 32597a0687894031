package contacts

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

type fakeStore struct {
	contacts []Contact
	touched  []uuid.UUID
}

func (f *fakeStore) ListByOrganization(_ context.Context, _ uuid.UUID) ([]Contact, error) {
	return f.contacts, nil
}

func (f *fakeStore) Create(_ context.Context, c Contact) (uuid.UUID, error) {
	c.ID = uuid.New()
	f.contacts = append(f.contacts, c)
	return c.ID, nil
}

func (f *fakeStore) Touch(_ context.Context, _, id uuid.UUID, _, _ string) error {
	f.touched = append(f.touched, id)
	return nil
}

func strPtr(s string) *string { return &s }

func TestResolverMatchesByEmail(t *testing.T) {
	existing := Contact{ID: uuid.New(), Name: "Joao Silva", Email: strPtr("joao@x.com")}
	store := &fakeStore{contacts: []Contact{existing}}

	r, err := NewResolver(context.Background(), store, uuid.New())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	id, err := r.Resolve(context.Background(), "JOAO SILVA", "JOAO@X.COM", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id == nil || *id != existing.ID {
		t.Fatalf("expected existing contact id, got %v", id)
	}
	if len(store.touched) != 1 || store.touched[0] != existing.ID {
		t.Errorf("expected touch of existing contact, got %v", store.touched)
	}
}

func TestResolverMatchesByPhoneTail(t *testing.T) {
	existing := Contact{ID: uuid.New(), Name: "Maria", Phone: strPtr("+5511987654321")}
	store := &fakeStore{contacts: []Contact{existing}}

	r, err := NewResolver(context.Background(), store, uuid.New())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	id, err := r.Resolve(context.Background(), "Maria", "", "987654321")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id == nil || *id != existing.ID {
		t.Fatalf("expected phone-tail match, got %v", id)
	}
}

func TestResolverCreatesOnFirstSighting(t *testing.T) {
	store := &fakeStore{}

	r, err := NewResolver(context.Background(), store, uuid.New())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	id, err := r.Resolve(context.Background(), "Novo Cliente", "novo@x.com", "11912345678")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id == nil {
		t.Fatal("expected new contact id")
	}
	if len(store.contacts) != 1 {
		t.Fatalf("expected 1 created contact, got %d", len(store.contacts))
	}

	// Second sighting hits the cache, not Create.
	again, err := r.Resolve(context.Background(), "Novo Cliente", "novo@x.com", "")
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if again == nil || *again != *id {
		t.Fatalf("expected cached id %v, got %v", id, again)
	}
	if len(store.contacts) != 1 {
		t.Errorf("expected no second create, got %d contacts", len(store.contacts))
	}
}

func TestResolverNoIdentifyingData(t *testing.T) {
	store := &fakeStore{}

	r, err := NewResolver(context.Background(), store, uuid.New())
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	id, err := r.Resolve(context.Background(), "", "", "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != nil {
		t.Fatalf("expected nil id for empty input, got %v", id)
	}
}
