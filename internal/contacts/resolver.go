package contacts

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"insight_backoffice_backend/platform/phone"
)

// Store is the persistence surface the resolver needs. Satisfied by
// *Repository; tests supply a fake.
type Store interface {
	ListByOrganization(ctx context.Context, organizationID uuid.UUID) ([]Contact, error)
	Create(ctx context.Context, c Contact) (uuid.UUID, error)
	Touch(ctx context.Context, organizationID, id uuid.UUID, name, phoneNumber string) error
}

// Resolver maps free-text name/email/phone triples onto contact ids using
// in-memory caches, creating contacts on first sighting. One Resolver serves
// one import run; it is not safe for concurrent use.
type Resolver struct {
	store          Store
	organizationID uuid.UUID
	byEmail        map[string]uuid.UUID
	byPhoneTail    map[string]uuid.UUID
}

// NewResolver builds a resolver with caches preloaded from the store.
func NewResolver(ctx context.Context, store Store, organizationID uuid.UUID) (*Resolver, error) {
	existing, err := store.ListByOrganization(ctx, organizationID)
	if err != nil {
		return nil, err
	}

	r := &Resolver{
		store:          store,
		organizationID: organizationID,
		byEmail:        make(map[string]uuid.UUID, len(existing)),
		byPhoneTail:    make(map[string]uuid.UUID, len(existing)),
	}

	for _, c := range existing {
		if c.Email != nil {
			if key := strings.ToLower(strings.TrimSpace(*c.Email)); key != "" {
				r.byEmail[key] = c.ID
			}
		}
		if c.Phone != nil {
			if tail := phone.Tail(*c.Phone); tail != "" {
				r.byPhoneTail[tail] = c.ID
			}
		}
	}

	return r, nil
}

// Resolve returns the contact id for the given person, creating a new contact
// when neither email nor phone matches an existing one. Known contacts get
// their name/phone refreshed. A row with no identifying data at all resolves
// to nil without error.
func (r *Resolver) Resolve(ctx context.Context, name, email, phoneNumber string) (*uuid.UUID, error) {
	emailKey := strings.ToLower(strings.TrimSpace(email))
	phoneTail := phone.Tail(phoneNumber)

	if emailKey != "" {
		if id, ok := r.byEmail[emailKey]; ok {
			if err := r.store.Touch(ctx, r.organizationID, id, name, phoneNumber); err != nil {
				return nil, err
			}
			if phoneTail != "" {
				r.byPhoneTail[phoneTail] = id
			}
			return &id, nil
		}
	}

	if phoneTail != "" {
		if id, ok := r.byPhoneTail[phoneTail]; ok {
			if err := r.store.Touch(ctx, r.organizationID, id, name, phoneNumber); err != nil {
				return nil, err
			}
			if emailKey != "" {
				r.byEmail[emailKey] = id
			}
			return &id, nil
		}
	}

	if strings.TrimSpace(name) == "" && emailKey == "" && phoneTail == "" {
		return nil, nil
	}

	contact := Contact{
		OrganizationID: r.organizationID,
		Name:           strings.TrimSpace(name),
	}
	if emailKey != "" {
		contact.Email = &emailKey
	}
	if strings.TrimSpace(phoneNumber) != "" {
		trimmed := strings.TrimSpace(phoneNumber)
		contact.Phone = &trimmed
	}

	id, err := r.store.Create(ctx, contact)
	if err != nil {
		return nil, err
	}

	if emailKey != "" {
		r.byEmail[emailKey] = id
	}
	if phoneTail != "" {
		r.byPhoneTail[phoneTail] = id
	}
	return &id, nil
}
