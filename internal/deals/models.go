// Package deals holds the shared deal ledger model and its repository.
// The reconciliation modules (replication, distribution, imports) operate on
// this schema; each keeps its own queries but shares these types.
package deals

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FieldKind enumerates the permitted custom-field value types.
type FieldKind int

const (
	// FieldNull is an explicit null value.
	FieldNull FieldKind = iota
	// FieldString is a text value.
	FieldString
	// FieldNumber is a numeric value.
	FieldNumber
	// FieldBool is a boolean value.
	FieldBool
)

// FieldValue is one custom-field value: a closed union of string, number,
// boolean and null. Arrays and nested objects are rejected at decode time so
// the open key-value map stays flat and type-safe.
type FieldValue struct {
	kind FieldKind
	str  string
	num  float64
	b    bool
}

// StringField creates a string field value.
func StringField(s string) FieldValue { return FieldValue{kind: FieldString, str: s} }

// NumberField creates a numeric field value.
func NumberField(f float64) FieldValue { return FieldValue{kind: FieldNumber, num: f} }

// BoolField creates a boolean field value.
func BoolField(v bool) FieldValue { return FieldValue{kind: FieldBool, b: v} }

// NullField creates an explicit null field value.
func NullField() FieldValue { return FieldValue{kind: FieldNull} }

// Kind returns the value's type.
func (v FieldValue) Kind() FieldKind { return v.kind }

// AsString returns the string value when the kind is FieldString.
func (v FieldValue) AsString() (string, bool) {
	return v.str, v.kind == FieldString
}

// AsNumber returns the numeric value when the kind is FieldNumber.
func (v FieldValue) AsNumber() (float64, bool) {
	return v.num, v.kind == FieldNumber
}

// AsBool returns the boolean value when the kind is FieldBool.
func (v FieldValue) AsBool() (bool, bool) {
	return v.b, v.kind == FieldBool
}

// Text renders the value as text for matching purposes. Null renders empty.
func (v FieldValue) Text() string {
	switch v.kind {
	case FieldString:
		return v.str
	case FieldNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case FieldBool:
		return strconv.FormatBool(v.b)
	default:
		return ""
	}
}

// MarshalJSON encodes the underlying value.
func (v FieldValue) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case FieldString:
		return json.Marshal(v.str)
	case FieldNumber:
		return json.Marshal(v.num)
	case FieldBool:
		return json.Marshal(v.b)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a scalar JSON value, rejecting arrays and objects.
func (v *FieldValue) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch typed := raw.(type) {
	case nil:
		*v = NullField()
	case string:
		*v = StringField(typed)
	case float64:
		*v = NumberField(typed)
	case bool:
		*v = BoolField(typed)
	default:
		return fmt.Errorf("custom field value must be a scalar, got %T", raw)
	}
	return nil
}

// CustomFields is the open key-value map carried by every deal.
type CustomFields map[string]FieldValue

// Deal is one ledger entry: a sales opportunity moving through pipeline stages.
type Deal struct {
	ID                   uuid.UUID
	OrganizationID       uuid.UUID
	ExternalID           *string
	Name                 string
	Value                decimal.Decimal
	ContactID            *uuid.UUID
	OriginID             uuid.UUID
	StageID              uuid.UUID
	OwnerID              *uuid.UUID
	Tags                 []string
	CustomFields         CustomFields
	ReplicatedFromDealID *uuid.UUID
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// IsReplica reports whether this deal was created by the replication engine.
// Replicas are never themselves replication sources.
func (d Deal) IsReplica() bool {
	return d.ReplicatedFromDealID != nil
}

// HasTag reports whether the deal carries the given tag.
func (d Deal) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Origin is a named intake channel/pipeline.
type Origin struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
}

// Stage is a step within a pipeline's workflow.
type Stage struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	OriginID       uuid.UUID
	Name           string
	Position       int
}
