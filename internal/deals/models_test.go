package deals

import (
	"encoding/json"
	"testing"
)

func TestCustomFieldsDecodeScalars(t *testing.T) {
	raw := []byte(`{"utm_source":"facebook","score":7.5,"vip":true,"note":null}`)

	var fields CustomFields
	if err := json.Unmarshal(raw, &fields); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if s, ok := fields["utm_source"].AsString(); !ok || s != "facebook" {
		t.Errorf("utm_source = %q ok=%v", s, ok)
	}
	if n, ok := fields["score"].AsNumber(); !ok || n != 7.5 {
		t.Errorf("score = %v ok=%v", n, ok)
	}
	if b, ok := fields["vip"].AsBool(); !ok || !b {
		t.Errorf("vip = %v ok=%v", b, ok)
	}
	if fields["note"].Kind() != FieldNull {
		t.Errorf("note kind = %v, want null", fields["note"].Kind())
	}
}

func TestCustomFieldsRejectNested(t *testing.T) {
	var fields CustomFields
	if err := json.Unmarshal([]byte(`{"bad":{"nested":1}}`), &fields); err == nil {
		t.Fatal("expected error for nested object value")
	}
	if err := json.Unmarshal([]byte(`{"bad":[1,2]}`), &fields); err == nil {
		t.Fatal("expected error for array value")
	}
}

func TestCustomFieldsRoundTrip(t *testing.T) {
	fields := CustomFields{
		"plan":   StringField("pro"),
		"seats":  NumberField(12),
		"active": BoolField(false),
		"legacy": NullField(),
	}

	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded CustomFields
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	for key, want := range fields {
		if decoded[key] != want {
			t.Errorf("field %q = %#v, want %#v", key, decoded[key], want)
		}
	}
}

func TestFieldValueText(t *testing.T) {
	cases := []struct {
		v    FieldValue
		want string
	}{
		{StringField("solar"), "solar"},
		{NumberField(42), "42"},
		{NumberField(1.5), "1.5"},
		{BoolField(true), "true"},
		{NullField(), ""},
	}
	for _, tc := range cases {
		if got := tc.v.Text(); got != tc.want {
			t.Errorf("Text() = %q, want %q", got, tc.want)
		}
	}
}
