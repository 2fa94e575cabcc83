package odata

import "testing"

func TestRecord_StringValue_NumericStable(t *testing.T) {
	// JSON decoders yield float64; large identifiers must not gain an
	// exponent or identity hashing would drift.
	rec := Record{"OrderNumber": float64(10000001)}

	got, ok := rec.StringValue("OrderNumber")
	if !ok {
		t.Fatal("StringValue() ok = false")
	}
	if got != "10000001" {
		t.Errorf("StringValue() = %q, want %q", got, "10000001")
	}
}

func TestRecord_Has_NullField(t *testing.T) {
	rec := Record{"Name": nil}
	if !rec.Has("Name") {
		t.Error("Has() = false for null-valued field")
	}
	if rec.Has("Missing") {
		t.Error("Has() = true for absent field")
	}
}

func TestRecord_Path(t *testing.T) {
	rec := Record{annotationID: "Contact('C-1')"}
	if got := rec.Path(); got != "Contact('C-1')" {
		t.Errorf("Path() = %q", got)
	}

	rec = Record{annotationEditLink: "Contact('C-2')"}
	if got := rec.Path(); got != "Contact('C-2')" {
		t.Errorf("Path() via editLink = %q", got)
	}

	if got := (Record{}).Path(); got != "" {
		t.Errorf("Path() on bare record = %q, want empty", got)
	}
}

func TestObjectDescription_Field(t *testing.T) {
	d := &ObjectDescription{
		Name: "Contact",
		Fields: []ObjectField{
			{Name: "ContactNumber", Type: "Edm.String", Key: true},
			{Name: "Name", Type: "Edm.String", MaxLength: 50},
		},
	}

	f := d.Field("Name")
	if f == nil || f.MaxLength != 50 {
		t.Errorf("Field(Name) = %+v", f)
	}
	if d.Field("Nope") != nil {
		t.Error("Field() returned non-nil for unknown field")
	}
}
