package fieldmap

import (
	"testing"
	"time"

	"github.com/hyperengineering/apisync/internal/mapping"
)

func TestCoercePush_StringTruncation(t *testing.T) {
	fm := mapping.FieldMapping{RemoteFieldType: mapping.TypeString, MaxLength: 5}

	got, err := CoercePush("truncate me", fm)
	if err != nil {
		t.Fatalf("CoercePush() error = %v", err)
	}
	if got != "trunc" {
		t.Errorf("CoercePush() = %q, want %q", got, "trunc")
	}
}

func TestCoercePush_NoTruncationWithoutMaxLength(t *testing.T) {
	fm := mapping.FieldMapping{RemoteFieldType: mapping.TypeString}

	got, err := CoercePush("keep it all", fm)
	if err != nil {
		t.Fatalf("CoercePush() error = %v", err)
	}
	if got != "keep it all" {
		t.Errorf("CoercePush() = %q", got)
	}
}

func TestCoercePush_MultiValueJoined(t *testing.T) {
	fm := mapping.FieldMapping{RemoteFieldType: mapping.TypeString}

	got, err := CoercePush([]any{"a", "b", "c"}, fm)
	if err != nil {
		t.Fatalf("CoercePush() error = %v", err)
	}
	if got != "a;b;c" {
		t.Errorf("CoercePush() = %q, want %q", got, "a;b;c")
	}
}

func TestCoercePush_Types(t *testing.T) {
	tests := []struct {
		name string
		typ  string
		in   any
		want any
	}{
		{"bool from string", mapping.TypeBoolean, "1", true},
		{"bool from int", mapping.TypeBoolean, 0, false},
		{"int from string", mapping.TypeInt32, " 42 ", int64(42)},
		{"int from float", mapping.TypeInt64, float64(7), int64(7)},
		{"double from string", mapping.TypeDouble, "3.5", 3.5},
		{"datetime", mapping.TypeDateTimeOffset, time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), "2024-03-01T12:00:00Z"},
		{"date", mapping.TypeDate, "2024-03-01T12:00:00Z", "2024-03-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fm := mapping.FieldMapping{RemoteFieldType: tt.typ}
			got, err := CoercePush(tt.in, fm)
			if err != nil {
				t.Fatalf("CoercePush() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("CoercePush() = %v (%T), want %v (%T)", got, got, tt.want, tt.want)
			}
		})
	}
}

func TestCoercePush_Nil(t *testing.T) {
	got, err := CoercePush(nil, mapping.FieldMapping{RemoteFieldType: mapping.TypeString})
	if err != nil || got != nil {
		t.Errorf("CoercePush(nil) = %v, %v", got, err)
	}
}

func TestCoercePush_BadValue(t *testing.T) {
	fm := mapping.FieldMapping{RemoteFieldType: mapping.TypeInt32}
	if _, err := CoercePush("not a number", fm); err == nil {
		t.Error("CoercePush() = nil error for bad integer")
	}
}

func TestCoercePull_TimeBecomesNative(t *testing.T) {
	fm := mapping.FieldMapping{RemoteFieldType: mapping.TypeDateTimeOffset}

	got, err := CoercePull("2024-03-01T12:00:00Z", fm)
	if err != nil {
		t.Fatalf("CoercePull() error = %v", err)
	}
	tm, ok := got.(time.Time)
	if !ok {
		t.Fatalf("CoercePull() = %T, want time.Time", got)
	}
	if !tm.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("CoercePull() = %v", tm)
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want time.Time
	}{
		{"rfc3339", "2024-03-01T12:00:00Z", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"no zone", "2024-03-01T12:00:00", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"space separated", "2024-03-01 12:00:00", time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		{"date only", "2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"epoch number", float64(1709294400), time.Unix(1709294400, 0).UTC()},
		{"epoch string", "1709294400", time.Unix(1709294400, 0).UTC()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			if err != nil {
				t.Fatalf("ParseTime() error = %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("ParseTime() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := ParseTime("not a time"); err == nil {
		t.Error("ParseTime() = nil error for junk input")
	}
}
