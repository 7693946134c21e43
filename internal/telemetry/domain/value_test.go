package telemetry

import (
	"testing"
	"time"
)

func TestParseValueKeepsNumberLiterals(t *testing.T) {
	v, err := ParseValue([]byte(`{"b":386814875,"a":53.70296222,"c":[1,"x",null,true]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !v.IsObject() {
		t.Fatalf("expected object, got %s", v.Kind())
	}
	got, err := v.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"a":53.70296222,"b":386814875,"c":[1,"x",null,true]}`
	if string(got) != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestStringFieldOutcomes(t *testing.T) {
	v, err := ParseValue([]byte(`{"name":"717","id":12,"gone":null}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cases := []struct {
		field    string
		presence Presence
		value    string
	}{
		{field: "name", presence: Present, value: "717"},
		{field: "id", presence: Malformed},
		{field: "gone", presence: Missing},
		{field: "absent", presence: Missing},
	}
	for _, tc := range cases {
		got, presence := v.StringField(tc.field)
		if presence != tc.presence || got != tc.value {
			t.Fatalf("field %s: expected (%q, %s), got (%q, %s)", tc.field, tc.value, tc.presence, got, presence)
		}
	}
}

func TestStringFieldOnNonObject(t *testing.T) {
	if _, presence := String("x").StringField("name"); presence != Missing {
		t.Fatalf("expected missing on scalar, got %s", presence)
	}
}

func TestWithoutDoesNotMutate(t *testing.T) {
	original := Object(map[string]Value{
		"time":  String("2021-07-13T20:10:23Z"),
		"value": String("Off"),
	})
	pruned := original.Without("time")
	if _, ok := pruned.Field("time"); ok {
		t.Fatalf("expected time removed")
	}
	if _, ok := original.Field("time"); !ok {
		t.Fatalf("original must keep time")
	}
	if original.Len() != 2 || pruned.Len() != 1 {
		t.Fatalf("unexpected lengths: original=%d pruned=%d", original.Len(), pruned.Len())
	}
}

func TestNaturalKeyString(t *testing.T) {
	ts := time.Date(2021, 7, 14, 2, 13, 53, 0, time.UTC)
	rec := TelemetryRecord{Timestamp: ts, Code: "717", Kind: "gps", Payload: []byte(`{"a":1}`)}
	if got := rec.Key().String(); got != `(2021-07-14T02:13:53Z, <none>, 717, gps, {"a":1})` {
		t.Fatalf("unexpected key string %s", got)
	}
	rec.VehicleID = StringPtr("212")
	key := rec.Key()
	if !key.HasID || key.VehicleID != "212" {
		t.Fatalf("expected vehicle id in key, got %+v", key)
	}
}

func TestRecordValidate(t *testing.T) {
	ts := time.Now().UTC()
	if err := (TelemetryRecord{Timestamp: ts, Kind: "gps"}).Validate(); err != ErrEmptyCode {
		t.Fatalf("expected ErrEmptyCode, got %v", err)
	}
	if err := (TelemetryRecord{Timestamp: ts, Code: "1"}).Validate(); err != ErrEmptyKind {
		t.Fatalf("expected ErrEmptyKind, got %v", err)
	}
	if err := (TelemetryRecord{Code: "1", Kind: "gps"}).Validate(); err != ErrZeroTimestamp {
		t.Fatalf("expected ErrZeroTimestamp, got %v", err)
	}
}
