package device

import (
	"encoding/json"
	"math"
	"testing"
	"time"
)

func TestParseUnixSeconds(t *testing.T) {
	tests := []struct {
		name   string
		in     any
		want   time.Time
		wantOK bool
	}{
		{"integer number", json.Number("1700000000"), time.Unix(1700000000, 0).UTC(), true},
		{"fractional number", json.Number("1700000000.25"), time.Unix(1700000000, 250000000).UTC(), true},
		{"float64", float64(1700000000), time.Unix(1700000000, 0).UTC(), true},
		{"int", 1700000000, time.Unix(1700000000, 0).UTC(), true},
		{"epoch", json.Number("0"), time.Unix(0, 0).UTC(), true},
		{"milliseconds", json.Number("1700000000000"), time.Time{}, false},
		{"milliseconds as float", float64(1700000000000), time.Time{}, false},
		{"nanoseconds", int64(1700000000000000000), time.Time{}, false},
		{"negative", json.Number("-1"), time.Time{}, false},
		{"huge exponent", json.Number("1e300"), time.Time{}, false},
		{"nan", math.NaN(), time.Time{}, false},
		{"infinity", math.Inf(1), time.Time{}, false},
		{"string", "1700000000", time.Time{}, false},
		{"nil", nil, time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseUnixSeconds(tt.in)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v (got %v)", ok, tt.wantOK, got)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInRange(t *testing.T) {
	if !InRange(MaxTimestamp) || !InRange(MinTimestamp) {
		t.Error("bounds should be in range")
	}
	if InRange(MaxTimestamp.Add(time.Nanosecond)) {
		t.Error("year 10000 should be out of range")
	}
	if InRange(time.Time{}) {
		t.Error("zero time should be out of range")
	}
}
