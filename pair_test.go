package strata

import "testing"

func TestMapValueSeedsMapFromPairs(t *testing.T) {
	m := MapValue(
		KeyValuePair[string, int]{Key: "a", Value: 1},
		KeyValuePair[string, int]{Key: "b", Value: 2},
		KeyValuePair[string, int]{Key: "a", Value: 3},
	)
	// Later pairs win, map-literal style.
	if len(m) != 2 || m["a"] != 3 || m["b"] != 2 {
		t.Fatalf("MapValue got %v", m)
	}
}
