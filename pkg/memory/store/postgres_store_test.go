package store

import (
	"testing"
)

func TestVectorToString(t *testing.T) {
	cases := map[string][]float32{
		"[]":          nil,
		"[1]":         {1},
		"[0.5,-0.25]": {0.5, -0.25},
	}
	for want, input := range cases {
		if got := vectorToString(input); got != want {
			t.Fatalf("vectorToString(%v) = %q, want %q", input, got, want)
		}
	}
}

func TestParseVectorRoundTrip(t *testing.T) {
	original := []float32{0.125, -3, 0.0625}
	parsed := parseVector(vectorToString(original))
	if len(parsed) != len(original) {
		t.Fatalf("round trip changed length: %v", parsed)
	}
	for i := range original {
		if parsed[i] != original[i] {
			t.Fatalf("round trip changed element %d: %v != %v", i, parsed[i], original[i])
		}
	}
}

func TestParseVectorTolerantOfWhitespaceAndJunk(t *testing.T) {
	got := parseVector(" [1, 2, oops, 3] ")
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("unexpected parse result: %v", got)
	}
	if got := parseVector("[]"); got != nil {
		t.Fatalf("expected nil for empty vector, got %v", got)
	}
}
