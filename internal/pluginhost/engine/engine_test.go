package engine

import "testing"

func TestSatisfies(t *testing.T) {
	tests := []struct {
		version, constraint string
		want                bool
	}{
		{"1.2.4", "^1.2.0", true},
		{"2.0.0", "^1.2.0", false},
		{"1.2.0", ">=1.0.0 <2.0.0", true},
		{"1.9.9", "*", true},
	}
	for _, tt := range tests {
		got, err := Satisfies(tt.version, tt.constraint)
		if err != nil {
			t.Fatalf("Satisfies(%q, %q): unexpected error: %v", tt.version, tt.constraint, err)
		}
		if got != tt.want {
			t.Errorf("Satisfies(%q, %q) = %v, want %v", tt.version, tt.constraint, got, tt.want)
		}
	}
}

func TestSatisfiesInvalidConstraint(t *testing.T) {
	if _, err := Satisfies("1.0.0", "not a range"); err == nil {
		t.Fatal("expected an error for an unparseable constraint")
	}
}

func TestHighestValidPicksSemverMax(t *testing.T) {
	got, ok := HighestValid([]string{"1.0.0", "1.2.0", "1.1.5"})
	if !ok || got != "1.2.0" {
		t.Fatalf("HighestValid = (%q, %v), want (\"1.2.0\", true)", got, ok)
	}
}

func TestHighestValidFallsBackLexicographically(t *testing.T) {
	got, ok := HighestValid([]string{"banana", "apple", "cherry"})
	if !ok || got != "cherry" {
		t.Fatalf("HighestValid = (%q, %v), want (\"cherry\", true)", got, ok)
	}
}

func TestHighestValidEmpty(t *testing.T) {
	if _, ok := HighestValid(nil); ok {
		t.Fatal("expected HighestValid(nil) to report no valid version")
	}
}
