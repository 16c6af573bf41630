package uuid

import "testing"

func TestNewProducesValidV4(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id := New()
		if !IsValid(id) {
			t.Fatalf("Generated id %q is not a valid v4 UUID", id)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("Duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}

func TestIsValid(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"550e8400-e29b-41d4-a716-446655440000", true},
		{"550E8400-E29B-41D4-A716-446655440000", true},
		{"550e8400-e29b-11d4-a716-446655440000", false}, // v1
		{"550e8400-e29b-41d4-c716-446655440000", false}, // bad variant
		{"550e8400e29b41d4a716446655440000", false},     // missing dashes
		{"not-a-uuid", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsValid(tc.in); got != tc.want {
			t.Errorf("IsValid(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate(New()); err != nil {
		t.Errorf("Validate rejected a generated id: %v", err)
	}
	if err := Validate("bogus"); err == nil {
		t.Error("Expected error for bogus id")
	}
}
