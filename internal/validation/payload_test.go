package validation

import "testing"

func TestValidateMemberID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		id   string
		ok   bool
	}{
		{name: "snowflake", id: "1051277740495618068", ok: true},
		{name: "short", id: "7", ok: true},
		{name: "empty", id: "", ok: false},
		{name: "letters", id: "abc", ok: false},
		{name: "too long", id: "123456789012345678901", ok: false},
		{name: "mention syntax", id: "<@123>", ok: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateMemberID(tt.id)
			if tt.ok && err != nil {
				t.Fatalf("expected %q to be valid, got %v", tt.id, err)
			}
			if !tt.ok && err == nil {
				t.Fatalf("expected %q to be invalid", tt.id)
			}
		})
	}
}

func TestValidateRoleID(t *testing.T) {
	t.Parallel()

	if err := ValidateRoleID("110000000000000003"); err != nil {
		t.Fatalf("expected role id to be valid, got %v", err)
	}
	for _, id := range []string{"", "mod", "<@&123>"} {
		if err := ValidateRoleID(id); err == nil {
			t.Fatalf("expected %q to be invalid", id)
		}
	}
}

func TestValidateText(t *testing.T) {
	t.Parallel()

	if err := ValidateText("reason", "   ", 10, true); err == nil {
		t.Fatal("blank required text must fail")
	}
	if err := ValidateText("evidence", "", 10, false); err != nil {
		t.Fatalf("blank optional text must pass, got %v", err)
	}
	if err := ValidateText("reason", "ééééé", 5, true); err != nil {
		t.Fatalf("length is counted in runes, got %v", err)
	}
	if err := ValidateText("reason", "abcdef", 5, true); err == nil {
		t.Fatal("overlong text must fail")
	}
}

func TestValidateDocLink(t *testing.T) {
	t.Parallel()

	valid := []string{"https://docs.google.com/document/d/abc", "http://example.com/x"}
	invalid := []string{"", "docs.google.com/x", "ftp://example.com/x", "https://", "javascript:alert(1)"}

	for _, link := range valid {
		if err := ValidateDocLink(link); err != nil {
			t.Fatalf("expected %q valid, got %v", link, err)
		}
	}
	for _, link := range invalid {
		if err := ValidateDocLink(link); err == nil {
			t.Fatalf("expected %q invalid", link)
		}
	}
}

func TestValidateRating(t *testing.T) {
	t.Parallel()

	for _, r := range []int{0, 3, 5} {
		r := r
		if err := ValidateRating(&r); err != nil {
			t.Fatalf("rating %d should be valid: %v", r, err)
		}
	}
	for _, r := range []int{-1, 6} {
		r := r
		if err := ValidateRating(&r); err == nil {
			t.Fatalf("rating %d should be invalid", r)
		}
	}
	if err := ValidateRating(nil); err == nil {
		t.Fatal("missing rating should be invalid")
	}
}

func TestNormalizeInfractionType(t *testing.T) {
	t.Parallel()

	got, err := NormalizeInfractionType(" termination ")
	if err != nil || got != "Termination" {
		t.Fatalf("expected Termination, got %q (%v)", got, err)
	}
	if _, err := NormalizeInfractionType("Ban"); err == nil {
		t.Fatal("unknown type must fail")
	}
}
