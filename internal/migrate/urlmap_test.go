// internal/migrate/urlmap_test.go
package migrate

import "testing"

func TestURLVariants(t *testing.T) {
	variants := URLVariants("https://www.example.com/about-us/")

	want := []string{
		"https://www.example.com/about-us/",
		"https://www.example.com/about-us",
		"www.example.com/about-us",
		"www.example.com/about-us/",
		"example.com/about-us",
		"example.com/about-us/",
	}
	set := make(map[string]bool, len(variants))
	for _, v := range variants {
		set[v] = true
	}
	for _, w := range want {
		if !set[w] {
			t.Errorf("variant %q missing from %v", w, variants)
		}
	}

	// no duplicates
	if len(set) != len(variants) {
		t.Errorf("variants contain duplicates: %v", variants)
	}
}

func TestURLVariantsEmpty(t *testing.T) {
	if got := URLVariants("  "); got != nil {
		t.Errorf("expected nil for blank URL, got %v", got)
	}
}

func TestCanonicalURLKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://www.example.com/about-us/", "/about-us"},
		{"https://example.com/about-us", "/about-us"},
		{"/about-us/", "/about-us"},
		{"about-us", "/about-us"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := CanonicalURLKey(tt.in); got != tt.want {
			t.Errorf("CanonicalURLKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	// URLs that differ only in formatting share a key
	a := CanonicalURLKey("https://www.example.com/team/")
	b := CanonicalURLKey("http://example.com/team")
	if a != b {
		t.Errorf("equivalent URLs got distinct keys: %q vs %q", a, b)
	}
}
