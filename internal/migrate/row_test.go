// internal/migrate/row_test.go
package migrate

import (
	"reflect"
	"testing"
)

func TestParseRow(t *testing.T) {
	fields := map[string]string{
		"migrate":        "MIGRATE",
		"type":           "Post",
		"old_url":        " https://old.example.com/blog/travel/rome ",
		"new_url":        "/rome",
		"categories":     "Travel, Italy , ",
		"h1":             "Rome Guide",
		"title":          "Visiting Rome",
		"meta_title":     "Rome | Example",
		"image":          "yes",
		"process_images": "Yes",
	}

	row := ParseRow(fields)

	if !row.Marked() {
		t.Error("expected row to be marked for migration")
	}
	if row.Type != TypePost {
		t.Errorf("expected type post, got %s", row.Type)
	}
	if row.OldURL != "https://old.example.com/blog/travel/rome" {
		t.Errorf("old URL not trimmed: %q", row.OldURL)
	}
	if want := []string{"Travel", "Italy"}; !reflect.DeepEqual(row.Categories, want) {
		t.Errorf("categories = %v, want %v", row.Categories, want)
	}
	if !row.ProcessImages {
		t.Error("expected process images true")
	}
}

func TestMarkedIsCaseSensitive(t *testing.T) {
	tests := []struct {
		value  string
		marked bool
	}{
		{"MIGRATE", true},
		{"migrate", false},
		{"Migrate", false},
		{"", false},
		{"yes", false},
	}

	for _, tt := range tests {
		row := ParseRow(map[string]string{"migrate": tt.value})
		if row.Marked() != tt.marked {
			t.Errorf("Marked() with %q = %v, want %v", tt.value, row.Marked(), tt.marked)
		}
	}
}

func TestResolveTypeDefaultsToPage(t *testing.T) {
	for _, raw := range []string{"", "page", "PAGE", "article", "garbage"} {
		if got := ParseRow(map[string]string{"type": raw}).Type; got != TypePage {
			t.Errorf("type %q resolved to %s, want page", raw, got)
		}
	}
	if got := ParseRow(map[string]string{"type": "post"}).Type; got != TypePost {
		t.Errorf("type post resolved to %s", got)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full URL", "https://example.com/about-us/", "about-us"},
		{"nested", "https://example.com/services/web/design", "services/web/design"},
		{"bare path", "/about-us", "about-us"},
		{"double slashes", "//example.com//a//b/", "a/b"},
		{"no scheme", "about-us", "about-us"},
		{"root", "/", ""},
		{"empty", "", ""},
		{"whitespace", "  /team/  ", "team"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizePath(tt.in); got != tt.want {
				t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSlugAndParent(t *testing.T) {
	tests := []struct {
		path   string
		slug   string
		parent string
	}{
		{"a/b/c", "c", "a/b"},
		{"about-us", "about-us", ""},
		{"/services/design/", "design", "services"},
		{"", "", ""},
	}

	for _, tt := range tests {
		if got := SlugFromPath(tt.path); got != tt.slug {
			t.Errorf("SlugFromPath(%q) = %q, want %q", tt.path, got, tt.slug)
		}
		if got := ParentPath(tt.path); got != tt.parent {
			t.Errorf("ParentPath(%q) = %q, want %q", tt.path, got, tt.parent)
		}
	}
}

func TestSlugifyTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"About Us", "about-us"},
		{"  Hello,   World!  ", "hello-world"},
		{"Rome: A Guide (2024)", "rome-a-guide-2024"},
		{"---", ""},
	}

	for _, tt := range tests {
		if got := SlugifyTitle(tt.in); got != tt.want {
			t.Errorf("SlugifyTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTitleizeSlug(t *testing.T) {
	if got := TitleizeSlug("about-us"); got != "About Us" {
		t.Errorf("TitleizeSlug(about-us) = %q", got)
	}
}

func TestDestinationPath(t *testing.T) {
	tests := []struct {
		name string
		row  Row
		want string
	}{
		{"from new URL", Row{NewURL: "https://new.example.com/about-us/"}, "about-us"},
		{"from title", Row{Title: "Our Team"}, "our-team"},
		{"from h1", Row{H1: "Contact Page"}, "contact-page"},
		{"title wins over h1", Row{Title: "A", H1: "B"}, "a"},
		{"nothing usable", Row{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.row.DestinationPath(); got != tt.want {
				t.Errorf("DestinationPath() = %q, want %q", got, tt.want)
			}
		})
	}
}
