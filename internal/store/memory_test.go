// internal/store/memory_test.go
package store

import (
	"context"
	"testing"

	"github.com/valpere/SiteMigrator/internal/migrate"
)

func TestMemoryStoreAddressing(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	pageA, _ := s.Create(ctx, &migrate.Payload{Type: migrate.TypePage, Slug: "team", Path: "products/team", Title: "Team"})
	pageB, _ := s.Create(ctx, &migrate.Payload{Type: migrate.TypePage, Slug: "team", Path: "company/team", Title: "Team"})
	post, _ := s.Create(ctx, &migrate.Payload{Type: migrate.TypePost, Slug: "team", Path: "team", Title: "Team Post"})

	// pages are addressed by full path
	id, found, err := s.Find(ctx, "products/team", migrate.TypePage)
	if err != nil || !found || id != pageA {
		t.Errorf("Find(products/team) = %d, %v, %v", id, found, err)
	}
	id, found, _ = s.Find(ctx, "company/team", migrate.TypePage)
	if !found || id != pageB {
		t.Errorf("Find(company/team) = %d, %v", id, found)
	}
	if _, found, _ := s.Find(ctx, "team", migrate.TypePage); found {
		t.Error("bare slug matched a nested page")
	}

	// posts are addressed by slug regardless of the path prefix
	id, found, _ = s.Find(ctx, "anything/team", migrate.TypePost)
	if !found || id != post {
		t.Errorf("post Find = %d, %v", id, found)
	}
}

func TestMemoryStoreFindByMigratedURL(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, _ := s.Create(ctx, &migrate.Payload{
		Type:         migrate.TypePost,
		Slug:         "rome",
		Path:         "rome",
		MigratedFrom: "https://www.old.example.com/blog/travel/rome/",
	})

	// any normalized spelling of the source URL matches
	for _, url := range []string{
		"https://www.old.example.com/blog/travel/rome/",
		"https://old.example.com/blog/travel/rome",
		"/blog/travel/rome",
	} {
		got, found, err := s.FindByMigratedURL(ctx, url, migrate.TypePost)
		if err != nil || !found || got != id {
			t.Errorf("FindByMigratedURL(%q) = %d, %v, %v", url, got, found, err)
		}
	}

	// wrong type does not match
	if _, found, _ := s.FindByMigratedURL(ctx, "/blog/travel/rome", migrate.TypePage); found {
		t.Error("page lookup matched a post mapping")
	}
	if _, found, _ := s.FindByMigratedURL(ctx, "", migrate.TypePost); found {
		t.Error("empty URL matched")
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, _ := s.Create(ctx, &migrate.Payload{Type: migrate.TypePage, Slug: "about", Path: "about", Title: "About"})

	if err := s.Update(ctx, id, &migrate.Payload{Type: migrate.TypePage, Slug: "about", Path: "about", Title: "About Us"}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	rec, _ := s.Get(id)
	if rec.Title != "About Us" {
		t.Errorf("title = %q", rec.Title)
	}

	err := s.Update(ctx, 999, &migrate.Payload{Path: "missing"})
	if err == nil {
		t.Fatal("expected error for missing record")
	}
	if _, ok := err.(*migrate.PersistenceError); !ok {
		t.Errorf("expected *migrate.PersistenceError, got %T", err)
	}
}
