package shelves

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/apiclient"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/domain"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/tokenstore"
)

func newTestStore(t *testing.T, mux *http.ServeMux, opts Options) *Store {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	client, err := apiclient.New(apiclient.Config{BaseURL: srv.URL, Tokens: tokenstore.NewMemoryStore()})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	s, err := New(client, opts)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestCreateAndRename(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /shelves", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusCreated, map[string]any{"shelf": domain.Shelf{ID: "s1", UserID: body["userId"], Name: body["name"]}})
	})
	mux.HandleFunc("PUT /shelves/{id}", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, domain.Shelf{ID: r.PathValue("id"), UserID: "u1", Name: body["name"]})
	})
	s := newTestStore(t, mux, Options{})

	created, err := s.Create(context.Background(), "u1", " Favourites ")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Name != "Favourites" || created.UserID != "u1" {
		t.Fatalf("unexpected shelf %+v", created)
	}
	if _, err := s.Rename(context.Background(), "s1", "Classics"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	items := s.Items()
	if len(items) != 1 || items[0].Name != "Classics" {
		t.Fatalf("expected renamed shelf in items, got %+v", items)
	}
}

func TestCreateValidation(t *testing.T) {
	s := newTestStore(t, http.NewServeMux(), Options{})
	cases := []struct{ user, name string }{
		{"", "Shelf"},
		{"u1", "  "},
		{"u1", strings.Repeat("x", maxNameLength+1)},
	}
	for _, tc := range cases {
		if _, err := s.Create(context.Background(), tc.user, tc.name); !errors.Is(err, apiclient.ErrValidation) {
			t.Fatalf("user=%q name len %d: expected validation error, got %v", tc.user, len(tc.name), err)
		}
	}
}

func TestMembershipPatchesShelfAndNotifies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /shelves", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []domain.Shelf{{ID: "s1", Name: "Fav", Books: []string{"b1"}}})
	})
	mux.HandleFunc("POST /shelves/{id}/books", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("DELETE /shelves/{id}/books", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["bookId"] != "b1" {
			t.Errorf("unexpected body %v", body)
		}
		w.WriteHeader(http.StatusNoContent)
	})
	var changed []string
	s := newTestStore(t, mux, Options{OnMembershipChange: func(id string) { changed = append(changed, id) }})
	if _, err := s.FetchAll(context.Background()); err != nil {
		t.Fatalf("fetch all: %v", err)
	}

	shelf, err := s.AddBook(context.Background(), "s1", "b2")
	if err != nil {
		t.Fatalf("add book: %v", err)
	}
	if len(shelf.Books) != 2 || shelf.Books[1] != "b2" {
		t.Fatalf("unexpected books after add %v", shelf.Books)
	}
	if _, err := s.AddBook(context.Background(), "s1", "b2"); err != nil {
		t.Fatalf("add duplicate: %v", err)
	}
	shelf, err = s.RemoveBook(context.Background(), "s1", "b1")
	if err != nil {
		t.Fatalf("remove book: %v", err)
	}
	if len(shelf.Books) != 1 || shelf.Books[0] != "b2" {
		t.Fatalf("unexpected books after remove %v", shelf.Books)
	}
	if len(changed) != 3 || changed[0] != "s1" {
		t.Fatalf("expected membership hook per change, got %v", changed)
	}
}

func TestMembershipFailureRecordsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /shelves/{id}/books", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "book already on shelf"})
	})
	called := false
	s := newTestStore(t, mux, Options{OnMembershipChange: func(string) { called = true }})
	_, err := s.AddBook(context.Background(), "s1", "b1")
	if !errors.Is(err, apiclient.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if called {
		t.Fatalf("hook must not run on failure")
	}
	if s.LastError() == nil {
		t.Fatalf("expected recorded error")
	}
}

func TestGateClosed(t *testing.T) {
	s := newTestStore(t, http.NewServeMux(), Options{Gate: func() bool { return false }})
	if _, err := s.FetchAll(context.Background()); !errors.Is(err, apiclient.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
}

func TestMembershipAfterResetDoesNotRepopulate(t *testing.T) {
	arrived := make(chan struct{})
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("GET /shelves", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []domain.Shelf{{ID: "s1", UserID: "alice", Name: "Fav"}})
	})
	mux.HandleFunc("POST /shelves/{id}/books", func(w http.ResponseWriter, r *http.Request) {
		close(arrived)
		<-release
		writeJSON(w, http.StatusOK, map[string]any{"shelf": domain.Shelf{ID: "s1", UserID: "alice", Name: "Fav", Books: []string{"b1"}}})
	})
	called := false
	s := newTestStore(t, mux, Options{OnMembershipChange: func(string) { called = true }})
	if _, err := s.FetchAll(context.Background()); err != nil {
		t.Fatalf("fetch all: %v", err)
	}

	type result struct {
		shelf domain.Shelf
		err   error
	}
	done := make(chan result, 1)
	go func() {
		shelf, err := s.AddBook(context.Background(), "s1", "b1")
		done <- result{shelf, err}
	}()
	<-arrived
	s.Reset()
	close(release)
	res := <-done

	if res.err != nil {
		t.Fatalf("add book: %v", res.err)
	}
	if res.shelf.ID != "s1" || len(res.shelf.Books) != 1 {
		t.Fatalf("expected the server's shelf returned, got %+v", res.shelf)
	}
	if byID := s.ByID(); len(byID) != 0 {
		t.Fatalf("shelf from the previous session reappeared: %+v", byID)
	}
	if called {
		t.Fatalf("membership hook must not run for a reset store")
	}
}
