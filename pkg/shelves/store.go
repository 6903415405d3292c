// Package shelves caches the user's shelves and their book membership.
package shelves

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/apiclient"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/domain"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/resource"
)

const maxNameLength = 100

// Options tune the store.
type Options struct {
	TTL    time.Duration
	Gate   func() bool
	Logger *slog.Logger
	// OnMembershipChange runs after a book was added to or removed from a shelf.
	OnMembershipChange func(shelfID string)
}

// Store caches shelves for one session.
type Store struct {
	cache    *resource.Store[domain.Shelf]
	onChange func(shelfID string)
}

// New builds the shelf store on top of client.
func New(client resource.Requester, opts Options) (*Store, error) {
	cache, err := resource.New(resource.Config[domain.Shelf]{
		Name:     "shelf",
		Path:     "/shelves",
		ID:       func(s domain.Shelf) string { return s.ID },
		ListKeys: []string{"items", "shelves", "data"},
		ItemKeys: []string{"shelf", "data"},
		TTL:      opts.TTL,
		Gate:     opts.Gate,
		Client:   client,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Store{cache: cache, onChange: opts.OnMembershipChange}, nil
}

// Cache exposes the underlying generic store.
func (s *Store) Cache() *resource.Store[domain.Shelf] { return s.cache }

func (s *Store) Items() []domain.Shelf { return s.cache.Items() }

func (s *Store) ByID() map[string]domain.Shelf { return s.cache.ByID() }

func (s *Store) Get(id string) (domain.Shelf, bool) { return s.cache.Get(id) }

func (s *Store) IsLoading() bool { return s.cache.IsLoading() }

func (s *Store) LastError() error { return s.cache.LastError() }

func (s *Store) Snapshot() resource.State[domain.Shelf] { return s.cache.Snapshot() }

func (s *Store) Subscribe(fn func()) func() { return s.cache.Subscribe(fn) }

func (s *Store) Reset() { s.cache.Reset() }

func (s *Store) Invalidate() { s.cache.Invalidate() }

func (s *Store) FetchAll(ctx context.Context) ([]domain.Shelf, error) {
	return s.cache.FetchAll(ctx)
}

func (s *Store) Refresh(ctx context.Context) ([]domain.Shelf, error) {
	return s.cache.Refresh(ctx)
}

func (s *Store) FetchOne(ctx context.Context, id string) (domain.Shelf, error) {
	return s.cache.FetchOne(ctx, id)
}

// Create adds a shelf owned by userID.
func (s *Store) Create(ctx context.Context, userID, name string) (domain.Shelf, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Shelf{}, s.cache.Fail(apiclient.Validation("user id is required"))
	}
	name, err := validateName(name)
	if err != nil {
		return domain.Shelf{}, s.cache.Fail(err)
	}
	return s.cache.Create(ctx, map[string]string{"userId": userID, "name": name})
}

// Rename changes the display name of a shelf.
func (s *Store) Rename(ctx context.Context, id, name string) (domain.Shelf, error) {
	name, err := validateName(name)
	if err != nil {
		return domain.Shelf{}, s.cache.Fail(err)
	}
	return s.cache.Update(ctx, id, map[string]string{"name": name})
}

func (s *Store) Remove(ctx context.Context, id string) error {
	return s.cache.Remove(ctx, id)
}

// AddBook puts bookID on the shelf.
func (s *Store) AddBook(ctx context.Context, shelfID, bookID string) (domain.Shelf, error) {
	return s.changeMembership(ctx, http.MethodPost, shelfID, bookID, func(books []string, id string) []string {
		if slices.Contains(books, id) {
			return books
		}
		return append(slices.Clone(books), id)
	})
}

// RemoveBook takes bookID off the shelf.
func (s *Store) RemoveBook(ctx context.Context, shelfID, bookID string) (domain.Shelf, error) {
	return s.changeMembership(ctx, http.MethodDelete, shelfID, bookID, func(books []string, id string) []string {
		return slices.DeleteFunc(slices.Clone(books), func(x string) bool { return x == id })
	})
}

func (s *Store) changeMembership(ctx context.Context, method, shelfID, bookID string, apply func([]string, string) []string) (domain.Shelf, error) {
	shelfID = strings.TrimSpace(shelfID)
	bookID = strings.TrimSpace(bookID)
	if shelfID == "" || bookID == "" {
		return domain.Shelf{}, s.cache.Fail(apiclient.Validation("shelf id and book id are required"))
	}
	var (
		raw   json.RawMessage
		shelf domain.Shelf
	)
	applied, err := s.cache.DoApply(ctx, method, s.cache.ItemPath(shelfID)+"/books", map[string]string{"bookId": bookID}, &raw, func(tx resource.Tx[domain.Shelf]) {
		var confirmed domain.Shelf
		if err := apiclient.DecodeEnvelope(raw, &confirmed, "shelf", "data"); err == nil && confirmed.ID != "" {
			tx.Upsert(confirmed)
		} else {
			tx.Patch(shelfID, func(sh domain.Shelf) domain.Shelf {
				sh.Books = apply(sh.Books, bookID)
				return sh
			})
		}
		shelf, _ = tx.Get(shelfID)
	})
	if err != nil {
		return domain.Shelf{}, err
	}
	if !applied {
		// the session was reset meanwhile; report the server's answer without caching it
		_ = apiclient.DecodeEnvelope(raw, &shelf, "shelf", "data")
		return shelf, nil
	}
	if s.onChange != nil {
		s.onChange(shelfID)
	}
	return shelf, nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apiclient.Validation("shelf name is required")
	}
	if len([]rune(name)) > maxNameLength {
		return "", apiclient.Validation("shelf name is too long")
	}
	return name, nil
}
