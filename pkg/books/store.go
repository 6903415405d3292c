// Package books is the book cache: the all list, per-shelf views, search results,
// lazily loaded pages, optimistic shelf reassignment and reviews.
package books

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/apiclient"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/domain"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/resource"
)

const (
	ViewSearch = "search"
	ViewPages  = "pages"

	defaultPageSize = 20
	maxPageSize     = 100
)

// ShelfView names the view holding one shelf's books.
func ShelfView(shelfID string) string {
	return "shelf:" + shelfID
}

// Options tune the store.
type Options struct {
	TTL    time.Duration
	Gate   func() bool
	Logger *slog.Logger
}

// Input is the writable part of a book.
type Input struct {
	Title         string `json:"title"`
	Author        string `json:"author,omitempty"`
	Description   string `json:"description,omitempty"`
	ISBN          string `json:"isbn,omitempty"`
	CoverURL      string `json:"coverUrl,omitempty"`
	PublishedYear int    `json:"publishedYear,omitempty"`
	Shelf         string `json:"shelf,omitempty"`
}

// Store caches books for one session.
type Store struct {
	client resource.Requester
	cache  *resource.Store[domain.Book]
}

// New builds the book store on top of client.
func New(client resource.Requester, opts Options) (*Store, error) {
	cache, err := resource.New(resource.Config[domain.Book]{
		Name:     "book",
		Path:     "/books",
		ID:       func(b domain.Book) string { return b.ID },
		ListKeys: []string{"items", "books", "data"},
		ItemKeys: []string{"book", "data"},
		TTL:      opts.TTL,
		Gate:     opts.Gate,
		Client:   client,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Store{client: client, cache: cache}, nil
}

// Cache exposes the underlying generic store.
func (s *Store) Cache() *resource.Store[domain.Book] { return s.cache }

func (s *Store) Items() []domain.Book { return s.cache.Items() }

func (s *Store) ByID() map[string]domain.Book { return s.cache.ByID() }

func (s *Store) Get(id string) (domain.Book, bool) { return s.cache.Get(id) }

func (s *Store) IsLoading() bool { return s.cache.IsLoading() }

func (s *Store) LastError() error { return s.cache.LastError() }

func (s *Store) Snapshot() resource.State[domain.Book] { return s.cache.Snapshot() }

func (s *Store) Subscribe(fn func()) func() { return s.cache.Subscribe(fn) }

// Pending lists in-flight shelf reassignments.
func (s *Store) Pending() []resource.PendingOperation[domain.Book] { return s.cache.Pending() }

// Reset drops every cached book.
func (s *Store) Reset() { s.cache.Reset() }

// Invalidate forces the next fetch of every view to go to the network.
func (s *Store) Invalidate() { s.cache.Invalidate() }

// InvalidateShelf marks one shelf view stale.
func (s *Store) InvalidateShelf(shelfID string) { s.cache.InvalidateView(ShelfView(shelfID)) }

// SearchResults returns the current search view.
func (s *Store) SearchResults() []domain.Book { return s.cache.View(ViewSearch) }

// ShelfBooks returns the cached books of one shelf view.
func (s *Store) ShelfBooks(shelfID string) []domain.Book { return s.cache.View(ShelfView(shelfID)) }

// Pages returns every book loaded through LoadPage so far.
func (s *Store) Pages() []domain.Book { return s.cache.View(ViewPages) }

func (s *Store) FetchAll(ctx context.Context) ([]domain.Book, error) {
	return s.cache.FetchAll(ctx)
}

// Refresh reloads the all list regardless of cache state.
func (s *Store) Refresh(ctx context.Context) ([]domain.Book, error) {
	return s.cache.Refresh(ctx)
}

func (s *Store) FetchOne(ctx context.Context, id string) (domain.Book, error) {
	return s.cache.FetchOne(ctx, id)
}

// Create adds a book. The title is required.
func (s *Store) Create(ctx context.Context, in Input) (domain.Book, error) {
	in, err := normalizeInput(in)
	if err != nil {
		return domain.Book{}, s.cache.Fail(err)
	}
	return s.cache.Create(ctx, in)
}

// Update replaces the writable fields of id.
func (s *Store) Update(ctx context.Context, id string, in Input) (domain.Book, error) {
	in, err := normalizeInput(in)
	if err != nil {
		return domain.Book{}, s.cache.Fail(err)
	}
	return s.cache.Update(ctx, id, in)
}

func (s *Store) Remove(ctx context.Context, id string) error {
	return s.cache.Remove(ctx, id)
}

// FetchByShelf loads the books on one shelf into its own view.
func (s *Store) FetchByShelf(ctx context.Context, shelfID string) ([]domain.Book, error) {
	shelfID = strings.TrimSpace(shelfID)
	if shelfID == "" {
		return nil, s.cache.Fail(apiclient.Validation("shelf id is required"))
	}
	return s.cache.FetchView(ctx, ShelfView(shelfID), "/books/shelf/"+url.PathEscape(shelfID))
}

// Search fills the search view. An empty query clears it.
func (s *Store) Search(ctx context.Context, query string) ([]domain.Book, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		s.cache.ClearView(ViewSearch)
		return nil, nil
	}
	return s.cache.ReloadView(ctx, ViewSearch, "/books/search?q="+url.QueryEscape(query))
}

// UpdateShelfAssignment moves a book to shelf, showing the move before the server confirms.
// On failure the book returns to its previous shelf and the error is recorded.
func (s *Store) UpdateShelfAssignment(ctx context.Context, bookID, shelf string) (domain.Book, error) {
	bookID = strings.TrimSpace(bookID)
	shelf = strings.TrimSpace(shelf)
	if bookID == "" {
		return domain.Book{}, s.cache.Fail(apiclient.Validation("book id is required"))
	}
	if shelf == "" {
		return domain.Book{}, s.cache.Fail(apiclient.Validation("shelf is required"))
	}
	path := s.cache.ItemPath(bookID) + "/shelf"
	return s.cache.Optimistic(ctx, bookID,
		func(b domain.Book) domain.Book {
			b.Shelf = shelf
			return b
		},
		func(ctx context.Context) (domain.Book, error) {
			var raw json.RawMessage
			if err := s.client.DoJSON(ctx, http.MethodPut, path, map[string]string{"shelf": shelf}, &raw); err != nil {
				return domain.Book{}, err
			}
			var book domain.Book
			if err := apiclient.DecodeEnvelope(raw, &book, "book", "data"); err != nil {
				return domain.Book{}, err
			}
			return book, nil
		})
}

// AddReview posts a review and folds it into the cached book.
func (s *Store) AddReview(ctx context.Context, bookID string, rating int, comment string) (domain.Review, error) {
	bookID = strings.TrimSpace(bookID)
	if bookID == "" {
		return domain.Review{}, s.cache.Fail(apiclient.Validation("book id is required"))
	}
	if rating < 1 || rating > 5 {
		return domain.Review{}, s.cache.Fail(apiclient.Validation("rating must be between 1 and 5"))
	}
	comment = strings.TrimSpace(comment)
	payload := map[string]any{"rating": rating, "comment": comment}
	var raw json.RawMessage
	review := domain.Review{BookID: bookID, Rating: rating, Comment: comment}
	_, err := s.cache.DoApply(ctx, http.MethodPost, s.cache.ItemPath(bookID)+"/review", payload, &raw, func(tx resource.Tx[domain.Book]) {
		var resp struct {
			Review *domain.Review `json:"review"`
			Book   *domain.Book   `json:"book"`
		}
		_ = json.Unmarshal(raw, &resp)
		switch {
		case resp.Book != nil && resp.Book.ID != "":
			// the server returned the whole book with its recomputed rating
			tx.Upsert(*resp.Book)
			if resp.Review != nil {
				review = *resp.Review
			}
			return
		case resp.Review != nil:
			review = *resp.Review
		default:
			var bare domain.Review
			if err := apiclient.DecodeEnvelope(raw, &bare, "data"); err == nil && bare.ID != "" {
				review = bare
			}
		}
		tx.Patch(bookID, func(b domain.Book) domain.Book {
			b.Reviews = append(slices.Clone(b.Reviews), review)
			b.AverageRating = averageRating(b.Reviews)
			return b
		})
	})
	if err != nil {
		return domain.Review{}, err
	}
	return review, nil
}

// LoadPage fetches one page of the collection into the pages view. Page 1 restarts
// the view; later pages append. hasMore reports whether a full page came back.
func (s *Store) LoadPage(ctx context.Context, page, size int) (items []domain.Book, hasMore bool, err error) {
	if page < 1 {
		return nil, false, s.cache.Fail(apiclient.Validation("page must be at least 1"))
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	path := fmt.Sprintf("/books?page=%d&limit=%d", page, size)
	if page == 1 {
		items, err = s.cache.ReloadView(ctx, ViewPages, path)
	} else {
		items, err = s.cache.AppendPage(ctx, ViewPages, path)
	}
	if err != nil {
		return nil, false, err
	}
	return items, len(items) >= size, nil
}

func normalizeInput(in Input) (Input, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Author = strings.TrimSpace(in.Author)
	in.ISBN = strings.TrimSpace(in.ISBN)
	in.Shelf = strings.TrimSpace(in.Shelf)
	if in.Title == "" {
		return in, apiclient.Validation("title is required")
	}
	if in.PublishedYear < 0 {
		return in, apiclient.Validation("published year must not be negative")
	}
	return in, nil
}

func averageRating(reviews []domain.Review) float64 {
	if len(reviews) == 0 {
		return 0
	}
	total := 0
	for _, r := range reviews {
		total += r.Rating
	}
	return float64(total) / float64(len(reviews))
}
