package fakeapi

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/blockchaincyberpunk1/shelflife-frontend/internal/util"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/domain"
)

type bookInput struct {
	Title         string `json:"title"`
	Author        string `json:"author"`
	Description   string `json:"description"`
	ISBN          string `json:"isbn"`
	CoverURL      string `json:"coverUrl"`
	PublishedYear int    `json:"publishedYear"`
	Shelf         string `json:"shelf"`
}

func (in bookInput) apply(b domain.Book) domain.Book {
	b.Title = strings.TrimSpace(in.Title)
	b.Author = in.Author
	b.Description = in.Description
	b.ISBN = in.ISBN
	b.CoverURL = in.CoverURL
	b.PublishedYear = in.PublishedYear
	if in.Shelf != "" {
		b.Shelf = in.Shelf
	}
	return b
}

func (s *Server) booksLocked() []domain.Book {
	out := make([]domain.Book, 0, len(s.bookOrder))
	for _, id := range s.bookOrder {
		out = append(out, s.books[id])
	}
	return out
}

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request, _ string) {
	s.mu.Lock()
	all := s.booksLocked()
	s.mu.Unlock()

	q := r.URL.Query()
	if q.Get("page") == "" {
		writeJSON(w, http.StatusOK, map[string]any{"books": all})
		return
	}
	page, err := strconv.Atoi(q.Get("page"))
	if err != nil || page < 1 {
		writeError(w, http.StatusBadRequest, "invalid page")
		return
	}
	limit, err := strconv.Atoi(q.Get("limit"))
	if err != nil || limit < 1 {
		limit = 20
	}
	start := min((page-1)*limit, len(all))
	end := min(start+limit, len(all))
	writeJSON(w, http.StatusOK, map[string]any{"items": all[start:end], "total": len(all)})
}

func (s *Server) handleSearchBooks(w http.ResponseWriter, r *http.Request, _ string) {
	query := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	s.mu.Lock()
	defer s.mu.Unlock()
	matches := []domain.Book{}
	for _, b := range s.booksLocked() {
		if query == "" {
			continue
		}
		if strings.Contains(strings.ToLower(b.Title), query) || strings.Contains(strings.ToLower(b.Author), query) {
			matches = append(matches, b)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": matches})
}

// handleShelfBooks resolves a custom shelf's membership, or a built-in shelf key.
func (s *Server) handleShelfBooks(w http.ResponseWriter, r *http.Request, _ string) {
	shelfID := r.PathValue("shelfID")
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Book{}
	if shelf, ok := s.shelves[shelfID]; ok {
		for _, id := range shelf.Books {
			if b, exists := s.books[id]; exists {
				out = append(out, b)
			}
		}
	} else {
		for _, b := range s.booksLocked() {
			if b.Shelf == shelfID {
				out = append(out, b)
			}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"books": out})
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request, _ string) {
	s.mu.Lock()
	b, ok := s.books[r.PathValue("id")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"book": b})
}

func (s *Server) handleCreateBook(w http.ResponseWriter, r *http.Request, userID string) {
	var in bookInput
	if !decodeBody(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().UTC()
	b := in.apply(domain.Book{ID: util.NewID(), OwnerID: userID, CreatedAt: now})
	b.UpdatedAt = now
	s.books[b.ID] = b
	s.bookOrder = append(s.bookOrder, b.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"book": b})
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request, _ string) {
	var in bookInput
	if !decodeBody(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	b = in.apply(b)
	b.UpdatedAt = s.now().UTC()
	s.books[b.ID] = b
	writeJSON(w, http.StatusOK, map[string]any{"book": b})
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request, _ string) {
	id := r.PathValue("id")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.books[id]; !ok {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	delete(s.books, id)
	s.bookOrder = slices.DeleteFunc(s.bookOrder, func(x string) bool { return x == id })
	for sid, shelf := range s.shelves {
		shelf.Books = slices.DeleteFunc(shelf.Books, func(x string) bool { return x == id })
		s.shelves[sid] = shelf
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssignShelf(w http.ResponseWriter, r *http.Request, _ string) {
	var req struct {
		Shelf string `json:"shelf"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Shelf) == "" {
		writeError(w, http.StatusBadRequest, "shelf is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	b.Shelf = req.Shelf
	b.UpdatedAt = s.now().UTC()
	s.books[b.ID] = b
	writeJSON(w, http.StatusOK, map[string]any{"book": b})
}

func (s *Server) handleAddReview(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Rating  int    `json:"rating"`
		Comment string `json:"comment"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		writeError(w, http.StatusUnprocessableEntity, "rating must be between 1 and 5")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.books[r.PathValue("id")]
	if !ok {
		writeError(w, http.StatusNotFound, "book not found")
		return
	}
	review := domain.Review{
		ID:        util.NewID(),
		BookID:    b.ID,
		UserID:    userID,
		Rating:    req.Rating,
		Comment:   req.Comment,
		CreatedAt: s.now().UTC(),
	}
	b.Reviews = append(slices.Clone(b.Reviews), review)
	total := 0
	for _, rv := range b.Reviews {
		total += rv.Rating
	}
	b.AverageRating = float64(total) / float64(len(b.Reviews))
	s.books[b.ID] = b
	writeJSON(w, http.StatusCreated, map[string]any{"review": review})
}

func (s *Server) handleListShelves(w http.ResponseWriter, r *http.Request, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Shelf{}
	for _, id := range s.shelfOrder {
		if sh := s.shelves[id]; sh.UserID == userID {
			out = append(out, sh)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"shelves": out})
}

// ownedShelfLocked writes a 404 for shelves missing or owned by someone else.
func (s *Server) ownedShelfLocked(w http.ResponseWriter, id, userID string) (domain.Shelf, bool) {
	sh, ok := s.shelves[id]
	if !ok || sh.UserID != userID {
		writeError(w, http.StatusNotFound, "shelf not found")
		return domain.Shelf{}, false
	}
	return sh, true
}

func (s *Server) handleGetShelf(w http.ResponseWriter, r *http.Request, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sh, ok := s.ownedShelfLocked(w, r.PathValue("id"), userID); ok {
		writeJSON(w, http.StatusOK, map[string]any{"shelf": sh})
	}
}

func (s *Server) handleCreateShelf(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.UserID != "" && req.UserID != userID {
		writeError(w, http.StatusBadRequest, "userId does not match the caller")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range s.shelves {
		if sh.UserID == userID && strings.EqualFold(sh.Name, name) {
			writeError(w, http.StatusConflict, "shelf name already in use")
			return
		}
	}
	now := s.now().UTC()
	sh := domain.Shelf{ID: util.NewID(), UserID: userID, Name: name, CreatedAt: now, UpdatedAt: now}
	s.shelves[sh.ID] = sh
	s.shelfOrder = append(s.shelfOrder, sh.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"shelf": sh})
}

func (s *Server) handleRenameShelf(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.ownedShelfLocked(w, r.PathValue("id"), userID)
	if !ok {
		return
	}
	sh.Name = name
	sh.UpdatedAt = s.now().UTC()
	s.shelves[sh.ID] = sh
	writeJSON(w, http.StatusOK, map[string]any{"shelf": sh})
}

func (s *Server) handleDeleteShelf(w http.ResponseWriter, r *http.Request, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.ownedShelfLocked(w, r.PathValue("id"), userID)
	if !ok {
		return
	}
	delete(s.shelves, sh.ID)
	s.shelfOrder = slices.DeleteFunc(s.shelfOrder, func(x string) bool { return x == sh.ID })
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddShelfBook(w http.ResponseWriter, r *http.Request, userID string) {
	s.changeShelfBooks(w, r, userID, true)
}

func (s *Server) handleRemoveShelfBook(w http.ResponseWriter, r *http.Request, userID string) {
	s.changeShelfBooks(w, r, userID, false)
}

func (s *Server) changeShelfBooks(w http.ResponseWriter, r *http.Request, userID string, add bool) {
	var req struct {
		BookID string `json:"bookId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BookID == "" {
		writeError(w, http.StatusBadRequest, "bookId is required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.ownedShelfLocked(w, r.PathValue("id"), userID)
	if !ok {
		return
	}
	has := slices.Contains(sh.Books, req.BookID)
	switch {
	case add && has:
		writeError(w, http.StatusConflict, "book already on shelf")
		return
	case add:
		if _, exists := s.books[req.BookID]; !exists {
			writeError(w, http.StatusNotFound, "book not found")
			return
		}
		sh.Books = append(slices.Clone(sh.Books), req.BookID)
	case !has:
		writeError(w, http.StatusNotFound, "book not on shelf")
		return
	default:
		sh.Books = slices.DeleteFunc(slices.Clone(sh.Books), func(x string) bool { return x == req.BookID })
	}
	sh.UpdatedAt = s.now().UTC()
	s.shelves[sh.ID] = sh
	writeJSON(w, http.StatusOK, map[string]any{"shelf": sh})
}
