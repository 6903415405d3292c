// Package fakeapi is an in-memory implementation of the shelflife REST API for
// tests and local demos. It signs HS256 access tokens and keeps everything in maps.
package fakeapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/blockchaincyberpunk1/shelflife-frontend/internal/util"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/domain"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/tokenstore"
)

// Options configure the fake server.
type Options struct {
	Secret    []byte
	AccessTTL time.Duration
}

type userRecord struct {
	user         domain.User
	passwordHash []byte
	settings     domain.Settings
}

type injectedFailure struct {
	status int
	msg    string
}

// Server is an http.Handler serving the REST API from memory.
type Server struct {
	secret    []byte
	accessTTL time.Duration
	now       func() time.Time
	handler   http.Handler

	mu          sync.Mutex
	users       map[string]*userRecord
	emails      map[string]string
	books       map[string]domain.Book
	bookOrder   []string
	shelves     map[string]domain.Shelf
	shelfOrder  []string
	refresh     map[string]string
	accessJTI   map[string]string
	resetTokens map[string]string
	failures    map[string][]injectedFailure
	hits        map[string]int
}

// New builds a fake server.
func New(opts Options) *Server {
	secret := opts.Secret
	if len(secret) == 0 {
		secret = []byte("fakeapi-secret")
	}
	ttl := opts.AccessTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	s := &Server{
		secret:      secret,
		accessTTL:   ttl,
		now:         time.Now,
		users:       make(map[string]*userRecord),
		emails:      make(map[string]string),
		books:       make(map[string]domain.Book),
		shelves:     make(map[string]domain.Shelf),
		refresh:     make(map[string]string),
		accessJTI:   make(map[string]string),
		resetTokens: make(map[string]string),
		failures:    make(map[string][]injectedFailure),
		hits:        make(map[string]int),
	}
	s.handler = util.WithRequestID(util.WithRequestLog("fakeapi", s.routes()))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "POST /auth/login", s.handleLogin)
	s.handle(mux, "POST /auth/signup", s.handleSignup)
	s.handle(mux, "POST /auth/refresh", s.handleRefresh)
	s.handle(mux, "POST /auth/forgot-password", s.handleForgotPassword)
	s.handle(mux, "POST /auth/reset-password/{token}", s.handleResetPassword)

	s.handle(mux, "GET /users/profile", s.authed(s.handleGetProfile))
	s.handle(mux, "PUT /users/profile", s.authed(s.handleUpdateProfile))
	s.handle(mux, "PUT /users/password", s.authed(s.handleUpdatePassword))
	s.handle(mux, "GET /users/settings", s.authed(s.handleGetSettings))
	s.handle(mux, "PUT /users/settings", s.authed(s.handleUpdateSettings))

	s.handle(mux, "GET /books", s.authed(s.handleListBooks))
	s.handle(mux, "POST /books", s.authed(s.handleCreateBook))
	s.handle(mux, "GET /books/search", s.authed(s.handleSearchBooks))
	s.handle(mux, "GET /books/shelf/{shelfID}", s.authed(s.handleShelfBooks))
	s.handle(mux, "GET /books/{id}", s.authed(s.handleGetBook))
	s.handle(mux, "PUT /books/{id}", s.authed(s.handleUpdateBook))
	s.handle(mux, "DELETE /books/{id}", s.authed(s.handleDeleteBook))
	s.handle(mux, "PUT /books/{id}/shelf", s.authed(s.handleAssignShelf))
	s.handle(mux, "POST /books/{id}/review", s.authed(s.handleAddReview))

	s.handle(mux, "GET /shelves", s.authed(s.handleListShelves))
	s.handle(mux, "POST /shelves", s.authed(s.handleCreateShelf))
	s.handle(mux, "GET /shelves/{id}", s.authed(s.handleGetShelf))
	s.handle(mux, "PUT /shelves/{id}", s.authed(s.handleRenameShelf))
	s.handle(mux, "DELETE /shelves/{id}", s.authed(s.handleDeleteShelf))
	s.handle(mux, "POST /shelves/{id}/books", s.authed(s.handleAddShelfBook))
	s.handle(mux, "DELETE /shelves/{id}/books", s.authed(s.handleRemoveShelfBook))
	return mux
}

// handle registers a route that counts hits and honours injected failures.
func (s *Server) handle(mux *http.ServeMux, pattern string, fn http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[pattern]++
		var fail *injectedFailure
		if queue := s.failures[pattern]; len(queue) > 0 {
			fail = &queue[0]
			s.failures[pattern] = queue[1:]
		}
		s.mu.Unlock()
		if fail != nil {
			writeError(w, fail.status, fail.msg)
			return
		}
		fn(w, r)
	})
}

// FailNext makes the next request matching pattern (e.g. "PUT /books/{id}/shelf")
// fail with status and msg.
func (s *Server) FailNext(pattern string, status int, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[pattern] = append(s.failures[pattern], injectedFailure{status: status, msg: msg})
}

// Hits reports how many requests reached pattern.
func (s *Server) Hits(pattern string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[pattern]
}

// SeedUser registers an account directly.
func (s *Server) SeedUser(username, email, password string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createUserLocked(username, email, password)
}

// SeedBook stores a book directly, assigning an id when missing.
func (s *Server) SeedBook(b domain.Book) domain.Book {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = util.NewID()
	}
	now := s.now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now
	if _, exists := s.books[b.ID]; !exists {
		s.bookOrder = append(s.bookOrder, b.ID)
	}
	s.books[b.ID] = b
	return b
}

// IssueCredential signs a credential for userID with an explicit access lifetime.
// A negative ttl yields an already expired access token.
func (s *Server) IssueCredential(userID string, ttl time.Duration) (tokenstore.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[userID]
	if !ok {
		return tokenstore.Credential{}, errors.New("fakeapi: unknown user")
	}
	return s.issueLocked(rec.user, ttl)
}

// RevokeSessions invalidates every access and refresh token of userID.
func (s *Server) RevokeSessions(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revokeLocked(userID)
}

// ResetTokenFor returns the pending reset token mailed to email.
func (s *Server) ResetTokenFor(email string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID := s.emails[strings.ToLower(strings.TrimSpace(email))]
	for token, id := range s.resetTokens {
		if id == userID && userID != "" {
			return token, true
		}
	}
	return "", false
}

func (s *Server) createUserLocked(username, email, password string) (domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	if email == "" || password == "" {
		return domain.User{}, errEmailAndPasswordRequired
	}
	if _, exists := s.emails[email]; exists {
		return domain.User{}, errEmailExists
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	if err != nil {
		return domain.User{}, err
	}
	now := s.now().UTC()
	user := domain.User{ID: util.NewID(), Username: username, Email: email, CreatedAt: now, UpdatedAt: now}
	s.users[user.ID] = &userRecord{
		user:         user,
		passwordHash: hash,
		settings:     domain.Settings{Theme: "light", Language: "en", DefaultShelf: domain.ShelfWantToRead, BooksPerPage: 20},
	}
	s.emails[email] = user.ID
	return user, nil
}

func (s *Server) issueLocked(user domain.User, ttl time.Duration) (tokenstore.Credential, error) {
	now := s.now()
	jti := util.NewID()
	claims := tokenstore.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			ID:        jti,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Username: user.Username,
		Email:    user.Email,
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return tokenstore.Credential{}, err
	}
	refresh := util.NewID() + util.NewID()
	s.accessJTI[jti] = user.ID
	s.refresh[refresh] = user.ID
	return tokenstore.Credential{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Server) revokeLocked(userID string) {
	for jti, id := range s.accessJTI {
		if id == userID {
			delete(s.accessJTI, jti)
		}
	}
	for token, id := range s.refresh {
		if id == userID {
			delete(s.refresh, token)
		}
	}
}

// authed verifies the bearer token and hands the caller's user id to next.
func (s *Server) authed(next func(w http.ResponseWriter, r *http.Request, userID string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		claims := &tokenstore.Claims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
			return s.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
		if err != nil || !parsed.Valid {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		s.mu.Lock()
		userID, active := s.accessJTI[claims.ID]
		_, exists := s.users[userID]
		s.mu.Unlock()
		if !active || !exists || userID != claims.Subject {
			slog.Warn("security_event", "event", "token.revoked", "path", r.URL.Path)
			writeError(w, http.StatusUnauthorized, "token revoked")
			return
		}
		next(w, r, userID)
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	return token, token != ""
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
