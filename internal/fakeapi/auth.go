package fakeapi

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/blockchaincyberpunk1/shelflife-frontend/internal/util"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/domain"
)

var (
	errEmailAndPasswordRequired = errors.New("email and password are required")
	errEmailExists              = errors.New("email already registered")
)

type tokenResponse struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.users[s.emails[strings.ToLower(strings.TrimSpace(req.Email))]]
	if !ok || bcrypt.CompareHashAndPassword(rec.passwordHash, []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.writeCredentialLocked(w, http.StatusOK, rec.user)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	user, err := s.createUserLocked(req.Username, req.Email, req.Password)
	switch {
	case errors.Is(err, errEmailExists):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, errEmailAndPasswordRequired):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "signup failed")
		return
	}
	s.writeCredentialLocked(w, http.StatusCreated, user)
}

// handleRefresh rotates the refresh token: the presented one is consumed.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.refresh[req.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	delete(s.refresh, req.RefreshToken)
	rec, ok := s.users[userID]
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	s.writeCredentialLocked(w, http.StatusOK, rec.user)
}

func (s *Server) writeCredentialLocked(w http.ResponseWriter, status int, user domain.User) {
	cred, err := s.issueLocked(user, s.accessTTL)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "token issue failed")
		return
	}
	writeJSON(w, status, tokenResponse{Token: cred.AccessToken, RefreshToken: cred.RefreshToken})
}

// handleForgotPassword always answers 200 so callers cannot tell which emails have accounts.
func (s *Server) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.mu.Lock()
	if userID, ok := s.emails[strings.ToLower(strings.TrimSpace(req.Email))]; ok {
		s.resetTokens[util.NewID()] = userID
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "if the account exists a reset link was sent"})
}

func (s *Server) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NewPassword string `json:"newPassword"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "new password is required")
		return
	}
	token := r.PathValue("token")
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.resetTokens[token]
	rec := s.users[userID]
	if !ok || rec == nil {
		writeError(w, http.StatusBadRequest, "invalid or expired reset token")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reset failed")
		return
	}
	delete(s.resetTokens, token)
	rec.passwordHash = hash
	s.revokeLocked(userID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request, userID string) {
	s.mu.Lock()
	user := s.users[userID].user
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		Username  *string `json:"username"`
		Email     *string `json:"email"`
		Bio       *string `json:"bio"`
		AvatarURL *string `json:"avatarUrl"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.users[userID]
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if email == "" {
			writeError(w, http.StatusBadRequest, "email is required")
			return
		}
		if owner, taken := s.emails[email]; taken && owner != userID {
			writeError(w, http.StatusConflict, errEmailExists.Error())
			return
		}
		delete(s.emails, rec.user.Email)
		s.emails[email] = userID
		rec.user.Email = email
	}
	if req.Username != nil {
		rec.user.Username = strings.TrimSpace(*req.Username)
	}
	if req.Bio != nil {
		rec.user.Bio = *req.Bio
	}
	if req.AvatarURL != nil {
		rec.user.AvatarURL = *req.AvatarURL
	}
	rec.user.UpdatedAt = s.now().UTC()
	writeJSON(w, http.StatusOK, map[string]any{"user": rec.user})
}

// handleUpdatePassword revokes every session of the user on success.
func (s *Server) handleUpdatePassword(w http.ResponseWriter, r *http.Request, userID string) {
	var req struct {
		OldPassword string `json:"oldPassword"`
		NewPassword string `json:"newPassword"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.users[userID]
	if bcrypt.CompareHashAndPassword(rec.passwordHash, []byte(req.OldPassword)) != nil {
		writeError(w, http.StatusBadRequest, "current password is incorrect")
		return
	}
	if req.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "new password is required")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.MinCost)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "password update failed")
		return
	}
	rec.passwordHash = hash
	s.revokeLocked(userID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request, userID string) {
	s.mu.Lock()
	settings := s.users[userID].settings
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"settings": settings})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request, userID string) {
	var req domain.Settings
	if !decodeBody(w, r, &req) {
		return
	}
	if req.BooksPerPage < 0 || req.BooksPerPage > 100 {
		writeError(w, http.StatusUnprocessableEntity, "booksPerPage must be between 1 and 100")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.users[userID]
	if req.BooksPerPage == 0 {
		req.BooksPerPage = rec.settings.BooksPerPage
	}
	rec.settings = req
	writeJSON(w, http.StatusOK, map[string]any{"settings": rec.settings})
}
