// Package session drives the authentication lifecycle: restore on start, login,
// signup, refresh, logout and the profile/settings calls that need a session.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/apiclient"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/auth"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/domain"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/resource"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/tokenstore"
)

// State is the authentication state.
type State string

const (
	StateUnauthenticated State = "unauthenticated"
	StateAuthenticating  State = "authenticating"
	StateAuthenticated   State = "authenticated"
	StateRefreshFailed   State = "refresh_failed"
)

// Resettable is a cache dropped when the session ends.
type Resettable interface {
	Reset()
}

// Limiter throttles login, signup and password-reset attempts per key.
type Limiter interface {
	Allow(key string) bool
}

// Config wires a Coordinator.
type Config struct {
	Client  *apiclient.Client
	Limiter Limiter
	Logger  *slog.Logger
	Stores  []Resettable
}

// SignupInput is the registration form.
type SignupInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ProfileInput is the editable part of the profile.
type ProfileInput struct {
	Username  string `json:"username,omitempty"`
	Email     string `json:"email,omitempty"`
	Bio       string `json:"bio,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// Snapshot is a consistent copy of the coordinator state.
type Snapshot struct {
	State     State
	Session   domain.Session
	Profile   *domain.User
	Settings  *domain.Settings
	Loading   bool
	LastError error
}

type tokenResponse struct {
	Token        string `json:"token"`
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Coordinator owns the session state machine.
type Coordinator struct {
	client   *apiclient.Client
	tokens   tokenstore.Store
	limiter  Limiter
	logger   *slog.Logger
	profiles *resource.Store[domain.User]
	now      func() time.Time

	// ops serialises operations that change the session.
	ops      sync.Mutex
	refreshG singleflight.Group

	mu        sync.RWMutex
	state     State
	session   domain.Session
	profileID string
	settings  *domain.Settings
	loading   int
	lastErr   error
	// credGen changes whenever the stored credential is replaced or dropped by
	// anything other than a refresh, so a late refresh response cannot resurrect it.
	credGen   uint64
	stores    []Resettable
	listeners map[int]func(State)
	nextSubID int
}

// New builds a coordinator and registers it with the client as refresher and
// invalidation listener.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Client == nil {
		return nil, errors.New("session: client is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		client:    cfg.Client,
		tokens:    cfg.Client.Tokens(),
		limiter:   cfg.Limiter,
		logger:    logger.With("component", "session"),
		now:       time.Now,
		state:     StateUnauthenticated,
		stores:    append([]Resettable(nil), cfg.Stores...),
		listeners: make(map[int]func(State)),
	}
	profiles, err := resource.New(resource.Config[domain.User]{
		Name:     "user",
		Path:     "/users",
		ID:       func(u domain.User) string { return u.ID },
		ItemKeys: []string{"user", "data"},
		Gate:     c.IsAuthenticated,
		Client:   cfg.Client,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init profile store: %w", err)
	}
	c.profiles = profiles
	cfg.Client.SetRefresher(c.refresh)
	cfg.Client.OnSessionInvalidated(c.handleInvalidated)
	return c, nil
}

// Register adds caches to drop on logout.
func (c *Coordinator) Register(stores ...Resettable) {
	c.mu.Lock()
	c.stores = append(c.stores, stores...)
	c.mu.Unlock()
}

// Subscribe registers fn for state transitions. The returned func unsubscribes.
func (c *Coordinator) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextSubID
	c.nextSubID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsAuthenticated is the gate used by the resource stores.
func (c *Coordinator) IsAuthenticated() bool {
	return c.State() == StateAuthenticated
}

// Session returns the decoded session while authenticated.
func (c *Coordinator) Session() (domain.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session, c.state == StateAuthenticated
}

// Profile returns the cached profile, if fetched.
func (c *Coordinator) Profile() (domain.User, bool) {
	c.mu.RLock()
	id := c.profileID
	c.mu.RUnlock()
	if id == "" {
		return domain.User{}, false
	}
	return c.profiles.Get(id)
}

// Profiles exposes the profile cache.
func (c *Coordinator) Profiles() *resource.Store[domain.User] { return c.profiles }

func (c *Coordinator) Settings() (domain.Settings, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.settings == nil {
		return domain.Settings{}, false
	}
	return *c.settings, true
}

func (c *Coordinator) IsLoading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading > 0
}

func (c *Coordinator) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	snap := Snapshot{
		State:     c.state,
		Session:   c.session,
		Loading:   c.loading > 0,
		LastError: c.lastErr,
	}
	if c.settings != nil {
		settings := *c.settings
		snap.Settings = &settings
	}
	c.mu.RUnlock()
	if profile, ok := c.Profile(); ok {
		snap.Profile = &profile
	}
	return snap
}

// Restore recovers the session from the stored credential at process start.
// An expired credential gets one refresh attempt; any failure leaves the
// coordinator unauthenticated with the credential cleared.
func (c *Coordinator) Restore(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()

	cred, ok, err := c.tokens.Get()
	if err != nil {
		c.logger.Warn("read stored credential failed", "err", err)
		c.endSession(StateUnauthenticated, "restore_unreadable")
		return c.record(fmt.Errorf("read stored credential: %w", err))
	}
	if !ok || cred.Empty() {
		c.setState(StateUnauthenticated)
		return nil
	}
	if !tokenstore.IsExpiredAt(cred, c.now()) {
		sess, err := tokenstore.DecodeSession(cred)
		if err != nil {
			c.logger.Warn("stored credential undecodable", "err", err)
			c.endSession(StateUnauthenticated, "restore_undecodable")
			return nil
		}
		c.authenticate(sess, false)
		return nil
	}
	if cred.RefreshToken == "" {
		c.endSession(StateUnauthenticated, "restore_expired")
		return nil
	}

	c.begin()
	fresh, err := c.refresh(ctx)
	if err == nil {
		var sess domain.Session
		if sess, err = tokenstore.DecodeSession(fresh); err == nil {
			c.finish(nil)
			c.authenticate(sess, false)
			return nil
		}
	}
	c.finish(err)
	if apiclient.IsCanceled(err) {
		return err
	}
	c.endSession(StateUnauthenticated, "restore_refresh_failed")
	return err
}

// Login exchanges email and password for a credential.
func (c *Coordinator) Login(ctx context.Context, email, password string) (domain.Session, error) {
	c.ops.Lock()
	defer c.ops.Unlock()

	email, err := auth.NormalizeEmail(email)
	if err != nil {
		return domain.Session{}, c.record(apiclient.Validation(err.Error()))
	}
	if password == "" {
		return domain.Session{}, c.record(apiclient.Validation("password is required"))
	}
	if !c.allow("login:" + email) {
		return domain.Session{}, c.record(apiclient.Validation("too many attempts, try again later"))
	}
	payload := map[string]string{"email": email, "password": password}
	return c.issue(ctx, "/auth/login", payload, "login")
}

// Signup registers a new account and logs it in.
func (c *Coordinator) Signup(ctx context.Context, in SignupInput) (domain.Session, error) {
	c.ops.Lock()
	defer c.ops.Unlock()

	var err error
	if in.Username, err = auth.NormalizeUsername(in.Username); err != nil {
		return domain.Session{}, c.record(apiclient.Validation(err.Error()))
	}
	if in.Email, err = auth.NormalizeEmail(in.Email); err != nil {
		return domain.Session{}, c.record(apiclient.Validation(err.Error()))
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return domain.Session{}, c.record(apiclient.Validation(err.Error()))
	}
	if !c.allow("signup:" + in.Email) {
		return domain.Session{}, c.record(apiclient.Validation("too many attempts, try again later"))
	}
	return c.issue(ctx, "/auth/signup", in, "signup")
}

// Logout drops the credential and every cached resource. It is local only.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.ops.Lock()
	defer c.ops.Unlock()
	return c.logoutLocked("logout")
}

// Refresh renews the access token with the stored refresh token. Concurrent
// callers share one request. A rejected refresh ends the session.
func (c *Coordinator) Refresh(ctx context.Context) (tokenstore.Credential, error) {
	c.mu.RLock()
	gen := c.credGen
	c.mu.RUnlock()
	cred, err := c.refresh(ctx)
	if err == nil {
		return cred, nil
	}
	switch apiclient.KindOf(err) {
	case apiclient.KindCanceled, apiclient.KindNetwork:
		return tokenstore.Credential{}, c.record(err)
	}
	c.mu.RLock()
	current := c.credGen == gen
	wasAuthenticated := c.state == StateAuthenticated
	c.mu.RUnlock()
	if current {
		next := StateUnauthenticated
		if wasAuthenticated {
			next = StateRefreshFailed
		}
		c.endSession(next, "refresh_failed")
	}
	return tokenstore.Credential{}, c.record(err)
}

// FetchProfile loads the current user's profile.
func (c *Coordinator) FetchProfile(ctx context.Context) (domain.User, error) {
	c.ops.Lock()
	defer c.ops.Unlock()
	subject := c.subjectID()
	var (
		raw       json.RawMessage
		user      domain.User
		decodeErr error
	)
	applied, err := c.profiles.DoApply(ctx, http.MethodGet, "/users/profile", nil, &raw, func(tx resource.Tx[domain.User]) {
		if decodeErr = apiclient.DecodeEnvelope(raw, &user, "user", "data"); decodeErr != nil {
			return
		}
		if user.ID == "" {
			user.ID = subject
		}
		tx.Upsert(user)
	})
	if err == nil {
		err = decodeErr
	}
	if err != nil {
		return domain.User{}, c.record(err)
	}
	if !applied {
		return domain.User{}, c.record(apiclient.NewError(apiclient.KindNotAuthenticated, "session ended during request"))
	}
	c.mu.Lock()
	c.profileID = user.ID
	c.mu.Unlock()
	c.record(nil)
	return user, nil
}

// UpdateProfile saves the editable profile fields.
func (c *Coordinator) UpdateProfile(ctx context.Context, in ProfileInput) (domain.User, error) {
	c.ops.Lock()
	defer c.ops.Unlock()
	in.Username = strings.TrimSpace(in.Username)
	in.Bio = strings.TrimSpace(in.Bio)
	in.AvatarURL = strings.TrimSpace(in.AvatarURL)
	if strings.TrimSpace(in.Email) != "" {
		email, err := auth.NormalizeEmail(in.Email)
		if err != nil {
			return domain.User{}, c.record(apiclient.Validation(err.Error()))
		}
		in.Email = email
	}
	id := c.currentProfileID()
	if id == "" {
		return domain.User{}, c.record(apiclient.NewError(apiclient.KindNotAuthenticated, "not authenticated"))
	}
	user, err := c.profiles.UpdatePath(ctx, id, "/users/profile", http.MethodPut, in)
	if err != nil {
		return domain.User{}, c.record(err)
	}
	c.mu.Lock()
	c.profileID = user.ID
	c.mu.Unlock()
	c.record(nil)
	return user, nil
}

// UpdatePassword changes the password and then logs out, forcing re-authentication.
func (c *Coordinator) UpdatePassword(ctx context.Context, oldPassword, newPassword string) error {
	c.ops.Lock()
	defer c.ops.Unlock()
	if err := auth.ValidatePasswordChange(oldPassword, newPassword); err != nil {
		return c.record(apiclient.Validation(err.Error()))
	}
	if !c.IsAuthenticated() {
		return c.record(apiclient.NewError(apiclient.KindNotAuthenticated, "not authenticated"))
	}
	c.begin()
	err := c.client.DoJSON(ctx, http.MethodPut, "/users/password", map[string]string{
		"oldPassword": oldPassword,
		"newPassword": newPassword,
	}, nil)
	c.finish(err)
	if err != nil {
		return err
	}
	c.logger.Info("security_event", "event", "password.changed", "subject", c.subjectID())
	return c.logoutLocked("password_changed")
}

// RequestPasswordReset asks the server to mail a reset link.
func (c *Coordinator) RequestPasswordReset(ctx context.Context, email string) error {
	c.ops.Lock()
	defer c.ops.Unlock()
	email, err := auth.NormalizeEmail(email)
	if err != nil {
		return c.record(apiclient.Validation(err.Error()))
	}
	if !c.allow("forgot:" + email) {
		return c.record(apiclient.Validation("too many attempts, try again later"))
	}
	c.begin()
	err = c.client.DoAnonymous(ctx, http.MethodPost, "/auth/forgot-password", map[string]string{"email": email}, nil)
	c.finish(err)
	return err
}

// ResetPassword sets a new password with a mailed reset token. It does not log in.
func (c *Coordinator) ResetPassword(ctx context.Context, token, newPassword string) error {
	c.ops.Lock()
	defer c.ops.Unlock()
	token = strings.TrimSpace(token)
	if token == "" {
		return c.record(apiclient.Validation("reset token is required"))
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return c.record(apiclient.Validation(err.Error()))
	}
	c.begin()
	err := c.client.DoAnonymous(ctx, http.MethodPost, "/auth/reset-password/"+url.PathEscape(token),
		map[string]string{"newPassword": newPassword}, nil)
	c.finish(err)
	return err
}

// FetchSettings loads the user's preferences.
func (c *Coordinator) FetchSettings(ctx context.Context) (domain.Settings, error) {
	c.ops.Lock()
	defer c.ops.Unlock()
	return c.settingsCall(ctx, http.MethodGet, nil)
}

// UpdateSettings saves the user's preferences.
func (c *Coordinator) UpdateSettings(ctx context.Context, in domain.Settings) (domain.Settings, error) {
	c.ops.Lock()
	defer c.ops.Unlock()
	if in.BooksPerPage < 0 {
		return domain.Settings{}, c.record(apiclient.Validation("books per page must not be negative"))
	}
	return c.settingsCall(ctx, http.MethodPut, in)
}

// KeepAlive refreshes the credential whenever it is within skew of expiring,
// until ctx ends. It returns ctx.Err().
func (c *Coordinator) KeepAlive(ctx context.Context, skew time.Duration) error {
	if skew <= 0 {
		skew = time.Minute
	}
	interval := min(max(skew/4, 50*time.Millisecond), time.Minute)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.refreshIfDue(ctx, skew)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Coordinator) refreshIfDue(ctx context.Context, skew time.Duration) {
	if !c.IsAuthenticated() {
		return
	}
	cred, ok, err := c.tokens.Get()
	if err != nil || !ok || !tokenstore.ExpiresWithinAt(cred, skew, c.now()) {
		return
	}
	if _, err := c.Refresh(ctx); err != nil && !apiclient.IsCanceled(err) {
		c.logger.Warn("scheduled refresh failed", "err", err)
	}
}

func (c *Coordinator) settingsCall(ctx context.Context, method string, payload any) (domain.Settings, error) {
	if !c.IsAuthenticated() {
		return domain.Settings{}, c.record(apiclient.NewError(apiclient.KindNotAuthenticated, "not authenticated"))
	}
	c.mu.RLock()
	gen := c.credGen
	c.mu.RUnlock()
	c.begin()
	var raw json.RawMessage
	err := c.client.DoJSON(ctx, method, "/users/settings", payload, &raw)
	var settings domain.Settings
	if err == nil {
		err = apiclient.DecodeEnvelope(raw, &settings, "settings", "data")
	}
	if err == nil && len(raw) == 0 && payload != nil {
		// empty acknowledgement: the server accepted what was sent
		settings = payload.(domain.Settings)
	}
	c.finish(err)
	if err != nil {
		return domain.Settings{}, err
	}
	c.mu.Lock()
	// a session that ended meanwhile keeps its settings cleared
	if c.credGen == gen {
		c.settings = &settings
	}
	c.mu.Unlock()
	return settings, nil
}

// issue runs a login-style call and, on success, stores the credential and
// enters the authenticated state.
func (c *Coordinator) issue(ctx context.Context, path string, payload any, event string) (domain.Session, error) {
	prev := c.State()
	c.setState(StateAuthenticating)
	c.begin()

	var raw json.RawMessage
	err := c.client.DoAnonymous(ctx, http.MethodPost, path, payload, &raw)
	var cred tokenstore.Credential
	if err == nil {
		cred, err = decodeCredential(raw, "")
	}
	var sess domain.Session
	if err == nil {
		if sess, err = tokenstore.DecodeSession(cred); err != nil {
			err = &apiclient.Error{Kind: apiclient.KindServer, Message: "server issued an unreadable token", Err: err}
		}
	}
	if err == nil {
		c.mu.Lock()
		c.credGen++
		err = c.tokens.Set(cred)
		c.mu.Unlock()
		if err != nil {
			err = fmt.Errorf("store credential: %w", err)
		}
	}
	c.finish(err)
	if err != nil {
		// a failed attempt keeps an existing session untouched
		if prev == StateAuthenticated {
			c.setState(StateAuthenticated)
		} else {
			c.setState(StateUnauthenticated)
		}
		c.logger.Info("security_event", "event", event+".failed", "kind", string(apiclient.KindOf(err)))
		return domain.Session{}, err
	}

	c.resetStores()
	c.authenticate(sess, true)
	c.logger.Info("security_event", "event", event+".success", "subject", sess.SubjectID)
	return sess, nil
}

// refresh performs the refresh call without touching the state machine. It never
// takes the ops lock: it runs from inside requests issued by locked operations.
func (c *Coordinator) refresh(ctx context.Context) (tokenstore.Credential, error) {
	ch := c.refreshG.DoChan("refresh", func() (any, error) {
		return c.doRefresh(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return tokenstore.Credential{}, &apiclient.Error{Kind: apiclient.KindCanceled, Message: "request canceled", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return tokenstore.Credential{}, res.Err
		}
		return res.Val.(tokenstore.Credential), nil
	}
}

func (c *Coordinator) doRefresh(ctx context.Context) (tokenstore.Credential, error) {
	c.mu.RLock()
	gen := c.credGen
	c.mu.RUnlock()

	cred, ok, err := c.tokens.Get()
	if err != nil {
		return tokenstore.Credential{}, fmt.Errorf("read stored credential: %w", err)
	}
	if !ok || cred.RefreshToken == "" {
		return tokenstore.Credential{}, apiclient.NewError(apiclient.KindNotAuthenticated, "no refresh token available")
	}

	var raw json.RawMessage
	if err := c.client.DoAnonymous(ctx, http.MethodPost, "/auth/refresh", map[string]string{"refreshToken": cred.RefreshToken}, &raw); err != nil {
		return tokenstore.Credential{}, err
	}
	fresh, err := decodeCredential(raw, cred.RefreshToken)
	if err != nil {
		return tokenstore.Credential{}, err
	}
	sess, err := tokenstore.DecodeSession(fresh)
	if err != nil {
		return tokenstore.Credential{}, &apiclient.Error{Kind: apiclient.KindServer, Message: "server issued an unreadable token", Err: err}
	}

	c.mu.Lock()
	if c.credGen != gen {
		c.mu.Unlock()
		return tokenstore.Credential{}, apiclient.NewError(apiclient.KindNotAuthenticated, "session ended during refresh")
	}
	if err := c.tokens.Set(fresh); err != nil {
		c.mu.Unlock()
		return tokenstore.Credential{}, fmt.Errorf("store credential: %w", err)
	}
	if c.state == StateAuthenticated {
		c.session = sess
	}
	c.mu.Unlock()
	c.logger.Debug("credential refreshed", "subject", sess.SubjectID, "expires_at", sess.ExpiresAt)
	return fresh, nil
}

// handleInvalidated runs synchronously inside a failing request, possibly while
// an operation holds the ops lock, so it only touches state and caches.
func (c *Coordinator) handleInvalidated(evt apiclient.SessionInvalidated) {
	next := StateUnauthenticated
	if evt.Reason == apiclient.ReasonRefreshFailed && c.State() == StateAuthenticated {
		next = StateRefreshFailed
	}
	c.logger.Warn("security_event", "event", "session.invalidated", "reason", string(evt.Reason), "path", evt.Path)
	c.mu.Lock()
	c.credGen++
	c.mu.Unlock()
	c.dropSession(next)
}

func (c *Coordinator) logoutLocked(reason string) error {
	c.mu.Lock()
	c.credGen++
	c.mu.Unlock()
	err := c.tokens.Clear()
	c.dropSession(StateUnauthenticated)
	c.logger.Info("security_event", "event", "logout", "reason", reason)
	if err != nil {
		return c.record(fmt.Errorf("clear credential: %w", err))
	}
	return nil
}

// endSession clears the credential and drops cached state.
func (c *Coordinator) endSession(next State, reason string) {
	c.mu.Lock()
	c.credGen++
	c.mu.Unlock()
	if err := c.tokens.Clear(); err != nil {
		c.logger.Error("clear credential failed", "err", err)
	}
	c.logger.Info("security_event", "event", "session.ended", "reason", reason)
	c.dropSession(next)
}

func (c *Coordinator) dropSession(next State) {
	c.mu.Lock()
	c.session = domain.Session{}
	c.profileID = ""
	c.settings = nil
	c.mu.Unlock()
	c.resetStores()
	c.setState(next)
}

func (c *Coordinator) resetStores() {
	c.mu.RLock()
	stores := append([]Resettable(nil), c.stores...)
	c.mu.RUnlock()
	for _, s := range stores {
		s.Reset()
	}
	c.profiles.Reset()
}

func (c *Coordinator) authenticate(sess domain.Session, fresh bool) {
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	if !fresh {
		c.logger.Info("session restored", "subject", sess.SubjectID)
	}
	c.setState(StateAuthenticated)
}

func (c *Coordinator) setState(next State) {
	c.mu.Lock()
	if c.state == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	fns := make([]func(State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(next)
	}
}

func (c *Coordinator) begin() {
	c.mu.Lock()
	c.loading++
	c.mu.Unlock()
}

func (c *Coordinator) finish(err error) {
	c.mu.Lock()
	if c.loading > 0 {
		c.loading--
	}
	c.mu.Unlock()
	c.record(err)
}

// record stores err as the last error and returns it. Cancellation is not recorded.
func (c *Coordinator) record(err error) error {
	if apiclient.IsCanceled(err) {
		return err
	}
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}

func (c *Coordinator) allow(key string) bool {
	if c.limiter == nil {
		return true
	}
	return c.limiter.Allow(key)
}

func (c *Coordinator) subjectID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.SubjectID
}

func (c *Coordinator) currentProfileID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.profileID != "" {
		return c.profileID
	}
	return c.session.SubjectID
}

func decodeCredential(raw json.RawMessage, fallbackRefresh string) (tokenstore.Credential, error) {
	var resp tokenResponse
	if err := apiclient.DecodeEnvelope(raw, &resp, "data"); err != nil {
		return tokenstore.Credential{}, err
	}
	access := strings.TrimSpace(resp.Token)
	if access == "" {
		access = strings.TrimSpace(resp.AccessToken)
	}
	if access == "" {
		return tokenstore.Credential{}, apiclient.NewError(apiclient.KindServer, "response carried no token")
	}
	refresh := strings.TrimSpace(resp.RefreshToken)
	if refresh == "" {
		refresh = fallbackRefresh
	}
	return tokenstore.Credential{AccessToken: access, RefreshToken: refresh}, nil
}
