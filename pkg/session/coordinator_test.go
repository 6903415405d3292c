package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blockchaincyberpunk1/shelflife-frontend/internal/fakeapi"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/apiclient"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/domain"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/tokenstore"
)

const testPassword = "correct-horse1"

type harness struct {
	api    *fakeapi.Server
	tokens *tokenstore.MemoryStore
	client *apiclient.Client
	coord  *Coordinator
	resets *countingStore
	user   domain.User
}

type countingStore struct{ n atomic.Int32 }

func (c *countingStore) Reset() { c.n.Add(1) }

type denyAll struct{ keys []string }

func (d *denyAll) Allow(key string) bool {
	d.keys = append(d.keys, key)
	return false
}

func newHarness(t *testing.T, opts fakeapi.Options, wrap func(http.Handler) http.Handler, limiter Limiter) *harness {
	t.Helper()
	api := fakeapi.New(opts)
	var handler http.Handler = api
	if wrap != nil {
		handler = wrap(api)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	user, err := api.SeedUser("ada", "ada@example.com", testPassword)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	tokens := tokenstore.NewMemoryStore()
	client, err := apiclient.New(apiclient.Config{BaseURL: srv.URL, Tokens: tokens})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resets := &countingStore{}
	coord, err := New(Config{Client: client, Limiter: limiter, Stores: []Resettable{resets}})
	if err != nil {
		t.Fatalf("new coordinator: %v", err)
	}
	return &harness{api: api, tokens: tokens, client: client, coord: coord, resets: resets, user: user}
}

func (h *harness) login(t *testing.T) domain.Session {
	t.Helper()
	sess, err := h.coord.Login(context.Background(), "ada@example.com", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	return sess
}

func storedCredential(t *testing.T, s tokenstore.Store) (tokenstore.Credential, bool) {
	t.Helper()
	cred, ok, err := s.Get()
	if err != nil {
		t.Fatalf("read credential: %v", err)
	}
	return cred, ok
}

func TestLoginAuthenticates(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	var states []State
	h.coord.Subscribe(func(s State) { states = append(states, s) })

	sess, err := h.coord.Login(context.Background(), " ADA@example.com ", testPassword)
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if sess.SubjectID != h.user.ID || sess.Email != "ada@example.com" || sess.DisplayName != "ada" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if !h.coord.IsAuthenticated() {
		t.Fatalf("expected authenticated, got %s", h.coord.State())
	}
	if _, ok := storedCredential(t, h.tokens); !ok {
		t.Fatalf("expected credential to be stored")
	}
	if len(states) != 2 || states[0] != StateAuthenticating || states[1] != StateAuthenticated {
		t.Fatalf("unexpected transitions %v", states)
	}
	if h.resets.n.Load() != 1 {
		t.Fatalf("expected stores reset on login, got %d", h.resets.n.Load())
	}
}

func TestLoginFailureStaysUnauthenticated(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	_, err := h.coord.Login(context.Background(), "ada@example.com", "wrong-password1")
	if !errors.Is(err, apiclient.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	if h.coord.State() != StateUnauthenticated {
		t.Fatalf("unexpected state %s", h.coord.State())
	}
	if _, ok := storedCredential(t, h.tokens); ok {
		t.Fatalf("failed login must not store a credential")
	}
	if h.coord.LastError() == nil || h.coord.IsLoading() {
		t.Fatalf("expected recorded error and loading cleared")
	}
}

func TestLoginFailureKeepsExistingSession(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	h.login(t)
	before, _ := storedCredential(t, h.tokens)

	if _, err := h.coord.Login(context.Background(), "ada@example.com", "wrong-password1"); err == nil {
		t.Fatalf("expected login failure")
	}
	if !h.coord.IsAuthenticated() {
		t.Fatalf("expected existing session to survive, got %s", h.coord.State())
	}
	if after, _ := storedCredential(t, h.tokens); after != before {
		t.Fatalf("credential changed after failed login")
	}
}

func TestLoginValidationSkipsServer(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	if _, err := h.coord.Login(context.Background(), "not-an-email", testPassword); !errors.Is(err, apiclient.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := h.coord.Login(context.Background(), "ada@example.com", ""); !errors.Is(err, apiclient.ErrValidation) {
		t.Fatalf("expected validation error for empty password, got %v", err)
	}
	if hits := h.api.Hits("POST /auth/login"); hits != 0 {
		t.Fatalf("expected no login requests, got %d", hits)
	}
}

func TestLimiterDeniesAttempts(t *testing.T) {
	limiter := &denyAll{}
	h := newHarness(t, fakeapi.Options{}, nil, limiter)
	_, err := h.coord.Login(context.Background(), "ada@example.com", testPassword)
	if !errors.Is(err, apiclient.ErrValidation) {
		t.Fatalf("expected throttled login, got %v", err)
	}
	if err := h.coord.RequestPasswordReset(context.Background(), "ada@example.com"); !errors.Is(err, apiclient.ErrValidation) {
		t.Fatalf("expected throttled reset, got %v", err)
	}
	if h.api.Hits("POST /auth/login") != 0 || h.api.Hits("POST /auth/forgot-password") != 0 {
		t.Fatalf("throttled attempts must not reach the server")
	}
	if len(limiter.keys) != 2 || limiter.keys[0] != "login:ada@example.com" || limiter.keys[1] != "forgot:ada@example.com" {
		t.Fatalf("unexpected limiter keys %v", limiter.keys)
	}
}

func TestSignup(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	_, err := h.coord.Signup(context.Background(), SignupInput{Username: "grace", Email: "grace@example.com", Password: "short"})
	if !errors.Is(err, apiclient.ErrValidation) {
		t.Fatalf("expected weak password rejected, got %v", err)
	}
	sess, err := h.coord.Signup(context.Background(), SignupInput{Username: " grace ", Email: "Grace@Example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	if sess.DisplayName != "grace" || sess.Email != "grace@example.com" || !h.coord.IsAuthenticated() {
		t.Fatalf("unexpected session %+v state %s", sess, h.coord.State())
	}
	_, err = h.coord.Signup(context.Background(), SignupInput{Username: "ada2", Email: "ada@example.com", Password: testPassword})
	if !errors.Is(err, apiclient.ErrConflict) {
		t.Fatalf("expected conflict for taken email, got %v", err)
	}
	if !h.coord.IsAuthenticated() {
		t.Fatalf("failed signup must keep the current session")
	}
}

func TestLogoutClearsEverything(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	h.login(t)
	if _, err := h.coord.FetchProfile(context.Background()); err != nil {
		t.Fatalf("fetch profile: %v", err)
	}
	if err := h.coord.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := h.coord.Logout(context.Background()); err != nil {
		t.Fatalf("second logout: %v", err)
	}
	if _, ok := storedCredential(t, h.tokens); ok {
		t.Fatalf("expected credential cleared")
	}
	if _, ok := h.coord.Profile(); ok {
		t.Fatalf("expected profile dropped")
	}
	if _, ok := h.coord.Session(); ok || h.coord.State() != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", h.coord.State())
	}
}

func TestUpdatePasswordForcesLogout(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	h.login(t)
	if err := h.coord.UpdatePassword(context.Background(), testPassword, testPassword); !errors.Is(err, apiclient.ErrValidation) {
		t.Fatalf("expected unchanged password rejected, got %v", err)
	}
	resetsBefore := h.resets.n.Load()
	if err := h.coord.UpdatePassword(context.Background(), testPassword, "battery-staple2"); err != nil {
		t.Fatalf("update password: %v", err)
	}
	if _, ok := storedCredential(t, h.tokens); ok {
		t.Fatalf("credential must be absent after a password change")
	}
	if h.coord.State() != StateUnauthenticated {
		t.Fatalf("expected unauthenticated, got %s", h.coord.State())
	}
	if h.resets.n.Load() <= resetsBefore {
		t.Fatalf("expected stores reset on forced logout")
	}
	if _, err := h.coord.Login(context.Background(), "ada@example.com", "battery-staple2"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestUpdatePasswordWrongCurrentKeepsSession(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	h.login(t)
	err := h.coord.UpdatePassword(context.Background(), "not-my-password1", "battery-staple2")
	if !errors.Is(err, apiclient.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !h.coord.IsAuthenticated() {
		t.Fatalf("rejected password change must not log out")
	}
}

func TestRestoreValidCredential(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	cred, err := h.api.IssueCredential(h.user.ID, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := h.tokens.Set(cred); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := h.coord.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if sess, ok := h.coord.Session(); !ok || sess.SubjectID != h.user.ID {
		t.Fatalf("unexpected session %+v ok=%v", sess, ok)
	}
	if hits := h.api.Hits("POST /auth/refresh"); hits != 0 {
		t.Fatalf("valid credential must not refresh, got %d", hits)
	}
}

func TestRestoreWithoutCredential(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	if err := h.coord.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if h.coord.State() != StateUnauthenticated {
		t.Fatalf("unexpected state %s", h.coord.State())
	}
}

func TestRestoreExpiredCredentialRefreshesOnce(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	expired, err := h.api.IssueCredential(h.user.ID, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	_ = h.tokens.Set(expired)

	if err := h.coord.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !h.coord.IsAuthenticated() {
		t.Fatalf("expected authenticated, got %s", h.coord.State())
	}
	if hits := h.api.Hits("POST /auth/refresh"); hits != 1 {
		t.Fatalf("expected exactly one refresh, got %d", hits)
	}
	fresh, _ := storedCredential(t, h.tokens)
	if fresh.AccessToken == expired.AccessToken || fresh.RefreshToken == expired.RefreshToken {
		t.Fatalf("expected rotated credential")
	}
	if _, err := h.coord.FetchProfile(context.Background()); err != nil {
		t.Fatalf("refreshed credential must work: %v", err)
	}
}

func TestRestoreRefreshFailureClears(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	expired, _ := h.api.IssueCredential(h.user.ID, -time.Minute)
	expired.RefreshToken = "revoked"
	_ = h.tokens.Set(expired)

	err := h.coord.Restore(context.Background())
	if !errors.Is(err, apiclient.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	if h.coord.State() != StateUnauthenticated {
		t.Fatalf("unexpected state %s", h.coord.State())
	}
	if _, ok := storedCredential(t, h.tokens); ok {
		t.Fatalf("expected credential cleared")
	}
}

func TestRestoreExpiredWithoutRefreshToken(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	expired, _ := h.api.IssueCredential(h.user.ID, -time.Minute)
	expired.RefreshToken = ""
	_ = h.tokens.Set(expired)
	if err := h.coord.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if _, ok := storedCredential(t, h.tokens); ok || h.api.Hits("POST /auth/refresh") != 0 {
		t.Fatalf("expected credential cleared without a refresh attempt")
	}
}

func TestUnauthorizedResponseEndsSession(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	h.login(t)
	resetsBefore := h.resets.n.Load()
	h.api.RevokeSessions(h.user.ID)

	_, err := h.coord.FetchProfile(context.Background())
	if !errors.Is(err, apiclient.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	if h.coord.State() != StateUnauthenticated {
		t.Fatalf("unexpected state %s", h.coord.State())
	}
	if _, ok := storedCredential(t, h.tokens); ok {
		t.Fatalf("expected credential cleared")
	}
	if h.resets.n.Load() <= resetsBefore {
		t.Fatalf("expected stores reset on invalidation")
	}
	if _, err := h.coord.FetchSettings(context.Background()); !errors.Is(err, apiclient.ErrNotAuthenticated) {
		t.Fatalf("expected gated settings call, got %v", err)
	}
}

func TestRuntimeRefreshFailureMovesToRefreshFailed(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	h.login(t)
	h.api.RevokeSessions(h.user.ID)
	if _, err := h.coord.Refresh(context.Background()); !errors.Is(err, apiclient.ErrNotAuthenticated) {
		t.Fatalf("expected rejected refresh, got %v", err)
	}
	if h.coord.State() != StateRefreshFailed {
		t.Fatalf("expected refresh_failed, got %s", h.coord.State())
	}
	if h.coord.IsAuthenticated() {
		t.Fatalf("refresh_failed must not count as authenticated")
	}
	if _, ok := storedCredential(t, h.tokens); ok {
		t.Fatalf("expected credential cleared")
	}
}

func TestRefreshNeverResurrectsAfterLogout(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	wrap := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/auth/refresh" {
				close(entered)
				<-release
			}
			next.ServeHTTP(w, r)
		})
	}
	h := newHarness(t, fakeapi.Options{}, wrap, nil)
	h.login(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.coord.Refresh(context.Background())
		done <- err
	}()
	<-entered
	if err := h.coord.Logout(context.Background()); err != nil {
		t.Fatalf("logout: %v", err)
	}
	close(release)

	if err := <-done; err == nil {
		t.Fatalf("expected refresh to be discarded")
	}
	if _, ok := storedCredential(t, h.tokens); ok {
		t.Fatalf("refresh response resurrected the credential")
	}
	if h.coord.State() != StateUnauthenticated {
		t.Fatalf("unexpected state %s", h.coord.State())
	}
}

func TestKeepAliveRefreshesNearExpiry(t *testing.T) {
	h := newHarness(t, fakeapi.Options{AccessTTL: time.Minute}, nil, nil)
	h.login(t)
	before, _ := storedCredential(t, h.tokens)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.coord.KeepAlive(ctx, 2*time.Minute) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if after, _ := storedCredential(t, h.tokens); after.AccessToken != before.AccessToken {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("keep-alive did not refresh")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	if !h.coord.IsAuthenticated() {
		t.Fatalf("keep-alive must keep the session")
	}
}

func TestProfileAndSettings(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	h.login(t)
	ctx := context.Background()

	profile, err := h.coord.FetchProfile(ctx)
	if err != nil || profile.Username != "ada" {
		t.Fatalf("fetch profile: %+v %v", profile, err)
	}
	updated, err := h.coord.UpdateProfile(ctx, ProfileInput{Bio: " reads a lot "})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if updated.Bio != "reads a lot" {
		t.Fatalf("unexpected bio %q", updated.Bio)
	}
	if cached, ok := h.coord.Profile(); !ok || cached.Bio != "reads a lot" {
		t.Fatalf("profile cache not updated: %+v", cached)
	}
	if _, err := h.coord.UpdateProfile(ctx, ProfileInput{Email: "nope"}); !errors.Is(err, apiclient.ErrValidation) {
		t.Fatalf("expected invalid email rejected, got %v", err)
	}

	settings, err := h.coord.FetchSettings(ctx)
	if err != nil || settings.Theme != "light" {
		t.Fatalf("fetch settings: %+v %v", settings, err)
	}
	settings.Theme = "dark"
	if _, err := h.coord.UpdateSettings(ctx, settings); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	if got, ok := h.coord.Settings(); !ok || got.Theme != "dark" {
		t.Fatalf("settings not cached: %+v", got)
	}
	snap := h.coord.Snapshot()
	if snap.Profile == nil || snap.Settings == nil || snap.State != StateAuthenticated {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	h := newHarness(t, fakeapi.Options{}, nil, nil)
	ctx := context.Background()
	if err := h.coord.RequestPasswordReset(ctx, "ada@example.com"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	token, ok := h.api.ResetTokenFor("ada@example.com")
	if !ok {
		t.Fatalf("expected a reset token to be issued")
	}
	if err := h.coord.ResetPassword(ctx, token, "weak"); !errors.Is(err, apiclient.ErrValidation) {
		t.Fatalf("expected weak password rejected, got %v", err)
	}
	if err := h.coord.ResetPassword(ctx, token, "battery-staple2"); err != nil {
		t.Fatalf("reset password: %v", err)
	}
	if h.coord.IsAuthenticated() {
		t.Fatalf("reset must not log in")
	}
	if err := h.coord.ResetPassword(ctx, token, "battery-staple3"); !errors.Is(err, apiclient.ErrValidation) {
		t.Fatalf("expected used token rejected, got %v", err)
	}
	if _, err := h.coord.Login(ctx, "ada@example.com", "battery-staple2"); err != nil {
		t.Fatalf("login with reset password: %v", err)
	}
}

// holdResponse serves path normally but delays writing the answer until release closes.
func holdResponse(method, path string, entered, release chan struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != method || r.URL.Path != path {
				next.ServeHTTP(w, r)
				return
			}
			rec := httptest.NewRecorder()
			next.ServeHTTP(rec, r)
			close(entered)
			<-release
			for k, v := range rec.Header() {
				w.Header()[k] = v
			}
			w.WriteHeader(rec.Code)
			_, _ = w.Write(rec.Body.Bytes())
		})
	}
}

// invalidate revokes the server session and lets another request observe the 401.
func (h *harness) invalidate(t *testing.T, path string) {
	t.Helper()
	h.api.RevokeSessions(h.user.ID)
	err := h.client.DoJSON(context.Background(), http.MethodGet, path, nil, nil)
	if !errors.Is(err, apiclient.ErrNotAuthenticated) {
		t.Fatalf("expected 401 on %s, got %v", path, err)
	}
	if h.coord.IsAuthenticated() {
		t.Fatalf("expected the session to end, state %s", h.coord.State())
	}
}

func TestProfileResponseAfterInvalidationIsDropped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, fakeapi.Options{}, holdResponse(http.MethodGet, "/users/profile", entered, release), nil)
	h.login(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.coord.FetchProfile(context.Background())
		done <- err
	}()
	<-entered
	h.invalidate(t, "/users/settings")
	close(release)

	if err := <-done; !errors.Is(err, apiclient.ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}
	if _, ok := h.coord.Profile(); ok {
		t.Fatalf("profile of the ended session reappeared")
	}
	if byID := h.coord.Profiles().ByID(); len(byID) != 0 {
		t.Fatalf("profile cache repopulated after reset: %+v", byID)
	}
}

func TestSettingsResponseAfterInvalidationIsDropped(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	h := newHarness(t, fakeapi.Options{}, holdResponse(http.MethodGet, "/users/settings", entered, release), nil)
	h.login(t)

	done := make(chan error, 1)
	go func() {
		_, err := h.coord.FetchSettings(context.Background())
		done <- err
	}()
	<-entered
	h.invalidate(t, "/users/profile")
	close(release)

	if err := <-done; err != nil {
		t.Fatalf("fetch settings: %v", err)
	}
	if _, ok := h.coord.Settings(); ok {
		t.Fatalf("settings of the ended session reappeared")
	}
}
