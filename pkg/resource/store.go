// Package resource implements the generic cache engine shared by every resource type.
//
// A Store keeps one confirmed value per id, named list views that reference ids
// only, and the in-flight optimistic operations folded on top of the confirmed
// values. List fetches are fenced per view so an older response never overwrites
// a newer one, and Reset fences everything that was in flight.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/apiclient"
)

// ViewAll is the view backing Items.
const ViewAll = "all"

// Requester is the subset of the HTTP client the store needs.
type Requester interface {
	DoJSON(ctx context.Context, method, path string, payload, out any) error
}

// Config parameterises a Store for one resource type.
type Config[T any] struct {
	// Name labels logs and errors, e.g. "book".
	Name string
	// Path is the collection path, e.g. "/books".
	Path string
	// ID extracts the identifier of a value.
	ID func(T) string
	// ListKeys are the envelope keys accepted around list responses.
	ListKeys []string
	// ItemKeys are the envelope keys accepted around single-value responses.
	ItemKeys []string
	// TTL bounds how long a fetched view is served from cache. Zero keeps views until invalidated.
	TTL time.Duration
	// Gate reports whether an authenticated subject exists. Nil means always open.
	Gate   func() bool
	Client Requester
	Logger *slog.Logger
}

type view struct {
	ids       []string
	loaded    bool
	stale     bool
	fetchedAt time.Time
	seq       uint64
}

type pendingOp[T any] struct {
	id        uint64
	previous  T
	projected T
	mutate    func(T) T
}

// PendingOperation describes one in-flight optimistic mutation.
type PendingOperation[T any] struct {
	OperationID uint64
	ResourceID  string
	Previous    T
	Optimistic  T
}

// State is a consistent copy of the store for consumers.
type State[T any] struct {
	Items     []T
	ByID      map[string]T
	Views     map[string][]string
	Loading   bool
	LastError error
	Pending   int
}

// Store is a concurrency-safe cache for one resource type.
type Store[T any] struct {
	cfg    Config[T]
	logger *slog.Logger
	now    func() time.Time

	mu         sync.RWMutex
	base       map[string]T
	views      map[string]*view
	pending    map[string][]pendingOp[T]
	direct     map[string]struct{} // ids loaded one by one, kept across view reloads
	loading    int
	lastErr    error
	generation uint64
	nextOpID   uint64

	listenersMu sync.RWMutex
	listeners   map[int]func()
	nextSubID   int
}

// New builds a store.
func New[T any](cfg Config[T]) (*Store[T], error) {
	if cfg.Client == nil {
		return nil, errors.New("resource: client is required")
	}
	if cfg.ID == nil {
		return nil, errors.New("resource: id func is required")
	}
	cfg.Path = "/" + strings.Trim(strings.TrimSpace(cfg.Path), "/")
	if cfg.Path == "/" {
		return nil, errors.New("resource: collection path is required")
	}
	if cfg.Name == "" {
		cfg.Name = strings.TrimPrefix(cfg.Path, "/")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store[T]{
		cfg:       cfg,
		logger:    logger.With("store", cfg.Name),
		now:       time.Now,
		base:      make(map[string]T),
		views:     make(map[string]*view),
		pending:   make(map[string][]pendingOp[T]),
		direct:    make(map[string]struct{}),
		listeners: make(map[int]func()),
	}, nil
}

// Name returns the resource label.
func (s *Store[T]) Name() string { return s.cfg.Name }

// ItemPath is the path of one resource.
func (s *Store[T]) ItemPath(id string) string {
	return s.cfg.Path + "/" + url.PathEscape(id)
}

// Items returns the values of the all view in order.
func (s *Store[T]) Items() []T {
	return s.View(ViewAll)
}

// View returns the values referenced by a named view in order.
func (s *Store[T]) View(name string) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.viewValuesLocked(name)
}

// ViewIDs returns the ids of a named view.
func (s *Store[T]) ViewIDs(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.views[name]
	if !ok {
		return nil
	}
	return slices.Clone(v.ids)
}

// ByID returns every cached value keyed by id.
func (s *Store[T]) ByID() map[string]T {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]T, len(s.base))
	for id := range s.base {
		out[id] = s.visibleLocked(id)
	}
	return out
}

// Get returns the cached value for id.
func (s *Store[T]) Get(id string) (T, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.base[id]; !ok {
		var zero T
		return zero, false
	}
	return s.visibleLocked(id), true
}

// IsLoading reports whether any network operation is in flight.
func (s *Store[T]) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading > 0
}

// LastError returns the most recent failure, or nil after a later success.
func (s *Store[T]) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Pending lists in-flight optimistic operations in dispatch order.
func (s *Store[T]) Pending() []PendingOperation[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []PendingOperation[T]
	for resourceID, ops := range s.pending {
		for _, op := range ops {
			out = append(out, PendingOperation[T]{
				OperationID: op.id,
				ResourceID:  resourceID,
				Previous:    op.previous,
				Optimistic:  op.projected,
			})
		}
	}
	slices.SortFunc(out, func(a, b PendingOperation[T]) int {
		switch {
		case a.OperationID < b.OperationID:
			return -1
		case a.OperationID > b.OperationID:
			return 1
		}
		return 0
	})
	return out
}

// Snapshot returns a consistent copy of the whole state.
func (s *Store[T]) Snapshot() State[T] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := State[T]{
		Items:     s.viewValuesLocked(ViewAll),
		ByID:      make(map[string]T, len(s.base)),
		Views:     make(map[string][]string, len(s.views)),
		Loading:   s.loading > 0,
		LastError: s.lastErr,
	}
	for id := range s.base {
		st.ByID[id] = s.visibleLocked(id)
	}
	for name, v := range s.views {
		st.Views[name] = slices.Clone(v.ids)
	}
	for _, ops := range s.pending {
		st.Pending += len(ops)
	}
	return st
}

// Subscribe registers fn to run after every state change. The returned func unsubscribes.
func (s *Store[T]) Subscribe(fn func()) func() {
	s.listenersMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.listeners[id] = fn
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// FetchAll loads the collection, serving the all view from cache while it is fresh.
func (s *Store[T]) FetchAll(ctx context.Context) ([]T, error) {
	return s.FetchView(ctx, ViewAll, s.cfg.Path)
}

// Refresh reloads the collection regardless of cache state.
func (s *Store[T]) Refresh(ctx context.Context) ([]T, error) {
	return s.ReloadView(ctx, ViewAll, s.cfg.Path)
}

// FetchView loads path into the named view unless a fresh copy is cached.
func (s *Store[T]) FetchView(ctx context.Context, name, path string) ([]T, error) {
	if err := s.checkGate(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	fresh := s.freshLocked(name)
	var cached []T
	if fresh {
		cached = s.viewValuesLocked(name)
	}
	s.mu.RUnlock()
	if fresh {
		return cached, nil
	}
	return s.loadView(ctx, name, path, false)
}

// ReloadView replaces the named view from path regardless of cache state.
func (s *Store[T]) ReloadView(ctx context.Context, name, path string) ([]T, error) {
	if err := s.checkGate(); err != nil {
		return nil, err
	}
	return s.loadView(ctx, name, path, false)
}

// AppendPage fetches path, appends its values to the named view and returns the page.
// A page whose view was replaced or reset meanwhile is discarded.
func (s *Store[T]) AppendPage(ctx context.Context, name, path string) ([]T, error) {
	if err := s.checkGate(); err != nil {
		return nil, err
	}
	return s.loadView(ctx, name, path, true)
}

// ClearView drops a named view without touching cached values.
func (s *Store[T]) ClearView(name string) {
	s.mu.Lock()
	v, ok := s.views[name]
	if ok {
		v.seq++
		delete(s.views, name)
		s.pruneLocked(v.ids)
	}
	s.mu.Unlock()
	if ok {
		s.notify()
	}
}

// FetchOne returns the cached value for id or loads it.
func (s *Store[T]) FetchOne(ctx context.Context, id string) (T, error) {
	var zero T
	if err := s.checkGate(); err != nil {
		return zero, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return zero, s.fail(apiclient.Validation(s.cfg.Name + " id is required"))
	}
	if v, ok := s.Get(id); ok {
		return v, nil
	}
	gen := s.begin()
	var raw json.RawMessage
	err := s.cfg.Client.DoJSON(ctx, http.MethodGet, s.ItemPath(id), nil, &raw)
	var item T
	if err == nil {
		err = apiclient.DecodeEnvelope(raw, &item, s.cfg.ItemKeys...)
	}
	if err != nil {
		s.end(gen, err)
		return zero, err
	}
	s.mu.Lock()
	if s.generation == gen {
		key := s.keyFor(item, id)
		s.base[key] = item
		s.direct[key] = struct{}{}
	}
	s.finishLocked(gen)
	s.mu.Unlock()
	s.notify()
	return item, nil
}

// Create posts payload and appends the created value to the all view.
func (s *Store[T]) Create(ctx context.Context, payload any) (T, error) {
	return s.mutate(ctx, http.MethodPost, s.cfg.Path, payload, "", func(item T, id string) {
		s.base[id] = item
		if v := s.ensureViewLocked(ViewAll); !slices.Contains(v.ids, id) {
			v.ids = append(v.ids, id)
		}
	})
}

// Update puts payload to id and replaces the cached value on success.
func (s *Store[T]) Update(ctx context.Context, id string, payload any) (T, error) {
	return s.UpdatePath(ctx, id, s.ItemPath(id), http.MethodPut, payload)
}

// UpdatePath sends payload to path and stores the returned value under id.
func (s *Store[T]) UpdatePath(ctx context.Context, id, path, method string, payload any) (T, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		var zero T
		return zero, s.fail(apiclient.Validation(s.cfg.Name + " id is required"))
	}
	return s.mutate(ctx, method, path, payload, id, func(item T, key string) {
		s.base[key] = item
		s.direct[key] = struct{}{}
	})
}

// Remove deletes id on the server and drops it from every view.
func (s *Store[T]) Remove(ctx context.Context, id string) error {
	if err := s.checkGate(); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return s.fail(apiclient.Validation(s.cfg.Name + " id is required"))
	}
	gen := s.begin()
	if err := s.cfg.Client.DoJSON(ctx, http.MethodDelete, s.ItemPath(id), nil, nil); err != nil {
		s.end(gen, err)
		return err
	}
	s.mu.Lock()
	if s.generation == gen {
		delete(s.base, id)
		delete(s.pending, id)
		delete(s.direct, id)
		for _, v := range s.views {
			v.ids = slices.DeleteFunc(v.ids, func(x string) bool { return x == id })
		}
		s.invalidateDerivedLocked()
	}
	s.finishLocked(gen)
	s.mu.Unlock()
	s.notify()
	return nil
}

// Optimistic applies mutate to the cached value of id immediately, then runs call.
// On success the returned value becomes the confirmed value; on failure only this
// operation's mutation is withdrawn, so later in-flight operations stay visible.
// When id is not cached the call runs without a local patch.
func (s *Store[T]) Optimistic(ctx context.Context, id string, mutate func(T) T, call func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := s.checkGate(); err != nil {
		return zero, err
	}
	s.mu.Lock()
	_, cached := s.base[id]
	var opID uint64
	if cached {
		s.nextOpID++
		opID = s.nextOpID
		previous := s.visibleLocked(id)
		s.pending[id] = append(s.pending[id], pendingOp[T]{
			id:        opID,
			previous:  previous,
			projected: mutate(previous),
			mutate:    mutate,
		})
	}
	s.loading++
	gen := s.generation
	s.mu.Unlock()
	if cached {
		s.notify()
	}

	item, err := call(ctx)

	s.mu.Lock()
	if cached && s.generation == gen {
		s.dropPendingLocked(id, opID)
	}
	if err == nil && s.generation == gen {
		key := s.keyFor(item, id)
		if s.cfg.ID(item) != "" {
			s.base[key] = item
		} else if _, ok := s.base[key]; ok {
			// empty confirmation: keep the mutation as confirmed
			s.base[key] = mutate(s.base[key])
		}
		s.invalidateDerivedLocked()
		if _, ok := s.base[key]; ok {
			item = s.visibleLocked(key)
		}
	}
	s.finishWithErrLocked(gen, err)
	s.mu.Unlock()
	s.notify()
	if err != nil {
		return zero, err
	}
	return item, nil
}

// Do sends a request that does not map onto one cached value, with the same
// gate, loading and error bookkeeping as the other operations.
func (s *Store[T]) Do(ctx context.Context, method, path string, payload, out any) error {
	_, err := s.DoApply(ctx, method, path, payload, out, nil)
	return err
}

// Tx writes confirmed values while the store lock is held.
type Tx[T any] struct {
	s *Store[T]
}

// Get returns the visible value of id.
func (tx Tx[T]) Get(id string) (T, bool) {
	if _, ok := tx.s.base[id]; !ok {
		var zero T
		return zero, false
	}
	return tx.s.visibleLocked(id), true
}

// Upsert stores a server-confirmed value without touching any view.
func (tx Tx[T]) Upsert(v T) {
	if id := tx.s.cfg.ID(v); id != "" {
		tx.s.base[id] = v
		tx.s.direct[id] = struct{}{}
	}
}

// Patch applies fn to the confirmed value of id. It reports false when id is not cached.
func (tx Tx[T]) Patch(id string, fn func(T) T) bool {
	cur, ok := tx.s.base[id]
	if ok {
		tx.s.base[id] = fn(cur)
	}
	return ok
}

// DoApply is Do followed by apply, which runs under the store lock only when no
// Reset happened while the request was in flight. applied reports whether it ran;
// out is filled either way.
func (s *Store[T]) DoApply(ctx context.Context, method, path string, payload, out any, apply func(Tx[T])) (applied bool, err error) {
	if err := s.checkGate(); err != nil {
		return false, err
	}
	gen := s.begin()
	if err := s.cfg.Client.DoJSON(ctx, method, path, payload, out); err != nil {
		s.end(gen, err)
		return false, err
	}
	s.mu.Lock()
	applied = s.generation == gen
	if applied && apply != nil {
		apply(Tx[T]{s: s})
	}
	s.finishLocked(gen)
	s.mu.Unlock()
	s.notify()
	return applied, nil
}

// Invalidate marks every view stale so the next fetch goes to the network.
func (s *Store[T]) Invalidate() {
	s.mu.Lock()
	for _, v := range s.views {
		v.stale = true
	}
	s.mu.Unlock()
}

// InvalidateView marks one view stale.
func (s *Store[T]) InvalidateView(name string) {
	s.mu.Lock()
	if v, ok := s.views[name]; ok {
		v.stale = true
	}
	s.mu.Unlock()
}

// Reset drops all cached state and fences every in-flight request.
func (s *Store[T]) Reset() {
	s.mu.Lock()
	s.generation++
	s.base = make(map[string]T)
	s.views = make(map[string]*view)
	s.pending = make(map[string][]pendingOp[T])
	s.direct = make(map[string]struct{})
	s.loading = 0
	s.lastErr = nil
	s.mu.Unlock()
	s.notify()
}

// Fail records err as the last error, for callers that validate before calling the store.
func (s *Store[T]) Fail(err error) error {
	return s.fail(err)
}

func (s *Store[T]) mutate(ctx context.Context, method, path string, payload any, id string, apply func(item T, id string)) (T, error) {
	var zero T
	if err := s.checkGate(); err != nil {
		return zero, err
	}
	gen := s.begin()
	var raw json.RawMessage
	err := s.cfg.Client.DoJSON(ctx, method, path, payload, &raw)
	var item T
	if err == nil {
		err = apiclient.DecodeEnvelope(raw, &item, s.cfg.ItemKeys...)
	}
	if err == nil && s.cfg.ID(item) == "" && id == "" {
		err = &apiclient.Error{Kind: apiclient.KindServer, Message: s.cfg.Name + " response carried no id"}
	}
	if err != nil {
		s.end(gen, err)
		return zero, err
	}
	s.mu.Lock()
	key := s.keyFor(item, id)
	if s.generation == gen {
		_, cached := s.base[key]
		if s.cfg.ID(item) == "" && cached {
			// no body: the server confirmed without echoing the value
			item = s.base[key]
		}
		if s.cfg.ID(item) != "" || cached {
			apply(item, key)
			item = s.visibleLocked(key)
		}
		s.invalidateDerivedLocked()
	}
	s.finishLocked(gen)
	s.mu.Unlock()
	s.notify()
	return item, nil
}

func (s *Store[T]) loadView(ctx context.Context, name, path string, appendPage bool) ([]T, error) {
	s.mu.Lock()
	v := s.ensureViewLocked(name)
	if !appendPage {
		v.seq++
	}
	seq := v.seq
	gen := s.generation
	s.loading++
	s.mu.Unlock()
	s.notify()

	var raw json.RawMessage
	err := s.cfg.Client.DoJSON(ctx, http.MethodGet, path, nil, &raw)
	var items []T
	if err == nil {
		err = apiclient.DecodeEnvelope(raw, &items, s.cfg.ListKeys...)
	}
	if err != nil {
		s.end(gen, err)
		return nil, err
	}

	s.mu.Lock()
	cur, ok := s.views[name]
	if s.generation != gen || !ok || cur.seq != seq {
		s.finishLocked(gen)
		s.mu.Unlock()
		s.logger.Debug("discard stale response", "view", name, "path", path)
		s.notify()
		return items, nil
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		id := s.cfg.ID(item)
		if id == "" {
			continue
		}
		s.base[id] = item
		ids = append(ids, id)
	}
	if appendPage {
		for _, id := range ids {
			if !slices.Contains(cur.ids, id) {
				cur.ids = append(cur.ids, id)
			}
		}
	} else {
		previous := cur.ids
		cur.ids = ids
		cur.loaded = true
		cur.stale = false
		cur.fetchedAt = s.now()
		s.pruneLocked(previous)
	}
	var out []T
	if appendPage {
		out = make([]T, 0, len(ids))
		for _, id := range ids {
			out = append(out, s.visibleLocked(id))
		}
	} else {
		out = s.viewValuesLocked(name)
	}
	s.finishLocked(gen)
	s.mu.Unlock()
	s.notify()
	return out, nil
}

func (s *Store[T]) checkGate() error {
	if s.cfg.Gate == nil || s.cfg.Gate() {
		return nil
	}
	return s.fail(apiclient.NewError(apiclient.KindNotAuthenticated, "not authenticated"))
}

func (s *Store[T]) fail(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	s.notify()
	return err
}

func (s *Store[T]) begin() uint64 {
	s.mu.Lock()
	s.loading++
	gen := s.generation
	s.mu.Unlock()
	s.notify()
	return gen
}

func (s *Store[T]) end(gen uint64, err error) {
	s.mu.Lock()
	s.finishWithErrLocked(gen, err)
	s.mu.Unlock()
	s.notify()
}

func (s *Store[T]) finishLocked(gen uint64) {
	s.finishWithErrLocked(gen, nil)
}

// finishWithErrLocked balances begin. Requests from before a Reset only drop
// out silently; canceled requests never record an error.
func (s *Store[T]) finishWithErrLocked(gen uint64, err error) {
	if s.generation != gen {
		return
	}
	if s.loading > 0 {
		s.loading--
	}
	switch {
	case err == nil:
		s.lastErr = nil
	case apiclient.IsCanceled(err) || errors.Is(err, context.Canceled):
	default:
		s.lastErr = err
		s.logger.Warn("operation failed", "kind", string(apiclient.KindOf(err)), "err", err)
	}
}

func (s *Store[T]) notify() {
	s.listenersMu.RLock()
	fns := make([]func(), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *Store[T]) keyFor(item T, fallback string) string {
	if id := s.cfg.ID(item); id != "" {
		return id
	}
	return fallback
}

func (s *Store[T]) ensureViewLocked(name string) *view {
	v, ok := s.views[name]
	if !ok {
		v = &view{}
		s.views[name] = v
	}
	return v
}

func (s *Store[T]) freshLocked(name string) bool {
	v, ok := s.views[name]
	if !ok || !v.loaded || v.stale {
		return false
	}
	return s.cfg.TTL <= 0 || s.now().Sub(v.fetchedAt) < s.cfg.TTL
}

// invalidateDerivedLocked marks server-filtered views stale after a mutation.
// The all view is patched in place and stays fresh.
func (s *Store[T]) invalidateDerivedLocked() {
	for name, v := range s.views {
		if name != ViewAll {
			v.stale = true
		}
	}
}

// pruneLocked drops the candidates no view references any more, unless they were
// loaded by id or an operation is pending on them.
func (s *Store[T]) pruneLocked(candidates []string) {
	for _, id := range candidates {
		if _, ok := s.direct[id]; ok {
			continue
		}
		if len(s.pending[id]) > 0 {
			continue
		}
		referenced := false
		for _, v := range s.views {
			if slices.Contains(v.ids, id) {
				referenced = true
				break
			}
		}
		if !referenced {
			delete(s.base, id)
		}
	}
}

func (s *Store[T]) dropPendingLocked(id string, opID uint64) {
	ops := slices.DeleteFunc(s.pending[id], func(op pendingOp[T]) bool { return op.id == opID })
	if len(ops) == 0 {
		delete(s.pending, id)
		return
	}
	s.pending[id] = ops
}

func (s *Store[T]) visibleLocked(id string) T {
	value := s.base[id]
	for _, op := range s.pending[id] {
		value = op.mutate(value)
	}
	return value
}

func (s *Store[T]) viewValuesLocked(name string) []T {
	v, ok := s.views[name]
	if !ok {
		return nil
	}
	out := make([]T, 0, len(v.ids))
	for _, id := range v.ids {
		if _, ok := s.base[id]; ok {
			out = append(out, s.visibleLocked(id))
		}
	}
	return out
}
