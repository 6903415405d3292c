// Package app is the composition root: it builds the credential store, HTTP
// client, session coordinator, resource stores and event bus, and wires them.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/blockchaincyberpunk1/shelflife-frontend/internal/config"
	"github.com/blockchaincyberpunk1/shelflife-frontend/internal/events"
	"github.com/blockchaincyberpunk1/shelflife-frontend/internal/ratelimit"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/apiclient"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/books"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/session"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/shelves"
	"github.com/blockchaincyberpunk1/shelflife-frontend/pkg/tokenstore"
)

// Config holds runtime configuration for the application context.
type Config struct {
	BaseURL        string
	RequestTimeout time.Duration
	CacheTTL       time.Duration

	TokenBackend string
	TokenPath    string
	TokenKey     string
	TokenTTL     time.Duration
	TokenProfile string

	RedisAddr     string
	RedisPassword string
	DatabaseURL   string

	LoginRateLimitPerMinute int

	AMQPURL    string
	EventQueue string

	// Overrides, mainly for tests.
	Tokens     tokenstore.Store
	Limiter    session.Limiter
	EventSinks []events.Sink
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// FromFileConfig converts the loaded file configuration.
func FromFileConfig(fc config.FileConfig) (Config, error) {
	timeout, err := config.ParseDuration(fc.RequestTimeout)
	if err != nil {
		return Config{}, fmt.Errorf("requestTimeout: %w", err)
	}
	cacheTTL, err := config.ParseDuration(fc.CacheTTL)
	if err != nil {
		return Config{}, fmt.Errorf("cacheTTL: %w", err)
	}
	tokenTTL, err := config.ParseDuration(fc.TokenStore.TTL)
	if err != nil {
		return Config{}, fmt.Errorf("tokenStore.ttl: %w", err)
	}
	return Config{
		BaseURL:                 fc.BaseURL,
		RequestTimeout:          timeout,
		CacheTTL:                cacheTTL,
		TokenBackend:            fc.TokenStore.Backend,
		TokenPath:               fc.TokenStore.Path,
		TokenKey:                fc.TokenStore.RedisKey,
		TokenTTL:                tokenTTL,
		TokenProfile:            fc.TokenStore.Profile,
		RedisAddr:               fc.RedisAddr,
		RedisPassword:           fc.RedisPassword,
		DatabaseURL:             fc.DatabaseURL,
		LoginRateLimitPerMinute: fc.LoginRateLimitPerMinute,
		AMQPURL:                 fc.AMQPURL,
		EventQueue:              fc.EventQueue,
	}, nil
}

// App is the explicit application context handed to callers instead of globals.
type App struct {
	Tokens  tokenstore.Store
	Client  *apiclient.Client
	Session *session.Coordinator
	Books   *books.Store
	Shelves *shelves.Store
	Events  *events.Bus

	logger  *slog.Logger
	closers []io.Closer
}

// New builds and wires every component. Nothing touches the network until Start.
func New(cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}

	tokens := cfg.Tokens
	if tokens == nil {
		var err error
		if tokens, err = openTokenStore(cfg); err != nil {
			return nil, err
		}
		if c, ok := tokens.(io.Closer); ok {
			a.closers = append(a.closers, c)
		}
	}
	a.Tokens = tokens

	client, err := apiclient.New(apiclient.Config{
		BaseURL:    cfg.BaseURL,
		Tokens:     tokens,
		HTTPClient: cfg.HTTPClient,
		Timeout:    cfg.RequestTimeout,
		Logger:     logger,
	})
	if err != nil {
		a.closeAll()
		return nil, err
	}
	a.Client = client

	limiter := cfg.Limiter
	if limiter == nil && cfg.LoginRateLimitPerMinute > 0 {
		var rl *ratelimit.FixedWindowLimiter
		if cfg.RedisAddr != "" {
			rl, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "", cfg.LoginRateLimitPerMinute, time.Minute)
		} else {
			rl, err = ratelimit.NewMemoryFixedWindowLimiter(cfg.LoginRateLimitPerMinute, time.Minute)
		}
		if err != nil {
			a.closeAll()
			return nil, fmt.Errorf("init attempt limiter: %w", err)
		}
		a.closers = append(a.closers, rl)
		limiter = rl
	}

	sinks := cfg.EventSinks
	if sinks == nil {
		if sinks, err = a.openSinks(cfg); err != nil {
			a.closeAll()
			return nil, err
		}
	}
	a.Events = events.NewBus(logger, sinks...)

	coord, err := session.New(session.Config{Client: client, Limiter: limiter, Logger: logger})
	if err != nil {
		a.shutdown()
		return nil, err
	}
	a.Session = coord

	a.Books, err = books.New(client, books.Options{TTL: cfg.CacheTTL, Gate: coord.IsAuthenticated, Logger: logger})
	if err != nil {
		a.shutdown()
		return nil, fmt.Errorf("init book store: %w", err)
	}
	a.Shelves, err = shelves.New(client, shelves.Options{
		TTL:    cfg.CacheTTL,
		Gate:   coord.IsAuthenticated,
		Logger: logger,
		OnMembershipChange: func(shelfID string) {
			a.Books.InvalidateShelf(shelfID)
			a.Events.Publish(events.New(events.TypeShelfMembership, map[string]string{"shelfId": shelfID}))
		},
	})
	if err != nil {
		a.shutdown()
		return nil, fmt.Errorf("init shelf store: %w", err)
	}
	coord.Register(a.Books, a.Shelves, resetHook(func() {
		a.Events.Publish(events.New(events.TypeCacheReset, map[string]string{"stores": "books,shelves,profile"}))
	}))

	coord.Subscribe(func(s session.State) {
		a.Events.Publish(events.New(events.TypeSessionState, map[string]string{"state": string(s)}))
	})
	client.OnSessionInvalidated(func(evt apiclient.SessionInvalidated) {
		a.Events.Publish(events.New(events.TypeSessionInvalidated, map[string]string{
			"reason": string(evt.Reason),
			"method": evt.Method,
			"path":   evt.Path,
		}))
	})
	return a, nil
}

// resetHook runs after the registered stores were reset.
type resetHook func()

func (f resetHook) Reset() { f() }

// Start restores the session from the stored credential and, when that yields
// an authenticated session, loads books and shelves concurrently.
func (a *App) Start(ctx context.Context) error {
	if err := a.Session.Restore(ctx); err != nil {
		a.logger.Warn("session restore failed", "err", err)
		if apiclient.IsCanceled(err) {
			return err
		}
	}
	if !a.Session.IsAuthenticated() {
		return nil
	}
	return a.Hydrate(ctx)
}

// Hydrate fetches the book and shelf collections in parallel.
func (a *App) Hydrate(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := a.Books.FetchAll(gctx)
		return err
	})
	g.Go(func() error {
		_, err := a.Shelves.FetchAll(gctx)
		return err
	})
	return g.Wait()
}

// Close flushes events and releases backend connections.
func (a *App) Close() error {
	var errs []error
	if a.Events != nil {
		errs = append(errs, a.Events.Close())
	}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) shutdown() {
	_ = a.Close()
}

func (a *App) closeAll() {
	for _, c := range a.closers {
		_ = c.Close()
	}
	a.closers = nil
}

func (a *App) openSinks(cfg Config) ([]events.Sink, error) {
	var sinks []events.Sink
	if cfg.RedisAddr != "" && cfg.EventQueue != "" {
		s, err := events.NewRedisStreamSink(events.RedisStreamConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.EventQueue,
		})
		if err != nil {
			return nil, fmt.Errorf("init event stream: %w", err)
		}
		sinks = append(sinks, s)
	}
	if cfg.AMQPURL != "" {
		s, err := events.NewAMQPSink(cfg.AMQPURL, cfg.EventQueue)
		if err != nil {
			for _, opened := range sinks {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("init amqp sink: %w", err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func openTokenStore(cfg Config) (tokenstore.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.TokenBackend)) {
	case config.BackendMemory:
		return tokenstore.NewMemoryStore(), nil
	case "", config.BackendFile:
		path := cfg.TokenPath
		if path == "" {
			path = DefaultCredentialPath()
		}
		return tokenstore.NewFileStore(path)
	case config.BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, errors.New("redis token store requires a redis address")
		}
		return tokenstore.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.TokenKey, cfg.TokenTTL), nil
	case config.BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("postgres token store requires a database URL")
		}
		s, err := tokenstore.NewGormStore(cfg.DatabaseURL, cfg.TokenProfile)
		if err != nil {
			return nil, fmt.Errorf("init postgres token store: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown token store backend %q", cfg.TokenBackend)
	}
}

// DefaultCredentialPath is the per-user credential file location.
func DefaultCredentialPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "shelflife", "credential.json")
}
