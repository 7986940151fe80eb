// Package assetcache fronts an asset origin with a versioned,
// stale-while-revalidate response cache.
package assetcache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	StateInstalling = "installing"
	StateWaiting    = "waiting"
	StateActive     = "active"
)

const cachePrefix = "studydesk-"

var (
	ErrClosed    = errors.New("asset cache closed")
	ErrNoOrigin  = errors.New("asset origin not configured")
	ErrBadOrigin = errors.New("asset origin must be an absolute http(s) URL")
)

type Options struct {
	Origin      string
	Version     string
	Manifest    []string
	Shell       string
	SkipWaiting bool
	// Client defaults to a dedicated client with a 30s timeout.
	Client *http.Client
}

// Service implements the install/activate lifecycle and the fetch policy.
type Service struct {
	storage CacheStorage
	log     *zap.Logger
	origin  *url.URL
	opts    Options
	client  *http.Client
	proxy   *httputil.ReverseProxy
	hub     *hub
	inbox   chan Message
	flight  singleflight.Group

	mu       sync.Mutex
	state    string
	shutdown bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	closed  chan struct{}
	once    sync.Once
}

func New(storage CacheStorage, log *zap.Logger, opts Options) (*Service, error) {
	if opts.Origin == "" {
		return nil, ErrNoOrigin
	}
	origin, err := url.Parse(opts.Origin)
	if err != nil || (origin.Scheme != "http" && origin.Scheme != "https") || origin.Host == "" {
		return nil, ErrBadOrigin
	}
	if opts.Version == "" {
		opts.Version = "v1"
	}
	if opts.Shell == "" {
		opts.Shell = "/index.html"
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout:   30 * time.Second,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		}
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		storage: storage,
		log:     log.Named("assetcache"),
		origin:  origin,
		opts:    opts,
		client:  client,
		hub:     newHub(),
		inbox:   make(chan Message, 16),
		state:   StateInstalling,
		baseCtx: ctx,
		cancel:  cancel,
		closed:  make(chan struct{}),
	}
	s.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			if pr.In.URL.IsAbs() {
				pr.Out.Host = ""
				return
			}
			pr.SetURL(origin)
			pr.Out.Host = origin.Host
		},
		Transport: client.Transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.log.Warn("passthrough failed", zap.String("url", r.URL.String()), zap.Error(err))
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		},
	}
	return s, nil
}

// CacheName is the name of the cache for the configured version.
func (s *Service) CacheName() string {
	return cachePrefix + s.opts.Version
}

func (s *Service) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Install precaches the manifest into the current cache. Paths that fail
// to fetch are logged and skipped.
func (s *Service) Install(ctx context.Context) error {
	s.setState(StateInstalling)
	name := s.CacheName()
	if err := s.storage.Open(ctx, name); err != nil {
		return fmt.Errorf("open cache %s: %w", name, err)
	}

	cached := 0
	for _, path := range s.opts.Manifest {
		e, err := s.fetch(ctx, path, nil)
		if err != nil {
			s.log.Warn("precache failed", zap.String("path", path), zap.Error(err))
			continue
		}
		if e.Status != http.StatusOK {
			s.log.Warn("precache skipped", zap.String("path", path), zap.Int("status", e.Status))
			continue
		}
		if err := s.storage.Put(ctx, name, path, e); err != nil {
			s.log.Warn("precache store failed", zap.String("path", path), zap.Error(err))
			continue
		}
		cached++
	}
	s.log.Info("installed", zap.String("cache", name), zap.Int("cached", cached), zap.Int("manifest", len(s.opts.Manifest)))

	s.setState(StateWaiting)
	if s.opts.SkipWaiting {
		return s.Activate(ctx)
	}
	return nil
}

// Activate removes every cache other than the current one and tells
// connected clients the cache changed.
func (s *Service) Activate(ctx context.Context) error {
	current := s.CacheName()
	names, err := s.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list caches: %w", err)
	}
	for _, name := range names {
		if name == current {
			continue
		}
		if _, err := s.storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("delete cache %s: %w", name, err)
		}
		s.log.Info("deleted old cache", zap.String("cache", name))
	}
	s.setState(StateActive)
	n := s.hub.broadcast(Message{Type: MessageCacheUpdated, Version: s.opts.Version})
	s.log.Info("activated", zap.String("cache", current), zap.Int("clients", n))
	return nil
}

// Post delivers a control message to the Run loop.
func (s *Service) Post(ctx context.Context, msg Message) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	select {
	case s.inbox <- msg:
		return nil
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect registers a client. The returned func disconnects it.
func (s *Service) Connect() (<-chan Message, func()) {
	return s.hub.connect()
}

// Run installs the current version unless its cache already exists, then
// handles control messages until ctx is done or the service is closed.
func (s *Service) Run(ctx context.Context) error {
	ok, err := s.storage.Has(ctx, s.CacheName())
	if err != nil {
		return fmt.Errorf("check cache: %w", err)
	}
	if ok {
		s.setState(StateActive)
		s.log.Info("cache already active", zap.String("cache", s.CacheName()))
	} else if err := s.Install(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.closed:
			return nil
		case msg := <-s.inbox:
			s.handle(ctx, msg)
		}
	}
}

func (s *Service) handle(ctx context.Context, msg Message) {
	switch msg.Type {
	case MessageSkipWaiting:
		if s.State() != StateWaiting {
			return
		}
		if err := s.Activate(ctx); err != nil {
			s.log.Error("activate failed", zap.Error(err))
		}
	default:
		s.log.Debug("ignored message", zap.String("type", msg.Type))
	}
}

// Close stops background refreshes, waits for them and disconnects
// clients. The storage is left open.
func (s *Service) Close() {
	s.once.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		close(s.closed)
		s.cancel()
		s.wg.Wait()
		s.hub.closeAll()
		s.client.CloseIdleConnections()
	})
}
