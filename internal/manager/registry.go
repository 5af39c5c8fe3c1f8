package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"portal-cart/internal/cart"
	"portal-cart/internal/gateway"
	"portal-cart/internal/model"
	"portal-cart/internal/session"
	"portal-cart/internal/settings"
)

// DefaultAnonymousIdle is how long an unused anonymous cart is kept.
const DefaultAnonymousIdle = 30 * time.Minute

// RegistryConfig holds the limits applied to every Manager.
type RegistryConfig struct {
	SaveTimeout          time.Duration
	MaxAnonymousElements int
	MaxLoggedInElements  int

	// AnonymousIdle evicts anonymous managers unused for this long.
	// 0 uses DefaultAnonymousIdle; a negative value keeps them forever.
	AnonymousIdle time.Duration
}

// Registry keeps one Manager per session. Logged-in users resume the cart
// recorded in the settings file; the pointer is rewritten whenever their
// active cart changes. Anonymous carts live only in memory and are dropped
// once idle.
type Registry struct {
	gw       gateway.Gateway
	settings *settings.Store // nil disables resume
	logger   *slog.Logger
	cfg      RegistryConfig
	now      func() time.Time

	// group runs one restore per session key; the map lock is never held
	// across settings or portal reads.
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	unsubs  map[string]func()
	closed  bool

	stop    chan struct{}
	stopped chan struct{}
}

type entry struct {
	m        *Manager
	lastUsed time.Time
}

// NewRegistry creates an empty registry and starts its idle sweeper.
// Call Close to stop it.
func NewRegistry(gw gateway.Gateway, store *settings.Store, logger *slog.Logger, cfg RegistryConfig) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AnonymousIdle == 0 {
		cfg.AnonymousIdle = DefaultAnonymousIdle
	}
	r := &Registry{
		gw:       gw,
		settings: store,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
		entries:  make(map[string]*entry),
		unsubs:   make(map[string]func()),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	if cfg.AnonymousIdle > 0 {
		go r.sweeper(cfg.AnonymousIdle / 2)
	} else {
		close(r.stopped)
	}
	return r
}

// Get returns the Manager for s, creating it on first use.
func (r *Registry) Get(ctx context.Context, s session.Session) (*Manager, error) {
	key := s.Key()
	if m, err := r.lookup(key); m != nil || err != nil {
		return m, err
	}

	v, err, _ := r.group.Do(key, func() (any, error) {
		if m, err := r.lookup(key); m != nil || err != nil {
			return m, err
		}
		return r.create(ctx, key, s)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Manager), nil
}

// lookup returns the live manager for key and marks it used.
func (r *Registry) lookup(key string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	e, ok := r.entries[key]
	if !ok {
		return nil, nil
	}
	e.lastUsed = r.now()
	return e.m, nil
}

func (r *Registry) create(ctx context.Context, key string, s session.Session) (*Manager, error) {
	initial, err := r.restore(ctx, s)
	if err != nil {
		return nil, err
	}
	m, err := New(Options{
		Gateway:     r.gw,
		Session:     s,
		Logger:      r.logger,
		Initial:     initial,
		SaveTimeout: r.cfg.SaveTimeout,
		MaxElements: r.Limit(s),
	})
	if err != nil {
		return nil, err
	}

	var unsubscribe func()
	if !s.Anonymous() && r.settings != nil {
		unsubscribe = m.Subscribe(r.trackCurrent(s.User, initial.Current))
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		m.Close()
		return nil, ErrClosed
	}
	r.entries[key] = &entry{m: m, lastUsed: r.now()}
	if unsubscribe != nil {
		r.unsubs[key] = unsubscribe
	}
	r.mu.Unlock()
	return m, nil
}

// Limit returns the element limit applied to carts of s.
func (r *Registry) Limit(s session.Session) int {
	if s.Anonymous() {
		if r.cfg.MaxAnonymousElements > 0 {
			return r.cfg.MaxAnonymousElements
		}
		return cart.MaxAnonymousElements
	}
	if r.cfg.MaxLoggedInElements > 0 {
		return r.cfg.MaxLoggedInElements
	}
	return cart.MaxLoggedInElements
}

// restore builds the starting state of a session. A remembered cart that
// no longer exists, or is no longer readable, is forgotten.
func (r *Registry) restore(ctx context.Context, s session.Session) (*cart.State, error) {
	empty := cart.NewState()
	if s.Anonymous() || r.settings == nil {
		return empty, nil
	}

	atID, err := r.settings.CurrentCart(ctx, s.User)
	if err != nil {
		r.logger.Warn("reading current cart setting", slog.String("user", s.User), slog.String("error", err.Error()))
		return empty, nil
	}
	if atID == "" {
		return empty, nil
	}

	obj, err := r.gw.Retrieve(ctx, atID)
	switch {
	case err == nil && obj.Status != model.StatusDeleted:
		if obj.AtID == "" {
			obj.AtID = atID
		}
		return cart.Reduce(empty, cart.LoadCart{Obj: obj}), nil
	case err == nil, errors.Is(err, model.ErrNotFound), errors.Is(err, model.ErrPermissionDenied):
		r.logger.Info("forgetting unavailable cart", slog.String("user", s.User), slog.String("cart", atID))
		if cerr := r.settings.ClearCurrentCart(ctx, s.User); cerr != nil {
			r.logger.Warn("clearing current cart setting", slog.String("error", cerr.Error()))
		}
		return empty, nil
	default:
		return nil, err
	}
}

// trackCurrent returns a listener that persists the user's active cart
// whenever it changes.
func (r *Registry) trackCurrent(user, initial string) func(*cart.State) {
	last := initial
	return func(s *cart.State) {
		if s.Current == last || s.Current == "" {
			return
		}
		last = s.Current
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.settings.SetCurrentCart(ctx, user, s.Current); err != nil {
			r.logger.Warn("saving current cart setting",
				slog.String("user", user),
				slog.String("cart", s.Current),
				slog.String("error", err.Error()))
		}
	}
}

// Len returns the number of live managers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) sweeper(every time.Duration) {
	defer close(r.stopped)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.sweep(r.now())
		case <-r.stop:
			return
		}
	}
}

// sweep closes anonymous managers unused since before now-AnonymousIdle
// and returns how many it dropped.
func (r *Registry) sweep(now time.Time) int {
	var idle []*Manager
	r.mu.Lock()
	for key, e := range r.entries {
		if e.m.Session().Anonymous() && now.Sub(e.lastUsed) >= r.cfg.AnonymousIdle {
			idle = append(idle, e.m)
			r.drop(key)
		}
	}
	r.mu.Unlock()

	for _, m := range idle {
		m.Close()
	}
	if len(idle) > 0 {
		r.logger.Debug("evicted idle anonymous carts", slog.Int("count", len(idle)))
	}
	return len(idle)
}

// drop removes key; r.mu must be held.
func (r *Registry) drop(key string) {
	delete(r.entries, key)
	if unsubscribe, ok := r.unsubs[key]; ok {
		unsubscribe()
		delete(r.unsubs, key)
	}
}

// Close stops the sweeper, then drains and stops every Manager.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	managers := make([]*Manager, 0, len(r.entries))
	for key, e := range r.entries {
		managers = append(managers, e.m)
		r.drop(key)
	}
	r.mu.Unlock()

	close(r.stop)
	<-r.stopped
	for _, m := range managers {
		m.Close()
	}
}
