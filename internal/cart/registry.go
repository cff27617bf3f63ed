package cart

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/waqas385/wacommerce/internal/identity"
	"github.com/waqas385/wacommerce/internal/repository"
)

// Registry holds one Manager per signed-in user, created lazily on first
// use and evicted after sitting idle for the configured TTL. A single
// Manager per user is what serializes that user's mutations.
type Registry struct {
	store     repository.CartStore
	catalog   repository.ProductCatalog
	publisher Publisher
	logger    *slog.Logger
	metrics   *Metrics
	ttl       time.Duration

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	manager  *Manager
	lastSeen time.Time
}

// NewRegistry creates a Registry whose sessions expire after ttl of
// inactivity.
func NewRegistry(store repository.CartStore, catalog repository.ProductCatalog, publisher Publisher, logger *slog.Logger, metrics *Metrics, ttl time.Duration) *Registry {
	return &Registry{
		store:     store,
		catalog:   catalog,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		ttl:       ttl,
		sessions:  make(map[string]*session),
	}
}

// Get returns the Manager for userID, creating and loading it on first
// access. Each access refreshes the session's idle deadline.
func (r *Registry) Get(ctx context.Context, userID string) *Manager {
	r.mu.Lock()
	if s, ok := r.sessions[userID]; ok {
		s.lastSeen = time.Now()
		r.mu.Unlock()
		return s.manager
	}

	m := NewManager(Config{
		Store:     r.store,
		Catalog:   r.catalog,
		Publisher: r.publisher,
		Identity:  identity.NewStatic(userID),
		Logger:    r.logger.With("user_id", userID),
		Metrics:   r.metrics,
	})
	r.sessions[userID] = &session{manager: m, lastSeen: time.Now()}
	r.metrics.SessionsActive.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	if err := m.Load(ctx); err != nil {
		r.logger.ErrorContext(ctx, "initial cart load failed", "user_id", userID, "error", err)
	}
	return m
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops sessions idle for longer than the TTL, every interval, until
// ctx is cancelled. Run it in its own goroutine.
func (r *Registry) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.evictIdle(time.Now())
		}
	}
}

func (r *Registry) evictIdle(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for userID, s := range r.sessions {
		if now.Sub(s.lastSeen) > r.ttl {
			delete(r.sessions, userID)
			r.logger.Info("evicted idle cart session", "user_id", userID)
		}
	}
	r.metrics.SessionsActive.Set(float64(len(r.sessions)))
}
