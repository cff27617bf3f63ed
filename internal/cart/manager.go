package cart

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/waqas385/wacommerce/internal/domain"
	"github.com/waqas385/wacommerce/internal/identity"
	"github.com/waqas385/wacommerce/internal/repository"
	apperrors "github.com/waqas385/wacommerce/pkg/errors"
)

// Config carries the dependencies of a Manager.
type Config struct {
	Store     repository.CartStore
	Catalog   repository.ProductCatalog
	Publisher Publisher
	Identity  identity.Source
	Logger    *slog.Logger
	Metrics   *Metrics
}

// Manager owns the cart of one identity: an ordered line set plus the
// bookkeeping that keeps it consistent under concurrent remote completions.
//
// Every mutation is optimistic: the local change is applied immediately
// under the lock, the remote write runs outside it, and the completion is
// reconciled afterwards. Two counters decide whether a completion still
// matters when it arrives:
//
//   - seqs holds a per-product dispatch token. A completion whose token is
//     no longer the latest for its product lost the race to a newer
//     mutation and is discarded; the newer mutation's optimistic value
//     stands. Tokens outlive line removal so a late completion for a
//     removed line is still recognized.
//   - epoch is bumped on every identity transition and on Clear. Any
//     completion dispatched under an older epoch is discarded, including
//     the A-to-B-to-A case where the same user signs back in while an old
//     write is still in flight.
//
// On a remote write failure the optimistic change is rolled back to the
// pre-dispatch snapshot, unless a newer mutation already owns the line.
type Manager struct {
	store     repository.CartStore
	catalog   repository.ProductCatalog
	publisher Publisher
	source    identity.Source
	logger    *slog.Logger
	metrics   *Metrics

	mu       sync.Mutex
	id       identity.Identity
	signedIn bool
	state    domain.State
	lines    []domain.CartLine
	seqs     map[string]uint64
	nextSeq  uint64
	epoch    uint64
	loadGen  uint64
}

// MutationResult describes what a mutation did to its line. Clamped is
// informational: the mutation still succeeded, at the capped quantity.
type MutationResult struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	Clamped   bool   `json:"clamped"`
	Removed   bool   `json:"removed"`
}

// NewManager creates a Manager bound to the given identity source. The
// initial line set is empty; call Load or Run to reconcile with the remote
// store.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = NopPublisher{}
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	m := &Manager{
		store:     cfg.Store,
		catalog:   cfg.Catalog,
		publisher: publisher,
		source:    cfg.Identity,
		logger:    logger,
		metrics:   metrics,
		state:     domain.StateUnauthenticated,
		seqs:      make(map[string]uint64),
	}

	if id, ok := cfg.Identity.Current(); ok {
		m.id = id
		m.signedIn = true
		m.state = domain.StateLoading
	}

	return m
}

// Run reconciles the cart with the remote store and then follows identity
// changes until ctx is cancelled. Sources with a nil event channel get the
// initial load only.
func (m *Manager) Run(ctx context.Context) {
	if _, ok := m.source.Current(); ok {
		if err := m.Load(ctx); err != nil {
			m.logger.ErrorContext(ctx, "initial cart load failed", "error", err)
		}
	}

	events := m.source.Events()
	if events == nil {
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleIdentity(ctx, ev)
		}
	}
}

// handleIdentity applies a sign-in, sign-out, or user switch. Either way
// the epoch moves forward, so completions dispatched for the previous
// identity can never land on the new one.
func (m *Manager) handleIdentity(ctx context.Context, ev identity.Event) {
	m.mu.Lock()
	m.epoch++
	m.lines = nil
	if ev.SignedIn {
		m.id = ev.Identity
		m.signedIn = true
		m.state = domain.StateLoading
	} else {
		m.id = identity.Identity{}
		m.signedIn = false
		m.state = domain.StateUnauthenticated
	}
	m.mu.Unlock()

	if !ev.SignedIn {
		m.logger.InfoContext(ctx, "signed out, cart reset")
		return
	}

	if err := m.Load(ctx); err != nil {
		m.logger.ErrorContext(ctx, "cart load after sign-in failed",
			"user_id", ev.Identity.UserID, "error", err)
	}
}

// Load replaces the line set with the remote store's rows joined against
// the product catalog. A load superseded by a newer load or an identity
// change is discarded silently. On failure the previous lines are kept.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	if !m.signedIn {
		m.mu.Unlock()
		return ErrSignInRequired
	}
	m.loadGen++
	gen, epoch, userID := m.loadGen, m.epoch, m.id.UserID
	m.state = domain.StateLoading
	m.mu.Unlock()

	lines, err := m.fetchLines(ctx, userID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if epoch != m.epoch || gen != m.loadGen {
		m.metrics.StaleCompletions.Inc()
		m.metrics.Loads.WithLabelValues(outcomeSuperseded).Inc()
		m.logger.DebugContext(ctx, "discarding superseded cart load", "user_id", userID)
		return nil
	}

	m.state = domain.StateReady
	if err != nil {
		m.metrics.Loads.WithLabelValues(outcomeError).Inc()
		return fmt.Errorf("%w: %w", ErrRemoteRead, err)
	}

	m.lines = lines
	m.metrics.Loads.WithLabelValues(outcomeSuccess).Inc()
	m.logger.InfoContext(ctx, "cart loaded", "user_id", userID, "lines", len(lines))
	return nil
}

func (m *Manager) fetchLines(ctx context.Context, userID string) ([]domain.CartLine, error) {
	rows, err := m.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list cart: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ProductID
	}

	products, err := m.catalog.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("fetch products: %w", err)
	}

	lines := make([]domain.CartLine, 0, len(rows))
	for _, r := range rows {
		p, ok := products[r.ProductID]
		if !ok {
			// Product vanished from the catalog; drop the orphaned row
			// from the view rather than showing an unpriceable line.
			m.logger.WarnContext(ctx, "cart row references unknown product",
				"user_id", userID, "product_id", r.ProductID)
			continue
		}
		lines = append(lines, domain.CartLine{
			ProductID: r.ProductID,
			Quantity:  domain.ClampQuantity(r.Quantity, p.Stock),
			Product:   p,
			AddedAt:   r.AddedAt,
		})
	}
	return lines, nil
}

// AddToCart adds quantity units of product, merging into an existing line
// if one is present. The resulting quantity is clamped to the product's
// stock; adding a brand-new out-of-stock product is rejected.
func (m *Manager) AddToCart(ctx context.Context, product domain.Product, quantity int) (MutationResult, error) {
	if quantity < 1 {
		quantity = 1
	}

	m.mu.Lock()
	if !m.signedIn {
		m.mu.Unlock()
		return MutationResult{}, ErrSignInRequired
	}

	idx := m.find(product.ID)
	var requested int
	if idx >= 0 {
		requested = m.lines[idx].Quantity + quantity
	} else {
		if !product.InStock() {
			m.mu.Unlock()
			return MutationResult{}, apperrors.InvalidInput("product is out of stock")
		}
		requested = quantity
	}

	target := domain.ClampQuantity(requested, product.Stock)
	snap := m.snapshot(product.ID)

	if idx >= 0 {
		m.lines[idx].Quantity = target
		m.lines[idx].Product = product
	} else {
		m.lines = append(m.lines, domain.CartLine{
			ProductID: product.ID,
			Quantity:  target,
			Product:   product,
			AddedAt:   time.Now().UTC(),
		})
	}

	seq, epoch, userID := m.dispatch(product.ID)
	m.mu.Unlock()

	res := MutationResult{ProductID: product.ID, Quantity: target, Clamped: target != requested}
	err := m.store.UpsertQuantity(ctx, userID, product.ID, target)
	return m.completeMutation(ctx, "add", userID, product.ID, seq, epoch, snap, res, err)
}

// UpdateQuantity sets the line for productID to quantity, clamped to the
// product snapshot's stock. A non-positive quantity removes the line.
func (m *Manager) UpdateQuantity(ctx context.Context, productID string, quantity int) (MutationResult, error) {
	if quantity <= 0 {
		return m.RemoveFromCart(ctx, productID)
	}

	m.mu.Lock()
	if !m.signedIn {
		m.mu.Unlock()
		return MutationResult{}, ErrSignInRequired
	}

	idx := m.find(productID)
	if idx < 0 {
		m.mu.Unlock()
		return MutationResult{}, apperrors.NotFound("cart item", productID)
	}

	target := domain.ClampQuantity(quantity, m.lines[idx].Product.Stock)
	snap := m.snapshot(productID)
	m.lines[idx].Quantity = target

	seq, epoch, userID := m.dispatch(productID)
	m.mu.Unlock()

	res := MutationResult{ProductID: productID, Quantity: target, Clamped: target != quantity}
	err := m.store.UpsertQuantity(ctx, userID, productID, target)
	return m.completeMutation(ctx, "update", userID, productID, seq, epoch, snap, res, err)
}

// RemoveFromCart removes the line for productID. Removing a line that is
// not present succeeds without touching the remote store.
func (m *Manager) RemoveFromCart(ctx context.Context, productID string) (MutationResult, error) {
	m.mu.Lock()
	if !m.signedIn {
		m.mu.Unlock()
		return MutationResult{}, ErrSignInRequired
	}

	idx := m.find(productID)
	if idx < 0 {
		m.mu.Unlock()
		return MutationResult{ProductID: productID, Removed: true}, nil
	}

	snap := m.snapshot(productID)
	m.lines = slices.Delete(m.lines, idx, idx+1)

	seq, epoch, userID := m.dispatch(productID)
	m.mu.Unlock()

	res := MutationResult{ProductID: productID, Removed: true}
	err := m.store.DeleteRow(ctx, userID, productID)
	return m.completeMutation(ctx, "remove", userID, productID, seq, epoch, snap, res, err)
}

// Clear wipes the cart locally and remotely. The epoch bump discards every
// in-flight per-line completion, so nothing dispatched before the clear
// can resurrect a line afterwards.
func (m *Manager) Clear(ctx context.Context) error {
	m.mu.Lock()
	if !m.signedIn {
		m.mu.Unlock()
		return ErrSignInRequired
	}

	prev := m.lines
	m.lines = nil
	m.epoch++
	epoch, userID := m.epoch, m.id.UserID
	m.mu.Unlock()

	err := m.store.DeleteAllByUser(ctx, userID)

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		m.metrics.StaleCompletions.Inc()
		m.metrics.Mutations.WithLabelValues("clear", outcomeDiscarded).Inc()
		return nil
	}
	if err != nil {
		m.lines = prev
		m.mu.Unlock()
		m.metrics.Mutations.WithLabelValues("clear", outcomeRolledBack).Inc()
		return fmt.Errorf("%w: %w", ErrRemoteWrite, err)
	}
	m.mu.Unlock()

	m.metrics.Mutations.WithLabelValues("clear", outcomeConfirmed).Inc()
	m.logger.InfoContext(ctx, "cart cleared", "user_id", userID)
	if perr := m.publisher.CartCleared(ctx, userID); perr != nil {
		m.logger.ErrorContext(ctx, "publish cart cleared failed", "user_id", userID, "error", perr)
	}
	return nil
}

// dispatch assigns the next per-product token. Callers hold the lock.
func (m *Manager) dispatch(productID string) (seq, epoch uint64, userID string) {
	m.nextSeq++
	m.seqs[productID] = m.nextSeq
	return m.nextSeq, m.epoch, m.id.UserID
}

// completeMutation reconciles a remote completion with the current state.
// Staleness is checked before the error: a completion that lost the race
// is discarded either way, and the newer mutation's state stands.
func (m *Manager) completeMutation(ctx context.Context, op, userID, productID string, seq, epoch uint64, snap lineSnapshot, res MutationResult, err error) (MutationResult, error) {
	m.mu.Lock()

	if epoch != m.epoch || m.seqs[productID] != seq {
		m.mu.Unlock()
		m.metrics.StaleCompletions.Inc()
		m.metrics.Mutations.WithLabelValues(op, outcomeDiscarded).Inc()
		m.logger.DebugContext(ctx, "discarding stale cart completion",
			"op", op, "user_id", userID, "product_id", productID)
		return res, nil
	}

	if err != nil {
		m.restore(productID, snap)
		m.mu.Unlock()
		m.metrics.Mutations.WithLabelValues(op, outcomeRolledBack).Inc()
		m.logger.ErrorContext(ctx, "cart mutation rolled back",
			"op", op, "user_id", userID, "product_id", productID, "error", err)
		return MutationResult{}, fmt.Errorf("%w: %w", ErrRemoteWrite, err)
	}

	view := m.cartLocked()
	m.mu.Unlock()

	m.metrics.Mutations.WithLabelValues(op, outcomeConfirmed).Inc()
	if perr := m.publisher.CartUpdated(ctx, view); perr != nil {
		m.logger.ErrorContext(ctx, "publish cart updated failed", "user_id", userID, "error", perr)
	}
	return res, nil
}

// lineSnapshot captures a line's pre-dispatch value so a failed write can
// be rolled back exactly, including position and absence.
type lineSnapshot struct {
	existed bool
	index   int
	line    domain.CartLine
}

func (m *Manager) snapshot(productID string) lineSnapshot {
	idx := m.find(productID)
	if idx < 0 {
		return lineSnapshot{}
	}
	return lineSnapshot{existed: true, index: idx, line: m.lines[idx]}
}

func (m *Manager) restore(productID string, snap lineSnapshot) {
	idx := m.find(productID)

	switch {
	case snap.existed && idx >= 0:
		m.lines[idx] = snap.line
	case snap.existed && idx < 0:
		at := min(snap.index, len(m.lines))
		m.lines = slices.Insert(m.lines, at, snap.line)
	case !snap.existed && idx >= 0:
		m.lines = slices.Delete(m.lines, idx, idx+1)
	}
}

func (m *Manager) find(productID string) int {
	return slices.IndexFunc(m.lines, func(l domain.CartLine) bool {
		return l.ProductID == productID
	})
}

// Cart returns the current read view with derived totals.
func (m *Manager) Cart() domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cartLocked()
}

func (m *Manager) cartLocked() domain.Cart {
	lines := slices.Clone(m.lines)
	subtotal := domain.TotalPrice(lines)
	return domain.Cart{
		UserID:     m.id.UserID,
		State:      m.state,
		Lines:      lines,
		TotalItems: domain.TotalItems(lines),
		TotalPrice: subtotal,
		Summary:    domain.NewSummary(subtotal),
	}
}

// Items returns a copy of the current lines in insertion order.
func (m *Manager) Items() []domain.CartLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.lines)
}

// TotalItems returns the summed quantity across all lines.
func (m *Manager) TotalItems() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.TotalItems(m.lines)
}

// TotalPrice returns the cart subtotal in cents.
func (m *Manager) TotalPrice() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.TotalPrice(m.lines)
}

// State returns the current lifecycle state.
func (m *Manager) State() domain.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsLoading reports whether a remote reconciliation is in flight.
func (m *Manager) IsLoading() bool {
	return m.State() == domain.StateLoading
}
