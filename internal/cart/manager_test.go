package cart

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waqas385/wacommerce/internal/domain"
	"github.com/waqas385/wacommerce/internal/identity"
	apperrors "github.com/waqas385/wacommerce/pkg/errors"
)

// fakeStore is an in-memory CartStore with per-call hooks so tests can
// block, fail, or reorder remote completions deterministically.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[string][]domain.CartRow
	onList   func(userID string) error
	onUpsert func(userID, productID string, quantity int) error
	onDelete func(userID, productID string) error
	deletes  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string][]domain.CartRow)}
}

func (s *fakeStore) seed(userID, productID string, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[userID] = append(s.rows[userID], domain.CartRow{
		UserID:    userID,
		ProductID: productID,
		Quantity:  quantity,
		AddedAt:   time.Now().UTC(),
	})
}

func (s *fakeStore) quantity(userID, productID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows[userID] {
		if r.ProductID == productID {
			return r.Quantity
		}
	}
	return 0
}

func (s *fakeStore) ListByUser(_ context.Context, userID string) ([]domain.CartRow, error) {
	if s.onList != nil {
		if err := s.onList(userID); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.CartRow, len(s.rows[userID]))
	copy(out, s.rows[userID])
	return out, nil
}

func (s *fakeStore) UpsertQuantity(_ context.Context, userID, productID string, quantity int) error {
	if s.onUpsert != nil {
		if err := s.onUpsert(userID, productID, quantity); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.rows[userID] {
		if r.ProductID == productID {
			s.rows[userID][i].Quantity = quantity
			return nil
		}
	}
	s.rows[userID] = append(s.rows[userID], domain.CartRow{
		UserID: userID, ProductID: productID, Quantity: quantity, AddedAt: time.Now().UTC(),
	})
	return nil
}

func (s *fakeStore) DeleteRow(_ context.Context, userID, productID string) error {
	if s.onDelete != nil {
		if err := s.onDelete(userID, productID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	rows := s.rows[userID]
	for i, r := range rows {
		if r.ProductID == productID {
			s.rows[userID] = append(rows[:i], rows[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *fakeStore) DeleteAllByUser(_ context.Context, userID string) error {
	if s.onDelete != nil {
		if err := s.onDelete(userID, ""); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, userID)
	return nil
}

type fakeCatalog struct {
	mu       sync.Mutex
	products map[string]domain.Product
	err      error
}

func newFakeCatalog(products ...domain.Product) *fakeCatalog {
	c := &fakeCatalog{products: make(map[string]domain.Product)}
	for _, p := range products {
		c.products[p.ID] = p
	}
	return c
}

func (c *fakeCatalog) GetByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	out := make(map[string]domain.Product)
	for _, id := range ids {
		if p, ok := c.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func testProduct(id string, price int64, stock int) domain.Product {
	return domain.Product{ID: id, Name: "Product " + id, Slug: "product-" + id, Price: price, Stock: stock}
}

func newTestManager(t *testing.T, store *fakeStore, catalog *fakeCatalog, src identity.Source) *Manager {
	t.Helper()
	return NewManager(Config{
		Store:    store,
		Catalog:  catalog,
		Identity: src,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  NewMetrics(prometheus.NewRegistry()),
	})
}

func signedInManager(t *testing.T, store *fakeStore, catalog *fakeCatalog) *Manager {
	t.Helper()
	m := newTestManager(t, store, catalog, identity.NewStatic("user-1"))
	require.NoError(t, m.Load(context.Background()))
	return m
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

func TestManager_AddToCart(t *testing.T) {
	store := newFakeStore()
	m := signedInManager(t, store, newFakeCatalog())

	res, err := m.AddToCart(context.Background(), testProduct("prod-1", 19_99, 10), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Quantity)
	assert.False(t, res.Clamped)

	lines := m.Items()
	require.Len(t, lines, 1)
	assert.Equal(t, "prod-1", lines[0].ProductID)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, 2, store.quantity("user-1", "prod-1"))
}

func TestManager_AddToCart_MergesIntoExistingLine(t *testing.T) {
	store := newFakeStore()
	m := signedInManager(t, store, newFakeCatalog())

	p := testProduct("prod-1", 19_99, 10)
	_, err := m.AddToCart(context.Background(), p, 2)
	require.NoError(t, err)
	res, err := m.AddToCart(context.Background(), p, 3)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Quantity)
	require.Len(t, m.Items(), 1)
	assert.Equal(t, 5, store.quantity("user-1", "prod-1"))
}

func TestManager_AddToCart_ClampsToStock(t *testing.T) {
	store := newFakeStore()
	m := signedInManager(t, store, newFakeCatalog())

	res, err := m.AddToCart(context.Background(), testProduct("prod-1", 19_99, 5), 12)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Quantity)
	assert.True(t, res.Clamped)
	assert.Equal(t, 5, store.quantity("user-1", "prod-1"))
}

func TestManager_AddToCart_MergeClampsAtStock(t *testing.T) {
	store := newFakeStore()
	m := signedInManager(t, store, newFakeCatalog())

	p := testProduct("prod-1", 19_99, 5)
	_, err := m.AddToCart(context.Background(), p, 4)
	require.NoError(t, err)
	res, err := m.AddToCart(context.Background(), p, 4)
	require.NoError(t, err)

	assert.Equal(t, 5, res.Quantity)
	assert.True(t, res.Clamped)
}

func TestManager_AddToCart_OutOfStockRejected(t *testing.T) {
	store := newFakeStore()
	m := signedInManager(t, store, newFakeCatalog())

	_, err := m.AddToCart(context.Background(), testProduct("prod-1", 19_99, 0), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInvalidInput))
	assert.Empty(t, m.Items())
}

func TestManager_UpdateQuantity(t *testing.T) {
	store := newFakeStore()
	m := signedInManager(t, store, newFakeCatalog())

	_, err := m.AddToCart(context.Background(), testProduct("prod-1", 19_99, 10), 2)
	require.NoError(t, err)

	res, err := m.UpdateQuantity(context.Background(), "prod-1", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, res.Quantity)
	assert.Equal(t, 7, store.quantity("user-1", "prod-1"))
}

func TestManager_UpdateQuantity_ClampsToSnapshotStock(t *testing.T) {
	store := newFakeStore()
	m := signedInManager(t, store, newFakeCatalog())

	_, err := m.AddToCart(context.Background(), testProduct("prod-1", 19_99, 5), 1)
	require.NoError(t, err)

	res, err := m.UpdateQuantity(context.Background(), "prod-1", 99)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Quantity)
	assert.True(t, res.Clamped)
}

func TestManager_UpdateQuantity_MissingLine(t *testing.T) {
	store := newFakeStore()
	m := signedInManager(t, store, newFakeCatalog())

	_, err := m.UpdateQuantity(context.Background(), "prod-404", 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestManager_UpdateQuantity_ZeroRemovesLine(t *testing.T) {
	store := newFakeStore()
	m := signedInManager(t, store, newFakeCatalog())

	_, err := m.AddToCart(context.Background(), testProduct("prod-1", 19_99, 10), 2)
	require.NoError(t, err)

	res, err := m.UpdateQuantity(context.Background(), "prod-1", 0)
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Empty(t, m.Items())
	assert.Equal(t, 0, store.quantity("user-1", "prod-1"))
}

func TestManager_RemoveFromCart_IsIdempotent(t *testing.T) {
	store := newFakeStore()
	m := signedInManager(t, store, newFakeCatalog())

	_, err := m.AddToCart(context.Background(), testProduct("prod-1", 19_99, 10), 2)
	require.NoError(t, err)

	res, err := m.RemoveFromCart(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Empty(t, m.Items())
	assert.Equal(t, 1, store.deletes)

	// Second remove succeeds without another remote call.
	res, err = m.RemoveFromCart(context.Background(), "prod-1")
	require.NoError(t, err)
	assert.True(t, res.Removed)
	assert.Equal(t, 1, store.deletes)
}

func TestManager_Mutations_SignInRequired(t *testing.T) {
	m := newTestManager(t, newFakeStore(), newFakeCatalog(), identity.NewBroadcaster())

	_, err := m.AddToCart(context.Background(), testProduct("prod-1", 19_99, 10), 1)
	assert.True(t, errors.Is(err, ErrSignInRequired))

	_, err = m.UpdateQuantity(context.Background(), "prod-1", 2)
	assert.True(t, errors.Is(err, ErrSignInRequired))

	_, err = m.RemoveFromCart(context.Background(), "prod-1")
	assert.True(t, errors.Is(err, ErrSignInRequired))

	assert.True(t, errors.Is(m.Clear(context.Background()), ErrSignInRequired))
	assert.True(t, errors.Is(m.Load(context.Background()), ErrSignInRequired))
}

// ---------------------------------------------------------------------------
// Rollback
// ---------------------------------------------------------------------------

func TestManager_Rollback_OnUpdateFailure(t *testing.T) {
	store := newFakeStore()
	store.seed("user-1", "prod-1", 2)
	catalog := newFakeCatalog(testProduct("prod-1", 19_99, 10))
	m := signedInManager(t, store, catalog)

	store.onUpsert = func(string, string, int) error { return errors.New("connection reset") }

	_, err := m.UpdateQuantity(context.Background(), "prod-1", 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteWrite))

	lines := m.Items()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, 2, store.quantity("user-1", "prod-1"))
}

func TestManager_Rollback_RemovesOptimisticAdd(t *testing.T) {
	store := newFakeStore()
	m := signedInManager(t, store, newFakeCatalog())

	store.onUpsert = func(string, string, int) error { return errors.New("connection reset") }

	_, err := m.AddToCart(context.Background(), testProduct("prod-1", 19_99, 10), 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteWrite))
	assert.Empty(t, m.Items())
}

func TestManager_Rollback_RestoresRemovedLinePosition(t *testing.T) {
	store := newFakeStore()
	store.seed("user-1", "prod-1", 1)
	store.seed("user-1", "prod-2", 2)
	store.seed("user-1", "prod-3", 3)
	catalog := newFakeCatalog(
		testProduct("prod-1", 10_00, 10),
		testProduct("prod-2", 20_00, 10),
		testProduct("prod-3", 30_00, 10),
	)
	m := signedInManager(t, store, catalog)

	store.onDelete = func(string, string) error { return errors.New("connection reset") }

	_, err := m.RemoveFromCart(context.Background(), "prod-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteWrite))

	lines := m.Items()
	require.Len(t, lines, 3)
	assert.Equal(t, "prod-2", lines[1].ProductID)
	assert.Equal(t, 2, lines[1].Quantity)
}

// ---------------------------------------------------------------------------
// Completion ordering
// ---------------------------------------------------------------------------

// Two updates to the same line race; the one dispatched last wins even
// though its remote write completes first.
func TestManager_OutOfOrderCompletion_LastDispatchedWins(t *testing.T) {
	store := newFakeStore()
	store.seed("user-1", "prod-1", 1)
	catalog := newFakeCatalog(testProduct("prod-1", 19_99, 10))
	m := signedInManager(t, store, catalog)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	store.onUpsert = func(_, _ string, _ int) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.UpdateQuantity(context.Background(), "prod-1", 5)
		done <- err
	}()
	<-entered

	// Second update dispatches after the first and completes immediately.
	res, err := m.UpdateQuantity(context.Background(), "prod-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Quantity)

	close(release)
	require.NoError(t, <-done)

	lines := m.Items()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.StaleCompletions))
}

// A failed write whose line has since been re-mutated must not roll the
// newer value back; the failure is discarded as stale.
func TestManager_StaleFailureDoesNotRollBackNewerMutation(t *testing.T) {
	store := newFakeStore()
	store.seed("user-1", "prod-1", 1)
	catalog := newFakeCatalog(testProduct("prod-1", 19_99, 10))
	m := signedInManager(t, store, catalog)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	store.onUpsert = func(_, _ string, _ int) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
			return errors.New("connection reset")
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.UpdateQuantity(context.Background(), "prod-1", 5)
		done <- err
	}()
	<-entered

	_, err := m.UpdateQuantity(context.Background(), "prod-1", 2)
	require.NoError(t, err)

	close(release)
	// The stale failure surfaces no error and triggers no rollback.
	require.NoError(t, <-done)

	lines := m.Items()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.StaleCompletions))
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestManager_Load_JoinsRowsWithProducts(t *testing.T) {
	store := newFakeStore()
	store.seed("user-1", "prod-1", 2)
	store.seed("user-1", "prod-2", 1)
	catalog := newFakeCatalog(
		testProduct("prod-1", 10_00, 10),
		testProduct("prod-2", 25_50, 10),
	)
	m := signedInManager(t, store, catalog)

	lines := m.Items()
	require.Len(t, lines, 2)
	assert.Equal(t, "prod-1", lines[0].ProductID)
	assert.Equal(t, domain.StateReady, m.State())
	assert.Equal(t, 3, m.TotalItems())
	assert.Equal(t, int64(45_50), m.TotalPrice())
}

func TestManager_Load_ClampsPersistedQuantities(t *testing.T) {
	store := newFakeStore()
	store.seed("user-1", "prod-1", 50)
	catalog := newFakeCatalog(testProduct("prod-1", 19_99, 3))
	m := signedInManager(t, store, catalog)

	lines := m.Items()
	require.Len(t, lines, 1)
	assert.Equal(t, 3, lines[0].Quantity)
}

func TestManager_Load_SoldOutRowClampedToOne(t *testing.T) {
	store := newFakeStore()
	store.seed("user-1", "prod-1", 50)
	catalog := newFakeCatalog(testProduct("prod-1", 19_99, 0))
	m := signedInManager(t, store, catalog)

	// The line stays visible and removable at quantity 1 instead of
	// keeping the stale persisted quantity.
	lines := m.Items()
	require.Len(t, lines, 1)
	assert.Equal(t, 1, lines[0].Quantity)
}

func TestManager_AddToCart_MergeIntoSoldOutSnapshotClampsToOne(t *testing.T) {
	store := newFakeStore()
	m := signedInManager(t, store, newFakeCatalog())

	_, err := m.AddToCart(context.Background(), testProduct("prod-1", 19_99, 5), 2)
	require.NoError(t, err)

	// The product sells out between the two adds; the merged quantity
	// must not grow past the clamp floor.
	res, err := m.AddToCart(context.Background(), testProduct("prod-1", 19_99, 0), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Quantity)
	assert.True(t, res.Clamped)
	require.Len(t, m.Items(), 1)
	assert.Equal(t, 1, m.Items()[0].Quantity)
}

func TestManager_Load_DropsOrphanedRows(t *testing.T) {
	store := newFakeStore()
	store.seed("user-1", "prod-1", 2)
	store.seed("user-1", "prod-gone", 1)
	catalog := newFakeCatalog(testProduct("prod-1", 19_99, 10))
	m := signedInManager(t, store, catalog)

	lines := m.Items()
	require.Len(t, lines, 1)
	assert.Equal(t, "prod-1", lines[0].ProductID)
}

func TestManager_Load_ReadFailureKeepsStaleLines(t *testing.T) {
	store := newFakeStore()
	store.seed("user-1", "prod-1", 2)
	catalog := newFakeCatalog(testProduct("prod-1", 19_99, 10))
	m := signedInManager(t, store, catalog)

	store.onList = func(string) error { return errors.New("connection refused") }

	err := m.Load(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteRead))

	// The previously loaded lines survive and the cart stays usable.
	lines := m.Items()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, domain.StateReady, m.State())
}

// A slow load that finishes after a newer one must not overwrite the
// newer result.
func TestManager_Load_SupersededLoadDiscarded(t *testing.T) {
	store := newFakeStore()
	store.seed("user-1", "prod-1", 1)
	catalog := newFakeCatalog(testProduct("prod-1", 19_99, 10))
	m := newTestManager(t, store, catalog, identity.NewStatic("user-1"))

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int
	var mu sync.Mutex
	store.onList = func(string) error {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			close(entered)
			<-release
		}
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- m.Load(context.Background()) }()
	<-entered

	// The first load is still blocked; bump the stored quantity and load
	// again so the two loads observe different data.
	store.mu.Lock()
	store.rows["user-1"][0].Quantity = 7
	store.mu.Unlock()
	require.NoError(t, m.Load(context.Background()))

	close(release)
	require.NoError(t, <-done)

	lines := m.Items()
	require.Len(t, lines, 1)
	assert.Equal(t, 7, lines[0].Quantity)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.metrics.StaleCompletions))
}

// ---------------------------------------------------------------------------
// Identity transitions
// ---------------------------------------------------------------------------

func TestManager_IdentitySwitch_LoadsNewUsersCart(t *testing.T) {
	store := newFakeStore()
	store.seed("user-a", "prod-1", 2)
	store.seed("user-b", "prod-2", 5)
	catalog := newFakeCatalog(
		testProduct("prod-1", 10_00, 10),
		testProduct("prod-2", 20_00, 10),
	)
	m := newTestManager(t, store, catalog, identity.NewBroadcaster())

	ctx := context.Background()
	m.handleIdentity(ctx, identity.Event{Identity: identity.Identity{UserID: "user-a"}, SignedIn: true})
	lines := m.Items()
	require.Len(t, lines, 1)
	assert.Equal(t, "prod-1", lines[0].ProductID)

	m.handleIdentity(ctx, identity.Event{Identity: identity.Identity{UserID: "user-b"}, SignedIn: true})
	lines = m.Items()
	require.Len(t, lines, 1)
	assert.Equal(t, "prod-2", lines[0].ProductID)
	assert.Equal(t, domain.StateReady, m.State())
}

func TestManager_SignOut_ResetsLocallyOnly(t *testing.T) {
	store := newFakeStore()
	store.seed("user-a", "prod-1", 2)
	catalog := newFakeCatalog(testProduct("prod-1", 10_00, 10))
	m := newTestManager(t, store, catalog, identity.NewBroadcaster())

	ctx := context.Background()
	m.handleIdentity(ctx, identity.Event{Identity: identity.Identity{UserID: "user-a"}, SignedIn: true})
	require.Len(t, m.Items(), 1)

	m.handleIdentity(ctx, identity.Event{})
	assert.Empty(t, m.Items())
	assert.Equal(t, domain.StateUnauthenticated, m.State())

	// The remote rows are untouched; signing back in restores them.
	m.handleIdentity(ctx, identity.Event{Identity: identity.Identity{UserID: "user-a"}, SignedIn: true})
	require.Len(t, m.Items(), 1)
	assert.Equal(t, 2, m.Items()[0].Quantity)
}

// A write dispatched before sign-out must not land after the same user
// signs back in, even though the product token would still match.
func TestManager_CompletionAcrossSignOutCycleDiscarded(t *testing.T) {
	store := newFakeStore()
	store.seed("user-a", "prod-1", 2)
	catalog := newFakeCatalog(testProduct("prod-1", 19_99, 10))
	m := newTestManager(t, store, catalog, identity.NewBroadcaster())

	ctx := context.Background()
	m.handleIdentity(ctx, identity.Event{Identity: identity.Identity{UserID: "user-a"}, SignedIn: true})

	entered := make(chan struct{})
	release := make(chan struct{})
	store.onUpsert = func(_, _ string, _ int) error {
		close(entered)
		<-release
		return nil
	}

	done := make(chan error, 1)
	go func() {
		_, err := m.UpdateQuantity(ctx, "prod-1", 9)
		done <- err
	}()
	<-entered

	store.onUpsert = nil
	m.handleIdentity(ctx, identity.Event{})
	m.handleIdentity(ctx, identity.Event{Identity: identity.Identity{UserID: "user-a"}, SignedIn: true})

	close(release)
	require.NoError(t, <-done)

	// The freshly loaded quantity stands; the pre-sign-out write was
	// discarded silently.
	lines := m.Items()
	require.Len(t, lines, 1)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.metrics.StaleCompletions), float64(1))
}

// ---------------------------------------------------------------------------
// Clear
// ---------------------------------------------------------------------------

func TestManager_Clear(t *testing.T) {
	store := newFakeStore()
	store.seed("user-1", "prod-1", 2)
	store.seed("user-1", "prod-2", 1)
	catalog := newFakeCatalog(
		testProduct("prod-1", 10_00, 10),
		testProduct("prod-2", 20_00, 10),
	)
	m := signedInManager(t, store, catalog)

	require.NoError(t, m.Clear(context.Background()))
	assert.Empty(t, m.Items())

	rows, err := store.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestManager_Clear_RollsBackOnFailure(t *testing.T) {
	store := newFakeStore()
	store.seed("user-1", "prod-1", 2)
	catalog := newFakeCatalog(testProduct("prod-1", 19_99, 10))
	m := signedInManager(t, store, catalog)

	store.onDelete = func(string, string) error { return errors.New("connection reset") }

	err := m.Clear(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteWrite))
	require.Len(t, m.Items(), 1)
	assert.Equal(t, 2, m.Items()[0].Quantity)
}

// ---------------------------------------------------------------------------
// Derived view
// ---------------------------------------------------------------------------

func TestManager_Cart_DerivesTotalsAndSummary(t *testing.T) {
	store := newFakeStore()
	m := signedInManager(t, store, newFakeCatalog())

	_, err := m.AddToCart(context.Background(), testProduct("prod-1", 10_00, 10), 2)
	require.NoError(t, err)
	_, err = m.AddToCart(context.Background(), testProduct("prod-2", 25_50, 10), 1)
	require.NoError(t, err)

	view := m.Cart()
	assert.Equal(t, "user-1", view.UserID)
	assert.Equal(t, domain.StateReady, view.State)
	assert.Equal(t, 3, view.TotalItems)
	assert.Equal(t, int64(45_50), view.TotalPrice)
	assert.Equal(t, int64(45_50), view.Summary.Subtotal)
	assert.Equal(t, int64(domain.ShippingCost), view.Summary.ShippingCost)
	assert.Equal(t, int64(55_49), view.Summary.Total)
	assert.Equal(t, int64(54_50), view.Summary.RemainingForFreeShipping)
}

func TestManager_Cart_TotalsFollowEveryMutation(t *testing.T) {
	store := newFakeStore()
	m := signedInManager(t, store, newFakeCatalog())

	ctx := context.Background()
	_, err := m.AddToCart(ctx, testProduct("prod-1", 10_00, 10), 2)
	require.NoError(t, err)
	assert.Equal(t, int64(20_00), m.TotalPrice())

	_, err = m.UpdateQuantity(ctx, "prod-1", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(50_00), m.TotalPrice())

	_, err = m.RemoveFromCart(ctx, "prod-1")
	require.NoError(t, err)
	assert.Zero(t, m.TotalPrice())
	assert.Zero(t, m.TotalItems())
}

func TestNewManager_DefaultsOptionalDependencies(t *testing.T) {
	store := newFakeStore()
	store.seed("user-1", "prod-1", 2)
	catalog := newFakeCatalog(testProduct("prod-1", 19_99, 10))

	// Logger, Publisher, and Metrics are all omitted.
	m := NewManager(Config{
		Store:    store,
		Catalog:  catalog,
		Identity: identity.NewStatic("user-1"),
	})

	require.NoError(t, m.Load(context.Background()))
	_, err := m.UpdateQuantity(context.Background(), "prod-1", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalItems())
}

func TestManager_Run_InitialLoadAndShutdown(t *testing.T) {
	store := newFakeStore()
	store.seed("user-1", "prod-1", 2)
	catalog := newFakeCatalog(testProduct("prod-1", 19_99, 10))
	m := newTestManager(t, store, catalog, identity.NewStatic("user-1"))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(stopped)
	}()

	require.Eventually(t, func() bool {
		return m.State() == domain.StateReady && len(m.Items()) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
