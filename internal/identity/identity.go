package identity

import "sync"

// Identity is an authenticated storefront user.
type Identity struct {
	UserID string
}

// Event notifies a subscriber that the current identity changed. SignedIn
// false means the user signed out; the Identity field is then zero.
type Event struct {
	Identity Identity
	SignedIn bool
}

// Source supplies the current identity and a change subscription. The cart
// manager consumes it as an injected dependency rather than reaching into
// ambient session state.
type Source interface {
	// Current returns the identity bound right now, and false when nobody
	// is signed in.
	Current() (Identity, bool)

	// Events returns the change notification channel. A nil channel is
	// valid for sources whose identity never changes.
	Events() <-chan Event
}

// Static is a Source fixed to a single signed-in user for its whole
// lifetime. The HTTP layer binds one per session, since the gateway has
// already authenticated the request.
type Static struct {
	id Identity
}

// NewStatic creates a Source permanently bound to the given user.
func NewStatic(userID string) *Static {
	return &Static{id: Identity{UserID: userID}}
}

func (s *Static) Current() (Identity, bool) { return s.id, true }

// Events returns nil: a static identity never changes.
func (s *Static) Events() <-chan Event { return nil }

// Broadcaster is a mutable Source for flows where sign-in state changes at
// runtime (and for tests that script identity transitions).
type Broadcaster struct {
	mu       sync.Mutex
	current  Identity
	signedIn bool
	events   chan Event
}

// NewBroadcaster creates a Broadcaster starting in the signed-out state.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		events: make(chan Event, 16),
	}
}

func (b *Broadcaster) Current() (Identity, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.signedIn
}

func (b *Broadcaster) Events() <-chan Event {
	return b.events
}

// SignIn switches the current identity to the given user and notifies the
// subscriber. Signing in as the already-current user is a no-op.
func (b *Broadcaster) SignIn(userID string) {
	b.mu.Lock()
	if b.signedIn && b.current.UserID == userID {
		b.mu.Unlock()
		return
	}
	b.current = Identity{UserID: userID}
	b.signedIn = true
	ev := Event{Identity: b.current, SignedIn: true}
	b.mu.Unlock()

	b.events <- ev
}

// SignOut clears the current identity and notifies the subscriber.
func (b *Broadcaster) SignOut() {
	b.mu.Lock()
	if !b.signedIn {
		b.mu.Unlock()
		return
	}
	b.current = Identity{}
	b.signedIn = false
	b.mu.Unlock()

	b.events <- Event{}
}
