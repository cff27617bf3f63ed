package cart

import (
	"context"

	"github.com/waqas385/wacommerce/internal/domain"
)

// Publisher emits cart lifecycle events after a remote write is confirmed.
// Publish failures are logged and swallowed: events are a downstream
// convenience, never part of the mutation contract.
type Publisher interface {
	CartUpdated(ctx context.Context, cart domain.Cart) error
	CartCleared(ctx context.Context, userID string) error
}

// NopPublisher discards all events.
type NopPublisher struct{}

func (NopPublisher) CartUpdated(context.Context, domain.Cart) error { return nil }
func (NopPublisher) CartCleared(context.Context, string) error      { return nil }
