// Package queue transports spawned sync batches from the dispatcher to the
// workers that execute them.
package queue

import (
	"context"

	"github.com/JakeFAU/wiki-mirror/internal/syncer"
)

// Handler processes one delivered batch. A returned error asks the
// transport to redeliver when it supports redelivery.
type Handler func(ctx context.Context, batch syncer.BatchParams) error

// Consumer delivers batches to a handler until ctx ends. Implementations
// bound their own concurrency.
type Consumer interface {
	Consume(ctx context.Context, h Handler) error
}

// Transport both spawns and consumes batches.
type Transport interface {
	syncer.Spawner
	Consumer
	Close() error
}
