package feed

import (
	"context"
	"math/big"
	"time"

	"github.com/vadiminshakov/tokenswallet/internal/domain"
)

// EventKind kind of a chain transport event.
type EventKind int

const (
	// EventAccountChanged the account data changed on chain.
	EventAccountChanged EventKind = iota
	// EventConnected the transport (re)established its connection.
	EventConnected
	// EventDisconnected the connection dropped; the session is unusable.
	EventDisconnected
	// EventError the transport failed. Fatal errors are not retried.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventAccountChanged:
		return "account_changed"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Reading raw balance of an account in minor units at some block.
type Reading struct {
	Balance     *big.Int
	BlockHeight *uint64
}

// Event is emitted by a Session in the order the transport observed it.
type Event struct {
	Kind    EventKind
	Reading Reading
	Err     error
	Fatal   bool
}

// Transport opens live account subscriptions on a chain node.
type Transport interface {
	// Connect dials endpoint and subscribes to account changes.
	Connect(ctx context.Context, endpoint, account string) (Session, error)
}

// Session is one live subscription. Events is closed once the session ends.
type Session interface {
	Fetch(ctx context.Context) (Reading, error)
	Events() <-chan Event
	// Close releases the connection. Safe to call more than once.
	Close() error
}

// ReconnectStrategy decides how long to wait before each reconnection attempt.
// retry starts at 1; returning false stops reconnecting.
type ReconnectStrategy interface {
	Delay(retry int) (time.Duration, bool)
}

// Journal receives every snapshot that enters the history.
type Journal interface {
	Save(snapshot domain.BalanceSnapshot) error
}
