// Package feed keeps a live, deduplicated, bounded view of one account balance.
//
// A Handle owns a single goroutine that processes transport events in arrival
// order; all bookkeeping (last observed balance and block, the baseline flag,
// the active session) lives on that goroutine. Readers get copies.
package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokenswallet/internal/domain"
	"github.com/vadiminshakov/tokenswallet/internal/events"
	"github.com/vadiminshakov/tokenswallet/internal/monitor"
	"github.com/vadiminshakov/tokenswallet/pkg/retrier"
)

const (
	// DefaultMaxHistory default cap of the balance history.
	DefaultMaxHistory = 50

	defaultReconnectCeiling = 5 * time.Second
	subscriberBuffer        = 16
)

var errDisconnected = errors.New("transport disconnected")

// FeedError is reported in State.Err once the feed stops on an unrecoverable failure.
type FeedError struct {
	Account string
	Err     error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("balance feed for %s: %v", e.Account, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// Options tune a feed. Zero values fall back to defaults.
type Options struct {
	MaxHistory int
	Reconnect  ReconnectStrategy
	Journal    Journal
	Logger     *zap.Logger
	Now        func() time.Time
}

// DefaultReconnect exponential backoff from 1s, doubling, capped at 5s, 5 attempts.
func DefaultReconnect() *retrier.Retrier {
	return retrier.New(retrier.WithMaxInterval(defaultReconnectCeiling))
}

// State observable feed state.
type State struct {
	Status  domain.ConnectionStatus
	Current *domain.BalanceSnapshot
	// History newest first.
	History []domain.BalanceSnapshot
	Err     error
	// Suppressed counts updates dropped because balance and block were unchanged.
	Suppressed uint64
}

type observation struct {
	amount string
	block  *uint64
}

func (o observation) equal(other observation) bool {
	if o.amount != other.amount {
		return false
	}
	if o.block == nil || other.block == nil {
		return o.block == nil && other.block == nil
	}
	return *o.block == *other.block
}

// Handle is a running balance feed for one (account, endpoint) pair.
type Handle struct {
	account   string
	endpoint  string
	transport Transport
	opts      Options
	logger    *zap.Logger

	mu      sync.RWMutex
	status  domain.ConnectionStatus
	current *domain.BalanceSnapshot
	history *history
	err     error
	dropped uint64

	// owned by the run goroutine
	last         *observation
	skipBaseline bool

	updates   *events.Broadcaster[State]
	refresh   chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Open starts a feed for account on endpoint and returns immediately.
// The connection is established in the background; watch Status or Subscribe.
func Open(transport Transport, account, endpoint string, opts Options) *Handle {
	if opts.MaxHistory <= 0 {
		opts.MaxHistory = DefaultMaxHistory
	}
	if opts.Reconnect == nil {
		opts.Reconnect = DefaultReconnect()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Handle{
		account:   account,
		endpoint:  endpoint,
		transport: transport,
		opts:      opts,
		logger:    opts.Logger.With(zap.String("account", account), zap.String("endpoint", endpoint)),
		status:    domain.StatusConnecting,
		history:   newHistory(opts.MaxHistory),
		updates:   events.NewBroadcaster[State](subscriberBuffer),
		refresh:   make(chan struct{}, 1),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	go h.run(ctx)
	return h
}

// Account returns the account the feed follows.
func (h *Handle) Account() string { return h.account }

// Status returns the current connection status.
func (h *Handle) Status() domain.ConnectionStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.status
}

// Current returns the latest snapshot, if any.
func (h *Handle) Current() (domain.BalanceSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.current == nil {
		return domain.BalanceSnapshot{}, false
	}
	return *h.current, true
}

// History returns a copy of the history, newest first.
func (h *Handle) History() []domain.BalanceSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.history.snapshot()
}

// Err returns the error that moved the feed to Error, if any.
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// State returns a consistent copy of the whole feed state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.stateLocked()
}

// Subscribe returns a channel of state changes and a function to stop receiving them.
// The channel is closed by Close. Slow readers only miss intermediate states.
func (h *Handle) Subscribe() (<-chan State, func()) {
	ch := h.updates.Subscribe()
	return ch, func() { h.updates.Unsubscribe(ch) }
}

// Refresh asks the feed to re-fetch the balance, for example after a transfer.
// It never blocks; requests made while one is pending are merged.
func (h *Handle) Refresh() {
	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

// Close stops the feed and releases the transport. After Close returns no
// further state is published. Safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()
		<-h.done

		h.mu.Lock()
		h.status = domain.StatusClosed
		h.mu.Unlock()

		h.updates.Close()
		monitor.FeedStatusTransitions.WithLabelValues(string(domain.StatusClosed)).Inc()
		h.logger.Debug("balance feed closed")
	})
	return nil
}

func (h *Handle) run(ctx context.Context) {
	defer close(h.done)

	if h.transport == nil {
		h.fail(errors.New("chain transport is not configured"))
		return
	}
	if h.account == "" {
		h.fail(errors.New("account is required"))
		return
	}

	sess, err := h.subscribe(ctx, true)
	if err != nil {
		if ctx.Err() == nil {
			h.fail(errors.Wrap(err, "initial connect"))
		}
		return
	}
	defer func() {
		if sess != nil {
			_ = sess.Close()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-h.refresh:
			reading, err := sess.Fetch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				h.logger.Warn("balance refresh failed", zap.Error(err))
				continue
			}
			h.apply(reading)

		case ev, ok := <-sess.Events():
			if !ok {
				ev = Event{Kind: EventDisconnected}
			}

			switch ev.Kind {
			case EventAccountChanged:
				h.observe(ev.Reading)

			case EventConnected:
				reading, err := sess.Fetch(ctx)
				if err != nil {
					h.logger.Warn("fetch after reconnect failed", zap.Error(err))
					continue
				}
				h.apply(reading)
				h.setStatus(domain.StatusOnline)

			case EventDisconnected, EventError:
				if ev.Kind == EventError && ev.Fatal {
					h.fail(errors.Wrap(ev.Err, "transport failed"))
					return
				}
				h.logger.Warn("balance subscription lost", zap.Stringer("event", ev.Kind), zap.Error(ev.Err))

				_ = sess.Close()
				sess = h.reconnect(ctx, ev.Err)
				if sess == nil {
					return
				}
			}
		}
	}
}

// subscribe connects, fetches the balance and arms the baseline skip for the
// first pushed update of the new subscription.
func (h *Handle) subscribe(ctx context.Context, initial bool) (Session, error) {
	sess, err := h.transport.Connect(ctx, h.endpoint, h.account)
	if err != nil {
		return nil, errors.Wrap(err, "connect")
	}

	reading, err := sess.Fetch(ctx)
	if err != nil {
		_ = sess.Close()
		return nil, errors.Wrap(err, "fetch balance")
	}

	if initial {
		h.seed(reading)
	} else {
		h.apply(reading)
	}
	h.skipBaseline = true
	h.setStatus(domain.StatusOnline)

	return sess, nil
}

func (h *Handle) reconnect(ctx context.Context, cause error) Session {
	h.setStatus(domain.StatusReconnecting)

	lastErr := cause
	if lastErr == nil {
		lastErr = errDisconnected
	}

	for retry := 1; ; retry++ {
		delay, ok := h.opts.Reconnect.Delay(retry)
		if !ok {
			h.fail(errors.Wrapf(lastErr, "reconnect gave up after %d attempts", retry-1))
			return nil
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		sess, err := h.subscribe(ctx, false)
		if err == nil {
			monitor.FeedReconnectAttempts.WithLabelValues("ok").Inc()
			h.logger.Info("balance subscription restored", zap.Int("attempt", retry))
			return sess
		}
		if ctx.Err() != nil {
			return nil
		}

		monitor.FeedReconnectAttempts.WithLabelValues("failed").Inc()
		h.logger.Warn("reconnect attempt failed", zap.Int("attempt", retry), zap.Duration("delay", delay), zap.Error(err))
		lastErr = err
	}
}

// observe handles an update pushed by the subscription.
func (h *Handle) observe(reading Reading) {
	if h.skipBaseline {
		h.skipBaseline = false
		obs := toObservation(reading)
		if h.last != nil && h.last.equal(obs) {
			h.suppress()
			return
		}
		// differs from the fetch: only the bookkeeping moves, current stays on the fetched value
		h.last = &obs
		monitor.FeedUpdates.WithLabelValues("baseline").Inc()
		return
	}
	h.apply(reading)
}

func (h *Handle) suppress() {
	h.mu.Lock()
	h.dropped++
	h.mu.Unlock()
	monitor.FeedUpdates.WithLabelValues("suppressed").Inc()
}

// apply records reading unless it repeats the last observed balance and block.
func (h *Handle) apply(reading Reading) {
	obs := toObservation(reading)
	if h.last != nil && h.last.equal(obs) {
		h.suppress()
		return
	}
	h.last = &obs

	snapshot := domain.NewBalanceSnapshot(h.account, reading.Balance, reading.BlockHeight, h.opts.Now())

	h.mu.Lock()
	h.current = &snapshot
	h.history.push(snapshot)
	state := h.stateLocked()
	h.mu.Unlock()

	monitor.FeedUpdates.WithLabelValues("applied").Inc()
	h.journal(snapshot)
	h.updates.Publish(state)
}

func (h *Handle) seed(reading Reading) {
	obs := toObservation(reading)
	h.last = &obs

	snapshot := domain.NewBalanceSnapshot(h.account, reading.Balance, reading.BlockHeight, h.opts.Now())

	h.mu.Lock()
	h.current = &snapshot
	h.history.reset(snapshot)
	h.mu.Unlock()

	h.journal(snapshot)
}

func (h *Handle) journal(snapshot domain.BalanceSnapshot) {
	if h.opts.Journal == nil {
		return
	}
	if err := h.opts.Journal.Save(snapshot); err != nil {
		h.logger.Warn("failed to journal balance snapshot", zap.Error(err))
	}
}

func (h *Handle) setStatus(status domain.ConnectionStatus) {
	h.mu.Lock()
	if h.status == status {
		h.mu.Unlock()
		return
	}
	h.status = status
	state := h.stateLocked()
	h.mu.Unlock()

	monitor.FeedStatusTransitions.WithLabelValues(string(status)).Inc()
	h.logger.Debug("balance feed status changed", zap.Stringer("status", status))
	h.updates.Publish(state)
}

func (h *Handle) fail(err error) {
	feedErr := &FeedError{Account: h.account, Err: err}

	h.mu.Lock()
	h.status = domain.StatusError
	h.err = feedErr
	state := h.stateLocked()
	h.mu.Unlock()

	monitor.FeedStatusTransitions.WithLabelValues(string(domain.StatusError)).Inc()
	h.logger.Error("balance feed stopped", zap.Error(err))
	h.updates.Publish(state)
}

func (h *Handle) stateLocked() State {
	s := State{
		Status:     h.status,
		History:    h.history.snapshot(),
		Err:        h.err,
		Suppressed: h.dropped,
	}
	if h.current != nil {
		current := *h.current
		s.Current = &current
	}
	return s
}

func toObservation(reading Reading) observation {
	obs := observation{amount: "0"}
	if reading.Balance != nil {
		obs.amount = reading.Balance.String()
	}
	if reading.BlockHeight != nil {
		b := *reading.BlockHeight
		obs.block = &b
	}
	return obs
}
