// Package substrate implements the balance feed transport for Substrate nodes:
// a System.Account storage subscription over the node's JSON-RPC websocket.
package substrate

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokenswallet/internal/chain"
	"github.com/vadiminshakov/tokenswallet/internal/feed"
)

const (
	methodSubscribeStorage   = "state_subscribeStorage"
	methodUnsubscribeStorage = "state_unsubscribeStorage"
	methodGetStorage         = "state_getStorage"
	methodGetHeader          = "chain_getHeader"
	methodGetBlockHash       = "chain_getBlockHash"
	notificationStorage      = "state_storage"

	defaultHandshakeTimeout = 10 * time.Second
	defaultCallTimeout      = 15 * time.Second
	eventsBuffer            = 64
)

// Transport dials Substrate nodes. The zero value is not usable; use New.
type Transport struct {
	dialer      *websocket.Dialer
	callTimeout time.Duration
	logger      *zap.Logger
}

// New creates a Substrate transport.
func New(logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Transport{
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		callTimeout: defaultCallTimeout,
		logger:      logger,
	}
}

// Connect dials endpoint and subscribes to System.Account of account (an SS58 address).
func (t *Transport) Connect(ctx context.Context, endpoint, account string) (feed.Session, error) {
	accountID, _, err := chain.DecodeSS58(account)
	if err != nil {
		return nil, errors.Wrap(err, "decode account")
	}
	key, err := AccountStorageKey(accountID)
	if err != nil {
		return nil, err
	}

	conn, err := dial(ctx, t.dialer, endpoint)
	if err != nil {
		return nil, err
	}

	s := &session{
		conn:        conn,
		key:         key,
		callTimeout: t.callTimeout,
		logger:      t.logger.With(zap.String("endpoint", endpoint), zap.String("account", account)),
		events:      make(chan feed.Event, eventsBuffer),
		signal:      make(chan struct{}, 1),
		stopped:     make(chan struct{}),
	}
	conn.onNotify = s.enqueueNotification
	conn.onClose = s.enqueueClose
	conn.start()
	go s.pump()

	callCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
	defer cancel()

	var subID string
	if err := conn.call(callCtx, methodSubscribeStorage, &subID, []string{key}); err != nil {
		s.Close()
		return nil, errors.Wrap(err, "subscribe account storage")
	}
	s.setSubscription(subID)
	s.logger.Debug("subscribed to account storage", zap.String("subscription", subID))

	return s, nil
}

type storageChangeSet struct {
	Block   string       `json:"block"`
	Changes [][2]*string `json:"changes"`
}

// queued is one item handed from the read goroutine to the pump.
type queued struct {
	changes *storageChangeSet
	closed  bool
	err     error
}

type session struct {
	conn        *rpcConn
	key         string
	callTimeout time.Duration
	logger      *zap.Logger

	mu    sync.Mutex
	subID string
	queue []queued
	// buffered notifications that arrived before the subscription id was known
	early []notification

	signal    chan struct{}
	events    chan feed.Event
	stopped   chan struct{}
	closeOnce sync.Once
}

func (s *session) Events() <-chan feed.Event {
	return s.events
}

// Fetch reads the balance at the current best block.
func (s *session) Fetch(ctx context.Context) (feed.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	var hash string
	if err := s.conn.call(ctx, methodGetBlockHash, &hash); err != nil {
		return feed.Reading{}, errors.Wrap(err, "fetch best block")
	}

	return s.readingAt(ctx, hash)
}

func (s *session) readingAt(ctx context.Context, hash string) (feed.Reading, error) {
	var storage *string
	if err := s.conn.call(ctx, methodGetStorage, &storage, s.key, hash); err != nil {
		return feed.Reading{}, errors.Wrap(err, "fetch account storage")
	}
	raw := ""
	if storage != nil {
		raw = *storage
	}
	balance, err := DecodeFreeBalance(raw)
	if err != nil {
		return feed.Reading{}, err
	}

	height, err := s.blockNumber(ctx, hash)
	if err != nil {
		return feed.Reading{}, err
	}

	return feed.Reading{Balance: balance, BlockHeight: &height}, nil
}

func (s *session) blockNumber(ctx context.Context, hash string) (uint64, error) {
	var header struct {
		Number string `json:"number"`
	}
	params := []any{}
	if hash != "" {
		params = append(params, hash)
	}
	if err := s.conn.call(ctx, methodGetHeader, &header, params...); err != nil {
		return 0, errors.Wrap(err, "fetch block header")
	}
	return parseBlockNumber(header.Number)
}

// Close unsubscribes and closes the websocket. Events is closed once the pump exits.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		subID := s.subID
		s.mu.Unlock()

		if subID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			var ok bool
			if err := s.conn.call(ctx, methodUnsubscribeStorage, &ok, subID); err != nil {
				s.logger.Debug("unsubscribe failed", zap.Error(err))
			}
			cancel()
		}

		close(s.stopped)
		s.conn.close()
	})
	return nil
}

// setSubscription publishes the subscription id and queues the notifications
// that arrived before it, all under one lock so later ones cannot overtake them.
func (s *session) setSubscription(id string) {
	s.mu.Lock()
	s.subID = id
	for _, n := range s.early {
		if n.Subscription == id {
			s.queue = append(s.queue, decodeNotification(n))
		}
	}
	s.early = nil
	s.mu.Unlock()

	s.wake()
}

func (s *session) enqueueNotification(method string, n notification) {
	if method != notificationStorage {
		return
	}

	s.mu.Lock()
	switch {
	case s.subID == "":
		s.early = append(s.early, n)
	case n.Subscription == s.subID:
		s.queue = append(s.queue, decodeNotification(n))
	}
	s.mu.Unlock()

	s.wake()
}

func decodeNotification(n notification) queued {
	var changes storageChangeSet
	if err := json.Unmarshal(n.Result, &changes); err != nil {
		return queued{err: errors.Wrap(err, "decode storage notification")}
	}
	return queued{changes: &changes}
}

func (s *session) enqueueClose(err error) {
	s.mu.Lock()
	s.queue = append(s.queue, queued{closed: true, err: err})
	s.mu.Unlock()

	s.wake()
}

func (s *session) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *session) pop() (queued, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return queued{}, false
	}
	item := s.queue[0]
	s.queue = s.queue[1:]
	return item, true
}

// pump turns queued notifications into feed events in arrival order. It may
// issue RPC calls, which is why it runs apart from the read goroutine.
func (s *session) pump() {
	defer close(s.events)

	for {
		item, ok := s.pop()
		if !ok {
			select {
			case <-s.signal:
				continue
			case <-s.stopped:
				return
			}
		}

		if item.closed {
			if errors.Is(item.err, errConnClosed) {
				return
			}
			s.emit(feed.Event{Kind: feed.EventDisconnected, Err: item.err})
			return
		}
		if item.err != nil {
			s.logger.Warn("skipping malformed storage notification", zap.Error(item.err))
			continue
		}

		reading, err := s.readingFromChanges(item.changes)
		if err != nil {
			if s.connClosed() {
				continue
			}
			s.emit(feed.Event{Kind: feed.EventError, Err: err})
			continue
		}
		s.emit(feed.Event{Kind: feed.EventAccountChanged, Reading: reading})
	}
}

func (s *session) readingFromChanges(cs *storageChangeSet) (feed.Reading, error) {
	raw := ""
	found := false
	for _, change := range cs.Changes {
		if change[0] == nil || !strings.EqualFold(*change[0], s.key) {
			continue
		}
		found = true
		if change[1] != nil {
			raw = *change[1]
		}
	}
	if !found {
		return feed.Reading{}, errors.New("storage notification without account key")
	}

	balance, err := DecodeFreeBalance(raw)
	if err != nil {
		return feed.Reading{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()
	height, err := s.blockNumber(ctx, cs.Block)
	if err != nil {
		return feed.Reading{}, err
	}

	return feed.Reading{Balance: balance, BlockHeight: &height}, nil
}

func (s *session) emit(ev feed.Event) {
	select {
	case s.events <- ev:
	case <-s.stopped:
	}
}

// connClosed reports whether the websocket is gone; the close item queued by
// the read goroutine reports the disconnect.
func (s *session) connClosed() bool {
	select {
	case <-s.conn.done:
		return true
	default:
		return false
	}
}
