// Package evm implements the balance feed transport for EVM nodes: new block
// heads over a websocket subscription, balance read at each head.
package evm

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokenswallet/internal/chain"
	"github.com/vadiminshakov/tokenswallet/internal/feed"
)

const (
	headsBuffer  = 16
	eventsBuffer = 64
)

// Client is the part of ethclient.Client the transport needs.
type Client interface {
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
	Close()
}

// DialFunc opens a node client.
type DialFunc func(ctx context.Context, endpoint string) (Client, error)

// Transport dials EVM nodes.
type Transport struct {
	dial   DialFunc
	logger *zap.Logger
}

// New creates an EVM transport backed by ethclient.
func New(logger *zap.Logger) *Transport {
	return NewWithDialer(func(ctx context.Context, endpoint string) (Client, error) {
		return ethclient.DialContext(ctx, endpoint)
	}, logger)
}

// NewWithDialer creates an EVM transport with a custom client factory.
func NewWithDialer(dial DialFunc, logger *zap.Logger) *Transport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transport{dial: dial, logger: logger}
}

// Connect dials endpoint and watches the native balance of account.
func (t *Transport) Connect(ctx context.Context, endpoint, account string) (feed.Session, error) {
	if err := (chain.EVM{}).ValidateAddress(account); err != nil {
		return nil, err
	}

	client, err := t.dial(ctx, endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", endpoint)
	}

	heads := make(chan *types.Header, headsBuffer)
	sub, err := client.SubscribeNewHead(ctx, heads)
	if err != nil {
		client.Close()
		return nil, errors.Wrap(err, "subscribe new heads")
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		client:  client,
		sub:     sub,
		address: common.HexToAddress(account),
		heads:   heads,
		events:  make(chan feed.Event, eventsBuffer),
		cancel:  cancel,
		logger:  t.logger.With(zap.String("endpoint", endpoint), zap.String("account", account)),
	}
	go s.watch(runCtx)

	return s, nil
}

type session struct {
	client  Client
	sub     ethereum.Subscription
	address common.Address
	heads   chan *types.Header
	events  chan feed.Event
	cancel  context.CancelFunc
	logger  *zap.Logger

	closeOnce sync.Once
}

func (s *session) Events() <-chan feed.Event {
	return s.events
}

// Fetch reads the balance at the latest block.
func (s *session) Fetch(ctx context.Context) (feed.Reading, error) {
	header, err := s.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return feed.Reading{}, errors.Wrap(err, "fetch latest header")
	}
	return s.readingAt(ctx, header.Number)
}

func (s *session) readingAt(ctx context.Context, number *big.Int) (feed.Reading, error) {
	balance, err := s.client.BalanceAt(ctx, s.address, number)
	if err != nil {
		return feed.Reading{}, errors.Wrap(err, "fetch balance")
	}

	var height *uint64
	if number != nil && number.IsUint64() {
		h := number.Uint64()
		height = &h
	}

	return feed.Reading{Balance: balance, BlockHeight: height}, nil
}

// watch emits a reading whenever the balance differs from the previous head.
// The first head is always emitted.
func (s *session) watch(ctx context.Context) {
	defer close(s.events)

	var last *big.Int
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-s.sub.Err():
			if ctx.Err() != nil {
				return
			}
			if err == nil {
				err = errors.New("head subscription closed")
			}
			s.emit(ctx, feed.Event{Kind: feed.EventDisconnected, Err: err})
			return
		case head := <-s.heads:
			reading, err := s.readingAt(ctx, head.Number)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("balance read failed", zap.Error(err))
				s.emit(ctx, feed.Event{Kind: feed.EventError, Err: err})
				continue
			}
			if last != nil && last.Cmp(reading.Balance) == 0 {
				continue
			}
			last = reading.Balance
			s.emit(ctx, feed.Event{Kind: feed.EventAccountChanged, Reading: reading})
		}
	}
}

func (s *session) emit(ctx context.Context, ev feed.Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// Close stops the watcher and closes the node connection.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.sub.Unsubscribe()
		s.client.Close()
	})
	return nil
}
