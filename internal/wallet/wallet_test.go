package wallet

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokenswallet/internal/chain"
	"github.com/vadiminshakov/tokenswallet/internal/clients"
	"github.com/vadiminshakov/tokenswallet/internal/domain"
	"github.com/vadiminshakov/tokenswallet/internal/feed"
	"github.com/vadiminshakov/tokenswallet/internal/transfer"
)

const (
	alice = "5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY"
	bob   = "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty"

	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var opal = domain.TokenConfig{Symbol: "OPAL", Decimals: 12, Chain: domain.ChainSubstrate, ChainEndpoint: "wss://node"}

type fakeBackend struct {
	mu      sync.Mutex
	user    domain.UserProfile
	userErr error
	orders  []domain.TransferOrder
}

func (b *fakeBackend) CurrentUser(ctx context.Context) (domain.UserProfile, error) {
	return b.user, b.userErr
}

func (b *fakeBackend) Transfer(ctx context.Context, order domain.TransferOrder) (domain.TransactionReference, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = append(b.orders, order)
	return domain.TransactionReference{TxHash: "0xabc", Status: "submitted"}, nil
}

type staticTokens struct {
	token domain.TokenConfig
	err   error
}

func (s staticTokens) TokenConfig(ctx context.Context) (domain.TokenConfig, error) {
	return s.token, s.err
}

type fakeSession struct {
	mu      sync.Mutex
	balance *big.Int
	block   uint64
	events  chan feed.Event
}

func (s *fakeSession) Fetch(ctx context.Context) (feed.Reading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	block := s.block
	return feed.Reading{Balance: new(big.Int).Set(s.balance), BlockHeight: &block}, nil
}

func (s *fakeSession) Events() <-chan feed.Event { return s.events }
func (s *fakeSession) Close() error              { return nil }

func (s *fakeSession) set(balance int64, block uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = big.NewInt(balance)
	s.block = block
}

type fakeTransport struct {
	session *fakeSession
	err     error

	mu       sync.Mutex
	accounts []string
}

func (t *fakeTransport) Connect(ctx context.Context, endpoint, account string) (feed.Session, error) {
	t.mu.Lock()
	t.accounts = append(t.accounts, account)
	t.mu.Unlock()
	if t.err != nil {
		return nil, t.err
	}
	return t.session, nil
}

type fixedTransports struct {
	transport feed.Transport
}

func (p fixedTransports) Transport(domain.ChainKind) (feed.Transport, error) {
	return p.transport, nil
}

type noRetry struct{}

func (noRetry) Delay(int) (time.Duration, bool) { return 0, false }

func newSession(balance int64, block uint64) *fakeSession {
	return &fakeSession{balance: big.NewInt(balance), block: block, events: make(chan feed.Event, 8)}
}

func openWallet(t *testing.T, backend Backend, transport feed.Transport, opts Options) (*Wallet, error) {
	t.Helper()
	opts.Transports = fixedTransports{transport: transport}
	if opts.Reconnect == nil {
		opts.Reconnect = noRetry{}
	}
	w, err := Open(context.Background(), backend, staticTokens{token: opal}, opts)
	if w != nil {
		t.Cleanup(func() { _ = w.Close() })
	}
	return w, err
}

func TestOpen_WatchesUserAddress(t *testing.T) {
	transport := &fakeTransport{session: newSession(5_000_000_000_000, 10)}
	w, err := openWallet(t, &fakeBackend{user: domain.UserProfile{ID: "1", Address: alice}}, transport, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	snapshot, err := w.Ready(ctx)
	require.NoError(t, err)

	assert.Equal(t, alice, w.Account)
	assert.Equal(t, "5000000000000", snapshot.Amount)
	assert.Equal(t, []string{alice}, transport.accounts)
	assert.Equal(t, big.NewInt(5_000_000_000_000), w.Balance())
}

func TestOpen_AccountOverrideWithoutLogin(t *testing.T) {
	transport := &fakeTransport{session: newSession(1, 1)}
	backend := &fakeBackend{userErr: errors.Wrap(clients.ErrUnauthorized, "user info")}

	w, err := openWallet(t, backend, transport, Options{Account: bob})
	require.NoError(t, err)
	assert.Equal(t, bob, w.Account)
	assert.Empty(t, w.User.ID)
}

func TestOpen_Errors(t *testing.T) {
	t.Run("not logged in", func(t *testing.T) {
		backend := &fakeBackend{userErr: clients.ErrUnauthorized}
		_, err := openWallet(t, backend, &fakeTransport{}, Options{})
		assert.ErrorIs(t, err, clients.ErrUnauthorized)
	})

	t.Run("no address", func(t *testing.T) {
		_, err := openWallet(t, &fakeBackend{user: domain.UserProfile{ID: "1"}}, &fakeTransport{}, Options{})
		assert.ErrorIs(t, err, ErrNoAccount)
	})

	t.Run("malformed account", func(t *testing.T) {
		_, err := openWallet(t, &fakeBackend{}, &fakeTransport{}, Options{Account: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"})
		assert.ErrorIs(t, err, chain.ErrInvalidAddress)
	})

	t.Run("token config", func(t *testing.T) {
		_, err := Open(context.Background(), &fakeBackend{user: domain.UserProfile{Address: alice}},
			staticTokens{err: errors.New("backend down")}, Options{Transports: fixedTransports{}})
		assert.ErrorContains(t, err, "backend down")
	})
}

func TestReady_FeedError(t *testing.T) {
	w, err := openWallet(t, &fakeBackend{user: domain.UserProfile{Address: alice}}, &fakeTransport{err: errors.New("refused")}, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err = w.Ready(ctx)
	var feedErr *feed.FeedError
	require.ErrorAs(t, err, &feedErr)
	assert.Contains(t, err.Error(), "refused")
}

func TestTransfer_RefreshesFeed(t *testing.T) {
	session := newSession(10_000_000_000_000, 10)
	backend := &fakeBackend{user: domain.UserProfile{Address: alice}}
	w, err := openWallet(t, backend, &fakeTransport{session: session}, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err = w.Ready(ctx)
	require.NoError(t, err)

	session.set(7_500_000_000_000, 11)
	ref, err := w.Transfer(ctx, w.NewTransfer(bob, "2.5"))
	require.NoError(t, err)
	assert.Equal(t, "0xabc", ref.TxHash)
	assert.NotEmpty(t, ref.RequestID)

	require.Len(t, backend.orders, 1)
	assert.Equal(t, domain.TransferOrder{
		RecipientAddress: bob,
		HumanAmount:      "2.5",
		TokenSymbol:      "OPAL",
		RequestID:        ref.RequestID,
	}, backend.orders[0])

	assert.Eventually(t, func() bool {
		return w.Balance().Cmp(big.NewInt(7_500_000_000_000)) == 0
	}, waitFor, tick)
	assert.Len(t, w.Feed.History(), 2)
}

func TestTransfer_InsufficientFunds(t *testing.T) {
	backend := &fakeBackend{user: domain.UserProfile{Address: alice}}
	w, err := openWallet(t, backend, &fakeTransport{session: newSession(1_000_000_000_000, 1)}, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	_, err = w.Ready(ctx)
	require.NoError(t, err)

	_, err = w.Transfer(ctx, w.NewTransfer(bob, "2"))
	assert.ErrorIs(t, err, transfer.ErrInsufficientFunds)
	assert.Empty(t, backend.orders)
}

func TestRun_RendersUntilCancelled(t *testing.T) {
	session := newSession(1, 1)
	w, err := openWallet(t, &fakeBackend{user: domain.UserProfile{Address: alice}}, &fakeTransport{session: session}, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu     sync.Mutex
		states []feed.State
	)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(s feed.State) {
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
		})
	}()

	session.events <- feed.Event{Kind: feed.EventAccountChanged, Reading: feed.Reading{Balance: big.NewInt(1)}}
	height := uint64(2)
	session.events <- feed.Event{Kind: feed.EventAccountChanged, Reading: feed.Reading{Balance: big.NewInt(9), BlockHeight: &height}}

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 {
			return false
		}
		last := states[len(states)-1]
		return last.Current != nil && last.Current.Amount == "9"
	}, waitFor, tick)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("run did not stop")
	}
}

func TestRun_StopsOnFeedError(t *testing.T) {
	w, err := openWallet(t, &fakeBackend{user: domain.UserProfile{Address: alice}}, &fakeTransport{err: errors.New("refused")}, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err = w.Run(ctx, func(feed.State) {})
	var feedErr *feed.FeedError
	assert.ErrorAs(t, err, &feedErr)
}

func TestTransportProvider(t *testing.T) {
	p := NewTransportProvider(nil)

	sub, err := p.Transport(domain.ChainSubstrate)
	require.NoError(t, err)
	again, err := p.Transport(domain.ChainSubstrate)
	require.NoError(t, err)
	assert.Same(t, sub, again)

	_, err = p.Transport(domain.ChainEVM)
	assert.NoError(t, err)

	_, err = p.Transport("solana")
	assert.Error(t, err)
}
