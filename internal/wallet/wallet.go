// Package wallet wires a logged-in session: user profile, token config, chain
// transport, balance feed and transfer submitter.
package wallet

import (
	"context"
	"math/big"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokenswallet/internal/chain"
	"github.com/vadiminshakov/tokenswallet/internal/clients"
	"github.com/vadiminshakov/tokenswallet/internal/domain"
	"github.com/vadiminshakov/tokenswallet/internal/feed"
	"github.com/vadiminshakov/tokenswallet/internal/transfer"
)

// ErrNoAccount is returned when neither the user profile nor the options name an account.
var ErrNoAccount = errors.New("no account to watch: log in or pass --account")

// Backend is the part of the backend client a wallet session needs.
type Backend interface {
	CurrentUser(ctx context.Context) (domain.UserProfile, error)
	transfer.Endpoint
}

// TokenConfigSource resolves the token configuration of the session.
type TokenConfigSource interface {
	TokenConfig(ctx context.Context) (domain.TokenConfig, error)
}

// Options of a wallet session. Zero values fall back to defaults.
type Options struct {
	// Account overrides the address from the user profile.
	Account    string
	MaxHistory int
	Reconnect  feed.ReconnectStrategy
	Journal    feed.Journal
	Transports TransportProvider
	Logger     *zap.Logger
}

// Wallet is one open session.
type Wallet struct {
	User      domain.UserProfile
	Account   string
	Token     domain.TokenConfig
	Feed      *feed.Handle
	Submitter *transfer.Submitter

	logger *zap.Logger
}

// Open resolves the user and the token config, then starts the balance feed.
// The feed connects in the background; use Ready to wait for the first balance.
func Open(ctx context.Context, backend Backend, tokens TokenConfigSource, opts Options) (*Wallet, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Transports == nil {
		opts.Transports = NewTransportProvider(opts.Logger)
	}

	user, err := backend.CurrentUser(ctx)
	if err != nil {
		if opts.Account == "" || !errors.Is(err, clients.ErrUnauthorized) {
			return nil, errors.Wrap(err, "failed to load user profile")
		}
		opts.Logger.Info("not logged in, watching the configured account only")
	}

	account := opts.Account
	if account == "" {
		account = user.Address
	}
	if account == "" {
		return nil, ErrNoAccount
	}

	token, err := tokens.TokenConfig(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load token config")
	}

	validator, err := chain.ForChain(token)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateAddress(account); err != nil {
		return nil, errors.Wrapf(err, "account %s", account)
	}

	transport, err := opts.Transports.Transport(token.Chain)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create chain transport")
	}

	logger := opts.Logger.With(zap.String("account", account), zap.String("symbol", token.Symbol))

	handle := feed.Open(transport, account, token.ChainEndpoint, feed.Options{
		MaxHistory: opts.MaxHistory,
		Reconnect:  opts.Reconnect,
		Journal:    opts.Journal,
		Logger:     logger.Named("feed"),
	})

	submitter := transfer.NewSubmitter(backend, validator, logger.Named("transfer"),
		transfer.WithSingleFlight(),
		transfer.WithOnSuccess(func(ref domain.TransactionReference) {
			handle.Refresh()
		}),
	)

	logger.Info("wallet session opened", zap.String("endpoint", token.ChainEndpoint), zap.String("chain", string(token.Chain)))

	return &Wallet{
		User:      user,
		Account:   account,
		Token:     token,
		Feed:      handle,
		Submitter: submitter,
		logger:    logger,
	}, nil
}

// Ready blocks until the feed holds a balance. It fails when the feed stops
// with an error or ctx is done.
func (w *Wallet) Ready(ctx context.Context) (domain.BalanceSnapshot, error) {
	updates, stop := w.Feed.Subscribe()
	defer stop()

	state := w.Feed.State()
	for {
		if state.Current != nil {
			return *state.Current, nil
		}
		if state.Status.IsTerminal() {
			if state.Err != nil {
				return domain.BalanceSnapshot{}, state.Err
			}
			return domain.BalanceSnapshot{}, errors.New("balance feed closed")
		}

		select {
		case <-ctx.Done():
			return domain.BalanceSnapshot{}, ctx.Err()
		case next, ok := <-updates:
			if !ok {
				return domain.BalanceSnapshot{}, errors.New("balance feed closed")
			}
			state = next
		}
	}
}

// Balance returns the current balance in minor units, nil when unknown.
func (w *Wallet) Balance() *big.Int {
	current, ok := w.Feed.Current()
	if !ok {
		return nil
	}
	return current.AmountInt()
}

// NewTransfer builds a transfer request against the current balance.
func (w *Wallet) NewTransfer(recipient, humanAmount string) domain.TransferRequest {
	return domain.TransferRequest{
		RecipientAddress:         recipient,
		HumanAmount:              humanAmount,
		TokenSymbol:              w.Token.Symbol,
		TokenDecimals:            w.Token.Decimals,
		CurrentBalanceMinorUnits: w.Balance(),
	}
}

// Transfer validates and submits a transfer. A successful submission refreshes the feed.
func (w *Wallet) Transfer(ctx context.Context, req domain.TransferRequest) (domain.TransactionReference, error) {
	return w.Submitter.Submit(ctx, req)
}

// Run calls render with every state change of the feed until ctx is done or
// the feed stops. It returns the feed error, if any.
func (w *Wallet) Run(ctx context.Context, render func(feed.State)) error {
	updates, stop := w.Feed.Subscribe()
	defer stop()

	state := w.Feed.State()
	render(state)

	for {
		if state.Status.IsTerminal() {
			return state.Err
		}

		select {
		case <-ctx.Done():
			w.logger.Info("context done, stopping wallet run loop")
			return ctx.Err()
		case next, ok := <-updates:
			if !ok {
				return nil
			}
			state = next
			render(state)
		}
	}
}

// Close stops the balance feed.
func (w *Wallet) Close() error {
	return w.Feed.Close()
}
