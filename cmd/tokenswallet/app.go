package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vadiminshakov/tokenswallet/config"
	"github.com/vadiminshakov/tokenswallet/internal/clients"
	"github.com/vadiminshakov/tokenswallet/internal/domain"
	"github.com/vadiminshakov/tokenswallet/internal/feed"
	"github.com/vadiminshakov/tokenswallet/internal/storage/balancesnapshots"
	"github.com/vadiminshakov/tokenswallet/internal/storage/sessionstate"
	"github.com/vadiminshakov/tokenswallet/internal/ui"
	"github.com/vadiminshakov/tokenswallet/internal/wallet"
	"github.com/vadiminshakov/tokenswallet/internal/web"
	"github.com/vadiminshakov/tokenswallet/pkg/amount"
	"github.com/vadiminshakov/tokenswallet/pkg/retrier"
)

const cardHistoryRows = 10

type app struct {
	cfg     config.Config
	backend *clients.Backend
	session *sessionstate.Store
	tokens  *clients.TokenConfigProvider
	logger  *zap.Logger
}

func newApp(cfg config.Config, logger *zap.Logger) (*app, error) {
	backend, err := clients.NewBackend(clients.BackendConfig{
		BaseURL:   cfg.APIURL,
		Timeout:   cfg.HTTPTimeout,
		RateLimit: cfg.RateLimit,
	}, logger.Named("backend"))
	if err != nil {
		return nil, err
	}

	store, err := sessionstate.NewStoreIn(cfg.StateDir, sessionScope(cfg.APIURL))
	if err != nil {
		return nil, err
	}

	var source clients.ConfigSource
	if cfg.RemoteSettings {
		source = backend
	}

	a := &app{
		cfg:     cfg,
		backend: backend,
		session: store,
		tokens:  clients.NewTokenConfigProvider(source, cfg.Token, nil, logger.Named("token-config")),
		logger:  logger,
	}
	a.restoreSession()
	return a, nil
}

func (a *app) close() {
	_ = a.backend.Close()
}

// restoreSession loads the cookies saved by the last login.
func (a *app) restoreSession() {
	state, err := a.session.Load()
	if err != nil {
		a.logger.Warn("failed to load saved session", zap.Error(err))
		return
	}
	if state == nil {
		return
	}
	a.backend.SetCookies(state.HTTPCookies(time.Now()))
}

func (a *app) saveSession(user domain.UserProfile) error {
	return a.session.Save(sessionstate.State{
		User:    &user,
		Cookies: sessionstate.NewStoredCookies(a.backend.Cookies()),
		SavedAt: time.Now(),
	})
}

func (a *app) login(ctx context.Context, args []string) error {
	if len(args) > 0 {
		loginURL, err := a.backend.OAuthLoginURL(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Open %s in a browser to sign in with %s.\n", loginURL, args[0])
		return nil
	}

	form := &ui.LoginForm{}
	if err := form.Run(); err != nil {
		return err
	}

	authenticate := a.backend.Login
	if form.Register {
		authenticate = a.backend.Register
	}
	if err := authenticate(ctx, form.Credentials()); err != nil {
		return errors.New(ui.Message(err))
	}

	user, err := a.backend.CurrentUser(ctx)
	if err != nil {
		return errors.Wrap(err, "login succeeded but the user profile is unavailable")
	}
	if err := a.saveSession(user); err != nil {
		a.logger.Warn("failed to save session", zap.Error(err))
	}

	fmt.Printf("Signed in as %s.\n", user.Email)
	return nil
}

func (a *app) logout(ctx context.Context) error {
	err := a.backend.Logout(ctx)
	if clearErr := a.session.Clear(); clearErr != nil {
		a.logger.Warn("failed to clear saved session", zap.Error(clearErr))
	}
	if err != nil {
		return err
	}
	fmt.Println("Signed out.")
	return nil
}

func (a *app) balance(ctx context.Context) error {
	token, err := a.tokens.TokenConfig(ctx)
	if err != nil {
		return err
	}
	initial, err := a.backend.Balance(ctx)
	if err != nil {
		return errors.New(ui.Message(err))
	}
	minor, err := amount.ParseMinor(initial.Balance)
	if err != nil {
		return errors.Wrap(err, "backend returned a malformed balance")
	}

	snapshot := domain.NewBalanceSnapshot("", minor, initial.BlockNumber, time.Now())
	fmt.Println(ui.AvailableHint(snapshot, token))
	if initial.BlockNumber != nil {
		fmt.Printf("block #%d\n", *initial.BlockNumber)
	}
	return nil
}

// openWallet starts a wallet session. journal may be nil.
func (a *app) openWallet(ctx context.Context, journal feed.Journal) (*wallet.Wallet, error) {
	w, err := wallet.Open(ctx, a.backend, a.tokens, wallet.Options{
		Account:    a.cfg.Account,
		MaxHistory: a.cfg.MaxHistory,
		Reconnect: retrier.New(
			retrier.WithInitialInterval(a.cfg.Reconnect.InitialInterval),
			retrier.WithMaxInterval(a.cfg.Reconnect.MaxInterval),
			retrier.WithMultiplier(a.cfg.Reconnect.Multiplier),
			retrier.WithMaxRetries(a.cfg.Reconnect.MaxAttempts),
		),
		Journal: journal,
		Logger:  a.logger,
	})
	if err != nil {
		if errors.Is(err, clients.ErrUnauthorized) {
			return nil, errors.New("not logged in: run `tokenswallet login` first")
		}
		return nil, err
	}
	if w.User.ID != "" {
		if err := a.saveSession(w.User); err != nil {
			a.logger.Warn("failed to save session", zap.Error(err))
		}
	}
	return w, nil
}

func (a *app) watch(ctx context.Context) error {
	w, err := a.openWallet(ctx, nil)
	if err != nil {
		return err
	}
	defer w.Close()

	return w.Run(ctx, func(state feed.State) {
		fmt.Print("\033[H\033[2J")
		fmt.Println(ui.RenderBalanceCard(state, w.Token, cardHistoryRows))
	})
}

func (a *app) transfer(ctx context.Context, args []string) error {
	w, err := a.openWallet(ctx, nil)
	if err != nil {
		return err
	}
	defer w.Close()

	current, err := w.Ready(ctx)
	if err != nil {
		return err
	}

	if len(args) == 2 {
		ref, err := w.Transfer(ctx, w.NewTransfer(args[0], args[1]))
		if err != nil {
			return errors.New(ui.Message(err))
		}
		fmt.Println(ui.RenderTransferResult(ref))
		return nil
	}
	if len(args) != 0 {
		return errors.New("usage: tokenswallet transfer [recipient amount]")
	}

	form := &ui.TransferForm{}
	for {
		if err := form.Run(ui.AvailableHint(current, w.Token)); err != nil {
			return err
		}
		form.Apply(w.Transfer(ctx, form.Request(w.Token, w.Balance())))
		if form.Result != nil {
			fmt.Println(ui.RenderTransferResult(*form.Result))
			return nil
		}
		if snapshot, ok := w.Feed.Current(); ok {
			current = snapshot
		}
	}
}

func (a *app) serve(ctx context.Context) error {
	journal, err := balancesnapshots.NewWALStore(a.cfg.JournalDir)
	if err != nil {
		return errors.Wrap(err, "failed to open balance journal")
	}
	defer journal.Close()

	w, err := a.openWallet(ctx, journal)
	if err != nil {
		return err
	}
	defer w.Close()

	if last, ok, err := journal.Latest(w.Account); err != nil {
		a.logger.Warn("failed to read balance journal", zap.Error(err))
	} else if ok {
		a.logger.Info("last journaled balance",
			zap.String("amount", amount.ToHuman(last.AmountInt(), w.Token.Decimals)),
			zap.Time("captured_at", last.CapturedAt),
		)
	}

	server := web.NewServer(a.cfg.HTTPAddr, journal, w.Feed, w.Token, a.logger.Named("web"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		return w.Run(gctx, func(state feed.State) {
			if state.Current != nil {
				a.logger.Info("balance",
					zap.String("amount", amount.ToHuman(state.Current.AmountInt(), w.Token.Decimals)),
					zap.Stringer("status", state.Status),
				)
			}
		})
	})

	return g.Wait()
}

func sessionScope(apiURL string) string {
	u, err := url.Parse(apiURL)
	if err != nil || u.Host == "" {
		return apiURL
	}
	return u.Host
}
