package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokenswallet/internal/domain"
)

const sessionCookie = "authToken"

// fakeBackend mimics the wallet backend: a cookie session plus the substrate endpoints.
type fakeBackend struct {
	mu        sync.Mutex
	transfers []domain.TransferOrder
	keys      []string
	failWith  string
}

func (f *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /users/login", func(w http.ResponseWriter, r *http.Request) {
		var creds Credentials
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		if creds.Password != "secret" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Invalid credentials"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "jwt", Path: "/", HttpOnly: true})
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /users/register", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{})
	})

	mux.HandleFunc("GET /auth/user-info", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, domain.UserProfile{ID: "1", Name: "Alice", Email: "alice@example.com", Address: "5Grw"})
	})

	mux.HandleFunc("GET /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: sessionCookie, Value: "", Path: "/", MaxAge: -1})
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("GET /substrate/config", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"rpcUrl":     "wss://rpc.example",
			"tokenId":    "UNQ",
			"ss58Prefix": 42,
			"decimals":   18,
		})
	})

	mux.HandleFunc("GET /substrate/balance", func(w http.ResponseWriter, r *http.Request) {
		if !authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"balance": "1500000000000", "blockNumber": 77})
	})

	mux.HandleFunc("POST /substrate/transfer", func(w http.ResponseWriter, r *http.Request) {
		var order domain.TransferOrder
		require.NoError(t, json.NewDecoder(r.Body).Decode(&order))

		f.mu.Lock()
		f.transfers = append(f.transfers, order)
		f.keys = append(f.keys, r.Header.Get(idempotencyKey))
		failWith := f.failWith
		f.mu.Unlock()

		if failWith != "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": failWith})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"txHash": "0xfeed", "status": "submitted"})
	})

	return mux
}

func authorized(r *http.Request) bool {
	c, err := r.Cookie(sessionCookie)
	return err == nil && c.Value == "jwt"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestBackend(t *testing.T) (*Backend, *fakeBackend) {
	t.Helper()

	fake := &fakeBackend{}
	srv := httptest.NewServer(fake.handler(t))
	t.Cleanup(srv.Close)

	backend, err := NewBackend(BackendConfig{BaseURL: srv.URL, RateLimit: 1000}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	return backend, fake
}

func TestBackend_LoginSession(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()

	_, err := backend.CurrentUser(ctx)
	require.ErrorIs(t, err, ErrUnauthorized)

	err = backend.Login(ctx, Credentials{Email: "alice@example.com", Password: "wrong"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "Invalid credentials", apiErr.ServerMessage())

	require.NoError(t, backend.Login(ctx, Credentials{Email: "alice@example.com", Password: "secret"}))
	assert.NotEmpty(t, backend.Cookies())

	user, err := backend.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Alice", user.Name)
	assert.Equal(t, "5Grw", user.Address)

	require.NoError(t, backend.Logout(ctx))
	_, err = backend.CurrentUser(ctx)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestBackend_LoginRequiresCredentials(t *testing.T) {
	backend, _ := newTestBackend(t)
	assert.Error(t, backend.Login(context.Background(), Credentials{Email: "a@b.c"}))
}

func TestBackend_RegisterFallbackMessage(t *testing.T) {
	backend, _ := newTestBackend(t)

	err := backend.Register(context.Background(), Credentials{Email: "a@b.c", Password: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "registration failed", apiErr.Message)
}

func TestBackend_RestoreCookies(t *testing.T) {
	backend, _ := newTestBackend(t)
	require.NoError(t, backend.Login(context.Background(), Credentials{Email: "a@b.c", Password: "secret"}))

	other, err := NewBackend(BackendConfig{BaseURL: backend.BaseURL()}, nil)
	require.NoError(t, err)
	defer other.Close()

	other.SetCookies(backend.Cookies())
	_, err = other.CurrentUser(context.Background())
	assert.NoError(t, err)
}

func TestBackend_SubstrateConfigAndBalance(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()

	cfg, err := backend.SubstrateConfig(ctx)
	require.NoError(t, err)
	assert.Equal(t, "wss://rpc.example", cfg.RPCURL)
	assert.Equal(t, "UNQ", cfg.TokenID)
	require.NotNil(t, cfg.Decimals)
	assert.Equal(t, 18, *cfg.Decimals)

	_, err = backend.Balance(ctx)
	require.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, backend.Login(ctx, Credentials{Email: "a@b.c", Password: "secret"}))
	balance, err := backend.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1500000000000", balance.Balance)
	require.NotNil(t, balance.BlockNumber)
	assert.Equal(t, uint64(77), *balance.BlockNumber)
}

func TestBackend_Transfer(t *testing.T) {
	backend, fake := newTestBackend(t)
	ctx := context.Background()

	order := domain.TransferOrder{RecipientAddress: "5Grw", HumanAmount: "1.5", TokenSymbol: "OPAL", RequestID: "req-9"}
	ref, err := backend.Transfer(ctx, order)
	require.NoError(t, err)
	assert.Equal(t, "0xfeed", ref.TxHash)
	assert.Equal(t, "req-9", ref.RequestID)

	fake.mu.Lock()
	require.Len(t, fake.transfers, 1)
	assert.Equal(t, "1.5", fake.transfers[0].HumanAmount)
	assert.Equal(t, "req-9", fake.keys[0])
	fake.failWith = "Not enough fee balance"
	fake.mu.Unlock()

	_, err = backend.Transfer(ctx, order)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "Not enough fee balance", apiErr.ServerMessage())
}

func TestBackend_OAuthLoginURL(t *testing.T) {
	backend, err := NewBackend(BackendConfig{BaseURL: "https://backend.example/"}, nil)
	require.NoError(t, err)
	defer backend.Close()

	u, err := backend.OAuthLoginURL("Google")
	require.NoError(t, err)
	assert.Equal(t, "https://backend.example/auth/google", u)

	_, err = backend.OAuthLoginURL(" ")
	assert.Error(t, err)
}

func TestNewBackend_InvalidURL(t *testing.T) {
	_, err := NewBackend(BackendConfig{BaseURL: "not a url"}, nil)
	assert.Error(t, err)
}
