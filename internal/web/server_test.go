package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vadiminshakov/tokenswallet/internal/domain"
	"github.com/vadiminshakov/tokenswallet/internal/feed"
)

type staticFeed struct {
	account string
	state   feed.State
}

func (f staticFeed) Account() string   { return f.account }
func (f staticFeed) State() feed.State { return f.state }

type memoryStore struct {
	records []domain.BalanceSnapshotRecord
	err     error
}

func (m *memoryStore) SnapshotsAfter(index uint64, account string) ([]domain.BalanceSnapshotRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.BalanceSnapshotRecord
	for _, r := range m.records {
		if r.Index > index && (account == "" || r.Snapshot.Account == account) {
			out = append(out, r)
		}
	}
	return out, nil
}

func snap(account string, minor int64, height uint64) domain.BalanceSnapshot {
	return domain.NewBalanceSnapshot(account, big.NewInt(minor), &height, time.Unix(1700000000, 0).UTC())
}

var opal = domain.TokenConfig{Symbol: "OPAL", Decimals: 12, Chain: domain.ChainSubstrate, ChainEndpoint: "wss://x"}

func TestServer_Balance(t *testing.T) {
	current := snap("alice", 1_500_000_000_000, 9)
	f := staticFeed{account: "alice", state: feed.State{
		Status:     domain.StatusConnecting,
		Current:    &current,
		History:    []domain.BalanceSnapshot{current, snap("alice", 1_000_000_000_000, 3)},
		Suppressed: 2,
	}}
	srv := NewServer("", nil, f, opal, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/balance", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var view BalanceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "alice", view.Account)
	assert.Equal(t, "connecting", view.Status)
	assert.Equal(t, "reconnecting", view.Indicator)
	require.NotNil(t, view.Current)
	assert.Equal(t, "1.5", view.Current.Human)
	assert.Equal(t, "OPAL", view.Current.Symbol)
	require.Len(t, view.History, 2)
	assert.Equal(t, "1", view.History[1].Human)
	assert.Equal(t, uint64(2), view.Suppressed)
}

func TestServer_BalanceError(t *testing.T) {
	f := staticFeed{account: "alice", state: feed.State{
		Status: domain.StatusError,
		Err:    &feed.FeedError{Account: "alice", Err: errors.New("node unreachable")},
	}}
	srv := NewServer("", nil, f, opal, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/balance", nil))

	var view BalanceView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "error", view.Indicator)
	assert.Contains(t, view.Error, "node unreachable")
	assert.Nil(t, view.Current)
	assert.Empty(t, view.History)
}

func TestServer_Unavailable(t *testing.T) {
	srv := NewServer("", nil, nil, opal, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/balance", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/balance/stream", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_Index(t *testing.T) {
	srv := NewServer("", nil, nil, opal, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/balance/stream")
}

func TestServer_Stream(t *testing.T) {
	store := &memoryStore{records: []domain.BalanceSnapshotRecord{
		{Index: 1, Snapshot: snap("alice", 100, 1)},
		{Index: 2, Snapshot: snap("bob", 5, 1)},
		{Index: 3, Snapshot: snap("alice", 200, 2)},
	}}
	f := staticFeed{account: "alice", state: feed.State{Status: domain.StatusOnline}}
	srv := NewServer("", store, f, domain.TokenConfig{Symbol: "T", Decimals: 2}, nil)
	srv.PollInterval = 10 * time.Millisecond

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/balance/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var data []string
	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() && len(data) < 3 {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			events = append(events, strings.TrimPrefix(line, "event: "))
		case strings.HasPrefix(line, "data: "):
			data = append(data, strings.TrimPrefix(line, "data: "))
		}
	}
	cancel()

	require.Len(t, data, 3)
	assert.Equal(t, []string{"balance", "balance", "status"}, events)

	var first SnapshotView
	require.NoError(t, json.Unmarshal([]byte(data[0]), &first))
	assert.Equal(t, "1", first.Human)
	var second SnapshotView
	require.NoError(t, json.Unmarshal([]byte(data[1]), &second))
	assert.Equal(t, "2", second.Human)
	assert.Equal(t, `"online"`, data[2])
}

func TestServer_StreamLoadError(t *testing.T) {
	srv := NewServer("", &memoryStore{err: errors.New("disk")}, nil, opal, nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/balance/stream", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "wallet_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	srv := NewServer("", nil, nil, opal, nil)
	srv.Gatherer = reg

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "wallet_test_total 1")
}
