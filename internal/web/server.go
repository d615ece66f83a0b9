package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tokenswallet/internal/domain"
	"github.com/vadiminshakov/tokenswallet/internal/feed"
	"github.com/vadiminshakov/tokenswallet/pkg/amount"
)

const (
	snapshotPollInterval = 2 * time.Second
	heartbeatInterval    = 30 * time.Second
)

type balanceSnapshotReader interface {
	SnapshotsAfter(index uint64, account string) ([]domain.BalanceSnapshotRecord, error)
}

type feedState interface {
	Account() string
	State() feed.State
}

// Server exposes the balance display over HTTP: an HTML page, the feed state
// as JSON, an SSE stream of journaled snapshots and prometheus metrics.
type Server struct {
	Addr     string
	Store    balanceSnapshotReader
	Feed     feedState
	Token    domain.TokenConfig
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger

	PollInterval time.Duration
}

// NewServer creates a new web server instance.
func NewServer(addr string, store balanceSnapshotReader, f feedState, token domain.TokenConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		Addr:         addr,
		Store:        store,
		Feed:         f,
		Token:        token,
		Gatherer:     prometheus.DefaultGatherer,
		Logger:       logger,
		PollInterval: snapshotPollInterval,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/balance", s.handleBalance)
	mux.HandleFunc("/balance/stream", s.handleBalanceStream)
	if s.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.Logger.Info("web server listening", zap.String("addr", s.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// SnapshotView is a balance snapshot as served to HTTP clients.
type SnapshotView struct {
	Amount      string    `json:"amount"`
	Human       string    `json:"human"`
	Symbol      string    `json:"symbol"`
	BlockHeight *uint64   `json:"block_height,omitempty"`
	CapturedAt  time.Time `json:"ts"`
}

// BalanceView is the JSON body of GET /balance.
type BalanceView struct {
	Account    string         `json:"account"`
	Status     string         `json:"status"`
	Indicator  string         `json:"indicator"`
	Current    *SnapshotView  `json:"current,omitempty"`
	History    []SnapshotView `json:"history"`
	Error      string         `json:"error,omitempty"`
	Suppressed uint64         `json:"suppressed"`
}

func (s *Server) view(snapshot domain.BalanceSnapshot) SnapshotView {
	return SnapshotView{
		Amount:      snapshot.Amount,
		Human:       amount.ToHuman(snapshot.AmountInt(), s.Token.Decimals),
		Symbol:      s.Token.Symbol,
		BlockHeight: snapshot.BlockHeight,
		CapturedAt:  snapshot.CapturedAt,
	}
}

func (s *Server) balanceView() BalanceView {
	state := s.Feed.State()
	v := BalanceView{
		Account:    s.Feed.Account(),
		Status:     state.Status.String(),
		Indicator:  state.Status.Indicator().String(),
		History:    make([]SnapshotView, 0, len(state.History)),
		Suppressed: state.Suppressed,
	}
	if state.Current != nil {
		current := s.view(*state.Current)
		v.Current = &current
	}
	for _, snapshot := range state.History {
		v.History = append(v.History, s.view(snapshot))
	}
	if state.Err != nil {
		v.Error = state.Err.Error()
	}
	return v
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if s.Feed == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "balance feed not available")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.balanceView()); err != nil {
		s.Logger.Warn("encode balance view", zap.Error(err))
	}
}

func (s *Server) handleBalanceStream(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "snapshot store not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	account := r.URL.Query().Get("account")
	if account == "" && s.Feed != nil {
		account = s.Feed.Account()
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// comment heartbeat so proxies keep the connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	interval := s.PollInterval
	if interval <= 0 {
		interval = snapshotPollInterval
	}
	pollTicker := time.NewTicker(interval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	lastStatus := ""
	sendSnapshots := func() error {
		records, err := s.Store.SnapshotsAfter(lastIndex, account)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(s.view(record.Snapshot))
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: balance\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			lastIndex = record.Index
		}
		if s.Feed != nil {
			if status := s.Feed.State().Status.Indicator().String(); status != lastStatus {
				fmt.Fprintf(w, "event: status\n")
				fmt.Fprintf(w, "data: %q\n\n", status)
				lastStatus = status
			}
		}
		flusher.Flush()
		return nil
	}

	if err := sendSnapshots(); err != nil {
		http.Error(w, "failed to load snapshots", http.StatusInternalServerError)
		s.Logger.Error("balance stream initial load", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendSnapshots(); err != nil {
				s.Logger.Warn("balance stream poll", zap.Error(err))
			}
		}
	}
}

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>tokenswallet</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 40rem; margin: 2rem auto; color: #222; }
.card { border: 1px solid #ddd; border-radius: .5rem; padding: 1rem 1.5rem; }
.balance { font-size: 2rem; font-weight: 600; }
.status { font-size: .9rem; }
.online { color: #2a9d3c; } .reconnecting { color: #c98a00; } .error { color: #c62828; }
table { width: 100%; border-collapse: collapse; margin-top: 1rem; font-size: .9rem; }
td, th { text-align: left; padding: .25rem .5rem; border-bottom: 1px solid #eee; }
</style>
</head>
<body>
<div class="card">
  <div class="status" id="status">connecting</div>
  <div class="balance" id="balance">&mdash;</div>
  <div id="block"></div>
  <table><thead><tr><th>Amount</th><th>Block</th><th>Time</th></tr></thead><tbody id="history"></tbody></table>
</div>
<script>
const fmt = s => s.human + ' ' + s.symbol;
function row(s) {
  const tr = document.createElement('tr');
  [fmt(s), s.block_height ?? '', new Date(s.ts).toLocaleString()].forEach(v => {
    const td = document.createElement('td'); td.textContent = v; tr.appendChild(td);
  });
  return tr;
}
function setStatus(st) {
  const el = document.getElementById('status');
  el.textContent = st; el.className = 'status ' + st;
}
fetch('/balance').then(r => r.json()).then(v => {
  setStatus(v.indicator);
  if (v.current) {
    document.getElementById('balance').textContent = fmt(v.current);
    document.getElementById('block').textContent = v.current.block_height ? 'block #' + v.current.block_height : '';
  }
});
const es = new EventSource('/balance/stream');
es.addEventListener('status', e => setStatus(JSON.parse(e.data)));
es.addEventListener('balance', e => {
  const s = JSON.parse(e.data);
  document.getElementById('balance').textContent = fmt(s);
  document.getElementById('block').textContent = s.block_height ? 'block #' + s.block_height : '';
  const body = document.getElementById('history');
  body.insertBefore(row(s), body.firstChild);
  while (body.children.length > 50) body.removeChild(body.lastChild);
});
</script>
</body>
</html>
`
