// Package balancesnapshots journals the balance history shown by a feed so it
// survives restarts and can be replayed to HTTP clients.
package balancesnapshots

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/tokenswallet/internal/domain"
)

const (
	defaultJournalDir = "./wal/balance"
	segmentThreshold  = 1000
	maxSegments       = 100

	keyPrefix     = "balance/"
	unknownHeight = "-"

	// MaxReplayBatch caps the records returned by one SnapshotsAfter call.
	MaxReplayBatch = 500
)

var errNotInitialized = errors.New("balance journal is not initialized")

// WALStore is an append-only journal of balance snapshots. Each record is keyed
// by account and block height and carries its own log index, so the newest
// record of every account is known without scanning the log.
type WALStore struct {
	mu     sync.RWMutex
	wal    *gowal.Wal
	newest map[string]uint64
}

// NewWALStore opens the journal under dir and indexes the records it already holds.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultJournalDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "journal_",
		SegmentThreshold: segmentThreshold,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "open balance journal")
	}

	s := &WALStore{wal: wal, newest: make(map[string]uint64)}
	for msg := range wal.Iterator() {
		account, _, ok := parseKey(msg.Key)
		if !ok {
			continue
		}
		var record domain.BalanceSnapshotRecord
		if err := json.Unmarshal(msg.Value, &record); err != nil {
			continue
		}
		if record.Index > s.newest[account] {
			s.newest[account] = record.Index
		}
	}

	return s, nil
}

// recordKey is "balance/<account>/<height>", with "-" for an unknown height.
func recordKey(snapshot domain.BalanceSnapshot) string {
	height := unknownHeight
	if h, ok := snapshot.Height(); ok {
		height = strconv.FormatUint(h, 10)
	}
	return keyPrefix + snapshot.Account + "/" + height
}

func parseKey(key string) (account string, height *uint64, ok bool) {
	rest, found := strings.CutPrefix(key, keyPrefix)
	if !found {
		return "", nil, false
	}
	i := strings.LastIndexByte(rest, '/')
	if i <= 0 {
		return "", nil, false
	}
	account, raw := rest[:i], rest[i+1:]
	if raw == unknownHeight {
		return account, nil, true
	}
	h, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return "", nil, false
	}
	return account, &h, true
}

// Save appends the snapshot. It satisfies feed.Journal.
func (s *WALStore) Save(snapshot domain.BalanceSnapshot) error {
	if s == nil || s.wal == nil {
		return errNotInitialized
	}
	if snapshot.Account == "" || strings.ContainsRune(snapshot.Account, '/') {
		return errors.Errorf("invalid snapshot account %q", snapshot.Account)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record := domain.BalanceSnapshotRecord{Index: s.wal.CurrentIndex() + 1, Snapshot: snapshot}
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encode balance snapshot")
	}
	if err := s.wal.Write(record.Index, recordKey(snapshot), payload); err != nil {
		return errors.Wrapf(err, "journal balance of %s", snapshot.Account)
	}
	s.newest[snapshot.Account] = record.Index
	return nil
}

// SnapshotsAfter returns up to MaxReplayBatch snapshots journaled after index,
// oldest first. A non-empty account limits the result to that account; callers
// page by passing the index of the last record they received.
func (s *WALStore) SnapshotsAfter(index uint64, account string) ([]domain.BalanceSnapshotRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errNotInitialized
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	last := s.wal.CurrentIndex()
	if account != "" {
		last = s.newest[account]
	}
	if last <= index {
		return nil, nil
	}

	records := make([]domain.BalanceSnapshotRecord, 0, min(last-index, MaxReplayBatch))
	for idx := index + 1; idx <= last && len(records) < MaxReplayBatch; idx++ {
		key, payload, ok := s.wal.Get(idx)
		if !ok {
			continue
		}
		owner, _, ok := parseKey(key)
		if !ok || (account != "" && owner != account) {
			continue
		}

		record, err := decodeRecord(idx, payload)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

// Latest returns the newest snapshot journaled for account.
func (s *WALStore) Latest(account string) (domain.BalanceSnapshot, bool, error) {
	if s == nil || s.wal == nil {
		return domain.BalanceSnapshot{}, false, errNotInitialized
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.newest[account]
	if !ok {
		return domain.BalanceSnapshot{}, false, nil
	}
	_, payload, ok := s.wal.Get(idx)
	if !ok {
		return domain.BalanceSnapshot{}, false, nil
	}
	record, err := decodeRecord(idx, payload)
	if err != nil {
		return domain.BalanceSnapshot{}, false, err
	}
	return record.Snapshot, true, nil
}

func decodeRecord(idx uint64, payload []byte) (domain.BalanceSnapshotRecord, error) {
	var record domain.BalanceSnapshotRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return domain.BalanceSnapshotRecord{}, errors.Wrapf(err, "decode balance snapshot at %d", idx)
	}
	record.Index = idx
	return record, nil
}

// CurrentIndex returns the index of the newest record in the journal.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the journal.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errNotInitialized
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
