package feed

import "github.com/vadiminshakov/tokenswallet/internal/domain"

// history newest-first list of snapshots capped at limit.
type history struct {
	items []domain.BalanceSnapshot
	limit int
}

func newHistory(limit int) *history {
	return &history{limit: limit}
}

// push inserts s at the front, evicting the oldest entries beyond limit.
func (h *history) push(s domain.BalanceSnapshot) {
	size := len(h.items) + 1
	if size > h.limit {
		size = h.limit
	}

	next := make([]domain.BalanceSnapshot, 0, size)
	next = append(next, s)
	for _, item := range h.items {
		if len(next) == size {
			break
		}
		next = append(next, item)
	}
	h.items = next
}

func (h *history) reset(s domain.BalanceSnapshot) {
	h.items = []domain.BalanceSnapshot{s}
}

func (h *history) snapshot() []domain.BalanceSnapshot {
	out := make([]domain.BalanceSnapshot, len(h.items))
	copy(out, h.items)
	return out
}
