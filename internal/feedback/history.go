package feedback

import (
	"sort"
	"sync"
)

// History keeps the most recent records per KPI key.
type History struct {
	mu    sync.RWMutex
	limit int
	byKey map[string][]Record
}

// NewHistory creates a History retaining limit records per key.
func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = DefaultConfig().HistoryLimit
	}
	return &History{limit: limit, byKey: make(map[string][]Record)}
}

// Append records r under its KPI key.
func (h *History) Append(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()

	recs := append(h.byKey[r.KPIKey], r)
	if len(recs) > h.limit {
		recs = append([]Record(nil), recs[len(recs)-h.limit:]...)
	}
	h.byKey[r.KPIKey] = recs
}

// Recent returns up to n of the latest records for key, oldest first.
// n <= 0 returns everything retained.
func (h *History) Recent(key string, n int) []Record {
	h.mu.RLock()
	defer h.mu.RUnlock()

	recs := h.byKey[key]
	if n > 0 && len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	return append([]Record(nil), recs...)
}

// RecentRegressions counts regressed outcomes among the latest n records.
func (h *History) RecentRegressions(key string, n int) int {
	count := 0
	for _, r := range h.Recent(key, n) {
		if r.Outcome == OutcomeRegressed {
			count++
		}
	}
	return count
}

// Keys lists KPI keys with history, sorted.
func (h *History) Keys() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	keys := make([]string, 0, len(h.byKey))
	for k := range h.byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
