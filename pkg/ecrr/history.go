package ecrr

// DefaultHistoryLimit bounds each per-pipeline artifact history
const DefaultHistoryLimit = 128

// history keeps the most recent limit values by id, evicting the oldest
// insert first. It is not safe for concurrent use; Pipeline guards it.
type history[V any] struct {
	limit int
	order []string
	items map[string]V
}

func newHistory[V any](limit int) *history[V] {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &history[V]{limit: limit, items: make(map[string]V)}
}

func (h *history[V]) put(id string, v V) {
	if _, ok := h.items[id]; !ok {
		h.order = append(h.order, id)
	}
	h.items[id] = v
	for len(h.order) > h.limit {
		delete(h.items, h.order[0])
		h.order = append(h.order[:0:0], h.order[1:]...)
	}
}

func (h *history[V]) get(id string) (V, bool) {
	v, ok := h.items[id]
	return v, ok
}

// values returns the retained values, oldest first
func (h *history[V]) values() []V {
	out := make([]V, 0, len(h.order))
	for _, id := range h.order {
		out = append(out, h.items[id])
	}
	return out
}

func (h *history[V]) len() int {
	return len(h.order)
}
