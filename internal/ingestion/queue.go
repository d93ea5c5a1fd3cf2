package ingestion

import (
	"container/heap"

	"portfolio-tracker/internal/domain"
)

// refreshQueue orders assets by refresh urgency: oldest last_updated first,
// higher priority_score first on ties, asset_id as the final tie-break.
//
// Each failed refresh lowers priority_score by one; with a non-zero penalty the
// effective staleness of the asset is pushed back by penalty seconds per failure,
// so a permanently failing asset cannot starve the others.
type refreshQueue struct {
	items   itemHeap
	byID    map[string]*queueItem
	penalty int64 // seconds per priority point
}

type queueItem struct {
	state domain.RefreshState
	key   int64 // effective staleness
	index int
}

func newRefreshQueue(penalty int64) *refreshQueue {
	return &refreshQueue{
		byID:    make(map[string]*queueItem),
		penalty: penalty,
	}
}

// Reset replaces the queue contents.
func (q *refreshQueue) Reset(states []domain.RefreshState) {
	q.items = make(itemHeap, 0, len(states))
	q.byID = make(map[string]*queueItem, len(states))
	for _, st := range states {
		it := &queueItem{state: st, key: q.keyOf(st), index: len(q.items)}
		q.items = append(q.items, it)
		q.byID[st.AssetID] = it
	}
	heap.Init(&q.items)
}

// Len returns the number of queued assets.
func (q *refreshQueue) Len() int {
	return len(q.items)
}

// Peek returns the most urgent asset without removing it.
func (q *refreshQueue) Peek() (domain.RefreshState, bool) {
	if len(q.items) == 0 {
		return domain.RefreshState{}, false
	}
	return q.items[0].state, true
}

// Get returns the queued state of an asset.
func (q *refreshQueue) Get(assetID string) (domain.RefreshState, bool) {
	it, ok := q.byID[assetID]
	if !ok {
		return domain.RefreshState{}, false
	}
	return it.state, true
}

// Set inserts or repositions an asset.
func (q *refreshQueue) Set(st domain.RefreshState) {
	if it, ok := q.byID[st.AssetID]; ok {
		it.state = st
		it.key = q.keyOf(st)
		heap.Fix(&q.items, it.index)
		return
	}
	it := &queueItem{state: st, key: q.keyOf(st)}
	heap.Push(&q.items, it)
	q.byID[st.AssetID] = it
}

// MaxLastUpdated returns the newest last_updated among queued assets.
func (q *refreshQueue) MaxLastUpdated() int64 {
	var newest int64
	for _, it := range q.items {
		if it.state.LastUpdated > newest {
			newest = it.state.LastUpdated
		}
	}
	return newest
}

func (q *refreshQueue) keyOf(st domain.RefreshState) int64 {
	return st.LastUpdated - int64(st.PriorityScore)*q.penalty
}

// itemHeap implements heap.Interface.
type itemHeap []*queueItem

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.key != b.key {
		return a.key < b.key
	}
	if a.state.PriorityScore != b.state.PriorityScore {
		return a.state.PriorityScore > b.state.PriorityScore
	}
	return a.state.AssetID < b.state.AssetID
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *itemHeap) Push(x any) {
	it := x.(*queueItem)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}
