// Package holdings models a user's holdings as per-asset step functions of
// absolute amounts, and validates edits to the underlying events.
package holdings

import (
	"bytes"
	"sort"

	"portfolio-tracker/internal/domain"
)

// Timeline is the holding step function of one (user, asset): the amount of an
// event applies from its timestamp until the next event.
type Timeline struct {
	AssetID string
	events  []*domain.HoldingEvent // sorted by (timestamp, event_id)
}

// NewTimeline builds a timeline from events of a single asset.
func NewTimeline(assetID string, events []*domain.HoldingEvent) *Timeline {
	sorted := make([]*domain.HoldingEvent, 0, len(events))
	for _, e := range events {
		if e != nil && e.AssetID == assetID {
			sorted = append(sorted, e)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp != sorted[j].Timestamp {
			return sorted[i].Timestamp < sorted[j].Timestamp
		}
		return bytes.Compare(sorted[i].EventID[:], sorted[j].EventID[:]) < 0
	})
	return &Timeline{AssetID: assetID, events: sorted}
}

// GroupByAsset splits events into one timeline per asset, ordered by asset ID.
func GroupByAsset(events []*domain.HoldingEvent) []*Timeline {
	byAsset := make(map[string][]*domain.HoldingEvent)
	for _, e := range events {
		byAsset[e.AssetID] = append(byAsset[e.AssetID], e)
	}

	ids := make([]string, 0, len(byAsset))
	for id := range byAsset {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	timelines := make([]*Timeline, 0, len(ids))
	for _, id := range ids {
		timelines = append(timelines, NewTimeline(id, byAsset[id]))
	}
	return timelines
}

// Len returns the number of events.
func (t *Timeline) Len() int {
	return len(t.events)
}

// Events returns the ordered events. The slice must not be modified.
func (t *Timeline) Events() []*domain.HoldingEvent {
	return t.events
}

// First returns the earliest event.
func (t *Timeline) First() (*domain.HoldingEvent, bool) {
	if len(t.events) == 0 {
		return nil, false
	}
	return t.events[0], true
}

// Latest returns the most recent event.
func (t *Timeline) Latest() (*domain.HoldingEvent, bool) {
	if len(t.events) == 0 {
		return nil, false
	}
	return t.events[len(t.events)-1], true
}

// AmountAt returns the amount held at ts. ok is false before the first event.
func (t *Timeline) AmountAt(ts int64) (amount float64, ok bool) {
	// First event strictly after ts
	i := sort.Search(len(t.events), func(i int) bool {
		return t.events[i].Timestamp > ts
	})
	if i == 0 {
		return 0, false
	}
	return t.events[i-1].Amount, true
}

// AmountAtBucket returns the amount held at the bucket time index*bucketSize.
// The bucket holding the first event reads the amount as of that event, so the
// position counts from its own bucket even when the event is not bucket-aligned.
func (t *Timeline) AmountAtBucket(index, bucketSize int64) (amount float64, ok bool) {
	if len(t.events) == 0 {
		return 0, false
	}
	first := t.events[0].Timestamp
	if index < FloorDiv(first, bucketSize) {
		return 0, false
	}
	return t.AmountAt(max(index*bucketSize, first))
}

// FloorDiv divides rounding towards negative infinity.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
