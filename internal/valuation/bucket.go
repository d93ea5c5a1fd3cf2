package valuation

import "portfolio-tracker/internal/domain"

// BucketSize returns the bucket width in seconds for a window of the given
// number of points; at least 1 so short windows never divide by zero.
func BucketSize(origin, end, points int64) int64 {
	if points <= 0 {
		points = DefaultPoints
	}
	size := (end - origin) / points
	if size < 1 {
		return 1
	}
	return size
}

// forwardFill walks ascending bucket averages and returns, for each queried
// index, the latest average at or before it. Buckets before seedBefore only
// seed the carried price.
type forwardFill struct {
	buckets []domain.BucketPrice
	next    int
	price   float64
	known   bool
}

func newForwardFill(buckets []domain.BucketPrice, seedBefore int64) *forwardFill {
	f := &forwardFill{buckets: buckets}
	for f.next < len(buckets) && buckets[f.next].Bucket < seedBefore {
		f.price = buckets[f.next].AvgPrice
		f.known = true
		f.next++
	}
	return f
}

// At returns the carried price for index. Indices must be queried in ascending order.
func (f *forwardFill) At(index int64) (float64, bool) {
	for f.next < len(f.buckets) && f.buckets[f.next].Bucket <= index {
		f.price = f.buckets[f.next].AvgPrice
		f.known = true
		f.next++
	}
	return f.price, f.known
}
