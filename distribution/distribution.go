package distribution

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// Distribution is a bounded histogram of observed ack latencies in whole
// seconds, answering percentile queries for the deadline adaptation loop.
//
// Values are clamped into [0, maxValue] on record, so the bucket array is
// fixed-size for the lifetime of the distribution. Record is safe for
// concurrent use from many connections while Percentile is read by the
// adaptation loop; reads are eventually consistent with concurrently
// arriving samples, which is acceptable because the loop re-samples every
// period.
type Distribution struct {
	buckets []atomic.Int64
	total   *xsync.Counter
}

// New creates a distribution with buckets for values 0 through maxValue
// inclusive. maxValue must be non-negative.
func New(maxValue int) *Distribution {
	if maxValue < 0 {
		maxValue = 0
	}

	return &Distribution{
		buckets: make([]atomic.Int64, maxValue+1),
		total:   xsync.NewCounter(),
	}
}

// Record adds one observation, clamped into [0, maxValue]. It never fails.
func (d *Distribution) Record(value int) {
	if value < 0 {
		value = 0
	}
	if value >= len(d.buckets) {
		value = len(d.buckets) - 1
	}

	d.buckets[value].Add(1)
	d.total.Inc()
}

// Percentile returns the smallest recorded value v such that the
// cumulative count up to v covers at least p percent of all samples,
// for p in (0, 100]. It returns 0 when no samples have been recorded.
//
// Percentile is monotonic in p for any fixed sample set.
func (d *Distribution) Percentile(p float64) int {
	total := d.total.Value()
	if total == 0 {
		return 0
	}
	if p <= 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}

	// Ceiling of p/100*total: the rank of the sample we must cover.
	rank := (int64(p*float64(total)) + 99) / 100
	if rank < 1 {
		rank = 1
	}

	var cumulative int64
	for v := range d.buckets {
		cumulative += d.buckets[v].Load()
		if cumulative >= rank {
			return v
		}
	}

	// Samples recorded concurrently with the scan may not be covered;
	// the highest bucket is the correct bound in that case.
	return len(d.buckets) - 1
}

// Count returns the number of samples recorded since creation.
func (d *Distribution) Count() int64 {
	return d.total.Value()
}
