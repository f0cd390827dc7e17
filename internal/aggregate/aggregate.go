// Package aggregate implements the worker's time-bucketed aggregating
// LRU (spec §4.4): records land in a bucket keyed by a truncated
// timestamp folded with a hash of the schema's term fields, numeric
// key fields are summed on collision, and completed buckets are handed
// to a sink on eviction or a final Clear.
package aggregate

import (
	"hash/fnv"
	"math"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"logtunnel/internal/logging"
	"logtunnel/internal/metrics"
	"logtunnel/internal/record"
	"logtunnel/internal/schema"
)

// capacity is the fixed bucket count from spec §4.4.
const capacity = 3600

// Sink receives a bucketed record once its aggregation window closes.
// The worker's sink serializes it and hands it to the tunnel.
type Sink func(*record.Record)

// Aggregator is owned by the worker goroutine alone; it is not safe for
// concurrent use, matching the reference driver's single-threaded
// aggregation stage.
type Aggregator struct {
	agg   *schema.Aggregation
	allow map[string]bool
	added map[string]bool
	path  string
	cache *lru.Cache[uint64, *record.Record]
}

// New builds an Aggregator for agg against the schema's attribute list.
// path is the source label stamped onto every bucket's "path" field on
// first insertion. sink is called once per bucket, in eviction order,
// never concurrently.
//
// attrs is used only to identify which field names originated from an
// ADD attribute: spec §4.4's field-pruning rule exempts ADD-kind
// fields from the allow-set check entirely, since they are schema
// constants rather than per-line data (mirroring the reference
// aggregator's `ignore` set, which only ever collects STORE fields).
func New(agg *schema.Aggregation, attrs []schema.Attribute, path string, sink Sink) (*Aggregator, error) {
	allow := make(map[string]bool, len(agg.Keys)+len(agg.Terms)+1)
	for _, k := range agg.Keys {
		allow[k] = true
	}
	for _, t := range agg.Terms {
		allow[t] = true
	}
	allow[agg.Time] = true

	added := make(map[string]bool)
	for _, attr := range attrs {
		if attr.Action == schema.ActionAdd {
			added[attr.Name] = true
		}
	}

	cache, err := lru.NewWithEvict[uint64, *record.Record](capacity, func(_ uint64, r *record.Record) {
		metrics.BucketsEvicted.Inc()
		sink(r)
	})
	if err != nil {
		return nil, errors.Wrap(err, "allocate aggregation lru")
	}

	return &Aggregator{agg: agg, allow: allow, added: added, path: path, cache: cache}, nil
}

// Insert prunes r to the aggregation's allow-set, computes its bucket
// key, and merges it into an existing bucket or inserts it as a new
// one. A record whose time field is missing/wrong-kind, or whose term
// fields resolve to an unhashable kind, is dropped and logged.
func (a *Aggregator) Insert(r *record.Record) {
	a.prune(r)

	tsVal, ok := r.Get(a.agg.Time)
	if !ok || tsVal.Kind != record.KindInt64 {
		logging.Log.WithField("time_field", a.agg.Time).Warn("aggregate: bucket time field missing or wrong kind, dropping record")
		return
	}

	var bucketTs int64
	if a.agg.Interval > 0 {
		interval := int64(a.agg.Interval)
		bucketTs = tsVal.Int64 - (tsVal.Int64 % interval)
	}
	r.Set(a.agg.Time, record.Int64(bucketTs))

	seed := uint64(bucketTs)
	for _, term := range a.agg.Terms {
		v, ok := r.Get(term)
		if !ok {
			logging.Log.WithField("term", term).Warn("aggregate: term field missing, dropping record")
			return
		}
		h, ok := hashValue(v)
		if !ok {
			logging.Log.WithField("term", term).Warn("aggregate: term field has unexpected kind, dropping record")
			return
		}
		seed = hashCombine(seed, h)
	}

	if existing, ok := a.cache.Peek(seed); ok {
		mergeInto(existing, r, a.agg.Keys)
		a.cache.Add(seed, existing)
		return
	}

	r.Set("count", record.Int64(1))
	r.Set("path", record.String(a.path))
	a.cache.Add(seed, r)
}

// Clear evicts every remaining bucket to the sink. The worker calls
// this exactly once, after the producer is done and the SPSC queue is
// empty (spec §4.2's shutdown sequence), before waiting on the
// tunnel's SendComplete.
func (a *Aggregator) Clear() {
	a.cache.Purge()
}

// Len reports the number of open buckets, used by tests and by the
// driver's shutdown logging.
func (a *Aggregator) Len() int {
	return a.cache.Len()
}

func (a *Aggregator) prune(r *record.Record) {
	for _, name := range r.Fields() {
		if name == "type" || a.allow[name] || a.added[name] {
			continue
		}
		r.Delete(name)
	}
}

// mergeInto folds rhs into lhs per spec §4.4's on_aggregation hook:
// bump count, sum every Aggregation.Keys field present in both records
// as the same numeric kind, leave everything else as lhs already has
// it.
func mergeInto(lhs, rhs *record.Record, keys []string) {
	count, _ := lhs.Get("count")
	lhs.Set("count", record.Int64(count.Int64+1))

	for _, key := range keys {
		l, lok := lhs.Get(key)
		r, rok := rhs.Get(key)
		if !lok || !rok || l.Kind != r.Kind {
			continue
		}
		switch l.Kind {
		case record.KindInt64:
			lhs.Set(key, record.Int64(l.Int64+r.Int64))
		case record.KindDouble:
			lhs.Set(key, record.Double(l.Double+r.Double))
		}
	}
}

func hashValue(v record.Value) (uint64, bool) {
	switch v.Kind {
	case record.KindString:
		h := fnv.New64a()
		h.Write([]byte(v.Str))
		return h.Sum64(), true
	case record.KindInt32:
		return uint64(int64(v.Int32)), true
	case record.KindInt64:
		return uint64(v.Int64), true
	case record.KindDouble:
		return math.Float64bits(v.Double), true
	default:
		return 0, false
	}
}

// hashCombine folds h into seed with the boost-style hash_combine
// mixing function the reference aggregator uses for its bucket keys.
func hashCombine(seed, h uint64) uint64 {
	return seed ^ (h + 0x9e3779b9 + (seed << 6) + (seed >> 2))
}
