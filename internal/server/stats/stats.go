// Package stats tracks per-DID usage: monotonic lifetime counters plus a
// five-minute time series used for ranged activity queries. Counters ride
// inside the publish batch; series writes are best-effort and never fail
// the operation that triggered them.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/affinidi/affinidi-webvh-service/internal/logging"
	"github.com/affinidi/affinidi-webvh-service/internal/server/store"
)

// GlobalSeries is the pseudo-mnemonic that aggregates activity across all
// DIDs.
const GlobalSeries = "_all"

const (
	bucketSize = 300 * time.Second
	retention  = 30 * 24 * time.Hour
)

// Stats are the lifetime counters for one mnemonic.
type Stats struct {
	Mnemonic       string `json:"mnemonic"`
	TotalResolves  int64  `json:"total_resolves"`
	TotalUpdates   int64  `json:"total_updates"`
	LastResolvedAt *int64 `json:"last_resolved_at,omitempty"`
	LastUpdatedAt  *int64 `json:"last_updated_at,omitempty"`
}

// Bucket is one time-series slot.
type Bucket struct {
	Start    int64 `json:"start"`
	Resolves int64 `json:"resolves"`
	Updates  int64 `json:"updates"`
}

// TimeRange is a supported query window with its aggregation step.
type TimeRange struct {
	Window time.Duration
	Step   time.Duration
}

var ranges = map[string]TimeRange{
	"1h":  {Window: time.Hour, Step: 300 * time.Second},
	"24h": {Window: 24 * time.Hour, Step: 900 * time.Second},
	"7d":  {Window: 7 * 24 * time.Hour, Step: 3600 * time.Second},
	"30d": {Window: 30 * 24 * time.Hour, Step: 14400 * time.Second},
}

// ParseRange resolves a range name like "24h" to its window and step.
func ParseRange(name string) (TimeRange, error) {
	r, ok := ranges[name]
	if !ok {
		return TimeRange{}, fmt.Errorf("%w: unknown time range %q", common.ErrorValidation, name)
	}
	return r, nil
}

// Collector reads and writes stats records.
type Collector struct {
	store store.Store
	log   logging.Logger
	now   func() time.Time
}

func NewCollector(s store.Store, log logging.Logger) *Collector {
	return &Collector{store: s, log: log, now: time.Now}
}

// Get returns the counters for a mnemonic. A mnemonic with no activity
// yet has zero counters, not an error.
func (c *Collector) Get(ctx context.Context, mnemonic string) (Stats, error) {
	raw, err := c.store.Get(ctx, store.StatsKey(mnemonic))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return Stats{Mnemonic: mnemonic}, nil
		}
		return Stats{}, err
	}
	var s Stats
	if err := json.Unmarshal(raw, &s); err != nil {
		return Stats{}, fmt.Errorf("%w: stats for %s: %v", common.ErrorInternal, mnemonic, err)
	}
	s.Mnemonic = mnemonic
	return s, nil
}

// UpdatePut returns the stats record with the update counter bumped, as a
// KV ready to join the caller's atomic batch.
func (c *Collector) UpdatePut(ctx context.Context, mnemonic string) (store.KV, error) {
	s, err := c.Get(ctx, mnemonic)
	if err != nil {
		return store.KV{}, err
	}
	now := c.now().Unix()
	s.TotalUpdates++
	s.LastUpdatedAt = &now
	raw, err := json.Marshal(&s)
	if err != nil {
		return store.KV{}, fmt.Errorf("%w: %v", common.ErrorInternal, err)
	}
	return store.KV{Key: store.StatsKey(mnemonic), Value: raw}, nil
}

// RecordResolve bumps the resolve counter and series for a mnemonic.
// Failures are logged and swallowed; resolution must not depend on stats.
func (c *Collector) RecordResolve(ctx context.Context, mnemonic string) {
	s, err := c.Get(ctx, mnemonic)
	if err == nil {
		now := c.now().Unix()
		s.TotalResolves++
		s.LastResolvedAt = &now
		if raw, merr := json.Marshal(&s); merr == nil {
			err = store.Put(ctx, c.store, store.StatsKey(mnemonic), raw)
		}
	}
	if err != nil {
		c.log.Warn(ctx, "resolve stats write failed", "mnemonic", mnemonic)
	}
	c.bumpSeries(ctx, mnemonic, 1, 0)
	c.bumpSeries(ctx, GlobalSeries, 1, 0)
}

// RecordUpdateSeries writes the series buckets for a committed publish.
// The counter itself already landed in the publish batch via UpdatePut.
func (c *Collector) RecordUpdateSeries(ctx context.Context, mnemonic string) {
	c.bumpSeries(ctx, mnemonic, 0, 1)
	c.bumpSeries(ctx, GlobalSeries, 0, 1)
}

func (c *Collector) bumpSeries(ctx context.Context, mnemonic string, resolves, updates int64) {
	start := c.bucketStart(c.now().Unix())
	key := store.SeriesKey(mnemonic, start)

	var b Bucket
	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		if uerr := json.Unmarshal(raw, &b); uerr != nil {
			b = Bucket{}
		}
	case !errors.Is(err, common.ErrorNotFound):
		c.log.Warn(ctx, "series read failed", "mnemonic", mnemonic)
		return
	}

	b.Start = start
	b.Resolves += resolves
	b.Updates += updates
	out, err := json.Marshal(&b)
	if err == nil {
		err = store.Put(ctx, c.store, key, out)
	}
	if err != nil {
		c.log.Warn(ctx, "series write failed", "mnemonic", mnemonic)
	}
}

func (c *Collector) bucketStart(epoch int64) int64 {
	size := int64(bucketSize / time.Second)
	return epoch - epoch%size
}

// Query aggregates the stored five-minute buckets for a mnemonic into the
// range's step size. Buckets are returned oldest first; empty slots are
// omitted.
func (c *Collector) Query(ctx context.Context, mnemonic string, r TimeRange) ([]Bucket, error) {
	kvs, err := c.store.ScanPrefix(ctx, store.SeriesPrefix(mnemonic))
	if err != nil {
		return nil, err
	}

	cutoff := c.now().Add(-r.Window).Unix()
	step := int64(r.Step / time.Second)
	agg := make(map[int64]*Bucket)
	var starts []int64
	for _, kv := range kvs {
		var b Bucket
		if err := json.Unmarshal(kv.Value, &b); err != nil || b.Start < cutoff {
			continue
		}
		slot := b.Start - b.Start%step
		cur, ok := agg[slot]
		if !ok {
			cur = &Bucket{Start: slot}
			agg[slot] = cur
			starts = append(starts, slot)
		}
		cur.Resolves += b.Resolves
		cur.Updates += b.Updates
	}

	// Most backends scan in key order already, but not all of them.
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	out := make([]Bucket, 0, len(starts))
	for _, s := range starts {
		out = append(out, *agg[s])
	}
	return out, nil
}

// CleanupSeries drops buckets older than the retention window across all
// mnemonics.
func (c *Collector) CleanupSeries(ctx context.Context) error {
	kvs, err := c.store.ScanPrefix(ctx, store.SeriesRoot)
	if err != nil {
		return err
	}
	cutoff := c.now().Add(-retention).Unix()
	var stale []string
	for _, kv := range kvs {
		var b Bucket
		if err := json.Unmarshal(kv.Value, &b); err != nil || b.Start < cutoff {
			stale = append(stale, kv.Key)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	c.log.Info(ctx, "pruning stats series", "buckets", len(stale))
	return c.store.PutBatch(ctx, nil, stale)
}

// DeleteSeries removes every bucket for a mnemonic. Used when the DID
// itself is deleted.
func (c *Collector) DeleteSeries(ctx context.Context, mnemonic string) error {
	kvs, err := c.store.ScanPrefix(ctx, store.SeriesPrefix(mnemonic))
	if err != nil {
		return err
	}
	if len(kvs) == 0 {
		return nil
	}
	keys := make([]string, len(kvs))
	for i, kv := range kvs {
		keys[i] = kv.Key
	}
	return c.store.PutBatch(ctx, nil, keys)
}
